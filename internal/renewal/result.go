package renewal

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

var (
	// ErrRenewalTimeout is reported when no response arrives within the load frame timeout.
	ErrRenewalTimeout = errors.New("token renewal timed out")
	// ErrStateMismatch is returned for responses whose state matches no outstanding renewal.
	ErrStateMismatch = errors.New("state does not match an outstanding renewal")
	// ErrClosed is reported to renewals still outstanding when the orchestrator closes.
	ErrClosed = errors.New("renewal orchestrator closed")
)

// Error codes and descriptions delivered to callbacks for local failures.
const (
	TimeoutErrorDescription = "Token renewal operation failed due to timeout"
	TimeoutError            = "Token Renewal Failed"
	ClosedErrorDescription  = "Token renewal operation canceled"
	ClosedError             = "Token Renewal Canceled"
)

// Result is the outcome of a renewal delivered to every waiting callback.
// Protocol failures travel here too: callers branch on Error rather than on
// a returned error value.
type Result struct {
	ErrorDescription string
	Token            *oauth2.Token
	Error            string
}

// Callback receives the result of a renewal.
type Callback func(Result)

// Err converts the result into an error, or nil on success.
func (r Result) Err() error {
	switch {
	case r.Error == "" && r.ErrorDescription == "":
		return nil
	case r.Error == TimeoutError:
		return fmt.Errorf("%w: %s", ErrRenewalTimeout, r.ErrorDescription)
	case r.Error == ClosedError:
		return fmt.Errorf("%w: %s", ErrClosed, r.ErrorDescription)
	default:
		return &ProviderError{Code: r.Error, Description: r.ErrorDescription}
	}
}

// ProviderError is an error response returned by the identity provider.
type ProviderError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}
