// Package storage persists authentication bookkeeping (expected states,
// nonces, renewal status, cached tokens) behind a small key/value interface.
//
// Two backends are provided:
//   - Session: an in-memory map scoped to the process
//   - Keyring: the OS credential store via github.com/zalando/go-keyring,
//     surviving process restarts
//
// Writes that cannot reach the backend return an error wrapping
// ErrStorageUnavailable. Callers in this module treat that as a degraded mode
// rather than a failure of the authentication flow.
package storage

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable indicates the selected backend cannot be used.
var ErrStorageUnavailable = errors.New("storage backend unavailable")

// Keys under which authentication state is persisted.
const (
	KeyTokenKeys        = "adal.token.keys"
	KeyAccessToken      = "adal.access.token.key"
	KeyExpiration       = "adal.expiration.key"
	KeyStateLogin       = "adal.state.login"
	KeyStateRenew       = "adal.state.renew"
	KeyNonceIDToken     = "adal.nonce.idtoken"
	KeySessionState     = "adal.session.state"
	KeyUsername         = "adal.username"
	KeyIDToken          = "adal.idtoken"
	KeyError            = "adal.error"
	KeyErrorDescription = "adal.error.description"
	KeyLoginRequest     = "adal.login.request"
	KeyLoginError       = "adal.login.error"
	KeyRenewStatus      = "adal.token.renew.status"
)

// Store is durable key to string storage.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(key string) (string, bool)
	// Set stores value under key.
	Set(key, value string) error
}

// Location names a storage backend.
type Location string

const (
	LocationSession Location = "session"
	LocationLocal   Location = "local"
)

// Open returns the backend for location. service namespaces keyring entries
// so that several client identifiers can share one OS keyring.
func Open(location Location, service string) (Store, error) {
	switch location {
	case LocationSession, "":
		return NewSession(), nil
	case LocationLocal:
		return NewKeyring(service), nil
	default:
		return nil, fmt.Errorf("unknown storage location %q", location)
	}
}
