package authorize

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/florianilch/implicitauth/internal/config"
	"github.com/florianilch/implicitauth/internal/storage"
)

// Library identification sent with every authorize request.
const (
	SKU     = "Go"
	Version = "0.1.0"
)

// Response types understood by the authorize endpoint.
const (
	ResponseTypeIDToken = "id_token"
	ResponseTypeToken   = "token"
)

// ResourceDelimiter separates the random part of a renewal state from its resource.
const ResourceDelimiter = "|"

// Request is one outbound authorize request.
type Request struct {
	URL      string
	State    string
	Nonce    string
	Resource string
}

// Builder constructs authorize URLs and the CSRF correlation tokens that bind
// them to their responses.
type Builder struct {
	cfg   *config.Config
	store storage.Store
	newID func() string
	user  func() *User
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithIDGenerator replaces the UUID generator used for states, nonces and
// client request ids.
func WithIDGenerator(fn func() string) BuilderOption {
	return func(b *Builder) {
		b.newID = fn
	}
}

// WithUser sets the lookup for the cached user whose UPN drives login and
// domain hints on renewal requests.
func WithUser(fn func() *User) BuilderOption {
	return func(b *Builder) {
		b.user = fn
	}
}

// NewBuilder creates a Builder for cfg. cfg must already be normalized.
func NewBuilder(cfg *config.Config, store storage.Store, opts ...BuilderOption) *Builder {
	b := &Builder{
		cfg:   cfg,
		store: store,
		newID: uuid.NewString,
		user:  func() *User { return nil },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LoginRequest prepares an interactive id_token request. The expected state,
// the nonce and the login start page are persisted and prior errors cleared
// before the URL is returned, so a later response can be validated.
func (b *Builder) LoginRequest(startPage string) *Request {
	state := b.newID()
	nonce := b.newID()

	b.save(storage.KeyLoginRequest, startPage)
	b.save(storage.KeyLoginError, "")
	b.save(storage.KeyStateLogin, state)
	b.save(storage.KeyNonceIDToken, nonce)
	b.save(storage.KeyError, "")
	b.save(storage.KeyErrorDescription, "")

	return &Request{
		URL:   b.navigateURL(ResponseTypeIDToken, "", state, nonce, false),
		State: state,
		Nonce: nonce,
	}
}

// RenewRequest prepares a non-interactive request for resource. Renewing the
// login resource asks for an id_token bound to a fresh nonce; any other
// resource asks for an access token.
func (b *Builder) RenewRequest(resource string) *Request {
	state := b.newID() + ResourceDelimiter + resource

	req := &Request{State: state, Resource: resource}
	if resource == b.cfg.LoginResource {
		req.Nonce = b.newID()
		b.save(storage.KeyNonceIDToken, req.Nonce)
		req.URL = b.navigateURL(ResponseTypeIDToken, "", state, req.Nonce, true)
	} else {
		req.URL = b.navigateURL(ResponseTypeToken, resource, state, "", true)
	}
	b.save(storage.KeyStateRenew, state)

	return req
}

// LogoutURL returns the end-session URL, redirecting back to the configured
// post-logout redirect URI when one is set.
func (b *Builder) LogoutURL() string {
	logout := b.cfg.LogoutEndpoint()
	if b.cfg.PostLogoutRedirectURI != "" {
		logout += "?post_logout_redirect_uri=" + encodeURIComponent(b.cfg.PostLogoutRedirectURI)
	}
	return logout
}

// navigateURL serializes an authorize request. The parameter order is part of
// the wire contract with the identity provider.
func (b *Builder) navigateURL(responseType, resource, state, nonce string, silent bool) string {
	var sb strings.Builder
	sb.WriteString(b.cfg.AuthorizeEndpoint())
	sb.WriteString(b.serialize(responseType, resource, state))

	if nonce != "" {
		sb.WriteString("&nonce=" + encodeURIComponent(nonce))
	}
	if silent {
		sb.WriteString("&prompt=none")
		b.appendHints(&sb)
	}

	sb.WriteString("&x-client-SKU=" + SKU)
	sb.WriteString("&x-client-Ver=" + Version)

	return sb.String()
}

// serialize writes the leading query parameters, starting with '?'.
func (b *Builder) serialize(responseType, resource, state string) string {
	params := make([]string, 0, 8)
	params = append(params, "?response_type="+responseType)
	params = append(params, "client_id="+encodeURIComponent(b.cfg.ClientID))
	if resource != "" {
		params = append(params, "resource="+encodeURIComponent(resource))
	}
	params = append(params, "redirect_uri="+encodeURIComponent(b.cfg.RedirectURI))
	params = append(params, "state="+encodeURIComponent(state))
	if b.cfg.Slice != "" {
		params = append(params, "slice="+encodeURIComponent(b.cfg.Slice))
	}
	if b.cfg.ExtraQueryParameter != "" {
		// Passed through untouched; it may hold several pre-encoded parameters.
		params = append(params, b.cfg.ExtraQueryParameter)
	}

	correlationID := b.cfg.CorrelationID
	if correlationID == "" {
		correlationID = b.newID()
	}
	params = append(params, "client-request-id="+encodeURIComponent(correlationID))

	return strings.Join(params, "&")
}

// appendHints adds login_hint and domain_hint from the cached user's UPN
// unless the URL built so far already carries them.
func (b *Builder) appendHints(sb *strings.Builder) {
	user := b.user()
	if user == nil {
		return
	}
	upn := user.UPN()
	if upn == "" {
		return
	}

	if !containsQueryParameter("login_hint", sb.String()) {
		sb.WriteString("&login_hint=" + encodeURIComponent(upn))
	}

	if !containsQueryParameter("domain_hint", sb.String()) && strings.Contains(upn, "@") {
		// The local part may contain a quoted '@'; the domain is what follows the last one.
		domain := upn[strings.LastIndex(upn, "@")+1:]
		sb.WriteString("&domain_hint=" + encodeURIComponent(domain))
	}
}

// save persists a bookkeeping value. A missing backend is logged and
// otherwise ignored so the flow can still proceed by full navigation.
func (b *Builder) save(key, value string) bool {
	if err := b.store.Set(key, value); err != nil {
		slog.Warn("failed to persist authentication state", "key", key, "error", err)
		return false
	}
	return true
}

// ResourceFromState recovers the resource encoded in a renewal state.
func ResourceFromState(state string) (string, bool) {
	_, resource, found := strings.Cut(state, ResourceDelimiter)
	if !found || resource == "" {
		return "", false
	}
	return resource, true
}

// containsQueryParameter reports whether rawURL has a name= parameter
// anchored on '?' or '&'.
func containsQueryParameter(name, rawURL string) bool {
	re := regexp.MustCompile(`[?&]` + regexp.QuoteMeta(name) + `=`)
	return re.MatchString(rawURL)
}

// encodeURIComponent escapes s the way browsers do for a single query value:
// everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ) is percent-encoded and
// spaces become %20.
func encodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	return componentReplacer.Replace(escaped)
}

var componentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)
