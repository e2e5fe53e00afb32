package authcontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/implicitauth/internal/authorize"
	"github.com/florianilch/implicitauth/internal/channel"
	"github.com/florianilch/implicitauth/internal/config"
	"github.com/florianilch/implicitauth/internal/display"
	"github.com/florianilch/implicitauth/internal/renewal"
	"github.com/florianilch/implicitauth/internal/storage"
)

// ErrLoginInProgress is returned by Login while another login is pending.
var ErrLoginInProgress = errors.New("login already in progress")

// RequestType classifies an inbound authorize response.
type RequestType string

const (
	RequestLogin      RequestType = "LOGIN"
	RequestRenewToken RequestType = "RENEW_TOKEN"
	RequestUnknown    RequestType = "UNKNOWN"
)

// Context is the entry point for interactive login and silent token
// acquisition. It owns the renewal registry, so state never leaks between
// contexts. All methods are thread-safe.
type Context struct {
	cfg       *config.Config
	store     storage.Store
	builder   *authorize.Builder
	registry  *renewal.Registry
	renewals  *renewal.Orchestrator
	navigator display.Navigator
	display   display.Func
	location  string
	now       func() time.Time
	closers   []func()

	loginInProgress atomic.Bool

	mu   sync.RWMutex
	user *authorize.User
}

// New creates a Context. cfg is copied and normalized; a missing client
// identifier fails with a *config.ConfigurationError.
func New(cfg *config.Config, opts ...Option) (*Context, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Fields: []config.FieldError{{Field: "Config", Message: "is required"}}}
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	normalized := *cfg
	normalized.Normalize(o.location)
	if err := normalized.Validate(); err != nil {
		return nil, err
	}

	c := &Context{
		cfg:       &normalized,
		navigator: o.navigator,
		display:   o.display,
		location:  o.location,
		now:       time.Now,
	}
	if o.now != nil {
		c.now = o.now
	}

	c.store = o.store
	if c.store == nil {
		store, err := storage.Open(storage.Location(normalized.CacheLocation), "implicitauth:"+normalized.ClientID)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		c.store = store
	}

	if c.navigator == nil {
		c.navigator = display.NewBrowser(os.Stdout)
	}

	builderOpts := []authorize.BuilderOption{authorize.WithUser(c.User)}
	if o.newID != nil {
		builderOpts = append(builderOpts, authorize.WithIDGenerator(o.newID))
	}
	c.builder = authorize.NewBuilder(c.cfg, c.store, builderOpts...)

	agent := o.agent
	if agent == nil {
		httpAgent := channel.NewHTTPAgent(normalized.RedirectURI, c.handleRedirect)
		c.closers = append(c.closers, httpAgent.Close)
		agent = httpAgent
	}

	c.registry = renewal.NewRegistry()
	c.renewals = renewal.NewOrchestrator(c.registry, c.builder, c.store, agent,
		renewal.WithTimeout(normalized.LoadFrameTimeout),
	)

	return c, nil
}

// Config returns the normalized configuration.
func (c *Context) Config() config.Config {
	return *c.cfg
}

// Login starts an interactive login. Only one login may be pending; further
// calls return ErrLoginInProgress until the response is handled. startPage is
// remembered so the application can return to it; it defaults to the current
// location.
func (c *Context) Login(ctx context.Context, startPage string) (*authorize.Request, error) {
	if !c.loginInProgress.CompareAndSwap(false, true) {
		slog.DebugContext(ctx, "login ignored, another login is pending")
		return nil, ErrLoginInProgress
	}

	if startPage == "" {
		startPage = c.location
	}
	req := c.builder.LoginRequest(startPage)

	slog.InfoContext(ctx, "starting login", "state", req.State)

	if c.display != nil {
		c.display(req.URL)
		return req, nil
	}

	if err := c.navigator.Navigate(req.URL); err != nil {
		c.loginInProgress.Store(false)
		return nil, fmt.Errorf("navigating to login: %w", err)
	}
	return req, nil
}

// CancelLogin abandons a pending login. Its state is forgotten, so a late
// response is rejected, and Login may be called again.
func (c *Context) CancelLogin() {
	if !c.loginInProgress.Load() {
		return
	}
	c.save(storage.KeyStateLogin, "")
	c.loginInProgress.Store(false)
}

// LoginInProgress reports whether a login is pending.
func (c *Context) LoginInProgress() bool {
	return c.loginInProgress.Load()
}

// AcquireToken reports a token for resource through cb. A cached token that
// is not about to expire is returned immediately; otherwise a silent renewal
// is started or joined.
func (c *Context) AcquireToken(resource string, cb renewal.Callback) {
	if resource == "" {
		cb(renewal.Result{ErrorDescription: "resource is required", Error: "invalid_resource"})
		return
	}

	if token := c.CachedToken(resource); token != nil {
		cb(renewal.Result{Token: token})
		return
	}

	c.renewals.RenewToken(resource, func(res renewal.Result) {
		// A renewal that timed out here may have been completed by another
		// process sharing the store.
		if errors.Is(res.Err(), renewal.ErrRenewalTimeout) {
			if token := c.CachedToken(resource); token != nil {
				cb(renewal.Result{Token: token})
				return
			}
		}
		cb(res)
	})
}

// AcquireTokenWait is AcquireToken for callers that prefer to block.
func (c *Context) AcquireTokenWait(ctx context.Context, resource string) (*oauth2.Token, error) {
	results := make(chan renewal.Result, 1)
	c.AcquireToken(resource, func(res renewal.Result) {
		results <- res
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if err := res.Err(); err != nil {
			return nil, err
		}
		return res.Token, nil
	}
}

// HandleCallback routes a parsed authorize response to the login or renewal
// that issued it. Responses whose state matches neither are dropped and
// reported as renewal.ErrStateMismatch.
func (c *Context) HandleCallback(ctx context.Context, resp *authorize.Response) (RequestType, error) {
	if loginState, ok := c.store.Get(storage.KeyStateLogin); ok && loginState != "" && loginState == resp.State {
		return RequestLogin, c.completeLogin(ctx, resp)
	}

	resource, ok := authorize.ResourceFromState(resp.State)
	if !ok {
		slog.WarnContext(ctx, "dropping response with unknown state", "state", resp.State)
		return RequestUnknown, fmt.Errorf("%w: %s", renewal.ErrStateMismatch, resp.State)
	}

	result := renewal.Result{
		ErrorDescription: resp.ErrorDescription,
		Token:            resp.Token(c.now()),
		Error:            resp.Error,
	}

	if active, ok := c.registry.Active(resource); ok && active == resp.State && result.Token != nil {
		c.cacheToken(resource, result.Token)
		if resource == c.cfg.LoginResource && resp.IDToken != "" {
			c.save(storage.KeyIDToken, resp.IDToken)
		}
	}

	if err := c.renewals.HandleRenewalResponse(resp.State, result); err != nil {
		return RequestRenewToken, err
	}
	return RequestRenewToken, nil
}

// handleRedirect receives redirects captured by the background channel.
func (c *Context) handleRedirect(ctx context.Context, frame channel.Handle, location string) {
	resp, err := authorize.ParseResponse(location)
	if err != nil {
		slog.WarnContext(ctx, "ignoring unparsable redirect", "frame", string(frame), "error", err)
		return
	}
	if _, err := c.HandleCallback(ctx, resp); err != nil {
		slog.DebugContext(ctx, "redirect not handled", "frame", string(frame), "error", err)
	}
}

// completeLogin records the outcome of an interactive login. The login state
// is single-use and cleared first.
func (c *Context) completeLogin(ctx context.Context, resp *authorize.Response) error {
	defer c.loginInProgress.Store(false)

	c.save(storage.KeyStateLogin, "")

	if resp.IsError() {
		c.save(storage.KeyError, resp.Error)
		c.save(storage.KeyErrorDescription, resp.ErrorDescription)
		c.save(storage.KeyLoginError, resp.ErrorDescription)
		slog.WarnContext(ctx, "login failed", "error", resp.Error, "description", resp.ErrorDescription)
		return &renewal.ProviderError{Code: resp.Error, Description: resp.ErrorDescription}
	}

	c.save(storage.KeyIDToken, resp.IDToken)
	c.save(storage.KeySessionState, resp.SessionState)
	if token := resp.Token(c.now()); token != nil && resp.AccessToken != "" {
		c.cacheToken(c.cfg.LoginResource, token)
	}

	slog.InfoContext(ctx, "login completed")
	return nil
}

// User returns the cached user, or nil.
func (c *Context) User() *authorize.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// SetUser caches the signed-in user. Its UPN is used for login and domain
// hints on silent renewals.
func (c *Context) SetUser(user *authorize.User) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()

	name := ""
	if user != nil {
		name = user.UserName
	}
	c.save(storage.KeyUsername, name)
}

// ResourceForEndpoint returns the resource whose token protects endpoint,
// or "" if the endpoint needs no token.
func (c *Context) ResourceForEndpoint(endpoint string) string {
	for _, e := range c.cfg.Endpoints {
		if strings.Contains(endpoint, e.Prefix) {
			return e.Resource
		}
	}

	for _, anon := range c.cfg.AnonymousEndpoints {
		if strings.Contains(endpoint, anon) {
			return ""
		}
	}

	// App-relative and same-origin requests use the login resource.
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return c.cfg.LoginResource
	}
	if sameOrigin(endpoint, c.cfg.RedirectURI) {
		return c.cfg.LoginResource
	}
	return ""
}

// Logout clears cached credentials and navigates to the end-session URL.
func (c *Context) Logout(ctx context.Context) error {
	c.ClearCache()
	c.SetUser(nil)

	logoutURL := c.builder.LogoutURL()
	slog.InfoContext(ctx, "logging out")

	if c.display != nil {
		c.display(logoutURL)
		return nil
	}
	if err := c.navigator.Navigate(logoutURL); err != nil {
		return fmt.Errorf("navigating to logout: %w", err)
	}
	return nil
}

// LogoutURL returns the end-session URL.
func (c *Context) LogoutURL() string {
	return c.builder.LogoutURL()
}

// Close cancels renewals in flight and releases the background channel.
func (c *Context) Close() {
	c.renewals.Close()
	for _, closeFn := range c.closers {
		closeFn()
	}
}

// CachedToken returns the stored token for resource if it is valid for at
// least the configured expire offset.
func (c *Context) CachedToken(resource string) *oauth2.Token {
	accessToken, ok := c.store.Get(storage.KeyAccessToken + resource)
	if !ok || accessToken == "" {
		return nil
	}
	rawExpiry, ok := c.store.Get(storage.KeyExpiration + resource)
	if !ok {
		return nil
	}
	seconds, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		return nil
	}

	expiry := time.Unix(seconds, 0)
	if !expiry.After(c.now().Add(c.cfg.ExpireOffset)) {
		return nil
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer", Expiry: expiry}
}

// ClearCache removes cached tokens and login state.
func (c *Context) ClearCache() {
	for _, resource := range c.tokenResources() {
		c.save(storage.KeyAccessToken+resource, "")
		c.save(storage.KeyExpiration+resource, "")
	}
	for _, key := range []string{
		storage.KeyTokenKeys,
		storage.KeySessionState,
		storage.KeyStateLogin,
		storage.KeyStateRenew,
		storage.KeyNonceIDToken,
		storage.KeyIDToken,
		storage.KeyError,
		storage.KeyErrorDescription,
		storage.KeyLoginError,
	} {
		c.save(key, "")
	}
}

// cacheToken stores token for resource and records resource in the token key list.
func (c *Context) cacheToken(resource string, token *oauth2.Token) {
	if token.Expiry.IsZero() {
		// Without an expiry the token cannot be judged fresh later.
		return
	}
	c.save(storage.KeyAccessToken+resource, token.AccessToken)
	c.save(storage.KeyExpiration+resource, strconv.FormatInt(token.Expiry.Unix(), 10))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, known := range c.tokenResources() {
		if known == resource {
			return
		}
	}
	keys, _ := c.store.Get(storage.KeyTokenKeys)
	c.save(storage.KeyTokenKeys, keys+resource+authorize.ResourceDelimiter)
}

// tokenResources lists resources with cached tokens.
func (c *Context) tokenResources() []string {
	keys, ok := c.store.Get(storage.KeyTokenKeys)
	if !ok || keys == "" {
		return nil
	}
	return strings.FieldsFunc(keys, func(r rune) bool { return string(r) == authorize.ResourceDelimiter })
}

// save persists a value, degrading to a warning when storage is unavailable.
func (c *Context) save(key, value string) bool {
	if err := c.store.Set(key, value); err != nil {
		slog.Warn("failed to persist authentication state", "key", key, "error", err)
		return false
	}
	return true
}
