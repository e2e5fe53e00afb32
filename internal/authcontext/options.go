package authcontext

import (
	"net/url"
	"strings"
	"time"

	"github.com/florianilch/implicitauth/internal/channel"
	"github.com/florianilch/implicitauth/internal/display"
	"github.com/florianilch/implicitauth/internal/storage"
)

type options struct {
	store     storage.Store
	agent     channel.Agent
	navigator display.Navigator
	display   display.Func
	location  string
	newID     func() string
	now       func() time.Time
}

// Option configures a Context.
type Option func(*options)

// WithStore replaces the store selected by the configured cache location.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithChannel replaces the HTTP background channel used for silent renewals.
// The caller owns the channel's lifetime and must feed captured redirects to
// HandleCallback.
func WithChannel(agent channel.Agent) Option {
	return func(o *options) {
		o.agent = agent
	}
}

// WithNavigator replaces the browser used for interactive navigation.
func WithNavigator(n display.Navigator) Option {
	return func(o *options) {
		o.navigator = n
	}
}

// WithDisplayFunc hands login and logout URLs to fn instead of navigating.
func WithDisplayFunc(fn display.Func) Option {
	return func(o *options) {
		o.display = fn
	}
}

// WithLocation sets the current application location. It is the default for
// the redirect URIs and the login start page.
func WithLocation(location string) Option {
	return func(o *options) {
		o.location = location
	}
}

// WithIDGenerator replaces the generator for states, nonces and request ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// sameOrigin reports whether a and b share scheme and host.
func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}
