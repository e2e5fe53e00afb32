package config

import (
	"strings"
	"time"
)

// CacheLocation selects the persistence backend for authentication state.
type CacheLocation string

const (
	// CacheLocationSession keeps state for the lifetime of the process.
	CacheLocationSession CacheLocation = "session"
	// CacheLocationLocal keeps state in the OS keyring across process restarts.
	CacheLocationLocal CacheLocation = "local"
)

const (
	// DefaultInstance is the identity provider base URL used when none is configured.
	DefaultInstance = "https://login.microsoftonline.com/"
	// DefaultTenant is the tenant segment used when none is configured.
	DefaultTenant = "common"
	// DefaultLoadFrameTimeout bounds how long a silent renewal may stay in flight.
	DefaultLoadFrameTimeout = 6 * time.Second
	// DefaultExpireOffset is subtracted from token expiry when deciding cache validity.
	DefaultExpireOffset = 300 * time.Second
	// DefaultServerAddress is where the callback server listens.
	DefaultServerAddress = "127.0.0.1:4000"
)

// Config holds the immutable settings of one authentication context.
type Config struct {
	ClientID              string        `koanf:"client_id" validate:"required"`
	Tenant                string        `koanf:"tenant"`
	Instance              string        `koanf:"instance" validate:"omitempty,url"`
	RedirectURI           string        `koanf:"redirect_uri" validate:"omitempty,url"`
	PostLogoutRedirectURI string        `koanf:"post_logout_redirect_uri" validate:"omitempty,url"`
	LoginResource         string        `koanf:"login_resource"`
	Slice                 string        `koanf:"slice"`
	CorrelationID         string        `koanf:"correlation_id"`
	CacheLocation         CacheLocation `koanf:"cache_location" validate:"omitempty,oneof=session local"`
	LoadFrameTimeout      time.Duration `koanf:"load_frame_timeout" validate:"gte=0"`
	ExpireOffset          time.Duration `koanf:"expire_offset" validate:"gte=0"`

	// ExtraQueryParameter is appended to authorize requests verbatim.
	// Callers are responsible for encoding it.
	ExtraQueryParameter string `koanf:"extra_query_parameter"`

	// Endpoints maps URL prefixes to the resource whose token protects them.
	Endpoints          []Endpoint `koanf:"endpoints" validate:"dive"`
	AnonymousEndpoints []string   `koanf:"anonymous_endpoints"`

	NavigateToLoginRequestURL bool `koanf:"navigate_to_login_request_url"`

	Server ServerConfig `koanf:"server"`
}

// Endpoint binds requests whose URL contains Prefix to Resource.
type Endpoint struct {
	Prefix   string `koanf:"prefix" validate:"required"`
	Resource string `koanf:"resource" validate:"required"`
}

// ServerConfig configures the loopback callback server.
type ServerConfig struct {
	Address         string        `koanf:"address" validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
}

// Default returns a Config populated with the documented defaults.
// The client identifier is left empty and must be supplied by the caller.
func Default() *Config {
	return &Config{
		Tenant:                    DefaultTenant,
		Instance:                  DefaultInstance,
		CacheLocation:             CacheLocationSession,
		LoadFrameTimeout:          DefaultLoadFrameTimeout,
		ExpireOffset:              DefaultExpireOffset,
		NavigateToLoginRequestURL: true,
		Server: ServerConfig{
			Address:         DefaultServerAddress,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Normalize applies defaults that depend on other fields or on the current
// location. location is the URL the application is running at; its query and
// fragment are stripped before it is used as a redirect target.
func (c *Config) Normalize(location string) {
	if c.Tenant == "" {
		c.Tenant = DefaultTenant
	}
	if c.Instance == "" {
		c.Instance = DefaultInstance
	}
	if !strings.HasSuffix(c.Instance, "/") {
		c.Instance += "/"
	}
	if c.LoginResource == "" {
		c.LoginResource = c.ClientID
	}

	base := StripLocation(location)
	if c.RedirectURI == "" {
		c.RedirectURI = base
	}
	if c.PostLogoutRedirectURI == "" {
		c.PostLogoutRedirectURI = base
	}

	c.CacheLocation = parseCacheLocation(string(c.CacheLocation))
	if c.LoadFrameTimeout == 0 {
		c.LoadFrameTimeout = DefaultLoadFrameTimeout
	}
	if c.AnonymousEndpoints == nil {
		c.AnonymousEndpoints = []string{}
	}
}

// AuthorizeEndpoint returns the authorize URL for the configured tenant.
func (c *Config) AuthorizeEndpoint() string {
	return c.Instance + c.Tenant + "/oauth2/authorize"
}

// LogoutEndpoint returns the logout URL for the configured tenant.
func (c *Config) LogoutEndpoint() string {
	return c.Instance + c.Tenant + "/oauth2/logout"
}

// StripLocation removes the query string and fragment from a location.
func StripLocation(location string) string {
	location, _, _ = strings.Cut(location, "?")
	location, _, _ = strings.Cut(location, "#")
	return location
}

// parseCacheLocation accepts the browser storage names as aliases.
func parseCacheLocation(s string) CacheLocation {
	switch strings.ToLower(s) {
	case "", "session", "sessionstorage":
		return CacheLocationSession
	case "local", "localstorage":
		return CacheLocationLocal
	default:
		return CacheLocation(s)
	}
}
