package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override file settings.
// Nested keys use a double underscore, e.g. IMPLICITAUTH_SERVER__ADDRESS.
const EnvPrefix = "IMPLICITAUTH_"

// Load builds a Config from, in increasing precedence: built-in defaults, the
// TOML file at path (skipped when empty), environment variables and the
// explicit overrides (typically CLI flags). The result is validated but not
// normalized, since normalization needs the runtime location.
func Load(path string, overrides map[string]any, environ func() []string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
		EnvironFunc:   environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("loading overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults mirrors Default in koanf's flat key form.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"tenant":                        d.Tenant,
		"instance":                      d.Instance,
		"cache_location":                string(d.CacheLocation),
		"load_frame_timeout":            d.LoadFrameTimeout.String(),
		"expire_offset":                 d.ExpireOffset.String(),
		"navigate_to_login_request_url": d.NavigateToLoginRequestURL,
		"server.address":                d.Server.Address,
		"server.shutdown_timeout":       d.Server.ShutdownTimeout.String(),
	}
}

// transformEnv maps IMPLICITAUTH_SERVER__ADDRESS to server.address.
// Empty values are dropped so they do not mask file settings.
func transformEnv(k, v string) (string, any) {
	if v == "" {
		return "", nil
	}
	key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "anonymous_endpoints" {
		return key, strings.Split(v, ",")
	}
	return key, v
}
