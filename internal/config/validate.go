package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator instance.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FieldError describes one invalid configuration field.
type FieldError struct {
	Field   string
	Message string
}

// ConfigurationError is returned when a Config cannot be used to build an
// authentication context.
type ConfigurationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns a *ConfigurationError
// describing every invalid field.
func (c *Config) Validate() error {
	// Aliases are resolved first so "localStorage" passes the oneof check.
	c.CacheLocation = parseCacheLocation(string(c.CacheLocation))

	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validating config: %w", err)
	}

	cfgErr := &ConfigurationError{Fields: make([]FieldError, 0, len(validationErrors))}
	for _, fe := range validationErrors {
		cfgErr.Fields = append(cfgErr.Fields, FieldError{
			Field:   fe.Namespace(),
			Message: formatValidationError(fe),
		})
	}
	return cfgErr
}

// formatValidationError creates a human-readable error message.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be an absolute URL"
	case "oneof":
		return "must be one of: " + e.Param()
	case "hostname_port":
		return "must be a host:port pair"
	case "gte":
		return "must not be negative"
	default:
		return "failed on " + e.Tag()
	}
}
