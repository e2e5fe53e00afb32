package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// Keyring stores values in the OS credential store (Keychain, Secret Service,
// Windows Credential Manager). Each key becomes one keyring entry under the
// configured service name.
type Keyring struct {
	service string
}

// Compile-time check that Keyring implements Store
var _ Store = (*Keyring)(nil)

// NewKeyring creates a keyring-backed store for service.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

// Get returns the value stored under key. Missing entries and an unreachable
// keyring both report false.
func (k *Keyring) Get(key string) (string, bool) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("keyring read failed", "key", key, "error", err)
		}
		return "", false
	}
	return value, true
}

// Set stores value under key. Writing an empty value removes the entry, since
// some platforms reject empty secrets.
func (k *Keyring) Set(key, value string) error {
	if value == "" {
		err := keyring.Delete(k.service, key)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: deleting %s: %w", ErrStorageUnavailable, key, err)
		}
		return nil
	}

	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrStorageUnavailable, key, err)
	}
	return nil
}
