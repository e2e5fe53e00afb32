package storage

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestSession_SetGet(t *testing.T) {
	s := NewSession()

	if _, ok := s.Get(KeyStateLogin); ok {
		t.Fatal("expected missing key on empty store")
	}

	if err := s.Set(KeyStateLogin, "state-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := s.Get(KeyStateLogin)
	if !ok || got != "state-1" {
		t.Errorf("expected state-1, got %q (ok=%v)", got, ok)
	}
}

func TestKeyring_SetGet(t *testing.T) {
	keyring.MockInit()
	k := NewKeyring("implicitauth-test")

	if err := k.Set(KeyNonceIDToken, "nonce-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := k.Get(KeyNonceIDToken)
	if !ok || got != "nonce-1" {
		t.Errorf("expected nonce-1, got %q (ok=%v)", got, ok)
	}

	// Empty writes clear the entry.
	if err := k.Set(KeyNonceIDToken, ""); err != nil {
		t.Fatalf("clearing failed: %v", err)
	}
	if _, ok := k.Get(KeyNonceIDToken); ok {
		t.Error("expected entry to be removed after empty write")
	}

	// Clearing an absent entry is not an error.
	if err := k.Set(KeyLoginError, ""); err != nil {
		t.Errorf("clearing absent entry failed: %v", err)
	}
}

func TestKeyring_Unavailable(t *testing.T) {
	backendErr := errors.New("no secret service")
	keyring.MockInitWithError(backendErr)
	t.Cleanup(keyring.MockInit)

	k := NewKeyring("implicitauth-test")

	err := k.Set(KeyStateLogin, "state")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
	if !errors.Is(err, backendErr) {
		t.Errorf("expected backend error in chain, got %v", err)
	}

	if _, ok := k.Get(KeyStateLogin); ok {
		t.Error("expected Get to report missing when keyring is unavailable")
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		location Location
		wantType string
		wantErr  bool
	}{
		{LocationSession, "*storage.Session", false},
		{"", "*storage.Session", false},
		{LocationLocal, "*storage.Keyring", false},
		{"cookie", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.location), func(t *testing.T) {
			store, err := Open(tt.location, "svc")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			switch store.(type) {
			case *Session:
				if tt.wantType != "*storage.Session" {
					t.Errorf("got Session, want %s", tt.wantType)
				}
			case *Keyring:
				if tt.wantType != "*storage.Keyring" {
					t.Errorf("got Keyring, want %s", tt.wantType)
				}
			}
		})
	}
}
