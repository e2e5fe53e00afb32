package app

import (
	"sync/atomic"

	"github.com/florianilch/implicitauth/internal/callbackserver"
)

// Health gates the callback server's readiness probe. It turns ready once
// the listener is bound and back to not ready as soon as shutdown begins, so
// a supervisor stops sending browsers to a server that is going away.
type Health struct {
	listening atomic.Bool
}

var _ callbackserver.ReadinessChecker = (*Health)(nil)

// NewHealth returns a Health for a server that is not listening yet.
func NewHealth() *Health {
	return new(Health)
}

// SetReady records whether callbacks can be accepted.
func (h *Health) SetReady(ready bool) {
	h.listening.Store(ready)
}

// IsReady implements callbackserver.ReadinessChecker.
func (h *Health) IsReady() bool {
	return h.listening.Load()
}
