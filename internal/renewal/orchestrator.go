package renewal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/florianilch/implicitauth/internal/authorize"
	"github.com/florianilch/implicitauth/internal/channel"
	"github.com/florianilch/implicitauth/internal/storage"
)

// Status is the persisted progress of the latest renewal for a resource.
type Status string

const (
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCanceled   Status = "Canceled"
)

const (
	// DefaultTimeout is used when no load frame timeout is configured.
	DefaultTimeout = 6 * time.Second
	// DefaultPollInterval is how often a blank frame is re-navigated.
	DefaultPollInterval = 500 * time.Millisecond
	// FramePrefix prefixes the channel id of a resource's renewal frame.
	FramePrefix = "adalRenewFrame"
)

// RequestBuilder creates silent renewal requests.
type RequestBuilder interface {
	RenewRequest(resource string) *authorize.Request
}

// Orchestrator drives silent renewals: it issues the hidden authorize
// request, keeps the frame navigating, and resolves the renewal through the
// Registry on the first of response, timeout or Close.
// All methods are thread-safe.
type Orchestrator struct {
	registry     *Registry
	builder      RequestBuilder
	store        storage.Store
	agent        channel.Agent
	timeout      time.Duration
	pollInterval time.Duration

	mu       sync.Mutex
	attempts map[string]*attempt // state -> renewal in flight
	closed   bool
}

// attempt is one renewal in flight. It owns the timeout timer and the poll
// loop; stop cancels both and is idempotent.
type attempt struct {
	state    string
	resource string
	url      string
	handle   channel.Handle
	timer    *time.Timer
	done     chan struct{}
	once     sync.Once
}

func (a *attempt) stop() {
	a.once.Do(func() {
		if a.timer != nil {
			a.timer.Stop()
		}
		close(a.done)
	})
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets how long a renewal may stay in flight.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithPollInterval sets how often a blank frame is re-navigated.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(registry *Registry, builder RequestBuilder, store storage.Store, agent channel.Agent, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:     registry,
		builder:      builder,
		store:        store,
		agent:        agent,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		attempts:     make(map[string]*attempt),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RenewToken obtains a token for resource without user interaction and
// reports it through cb. When a renewal for resource is already in flight cb
// is queued onto it and no new request is sent.
func (o *Orchestrator) RenewToken(resource string, cb Callback) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		if err := invoke(cb, Result{ErrorDescription: ClosedErrorDescription, Error: ClosedError}); err != nil {
			slog.Warn("renewal callback failed", "resource", resource, "error", err)
		}
		return
	}

	if state, ok := o.registry.Join(resource, cb); ok {
		o.mu.Unlock()
		slog.Debug("renewal in progress, callback queued", "resource", resource, "state", state)
		return
	}

	req := o.builder.RenewRequest(resource)
	o.saveStatus(resource, StatusInProgress)
	o.registry.Register(req.State, resource, cb)

	a := &attempt{
		state:    req.State,
		resource: resource,
		url:      req.URL,
		handle:   o.agent.Open(FramePrefix + resource),
		done:     make(chan struct{}),
	}
	a.timer = time.AfterFunc(o.timeout, func() { o.expire(a) })
	o.attempts[a.state] = a
	o.mu.Unlock()

	slog.Debug("renewing token", "resource", resource, "state", a.state)

	o.agent.Navigate(a.handle, a.url)
	go o.poll(a)
}

// HandleRenewalResponse resolves the renewal identified by state. Responses
// whose state is not the one in flight for its resource are dropped and
// reported as ErrStateMismatch.
func (o *Orchestrator) HandleRenewalResponse(state string, result Result) error {
	o.mu.Lock()
	a, ok := o.attempts[state]
	if ok {
		if active, isActive := o.registry.Active(a.resource); !isActive || active != state {
			ok = false
		}
	}
	if !ok {
		o.mu.Unlock()
		slog.Warn("dropping renewal response with unknown state", "state", state)
		return fmt.Errorf("%w: %s", ErrStateMismatch, state)
	}

	delete(o.attempts, state)
	a.stop()
	o.saveStatus(a.resource, StatusCompleted)
	o.mu.Unlock()

	o.registry.Dispatch(state, result)
	return nil
}

// Status returns the persisted status of the latest renewal for resource.
func (o *Orchestrator) Status(resource string) (Status, bool) {
	v, ok := o.store.Get(renewStatusKey(resource))
	return Status(v), ok && v != ""
}

// Close cancels every renewal in flight, reporting ErrClosed to its waiters.
// Later calls to RenewToken fail immediately.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	outstanding := make([]*attempt, 0, len(o.attempts))
	for state, a := range o.attempts {
		delete(o.attempts, state)
		a.stop()
		o.saveStatus(a.resource, StatusCanceled)
		outstanding = append(outstanding, a)
	}
	o.mu.Unlock()

	for _, a := range outstanding {
		o.registry.Dispatch(a.state, Result{ErrorDescription: ClosedErrorDescription, Error: ClosedError})
	}
}

// expire fires when the timeout elapses. The state is always released with a
// timeout result. When another writer of a shared store has already moved the
// persisted status off In Progress, that status is left as written.
func (o *Orchestrator) expire(a *attempt) {
	o.mu.Lock()
	if o.attempts[a.state] != a {
		o.mu.Unlock()
		return
	}
	delete(o.attempts, a.state)
	a.stop()

	if status, ok := o.Status(a.resource); !ok || status == StatusInProgress {
		o.saveStatus(a.resource, StatusCanceled)
	} else {
		slog.Debug("renewal status changed by another writer", "resource", a.resource, "status", string(status))
	}
	o.mu.Unlock()

	slog.Warn("token renewal timed out", "resource", a.resource, "timeout", o.timeout)
	o.registry.Dispatch(a.state, Result{ErrorDescription: TimeoutErrorDescription, Error: TimeoutError})
}

// poll re-issues the navigation while the frame stays blank, guarding against
// environments that drop the first navigation. It ends once the frame has
// navigated or the renewal is resolved.
func (o *Orchestrator) poll(a *attempt) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			if !o.agent.IsBlank(a.handle) {
				return
			}
			slog.Debug("renewal frame still blank, navigating again", "resource", a.resource)
			o.agent.Navigate(a.handle, a.url)
		}
	}
}

func (o *Orchestrator) saveStatus(resource string, status Status) {
	if err := o.store.Set(renewStatusKey(resource), string(status)); err != nil {
		slog.Warn("failed to persist renewal status", "resource", resource, "error", err)
	}
}

func renewStatusKey(resource string) string {
	return storage.KeyRenewStatus + resource
}
