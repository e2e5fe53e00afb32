package renewal

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/implicitauth/internal/authorize"
	"github.com/florianilch/implicitauth/internal/channel"
	"github.com/florianilch/implicitauth/internal/config"
	"github.com/florianilch/implicitauth/internal/storage"
)

// fakeAgent records navigations. The first dropNavigations navigations are
// ignored, leaving the frame blank, to mimic an environment that silently
// fails to start navigating.
type fakeAgent struct {
	mu              sync.Mutex
	frames          map[channel.Handle]string
	navigations     []string
	dropNavigations int
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{frames: make(map[channel.Handle]string)}
}

func (f *fakeAgent) Open(id string) channel.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := channel.Handle(id)
	if _, ok := f.frames[h]; !ok {
		f.frames[h] = channel.Blank
	}
	return h
}

func (f *fakeAgent) Navigate(h channel.Handle, rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, rawURL)
	if f.dropNavigations > 0 {
		f.dropNavigations--
		return
	}
	f.frames[h] = rawURL
}

func (f *fakeAgent) IsBlank(h channel.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.frames[h]
	return target == "" || target == channel.Blank
}

func (f *fakeAgent) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// recorder collects callback results.
type recorder struct {
	mu      sync.Mutex
	results []Result
	ch      chan Result
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Result, 16)}
}

func (r *recorder) Callback(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.ch <- res
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *recorder) Wait(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
		return Result{}
	}
}

type fixture struct {
	store    *storage.Session
	registry *Registry
	agent    *fakeAgent
	orch     *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	cfg := &config.Config{ClientID: "client", RedirectURI: "https://app/"}
	cfg.Normalize("https://app/")

	f := &fixture{
		store:    storage.NewSession(),
		registry: NewRegistry(),
		agent:    newFakeAgent(),
	}
	builder := authorize.NewBuilder(cfg, f.store)
	f.orch = NewOrchestrator(f.registry, builder, f.store, f.agent, opts...)
	t.Cleanup(f.orch.Close)
	return f
}

func TestRenewToken_ConcurrentCallersShareOneRequest(t *testing.T) {
	f := newFixture(t, WithTimeout(time.Minute))

	cb1, cb2 := newRecorder(), newRecorder()
	f.orch.RenewToken("graph", cb1.Callback)
	f.orch.RenewToken("graph", cb2.Callback)

	if n := len(f.agent.Navigations()); n != 1 {
		t.Fatalf("expected exactly one outbound request, got %d", n)
	}

	state, ok := f.registry.Active("graph")
	if !ok {
		t.Fatal("expected an active renewal for graph")
	}
	if status, _ := f.orch.Status("graph"); status != StatusInProgress {
		t.Errorf("expected status In Progress, got %q", status)
	}

	token := &oauth2.Token{AccessToken: "tok"}
	if err := f.orch.HandleRenewalResponse(state, Result{Token: token}); err != nil {
		t.Fatalf("HandleRenewalResponse failed: %v", err)
	}

	for i, rec := range []*recorder{cb1, cb2} {
		res := rec.Wait(t)
		if res.Token != token {
			t.Errorf("callback %d: expected shared token, got %+v", i+1, res)
		}
	}

	if status, _ := f.orch.Status("graph"); status != StatusCompleted {
		t.Errorf("expected status Completed, got %q", status)
	}
	if _, ok := f.registry.Active("graph"); ok {
		t.Error("expected no active renewal after completion")
	}
}

func TestRenewToken_ConcurrentGoroutines(t *testing.T) {
	f := newFixture(t, WithTimeout(time.Minute))

	const callers = 20
	rec := newRecorder()
	rec.ch = make(chan Result, callers)

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.orch.RenewToken("graph", rec.Callback)
		}()
	}
	wg.Wait()

	if n := len(f.agent.Navigations()); n != 1 {
		t.Fatalf("expected one request for %d callers, got %d", callers, n)
	}

	state, _ := f.registry.Active("graph")
	if err := f.orch.HandleRenewalResponse(state, Result{Token: &oauth2.Token{AccessToken: "tok"}}); err != nil {
		t.Fatalf("HandleRenewalResponse failed: %v", err)
	}
	for range callers {
		rec.Wait(t)
	}
}

func TestRenewToken_DistinctResourcesGetDistinctRequests(t *testing.T) {
	f := newFixture(t, WithTimeout(time.Minute))

	f.orch.RenewToken("graph", func(Result) {})
	f.orch.RenewToken("mail", func(Result) {})

	if n := len(f.agent.Navigations()); n != 2 {
		t.Fatalf("expected two requests, got %d", n)
	}

	graphState, _ := f.registry.Active("graph")
	mailState, _ := f.registry.Active("mail")
	if graphState == mailState {
		t.Error("expected distinct states per resource")
	}
	if r, _ := authorize.ResourceFromState(mailState); r != "mail" {
		t.Errorf("expected mail encoded in state, got %q", r)
	}
}

func TestRenewToken_Timeout(t *testing.T) {
	f := newFixture(t, WithTimeout(50*time.Millisecond))

	rec := newRecorder()
	f.orch.RenewToken("graph", rec.Callback)

	res := rec.Wait(t)
	if res.Error != TimeoutError || res.ErrorDescription != TimeoutErrorDescription || res.Token != nil {
		t.Errorf("expected timeout result, got %+v", res)
	}
	if !errors.Is(res.Err(), ErrRenewalTimeout) {
		t.Errorf("expected ErrRenewalTimeout, got %v", res.Err())
	}

	if status, _ := f.orch.Status("graph"); status != StatusCanceled {
		t.Errorf("expected status Canceled, got %q", status)
	}
	if _, ok := f.registry.Active("graph"); ok {
		t.Error("expected active renewal cleared after timeout")
	}
}

func TestRenewToken_ResponseBeforeTimeoutSuppressesTimeout(t *testing.T) {
	f := newFixture(t, WithTimeout(200*time.Millisecond))

	rec := newRecorder()
	f.orch.RenewToken("graph", rec.Callback)
	state, _ := f.registry.Active("graph")

	time.Sleep(100 * time.Millisecond)
	if err := f.orch.HandleRenewalResponse(state, Result{Token: &oauth2.Token{AccessToken: "tok"}}); err != nil {
		t.Fatalf("HandleRenewalResponse failed: %v", err)
	}
	rec.Wait(t)

	time.Sleep(150 * time.Millisecond)
	if n := rec.Count(); n != 1 {
		t.Errorf("expected exactly one callback invocation, got %d", n)
	}
	if status, _ := f.orch.Status("graph"); status != StatusCompleted {
		t.Errorf("expected status to stay Completed, got %q", status)
	}
}

func TestRenewToken_LateResponseAfterTimeoutIsDropped(t *testing.T) {
	f := newFixture(t, WithTimeout(30*time.Millisecond))

	rec := newRecorder()
	f.orch.RenewToken("graph", rec.Callback)
	state, _ := f.registry.Active("graph")
	rec.Wait(t)

	err := f.orch.HandleRenewalResponse(state, Result{Token: &oauth2.Token{AccessToken: "late"}})
	if !errors.Is(err, ErrStateMismatch) {
		t.Errorf("expected ErrStateMismatch for late response, got %v", err)
	}
	if n := rec.Count(); n != 1 {
		t.Errorf("expected exactly one callback invocation, got %d", n)
	}
}

func TestHandleRenewalResponse_UnknownState(t *testing.T) {
	f := newFixture(t, WithTimeout(time.Minute))

	rec := newRecorder()
	f.orch.RenewToken("graph", rec.Callback)

	err := f.orch.HandleRenewalResponse("forged|graph", Result{Token: &oauth2.Token{AccessToken: "evil"}})
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
	if n := rec.Count(); n != 0 {
		t.Errorf("expected no callback for mismatched state, got %d", n)
	}
	if _, ok := f.registry.Active("graph"); !ok {
		t.Error("expected genuine renewal to stay active")
	}
}

func TestRenewToken_RenavigatesBlankFrame(t *testing.T) {
	f := newFixture(t, WithTimeout(time.Minute), WithPollInterval(10*time.Millisecond))
	f.agent.dropNavigations = 2

	f.orch.RenewToken("graph", func(Result) {})

	deadline := time.Now().Add(5 * time.Second)
	for {
		h := channel.Handle(FramePrefix + "graph")
		if !f.agent.IsBlank(h) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never navigated")
		}
		time.Sleep(5 * time.Millisecond)
	}

	navs := f.agent.Navigations()
	if len(navs) != 3 {
		t.Fatalf("expected 3 navigations (2 dropped + 1 effective), got %d", len(navs))
	}
	for _, nav := range navs[1:] {
		if nav != navs[0] {
			t.Errorf("expected retries to reuse the request URL, got %q", nav)
		}
	}

	// Once navigated, polling stops.
	time.Sleep(50 * time.Millisecond)
	if n := len(f.agent.Navigations()); n != 3 {
		t.Errorf("expected polling to stop after navigation, got %d navigations", n)
	}
}

func TestRenewToken_NewRenewalAfterCompletion(t *testing.T) {
	f := newFixture(t, WithTimeout(time.Minute))

	f.orch.RenewToken("graph", func(Result) {})
	first, _ := f.registry.Active("graph")
	_ = f.orch.HandleRenewalResponse(first, Result{})

	f.orch.RenewToken("graph", func(Result) {})
	second, ok := f.registry.Active("graph")
	if !ok || second == first {
		t.Errorf("expected a fresh state for the next renewal, got %q", second)
	}
	if n := len(f.agent.Navigations()); n != 2 {
		t.Errorf("expected two requests, got %d", n)
	}
}

func TestClose_CancelsOutstandingRenewals(t *testing.T) {
	f := newFixture(t, WithTimeout(time.Minute))

	rec := newRecorder()
	f.orch.RenewToken("graph", rec.Callback)

	f.orch.Close()

	res := rec.Wait(t)
	if !errors.Is(res.Err(), ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", res.Err())
	}

	after := newRecorder()
	f.orch.RenewToken("graph", after.Callback)
	if !errors.Is(after.Wait(t).Err(), ErrClosed) {
		t.Error("expected renewals after Close to fail")
	}
}

func TestRenewToken_TimeoutAfterStatusChangedElsewhere(t *testing.T) {
	f := newFixture(t, WithTimeout(50*time.Millisecond))

	rec := newRecorder()
	f.orch.RenewToken("graph", rec.Callback)

	// Another process sharing the store finished its own renewal.
	if err := f.store.Set(storage.KeyRenewStatus+"graph", string(StatusCompleted)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res := rec.Wait(t)
	if !errors.Is(res.Err(), ErrRenewalTimeout) {
		t.Errorf("expected waiters released with a timeout, got %+v", res)
	}
	if _, ok := f.registry.Active("graph"); ok {
		t.Error("expected active renewal cleared")
	}
	if status, _ := f.orch.Status("graph"); status != StatusCompleted {
		t.Errorf("expected foreign status kept, got %q", status)
	}

	next := newRecorder()
	f.orch.RenewToken("graph", next.Callback)
	if n := len(f.agent.Navigations()); n != 2 {
		t.Fatalf("expected a fresh request for the next caller, got %d navigations", n)
	}
	if !errors.Is(next.Wait(t).Err(), ErrRenewalTimeout) {
		t.Error("expected the next renewal to resolve on its own timeout")
	}
}

func TestRenewToken_AfterCloseLogsPanickingCallback(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	f := newFixture(t, WithTimeout(time.Minute))
	f.orch.Close()

	f.orch.RenewToken("graph", func(Result) { panic("boom") })

	if !bytes.Contains(buf.Bytes(), []byte("renewal callback failed")) {
		t.Errorf("expected the recovered panic to be logged, got %q", buf.String())
	}
}
