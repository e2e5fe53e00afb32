package renewal

import (
	"errors"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

func TestRegistry_FanOutInRegistrationOrder(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	var order []int
	var results []Result

	const n = 5
	for i := range n {
		r.Register("S1|graph", "graph", func(res Result) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			results = append(results, res)
		})
	}

	want := Result{Token: &oauth2.Token{AccessToken: "tok"}}
	if !r.Dispatch("S1|graph", want) {
		t.Fatal("expected dispatch to run")
	}

	if len(order) != n {
		t.Fatalf("expected %d invocations, got %d", n, len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("invocation %d ran callback %d", i, got)
		}
	}
	for i, res := range results {
		if res.Token != want.Token || res.Error != "" || res.ErrorDescription != "" {
			t.Errorf("callback %d got %+v", i, res)
		}
	}
}

func TestRegistry_DispatchExactlyOnce(t *testing.T) {
	r := NewRegistry()

	calls := 0
	r.Register("S1|graph", "graph", func(Result) { calls++ })

	if !r.Dispatch("S1|graph", Result{Token: &oauth2.Token{AccessToken: "tok"}}) {
		t.Fatal("first dispatch should run")
	}
	// A timeout arriving after the response must be a no-op.
	if r.Dispatch("S1|graph", Result{ErrorDescription: TimeoutErrorDescription, Error: TimeoutError}) {
		t.Error("second dispatch should report false")
	}

	if calls != 1 {
		t.Errorf("expected 1 invocation, got %d", calls)
	}
	if _, ok := r.Active("graph"); ok {
		t.Error("expected active renewal to be cleared")
	}
	if _, ok := r.Resource("S1|graph"); ok {
		t.Error("expected state to be forgotten")
	}
}

func TestRegistry_PanickingCallbackIsIsolated(t *testing.T) {
	r := NewRegistry()

	var ran []string
	r.Register("S1|graph", "graph", func(Result) { ran = append(ran, "first") })
	r.Register("S1|graph", "graph", func(Result) { panic("boom") })
	r.Register("S1|graph", "graph", func(Result) { ran = append(ran, "third") })

	r.Dispatch("S1|graph", Result{})

	if len(ran) != 2 || ran[0] != "first" || ran[1] != "third" {
		t.Errorf("expected first and third to run, got %v", ran)
	}
	if _, ok := r.Active("graph"); ok {
		t.Error("expected active renewal to be cleared despite panic")
	}
}

func TestRegistry_Join(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Join("graph", func(Result) {}); ok {
		t.Fatal("expected no renewal to join")
	}

	calls := 0
	r.Register("S1|graph", "graph", func(Result) { calls++ })

	state, ok := r.Join("graph", func(Result) { calls++ })
	if !ok || state != "S1|graph" {
		t.Fatalf("expected to join S1|graph, got %q (ok=%v)", state, ok)
	}

	r.Dispatch(state, Result{})
	if calls != 2 {
		t.Errorf("expected both callbacks to run, got %d", calls)
	}

	if _, ok := r.Join("graph", func(Result) {}); ok {
		t.Error("expected no renewal to join after dispatch")
	}
}

func TestRegistry_DispatchKeepsNewerActiveState(t *testing.T) {
	r := NewRegistry()

	r.Register("old|graph", "graph", func(Result) {})
	r.Register("new|graph", "graph", func(Result) {})

	r.Dispatch("old|graph", Result{})

	if state, ok := r.Active("graph"); !ok || state != "new|graph" {
		t.Errorf("expected newer state to stay active, got %q (ok=%v)", state, ok)
	}
}

func TestRegistry_CallbackMayRegisterAgain(t *testing.T) {
	r := NewRegistry()

	reentered := false
	r.Register("S1|graph", "graph", func(Result) {
		r.Register("S2|graph", "graph", func(Result) { reentered = true })
	})

	r.Dispatch("S1|graph", Result{})
	r.Dispatch("S2|graph", Result{})

	if !reentered {
		t.Error("expected callback registered during dispatch to run")
	}
}

func TestResult_Err(t *testing.T) {
	if err := (Result{Token: &oauth2.Token{AccessToken: "x"}}).Err(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}

	timeout := Result{ErrorDescription: TimeoutErrorDescription, Error: TimeoutError}.Err()
	if !errors.Is(timeout, ErrRenewalTimeout) {
		t.Errorf("expected ErrRenewalTimeout, got %v", timeout)
	}

	var perr *ProviderError
	if !errors.As(Result{Error: "login_required", ErrorDescription: "AADSTS50058"}.Err(), &perr) {
		t.Fatal("expected *ProviderError")
	}
	if perr.Code != "login_required" || perr.Error() != "login_required: AADSTS50058" {
		t.Errorf("unexpected provider error: %v", perr)
	}
}
