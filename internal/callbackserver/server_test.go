package callbackserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/florianilch/implicitauth/internal/authcontext"
	"github.com/florianilch/implicitauth/internal/authorize"
	"github.com/florianilch/implicitauth/internal/renewal"
)

type staticReadiness bool

func (r staticReadiness) IsReady() bool { return bool(r) }

// recordingHandler captures responses and answers with a fixed outcome.
type recordingHandler struct {
	mu        sync.Mutex
	responses []*authorize.Response
	typ       authcontext.RequestType
	err       error
}

func (h *recordingHandler) HandleCallback(_ context.Context, resp *authorize.Response) (authcontext.RequestType, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, resp)
	return h.typ, h.err
}

func (h *recordingHandler) Responses() []*authorize.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*authorize.Response(nil), h.responses...)
}

func newTestServer(t *testing.T, h Handler, ready bool) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(New(h, staticReadiness(ready), WithLogger(logger)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postFragment(t *testing.T, baseURL, fragment string) (*http.Response, callbackResult) {
	t.Helper()
	resp, err := http.PostForm(baseURL+ResponsePath, url.Values{"response": {fragment}})
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var body callbackResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return resp, body
}

func TestCallbackPage_ServesFragmentForwarder(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, true)

	resp, err := http.Get(srv.URL + CallbackPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "window.location.hash") {
		t.Error("expected page to forward the URL fragment")
	}
	for header, want := range map[string]string{
		"X-Frame-Options": "DENY",
		"Referrer-Policy": "no-referrer",
		"Cache-Control":   "no-store",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestCallbackResponse_Success(t *testing.T) {
	h := &recordingHandler{typ: authcontext.RequestLogin}
	srv := newTestServer(t, h, true)

	resp, body := postFragment(t, srv.URL, "id_token=abc.def.ghi&state=s-1&session_state=x")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Status != "ok" || body.Type != string(authcontext.RequestLogin) {
		t.Errorf("unexpected body %+v", body)
	}

	got := h.Responses()
	if len(got) != 1 {
		t.Fatalf("expected one handled response, got %d", len(got))
	}
	if got[0].State != "s-1" || got[0].IDToken != "abc.def.ghi" || got[0].SessionState != "x" {
		t.Errorf("unexpected parsed response %+v", got[0])
	}
}

func TestCallbackResponse_Errors(t *testing.T) {
	tests := []struct {
		name       string
		fragment   string
		handlerErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing state",
			fragment:   "access_token=tok",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_response",
		},
		{
			name:       "state mismatch",
			fragment:   "access_token=tok&state=forged",
			handlerErr: fmt.Errorf("%w: forged", renewal.ErrStateMismatch),
			wantStatus: http.StatusConflict,
			wantCode:   "state_mismatch",
		},
		{
			name:       "provider error",
			fragment:   "error=access_denied&state=s-1",
			handlerErr: &renewal.ProviderError{Code: "access_denied", Description: "denied"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "access_denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &recordingHandler{typ: authcontext.RequestLogin, err: tt.handlerErr}, true)

			resp, body := postFragment(t, srv.URL, tt.fragment)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if body.Status != "error" || body.Error == nil || body.Error.Code != tt.wantCode {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestCallbackPage_QueryResponse(t *testing.T) {
	h := &recordingHandler{
		typ: authcontext.RequestLogin,
		err: &renewal.ProviderError{Code: "access_denied", Description: "User denied access"},
	}
	srv := newTestServer(t, h, true)

	resp, err := http.Get(srv.URL + CallbackPath + "?error=access_denied&error_description=User+denied+access&state=s-1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "User denied access") {
		t.Error("expected provider error on the page")
	}
	got := h.Responses()
	if len(got) != 1 || got[0].Error != "access_denied" {
		t.Errorf("expected query response handled, got %+v", got)
	}
}

func TestCallbackResponse_TooLarge(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, true)

	resp, err := http.Post(srv.URL+ResponsePath, "application/x-www-form-urlencoded",
		strings.NewReader("response="+strings.Repeat("a", maxRequestBytes+1)))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		t.Errorf("expected oversized body to be rejected, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		ready bool
		path  string
		want  int
	}{
		{true, LivenessPath, http.StatusOK},
		{false, LivenessPath, http.StatusOK},
		{true, ReadinessPath, http.StatusOK},
		{false, ReadinessPath, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s ready=%v", tt.path, tt.ready), func(t *testing.T) {
			srv := newTestServer(t, &recordingHandler{}, tt.ready)
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := HandlerFunc(func(context.Context, *authorize.Response) (authcontext.RequestType, error) {
		panic("boom")
	})
	srv := newTestServer(t, h, true)

	resp, err := http.PostForm(srv.URL+ResponsePath, url.Values{"response": {"state=s"}})
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := New(&recordingHandler{}, staticReadiness(true), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh, err := s.Start(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + LivenessPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected runtime error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve loop did not stop")
	}
}
