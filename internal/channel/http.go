package channel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// RedirectFunc receives the redirect URL (including its fragment) that ended a
// frame's navigation at the application's redirect URI.
type RedirectFunc func(ctx context.Context, frame Handle, location string)

// HTTPAgent is an Agent that navigates frames with an HTTP client instead of a
// browser. It follows the identity provider's redirects until one targets the
// redirect URI, then hands that location to the RedirectFunc. Navigations that
// end anywhere else (an interactive login page, a network error) deliver
// nothing and are left to the caller's timeout.
//
// Cookies are kept in a jar shared by all frames, so an existing provider
// session carries over between renewals.
type HTTPAgent struct {
	redirectURI string
	onRedirect  RedirectFunc
	client      *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	frames map[Handle]string
}

// Compile-time check that HTTPAgent implements Agent
var _ Agent = (*HTTPAgent)(nil)

// HTTPAgentOption configures an HTTPAgent.
type HTTPAgentOption func(*HTTPAgent)

// WithTransport sets the transport used for navigations (e.g., for proxies or
// tests).
func WithTransport(rt http.RoundTripper) HTTPAgentOption {
	return func(a *HTTPAgent) {
		a.client.Transport = rt
	}
}

// WithTimeout bounds a single navigation, redirects included.
func WithTimeout(d time.Duration) HTTPAgentOption {
	return func(a *HTTPAgent) {
		a.client.Timeout = d
	}
}

// NewHTTPAgent creates an agent that reports redirects to redirectURI through
// onRedirect. Close must be called to stop in-flight navigations.
func NewHTTPAgent(redirectURI string, onRedirect RedirectFunc, opts ...HTTPAgentOption) *HTTPAgent {
	jar, _ := cookiejar.New(nil) // only errors on a non-nil Options with a bad PublicSuffixList

	ctx, cancel := context.WithCancel(context.Background())
	a := &HTTPAgent{
		redirectURI: redirectURI,
		onRedirect:  onRedirect,
		client: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		ctx:    ctx,
		cancel: cancel,
		frames: make(map[Handle]string),
	}
	a.client.CheckRedirect = a.checkRedirect

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open returns the frame named id, creating it blank if it does not exist.
func (a *HTTPAgent) Open(id string) Handle {
	h := Handle(id)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.frames[h]; !ok {
		a.frames[h] = Blank
	}
	return h
}

// Navigate points the frame at rawURL and starts loading it in the background.
func (a *HTTPAgent) Navigate(h Handle, rawURL string) {
	a.mu.Lock()
	a.frames[h] = rawURL
	a.mu.Unlock()

	if isBlankTarget(rawURL) {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.load(h, rawURL)
	}()
}

// IsBlank reports whether the frame has no navigation target.
func (a *HTTPAgent) IsBlank(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	target, ok := a.frames[h]
	return !ok || isBlankTarget(target)
}

// Close cancels in-flight navigations and waits for them to return.
func (a *HTTPAgent) Close() {
	a.cancel()
	a.wg.Wait()
}

// load performs the navigation and reports a redirect to the redirect URI.
func (a *HTTPAgent) load(h Handle, rawURL string) {
	ctx := a.ctx

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		slog.WarnContext(ctx, "invalid navigation target", "frame", string(h), "error", err)
		return
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.WarnContext(ctx, "frame navigation failed", "frame", string(h), "error", err)
		}
		return
	}
	defer func() { _ = resp.Body.Close() }()

	location := resp.Header.Get("Location")
	if resp.StatusCode < 300 || resp.StatusCode >= 400 || !a.isRedirectURI(location) {
		slog.DebugContext(ctx, "frame navigation ended without redirect",
			"frame", string(h),
			"status", resp.StatusCode,
		)
		return
	}

	a.onRedirect(ctx, h, location)
}

// checkRedirect follows provider-internal redirects and stops at the redirect URI.
func (a *HTTPAgent) checkRedirect(req *http.Request, via []*http.Request) error {
	if a.isRedirectURI(req.URL.String()) {
		return http.ErrUseLastResponse
	}
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	return nil
}

// isRedirectURI reports whether location targets the configured redirect URI,
// ignoring query and fragment.
func (a *HTTPAgent) isRedirectURI(location string) bool {
	if location == "" {
		return false
	}
	target, err := url.Parse(location)
	if err != nil {
		return false
	}
	target.RawQuery = ""
	target.Fragment = ""
	target.RawFragment = ""
	return strings.HasPrefix(target.String(), a.redirectURI)
}
