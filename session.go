package cfscraper

import (
	"context"
	"net/url"
	"slices"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

// recent403Window is how long a 403 keeps the session marked stale.
const recent403Window = 60 * time.Second

// challengeCookieNames are the clearance cookies dropped on refresh.
var challengeCookieNames = []string{
	"cf_clearance",
	"cf_chl_2",
	"cf_chl_prog",
	"cf_chl_rc_ni",
	"cf_turnstile",
	"__cf_bm",
	"__cfduid",
}

// refreshProbeOK lists probe statuses that count as a working session.
var refreshProbeOK = []int{
	http.StatusOK,
	http.StatusMovedPermanently,
	http.StatusFound,
	http.StatusNotModified,
}

// SessionHealth tracks the age and 403 history of a client session.
type SessionHealth struct {
	mu              sync.Mutex
	refreshInterval time.Duration
	startedAt       time.Time
	requestCount    int
	last403At       time.Time
	retry403Count   int
	now             func() time.Time
}

func newSessionHealth(refreshInterval time.Duration, now func() time.Time) *SessionHealth {
	return &SessionHealth{
		refreshInterval: refreshInterval,
		startedAt:       now(),
		now:             now,
	}
}

// Stale reports whether the session has outlived its refresh interval or
// hit a 403 recently.
func (s *SessionHealth) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.refreshInterval > 0 && now.Sub(s.startedAt) > s.refreshInterval {
		return true
	}
	return !s.last403At.IsZero() && now.Sub(s.last403At) < recent403Window
}

func (s *SessionHealth) recordRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestCount++
}

func (s *SessionHealth) record403() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last403At = s.now()
}

func (s *SessionHealth) restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = s.now()
	s.requestCount = 0
}

func (s *SessionHealth) clear403() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last403At = time.Time{}
}

// beginRetry reserves one 403 retry if fewer than limit are outstanding.
func (s *SessionHealth) beginRetry(limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry403Count >= limit {
		return false
	}
	s.retry403Count++
	return true
}

func (s *SessionHealth) resetRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retry403Count = 0
}

func (s *SessionHealth) Retry403Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry403Count
}

func (s *SessionHealth) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

func (s *SessionHealth) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// purgeChallengeCookies expires the clearance cookies on every known host.
func (c *Client) purgeChallengeCookies() {
	for _, origin := range c.knownOrigins() {
		var expired []*http.Cookie
		for _, name := range challengeCookieNames {
			expired = append(expired,
				&http.Cookie{Name: name, Value: "deleted", Path: "/", Domain: origin.Hostname(), MaxAge: -1},
				&http.Cookie{Name: name, Value: "deleted", Path: "/", MaxAge: -1},
			)
		}
		c.jar.SetCookies(origin, expired)
	}
}

// refreshSession drops clearance state, switches to a fresh browser identity
// and probes the site root. It reports whether the probe looked healthy.
func (c *Client) refreshSession(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		c.debugf("session refresh skipped: bad url %q", rawURL)
		return false
	}
	c.debugf("refreshing session for %s", u.Host)

	c.purgeChallengeCookies()
	c.health.restart()
	if err := c.regenerateIdentity(); err != nil {
		c.debugf("session refresh failed: %v", err)
		return false
	}

	probe := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	resp, err := c.dispatch(ctx, http.MethodGet, probe.String(), &RequestOptions{AllowRedirects: boolPtr(false)})
	if err != nil {
		c.debugf("session refresh probe failed: %v", err)
		return false
	}

	if !slices.Contains(refreshProbeOK, resp.StatusCode) {
		c.debugf("session refresh probe returned %d", resp.StatusCode)
		return false
	}
	c.health.clear403()
	return true
}

// handle403 refreshes the session and retries a request that came back 403,
// up to Max403Retries times. When the budget is spent or a refresh fails
// the 403 is returned as is.
func (c *Client) handle403(ctx context.Context, a *attempt, resp *Response) (*Response, error) {
	if !c.health.beginRetry(c.cfg.Max403Retries) {
		c.debugf("403 on %s: retry budget of %d spent", resp.URL.Redacted(), c.cfg.Max403Retries)
		return resp, nil
	}
	if !c.refreshSession(ctx, a.url) {
		return resp, nil
	}

	retry, err := c.request(ctx, a.retry())
	if err != nil {
		return nil, err
	}
	if retry.StatusCode == http.StatusOK {
		c.health.resetRetries()
	}
	return retry, nil
}
