package cfscraper

import (
	"context"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestSessionHealthStale(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newSessionHealth(time.Hour, clock.Now)

	assert.False(t, s.Stale())

	clock.Advance(59 * time.Minute)
	assert.False(t, s.Stale())

	clock.Advance(2 * time.Minute)
	assert.True(t, s.Stale(), "older than the refresh interval")

	s.restart()
	assert.False(t, s.Stale())
	assert.Equal(t, clock.now, s.StartedAt())
}

func TestSessionHealthRecent403(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newSessionHealth(0, clock.Now)

	clock.Advance(48 * time.Hour)
	assert.False(t, s.Stale(), "a zero interval never ages out")

	s.record403()
	assert.True(t, s.Stale())

	clock.Advance(59 * time.Second)
	assert.True(t, s.Stale())

	clock.Advance(2 * time.Second)
	assert.False(t, s.Stale())

	s.record403()
	s.clear403()
	assert.False(t, s.Stale())
}

func TestSessionHealthRetryBudget(t *testing.T) {
	s := newSessionHealth(0, time.Now)

	assert.True(t, s.beginRetry(2))
	assert.True(t, s.beginRetry(2))
	assert.False(t, s.beginRetry(2))
	assert.Equal(t, 2, s.Retry403Count())

	s.resetRetries()
	assert.Zero(t, s.Retry403Count())
	assert.False(t, s.beginRetry(0))
}

func TestSessionHealthCountsRequests(t *testing.T) {
	s := newSessionHealth(0, time.Now)
	s.recordRequest()
	s.recordRequest()
	assert.Equal(t, 2, s.RequestCount())

	s.restart()
	assert.Zero(t, s.RequestCount())
}

func TestHandle403RefreshesAndRetries(t *testing.T) {
	var allowed atomic.Bool
	stub := newStub(func(r recordedRequest) *http.Response {
		switch {
		case r.Path == "/":
			return reply(http.StatusOK, "home")
		case allowed.Load():
			return reply(http.StatusOK, "content")
		default:
			return reply(http.StatusForbidden, "forbidden")
		}
	})
	cfg := testConfig(stub)
	cfg.Max403Retries = 2
	c := newTestClient(t, cfg)

	resp, err := c.Get(context.Background(), targetURL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 2, stub.count(http.MethodGet, "/"), "one probe per retry")
	assert.Equal(t, 3, stub.count(http.MethodGet, "/page"))
	assert.Equal(t, 2, c.Retry403Count())
	assert.True(t, c.Health().Stale(), "the last 403 is still recent")

	allowed.Store(true)

	resp, err = c.Get(context.Background(), targetURL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, c.Retry403Count())
	assert.Equal(t, 3, stub.count(http.MethodGet, "/"), "the stale session was refreshed first")
	assert.False(t, c.Health().Stale())
}

func TestHandle403RecoversOnRetry(t *testing.T) {
	var hits atomic.Int32
	stub := newStub(func(r recordedRequest) *http.Response {
		if r.Path == "/" {
			return reply(http.StatusOK, "home")
		}
		if hits.Add(1) == 1 {
			return reply(http.StatusForbidden, "forbidden")
		}
		return reply(http.StatusOK, "content")
	})
	c := newTestClient(t, testConfig(stub))

	resp, err := c.Get(context.Background(), targetURL, nil)
	require.NoError(t, err)
	assert.Equal(t, "content", resp.Text())
	assert.Zero(t, c.Retry403Count())
}

func TestHandle403FailedProbeReturnsForbidden(t *testing.T) {
	stub := newStub(func(r recordedRequest) *http.Response {
		return reply(http.StatusForbidden, "forbidden")
	})
	c := newTestClient(t, testConfig(stub))

	resp, err := c.Get(context.Background(), targetURL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 1, stub.count(http.MethodGet, "/page"), "no retry without a healthy probe")
	assert.Equal(t, 1, stub.count(http.MethodGet, "/"))
	assert.Equal(t, 1, c.Retry403Count())
}

func TestHandle403Disabled(t *testing.T) {
	stub := newStub(func(r recordedRequest) *http.Response {
		return reply(http.StatusForbidden, "forbidden")
	})
	cfg := testConfig(stub)
	cfg.AutoRefreshOn403 = false
	c := newTestClient(t, cfg)

	resp, err := c.Get(context.Background(), targetURL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Len(t, stub.recorded(), 1)
	assert.True(t, c.Health().Stale(), "a 403 marks the session stale without auto refresh")
	assert.Zero(t, c.Retry403Count())
}

func TestRefreshSessionPurgesClearance(t *testing.T) {
	stub := newStub(func(r recordedRequest) *http.Response {
		return reply(http.StatusOK, "ok")
	})
	c := newTestClient(t, testConfig(stub))

	u, _ := url.Parse("https://example.com/")
	c.rememberHost(u)
	c.jar.SetCookies(u, []*http.Cookie{
		{Name: "cf_clearance", Value: "abc", Path: "/"},
		{Name: "session", Value: "keep", Path: "/"},
	})
	builds := stub.buildCount()

	require.True(t, c.refreshSession(context.Background(), "https://example.com/deep/path"))

	names := map[string]string{}
	for _, ck := range c.jar.Cookies(u) {
		names[ck.Name] = ck.Value
	}
	assert.NotContains(t, names, "cf_clearance")
	assert.Equal(t, "keep", names["session"])
	assert.Greater(t, stub.buildCount(), builds, "a fresh identity handshakes again")

	reqs := stub.recorded()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "https://example.com/", reqs[len(reqs)-1].URL)
}

func TestRefreshSessionBadProbe(t *testing.T) {
	stub := newStub(func(r recordedRequest) *http.Response {
		return reply(http.StatusInternalServerError, "down")
	})
	c := newTestClient(t, testConfig(stub))

	assert.False(t, c.refreshSession(context.Background(), targetURL))
	assert.False(t, c.refreshSession(context.Background(), "::not a url"))
}

func TestStaleSessionRefreshedOnlyBeforeFirstHop(t *testing.T) {
	page := fixture(t, "js_challenge.html")
	stub := newStub(func(r recordedRequest) *http.Response {
		switch {
		case isSubmission(r):
			return cloudflare(http.StatusOK, "solved")
		default:
			// The refresh probe is challenged too, so the session stays stale.
			return cloudflare(http.StatusServiceUnavailable, page)
		}
	})
	cfg := testConfig(stub)
	cfg.Browser = ""
	c := newTestClient(t, cfg)
	c.health.record403()

	resp, err := c.Get(context.Background(), targetURL, nil)
	require.NoError(t, err)
	assert.Equal(t, "solved", resp.Text())

	assert.Equal(t, 1, stub.count(http.MethodGet, "/"), "one refresh probe")
	assert.True(t, c.Health().Stale())

	reqs := stub.recorded()
	require.Len(t, reqs, 3)
	challengeGet, answer := reqs[1], reqs[2]
	assert.Equal(t, "/page", challengeGet.Path)
	require.True(t, isSubmission(answer))
	assert.Equal(t, challengeGet.Header.Get("User-Agent"), answer.Header.Get("User-Agent"))
}
