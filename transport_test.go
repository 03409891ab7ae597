package cfscraper

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	URL    string
	Path   string
	Query  string
	Header http.Header
	Body   string
	Proxy  string
	At     time.Time
}

// stubTransport answers every exchange from handler and records what it saw.
type stubTransport struct {
	mu       sync.Mutex
	handler  func(r recordedRequest) *http.Response
	requests []recordedRequest
	builds   []TransportOptions
}

func newStub(handler func(r recordedRequest) *http.Response) *stubTransport {
	return &stubTransport{handler: handler}
}

func (s *stubTransport) factory(opts TransportOptions) (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds = append(s.builds, opts)
	return &proxiedStub{stub: s, proxy: opts.ProxyURL}, nil
}

func (s *stubTransport) setHandler(handler func(r recordedRequest) *http.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *stubTransport) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest{}, s.requests...)
}

func (s *stubTransport) buildCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.builds)
}

func (s *stubTransport) count(method, path string) int {
	n := 0
	for _, r := range s.recorded() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

type proxiedStub struct {
	stub  *stubTransport
	proxy string
}

func (p *proxiedStub) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	r := recordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Path:   req.URL.Path,
		Query:  req.URL.RawQuery,
		Header: req.Header.Clone(),
		Body:   string(body),
		Proxy:  p.proxy,
		At:     time.Now(),
	}

	p.stub.mu.Lock()
	p.stub.requests = append(p.stub.requests, r)
	handler := p.stub.handler
	p.stub.mu.Unlock()

	return handler(r), nil
}

func reply(status int, body string, headers ...string) *http.Response {
	h := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func cloudflare(status int, body string, headers ...string) *http.Response {
	return reply(status, body, append([]string{"Server", "cloudflare"}, headers...)...)
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

// testConfig returns a fast, deterministic configuration wired to stub.
func testConfig(stub *stubTransport) Config {
	cfg := DefaultConfig()
	cfg.MinRequestInterval = 0
	cfg.Delay = time.Millisecond
	cfg.RotateTLSCiphers = false
	cfg.SessionRefreshInterval = 0
	cfg.Browser = Chrome143Profile.Name
	cfg.TransportFactory = stub.factory
	return cfg
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}
