package cfscraper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"

	"cfscraper/captcha"
	"cfscraper/challenge"
)

const (
	maxRedirects        = 10
	cipherRotationEvery = 10
)

// Transport performs a single HTTP exchange without following redirects.
// tls_client.HttpClient satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportOptions describe the connection a TransportFactory must build.
type TransportOptions struct {
	Profile  profiles.ClientProfile
	ProxyURL string
	Jar      tls_client.CookieJar
	Timeout  time.Duration
	Logger   tls_client.Logger
}

// TransportFactory builds a Transport. Transports are rebuilt whenever the
// browser identity or TLS cipher order changes.
type TransportFactory func(opts TransportOptions) (Transport, error)

// NewTLSTransport is the default TransportFactory: a tls-client connection
// impersonating opts.Profile.
func NewTLSTransport(opts TransportOptions) (Transport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	timeout := int(opts.Timeout / time.Second)
	if timeout <= 0 {
		timeout = 30
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(timeout),
		tls_client.WithClientProfile(opts.Profile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
	}
	if opts.Jar != nil {
		options = append(options, tls_client.WithCookieJar(opts.Jar))
	}
	if opts.ProxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(opts.ProxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}

// Client is a browser-impersonating HTTP client that transparently answers
// legacy Cloudflare challenges. It is safe for concurrent use.
type Client struct {
	cfg      Config
	logger   Logger
	resolver *challenge.Resolver
	captcha  captcha.Provider
	throttle *throttle
	health   *SessionHealth
	proxies  ProxySelector
	jar      tls_client.CookieJar

	newTransport TransportFactory

	mu                    sync.Mutex
	rng                   *rand.Rand
	profile               *BrowserProfile
	tlsProfile            profiles.ClientProfile
	acceptLanguage        string
	transports            map[string]Transport // keyed by proxy URL, "" is direct
	requestsSinceRotation int
	hosts                 map[string]*url.URL // origins seen, keyed by host
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	resolver, err := challenge.NewResolver(cfg.Interpreter)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:          cfg,
		logger:       cfg.logger(),
		resolver:     resolver,
		throttle:     newThrottle(cfg.MinRequestInterval, cfg.MaxConcurrentRequests),
		health:       newSessionHealth(cfg.SessionRefreshInterval, time.Now),
		jar:          tls_client.NewCookieJar(),
		newTransport: cfg.TransportFactory,
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().Unix()))),
		transports:   make(map[string]Transport),
		hosts:        make(map[string]*url.URL),
	}
	if c.newTransport == nil {
		c.newTransport = NewTLSTransport
	}

	switch {
	case cfg.ProxySelector != nil:
		c.proxies = cfg.ProxySelector
	case len(cfg.Proxies) > 0:
		pm, err := NewProxyManager(cfg.Proxies, cfg.ProxyStrategy, cfg.ProxyBanDuration)
		if err != nil {
			return nil, err
		}
		c.proxies = pm
	}

	if cfg.Captcha.Provider != "" && cfg.Captcha.Provider != captcha.ReturnResponse {
		provider, err := captcha.New(cfg.Captcha.Provider, cfg.Captcha.APIKey, captcha.Options{BaseURL: cfg.Captcha.BaseURL})
		if err != nil {
			return nil, err
		}
		c.captcha = provider
	}

	if err := c.regenerateIdentity(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close drops pooled connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropTransportsLocked()
}

// UserAgent returns the User-Agent of the current browser identity.
func (c *Client) UserAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.UserAgent
}

// Profile returns the current browser identity.
func (c *Client) Profile() *BrowserProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// Retry403Count reports how many 403 refresh retries are outstanding.
func (c *Client) Retry403Count() int {
	return c.health.Retry403Count()
}

// Health exposes the session bookkeeping.
func (c *Client) Health() *SessionHealth {
	return c.health
}

func (c *Client) debugf(format string, args ...any) {
	if c.cfg.Debug {
		c.logger.Log(format, args...)
	}
}

// regenerateIdentity picks a browser profile and Accept-Language and drops
// every transport so the next request handshakes afresh. The cookie jar is
// kept.
func (c *Client) regenerateIdentity() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	profile, err := SelectBrowserProfile(c.cfg.Browser, c.rng)
	if err != nil {
		return err
	}
	c.profile = profile
	c.tlsProfile = profile.TLSProfile
	c.acceptLanguage = randomAcceptLanguage(c.rng)
	c.requestsSinceRotation = 0
	c.dropTransportsLocked()
	return nil
}

// maybeRotateCiphers re-keys the TLS hello every cipherRotationEvery requests.
func (c *Client) maybeRotateCiphers() {
	if !c.cfg.RotateTLSCiphers {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsSinceRotation++
	if c.requestsSinceRotation < cipherRotationEvery {
		return
	}
	c.requestsSinceRotation = 0

	if rotated, ok := c.profile.RotatedTLSProfile(c.rng); ok {
		c.tlsProfile = rotated
		c.dropTransportsLocked()
		c.debugf("rotated TLS cipher order for %s", c.profile.Name)
	}
}

func (c *Client) dropTransportsLocked() {
	for key, t := range c.transports {
		if closer, ok := t.(interface{ CloseIdleConnections() }); ok {
			closer.CloseIdleConnections()
		}
		delete(c.transports, key)
	}
}

func (c *Client) transportFor(proxyURL string) (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.transports[proxyURL]; ok {
		return t, nil
	}

	t, err := c.newTransport(TransportOptions{
		Profile:  c.tlsProfile,
		ProxyURL: proxyURL,
		Jar:      c.jar,
		Timeout:  c.cfg.Timeout,
		Logger:   transportLogger(c.cfg.Debug),
	})
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}
	c.transports[proxyURL] = t
	return t, nil
}

func (c *Client) rememberHost(u *url.URL) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.hosts[u.Host]; !ok {
		c.hosts[u.Host] = &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	}
}

func (c *Client) knownOrigins() []*url.URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*url.URL, 0, len(c.hosts))
	for _, u := range c.hosts {
		out = append(out, u)
	}
	return out
}

// headersFor builds the browser headers for u, overlaid with the caller's.
func (c *Client) headersFor(opts *RequestOptions, contentType string) http.Header {
	c.mu.Lock()
	h := c.profile.navigationHeaders(acceptEncoding(c.cfg.AllowBrotli), c.acceptLanguage)
	c.mu.Unlock()

	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if opts != nil {
		for key, values := range opts.Header {
			if key == http.HeaderOrderKey || key == http.PHeaderOrderKey {
				h[key] = append([]string{}, values...)
				continue
			}
			h[http.CanonicalHeaderKey(key)] = append([]string{}, values...)
		}
	}
	if h.Get("Referer") != "" || h.Get("Origin") != "" {
		h.Set("Sec-Fetch-Site", "same-origin")
	}
	return h
}

// dispatch performs exactly one exchange, without redirects or challenge
// handling. Every exchange is spaced by MinRequestInterval.
func (c *Client) dispatch(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", rawURL)
	}
	if err := c.throttle.wait(ctx); err != nil {
		return nil, err
	}
	c.rememberHost(u)

	body, contentType, err := opts.payload()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = c.headersFor(opts, contentType)

	proxyURL := ""
	selected := false
	if opts != nil && opts.Proxy != "" {
		proxyURL = opts.Proxy
	} else if c.proxies != nil {
		proxyURL, selected = c.proxies.Select()
	}

	transport, err := c.transportFor(proxyURL)
	if err != nil {
		return nil, err
	}

	resp, err := transport.Do(req)
	if err != nil {
		if selected {
			c.proxies.ReportFailure(proxyURL)
		}
		return nil, fmt.Errorf("%s %s: %w", method, u.Redacted(), err)
	}
	defer resp.Body.Close()

	if selected {
		c.proxies.ReportSuccess(proxyURL)
	}

	out, err := toResponse(method, u, resp, c.cfg.AllowBrotli)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u.Redacted(), err)
	}
	c.debugf("%s %s -> %d", method, u.Redacted(), out.StatusCode)
	return out, nil
}

// perform dispatches the request and, unless disabled, follows redirects
// the way a browser does.
func (c *Client) perform(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	resp, err := c.dispatch(ctx, method, rawURL, opts)
	if err != nil || !opts.followRedirects() {
		return resp, err
	}

	for hop := 0; resp.IsRedirect(); hop++ {
		if hop >= maxRedirects {
			return nil, fmt.Errorf("stopped after %d redirects", maxRedirects)
		}

		next, err := resolveLocation(resp)
		if err != nil {
			return nil, fmt.Errorf("bad redirect location %q: %w", resp.Location(), err)
		}

		method, opts = redirectRequest(resp, method, opts)
		if resp, err = c.dispatch(ctx, method, next.String(), opts); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// redirectRequest rewrites method and body for the next hop: 303 always
// becomes GET, and so do 301/302 answers to a POST.
func redirectRequest(resp *Response, method string, opts *RequestOptions) (string, *RequestOptions) {
	next := opts.clone()
	next.setHeader("Referer", resp.URL.String())

	switch {
	case resp.StatusCode == http.StatusSeeOther && method != http.MethodHead,
		(resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound) && method == http.MethodPost:
		method = http.MethodGet
		next.Body, next.Form, next.JSON, next.ContentType = nil, nil, nil, ""
		next.Header.Del("Content-Type")
	}
	return method, next
}

// GetCookies returns the jar's cookies for every origin this client has
// talked to, keyed by host.
func (c *Client) GetCookies() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, origin := range c.knownOrigins() {
		cookies := c.jar.Cookies(origin)
		if len(cookies) == 0 {
			continue
		}
		byName := make(map[string]string, len(cookies))
		for _, ck := range cookies {
			byName[ck.Name] = ck.Value
		}
		out[strings.ToLower(origin.Host)] = byName
	}
	return out
}
