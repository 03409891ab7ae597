package cfscraper

import (
	"context"
	"errors"
	"time"

	http "github.com/bogdanfinn/fhttp"

	"cfscraper/captcha"
	"cfscraper/challenge"
)

// chain is shared by every hop of one logical request.
type chain struct {
	loopCount int
}

// attempt is one hop of a logical request: the original call, a challenge
// submission, a followed redirect or a 403 retry.
type attempt struct {
	method        string
	url           string
	opts          *RequestOptions
	first         bool
	internalRetry bool
	chain         *chain
}

func newAttempt(method, rawURL string, opts *RequestOptions) *attempt {
	if opts == nil {
		opts = &RequestOptions{}
	}
	return &attempt{method: method, url: rawURL, opts: opts, first: true, chain: &chain{}}
}

func (a *attempt) derive(method, rawURL string, opts *RequestOptions) *attempt {
	return &attempt{
		method:        method,
		url:           rawURL,
		opts:          opts,
		internalRetry: a.internalRetry,
		chain:         a.chain,
	}
}

func (a *attempt) retry() *attempt {
	next := a.derive(a.method, a.url, a.opts)
	next.internalRetry = true
	return next
}

// Request issues method against rawURL and answers any legacy challenge on
// the way. Blocks while MaxConcurrentRequests logical requests are in flight.
func (c *Client) Request(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	if err := c.throttle.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.throttle.release()

	return c.request(ctx, newAttempt(method, rawURL, opts))
}

// SolveChallenge classifies resp and, if it is a legacy challenge, solves it
// and returns the response that follows.
func (c *Client) SolveChallenge(ctx context.Context, resp *Response) (*Response, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	if resp.URL == nil {
		return nil, errors.New("response has no url")
	}
	if err := c.throttle.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.throttle.release()

	c.rememberHost(resp.URL)
	return c.classify(ctx, newAttempt(resp.Method, resp.URL.String(), nil), resp)
}

// request runs one hop: session upkeep, hooks, dispatch and classification.
// The session is only refreshed before the first hop so a challenge is
// answered with the identity that received it.
func (c *Client) request(ctx context.Context, a *attempt) (*Response, error) {
	c.maybeRotateCiphers()

	if a.first && !a.internalRetry && c.health.Stale() {
		if !c.refreshSession(ctx, a.url) {
			c.debugf("stale session refresh failed, continuing with %s", a.url)
		}
	}
	c.health.recordRequest()

	method, rawURL, opts := a.method, a.url, a.opts
	if c.cfg.PreHook != nil {
		method, rawURL, opts = c.cfg.PreHook(method, rawURL, opts.clone())
	}

	resp, err := c.perform(ctx, method, rawURL, opts)
	if err != nil {
		return nil, err
	}

	if c.cfg.PostHook != nil {
		if hooked := c.cfg.PostHook(resp); hooked != nil {
			resp = hooked
		}
	}

	return c.classify(ctx, a, resp)
}

func (c *Client) detectOptions() challenge.DetectOptions {
	return challenge.DetectOptions{
		DisableV1:        c.cfg.DisableCloudflareV1,
		DisableV2:        c.cfg.DisableCloudflareV2,
		DisableV3:        c.cfg.DisableCloudflareV3,
		DisableTurnstile: c.cfg.DisableTurnstile,
	}
}

func (c *Client) classify(ctx context.Context, a *attempt, resp *Response) (*Response, error) {
	detection := challenge.Classify(resp, c.detectOptions())

	switch detection.Kind {
	case challenge.FirewallBlock:
		return nil, &challenge.FirewallBlockError{URL: resp.URL.String()}
	case challenge.NewerUnsupported:
		return nil, &challenge.UnsupportedChallengeError{URL: resp.URL.String(), Variant: detection.Variant}
	case challenge.LegacyCaptcha:
		return c.handleCaptcha(ctx, a, resp)
	case challenge.LegacyJS:
		return c.handleJSChallenge(ctx, a, resp)
	}

	if !resp.IsRedirect() && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		a.chain.loopCount = 0
	}
	if resp.StatusCode == http.StatusForbidden {
		c.health.record403()
	}

	switch {
	case resp.StatusCode == http.StatusForbidden && c.cfg.AutoRefreshOn403:
		return c.handle403(ctx, a, resp)
	case resp.StatusCode == http.StatusOK && !a.internalRetry:
		c.health.resetRetries()
	}
	return resp, nil
}

// enterSolve counts one more challenge on this chain, failing once
// SolveDepth challenges have already been answered.
func (c *Client) enterSolve(a *attempt, resp *Response) error {
	if a.chain.loopCount >= c.cfg.SolveDepth {
		attempts := a.chain.loopCount
		a.chain.loopCount = 0
		return &LoopProtectionError{URL: resp.URL.String(), Attempts: attempts}
	}
	a.chain.loopCount++
	return nil
}

func (c *Client) handleJSChallenge(ctx context.Context, a *attempt, resp *Response) (*Response, error) {
	if err := c.enterSolve(a, resp); err != nil {
		return nil, err
	}
	c.debugf("js challenge on %s (attempt %d)", resp.URL.Redacted(), a.chain.loopCount)

	if err := sleepContext(ctx, c.challengeDelay(resp)); err != nil {
		return nil, err
	}

	answer, err := c.resolver.Solve(ctx, resp.Text(), resp.URL.String())
	if err != nil {
		return nil, err
	}
	return c.submitAnswer(ctx, a, resp, answer)
}

func (c *Client) handleCaptcha(ctx context.Context, a *attempt, resp *Response) (*Response, error) {
	if err := c.enterSolve(a, resp); err != nil {
		return nil, err
	}
	c.debugf("captcha challenge on %s (attempt %d)", resp.URL.Redacted(), a.chain.loopCount)

	if c.cfg.DoubleDown {
		again, err := c.perform(ctx, resp.Method, resp.URL.String(), a.opts)
		if err != nil {
			return nil, err
		}
		if !challenge.IsLegacyCaptchaChallenge(again) {
			return again, nil
		}
		resp = again
	}

	if c.cfg.Captcha.Provider == captcha.ReturnResponse {
		return resp, nil
	}
	if c.captcha == nil {
		return nil, &CaptchaProviderMissingError{URL: resp.URL.String()}
	}

	form, err := challenge.ExtractCaptchaForm(resp.Text())
	if err != nil {
		return nil, err
	}

	token, err := c.captcha.Solve(ctx, form.Type(), resp.URL.String(), form.SiteKey)
	if err != nil {
		return nil, &challenge.SolveError{Reason: c.captcha.Name() + " could not solve " + form.Type(), Cause: err}
	}

	answer, err := challenge.SolveCaptcha(form, resp.URL.String(), token)
	if err != nil {
		return nil, err
	}
	return c.submitAnswer(ctx, a, resp, answer)
}

// submitAnswer posts the answer without following redirects. A 400 means the
// answer was rejected. A redirect is followed with the original method so
// the followed response is classified again.
func (c *Client) submitAnswer(ctx context.Context, a *attempt, resp *Response, answer *challenge.Answer) (*Response, error) {
	opts := a.opts.clone()
	opts.Body = []byte(answer.Encode())
	opts.Form, opts.JSON = nil, nil
	opts.ContentType = "application/x-www-form-urlencoded"
	opts.AllowRedirects = boolPtr(false)
	opts.setHeader("Origin", originOf(resp.URL))
	opts.setHeader("Referer", resp.URL.String())

	submitted, err := c.request(ctx, a.derive(http.MethodPost, answer.SubmitURL, opts))
	if err != nil {
		return nil, err
	}

	if submitted.StatusCode == http.StatusBadRequest {
		return nil, &challenge.SolveError{Reason: "answer rejected"}
	}
	if !submitted.IsRedirect() {
		return submitted, nil
	}

	next, err := resolveLocation(submitted)
	if err != nil {
		return nil, &challenge.SolveError{Reason: "bad redirect after submission", Cause: err}
	}

	follow := a.opts.clone()
	follow.setHeader("Referer", submitted.URL.String())
	return c.request(ctx, a.derive(a.method, next.String(), follow))
}

func (c *Client) challengeDelay(resp *Response) time.Duration {
	if c.cfg.Delay > 0 {
		return c.cfg.Delay
	}
	if d, ok := challenge.ExtractDelay(resp.Text()); ok {
		return d
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
