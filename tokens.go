package cfscraper

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// tokenCookieNames are the cookies that carry a solved challenge.
var tokenCookieNames = []string{"cf_clearance", "__cfduid"}

// GetTokens fetches rawURL, solving any challenge, and returns the clearance
// cookies together with the User-Agent they are bound to.
func (c *Client) GetTokens(ctx context.Context, rawURL string) (map[string]string, string, error) {
	resp, err := c.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("%s returned %d, could not collect clearance tokens", resp.URL.Redacted(), resp.StatusCode)
	}

	tokens := make(map[string]string)
	for _, ck := range c.jar.Cookies(resp.URL) {
		if slices.Contains(tokenCookieNames, ck.Name) {
			tokens[ck.Name] = ck.Value
		}
	}
	if len(tokens) == 0 {
		return nil, "", fmt.Errorf("%w for %s", ErrNoChallengeCookies, resp.URL.Host)
	}
	return tokens, c.UserAgent(), nil
}

// GetCookieString is GetTokens rendered as a Cookie header value.
func (c *Client) GetCookieString(ctx context.Context, rawURL string) (string, string, error) {
	tokens, userAgent, err := c.GetTokens(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	return FormatCookieString(tokens), userAgent, nil
}

// FormatCookieString joins cookies as "name=value" pairs in name order.
func FormatCookieString(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}

// ParseCookieString is the inverse of FormatCookieString.
func ParseCookieString(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		out[name] = value
	}
	return out
}
