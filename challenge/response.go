// Package challenge detects, parses and answers the Cloudflare interstitial
// challenge pages served in place of the requested resource.
package challenge

import (
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

// Response is a fully-read HTTP response. It is never mutated after the body
// has been read and decoded.
type Response struct {
	Method     string
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Server returns the lowercased server header.
func (r *Response) Server() string {
	return strings.ToLower(r.Header.Get("Server"))
}

// Location returns the redirect target, or "" when the response carries none.
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// IsRedirect reports whether the response is a 3xx carrying a Location header.
func (r *Response) IsRedirect() bool {
	switch r.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return r.Location() != ""
	}
	return false
}
