package cfscraper

import (
	"io"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	http "github.com/bogdanfinn/fhttp"

	"cfscraper/challenge"
)

// Response is a fully read HTTP response.
type Response = challenge.Response

// acceptEncoding advertises brotli only when it will be decoded.
func acceptEncoding(allowBrotli bool) string {
	if allowBrotli {
		return "gzip, deflate, br, zstd"
	}
	return "gzip, deflate"
}

// readResponseBody decompresses and reads the full response body. Brotli is
// decoded only when allowed; otherwise the raw bytes are returned.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response, allowBrotli bool) (body []byte, decoded bool, err error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		body, err = io.ReadAll(resp.Body)
		return body, false, err
	case "br":
		if !allowBrotli {
			body, err = io.ReadAll(resp.Body)
			return body, false, err
		}
		body, err = io.ReadAll(brotli.NewReader(resp.Body))
		return body, true, err
	default:
		rc := http.DecompressBody(resp)
		defer rc.Close()
		body, err = io.ReadAll(rc)
		return body, true, err
	}
}

// toResponse reads resp into a Response. Decoded bodies lose their
// Content-Encoding header so callers see what they got.
func toResponse(method string, u *url.URL, resp *http.Response, allowBrotli bool) (*Response, error) {
	body, decoded, err := readResponseBody(resp, allowBrotli)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Clone()
	if decoded {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}

	return &Response{
		Method:     method,
		URL:        u,
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

// resolveLocation resolves the Location header of resp against its URL.
func resolveLocation(resp *Response) (*url.URL, error) {
	loc, err := url.Parse(resp.Location())
	if err != nil {
		return nil, err
	}
	return resp.URL.ResolveReference(loc), nil
}

// originOf returns scheme://host of u.
func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
