package cfscraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	http "github.com/bogdanfinn/fhttp"
)

// RequestOptions carries the per-request arguments. The zero value issues a
// plain request that follows redirects.
type RequestOptions struct {
	Header http.Header
	// Body is sent verbatim. Form and JSON are ignored when Body is set.
	Body []byte
	Form url.Values
	JSON any
	// ContentType overrides the type derived from Form or JSON.
	ContentType string
	// Proxy forces a proxy URL for this request, bypassing the selector.
	Proxy string
	// AllowRedirects defaults to true when nil.
	AllowRedirects *bool
}

func (o *RequestOptions) clone() *RequestOptions {
	if o == nil {
		return &RequestOptions{}
	}
	c := *o
	c.Header = o.Header.Clone()
	if o.Body != nil {
		c.Body = append([]byte{}, o.Body...)
	}
	if o.Form != nil {
		c.Form = url.Values{}
		for k, vs := range o.Form {
			c.Form[k] = append([]string{}, vs...)
		}
	}
	if o.AllowRedirects != nil {
		v := *o.AllowRedirects
		c.AllowRedirects = &v
	}
	return &c
}

func (o *RequestOptions) followRedirects() bool {
	return o == nil || o.AllowRedirects == nil || *o.AllowRedirects
}

func (o *RequestOptions) setHeader(key, value string) {
	if o.Header == nil {
		o.Header = http.Header{}
	}
	o.Header.Set(key, value)
}

// payload returns the encoded body and its content type.
func (o *RequestOptions) payload() ([]byte, string, error) {
	if o == nil {
		return nil, "", nil
	}
	switch {
	case o.Body != nil:
		return o.Body, o.ContentType, nil
	case o.Form != nil:
		return []byte(o.Form.Encode()), orDefault(o.ContentType, "application/x-www-form-urlencoded"), nil
	case o.JSON != nil:
		data, err := json.Marshal(o.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encoding json body: %w", err)
		}
		return data, orDefault(o.ContentType, "application/json"), nil
	}
	return nil, o.ContentType, nil
}

func bodyReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolPtr(v bool) *bool {
	return &v
}

func (c *Client) Get(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodGet, rawURL, opts)
}

func (c *Client) Post(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodPost, rawURL, opts)
}

func (c *Client) Put(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodPut, rawURL, opts)
}

func (c *Client) Patch(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, rawURL, opts)
}

func (c *Client) Delete(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, rawURL, opts)
}

func (c *Client) Head(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodHead, rawURL, opts)
}

func (c *Client) Options(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodOptions, rawURL, opts)
}
