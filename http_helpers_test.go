package cfscraper

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/url"
	"testing"

	"github.com/andybalholm/brotli"
	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedResponse(t *testing.T, encoding string, payload []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	switch encoding {
	case "br":
		w := brotli.NewWriter(&buf)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		buf.Write(payload)
	}

	h := http.Header{}
	if encoding != "" {
		h.Set("Content-Encoding", encoding)
	}
	h.Set("Content-Length", "999")
	return &http.Response{StatusCode: http.StatusOK, Header: h, Body: io.NopCloser(bytes.NewReader(buf.Bytes()))}
}

func TestReadResponseBodyBrotli(t *testing.T) {
	payload := []byte("<html>brotli body</html>")

	body, decoded, err := readResponseBody(encodedResponse(t, "br", payload), true)
	require.NoError(t, err)
	assert.True(t, decoded)
	assert.Equal(t, payload, body)

	raw, decoded, err := readResponseBody(encodedResponse(t, "br", payload), false)
	require.NoError(t, err)
	assert.False(t, decoded)
	assert.NotEqual(t, payload, raw, "brotli stays encoded when not allowed")
}

func TestReadResponseBodyGzip(t *testing.T) {
	payload := []byte("gzipped")
	body, decoded, err := readResponseBody(encodedResponse(t, "gzip", payload), false)
	require.NoError(t, err)
	assert.True(t, decoded)
	assert.Equal(t, payload, body)
}

func TestToResponseDropsEncodingHeaders(t *testing.T) {
	u, _ := url.Parse("https://example.com/x")

	resp, err := toResponse(http.MethodGet, u, encodedResponse(t, "br", []byte("hi")), true)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text())
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.Empty(t, resp.Header.Get("Content-Length"))
	assert.Equal(t, http.MethodGet, resp.Method)

	plain, err := toResponse(http.MethodGet, u, encodedResponse(t, "", []byte("hi")), true)
	require.NoError(t, err)
	assert.Equal(t, "999", plain.Header.Get("Content-Length"))
}

func TestResolveLocation(t *testing.T) {
	u, _ := url.Parse("https://example.com/a/b?x=1")
	resp := &Response{URL: u, Header: http.Header{"Location": {"../c?y=2"}}}

	next, err := resolveLocation(resp)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/c?y=2", next.String())
	assert.Equal(t, "https://example.com", originOf(u))
}

func TestAcceptEncoding(t *testing.T) {
	assert.Contains(t, acceptEncoding(true), "br")
	assert.NotContains(t, acceptEncoding(false), "br")
}
