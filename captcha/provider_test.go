package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	t       *testing.T
	polls   atomic.Int32
	ready   int32
	taskID  json.RawMessage
	errCode string

	mu       sync.Mutex
	lastTask map[string]any
}

func (f *fakeService) task() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTask
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastTask, _ = body["task"].(map[string]any)
		f.mu.Unlock()

		if f.errCode != "" {
			writeJSON(w, map[string]any{"errorId": 1, "errorCode": f.errCode, "errorDescription": "nope"})
			return
		}
		writeJSON(w, map[string]any{"errorId": 0, "taskId": f.taskID})
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TaskID json.RawMessage `json:"taskId"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(f.t, string(f.taskID), string(body.TaskID))

		if f.polls.Add(1) < f.ready {
			writeJSON(w, map[string]any{"errorId": 0, "status": "processing"})
			return
		}
		writeJSON(w, map[string]any{"errorId": 0, "status": "ready", "solution": map[string]any{"gRecaptchaResponse": "token-123"}})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newFake(t *testing.T, taskID string, configure ...func(*fakeService)) (*fakeService, *httptest.Server) {
	f := &fakeService{t: t, ready: 2, taskID: json.RawMessage(taskID)}
	for _, fn := range configure {
		fn(f)
	}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func TestProviderSolve(t *testing.T) {
	tests := []struct {
		provider string
		taskID   string
		taskType string
	}{
		{CapSolverName, `"abc-def"`, "HCaptchaTaskProxyLess"},
		{TwoCaptchaName, `72345678`, "HCaptchaTaskProxyless"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			f, srv := newFake(t, tt.taskID)

			p, err := New(tt.provider, "key", Options{BaseURL: srv.URL, PollInterval: time.Millisecond})
			require.NoError(t, err)
			assert.Equal(t, tt.provider, p.Name())

			token, err := p.Solve(context.Background(), HCaptcha, "https://example.com/", "site-key")
			require.NoError(t, err)
			assert.Equal(t, "token-123", token)

			assert.Equal(t, int32(2), f.polls.Load())
			task := f.task()
			assert.Equal(t, tt.taskType, task["type"])
			assert.Equal(t, "https://example.com/", task["websiteURL"])
			assert.Equal(t, "site-key", task["websiteKey"])
		})
	}
}

func TestProviderFatalError(t *testing.T) {
	_, srv := newFake(t, `"x"`, func(f *fakeService) { f.errCode = "ERROR_ZERO_BALANCE" })

	p, err := New(CapSolverName, "key", Options{BaseURL: srv.URL, PollInterval: time.Millisecond})
	require.NoError(t, err)

	_, err = p.Solve(context.Background(), ReCaptcha, "https://example.com/", "k")
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "ERROR_ZERO_BALANCE")
}

func TestProviderTransientError(t *testing.T) {
	_, srv := newFake(t, `"x"`, func(f *fakeService) { f.errCode = "ERROR_NO_SLOT_AVAILABLE" })

	p, err := New(CapSolverName, "key", Options{BaseURL: srv.URL, PollInterval: time.Millisecond})
	require.NoError(t, err)

	_, err = p.Solve(context.Background(), ReCaptcha, "https://example.com/", "k")
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestProviderUnsupportedType(t *testing.T) {
	p, err := New(TwoCaptchaName, "key", Options{BaseURL: "http://127.0.0.1:0"})
	require.NoError(t, err)

	_, err = p.Solve(context.Background(), "funCaptcha", "https://example.com/", "k")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestProviderTimeout(t *testing.T) {
	_, srv := newFake(t, `"x"`, func(f *fakeService) { f.ready = 1 << 30 })

	p, err := New(CapSolverName, "key", Options{BaseURL: srv.URL, PollInterval: time.Millisecond, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = p.Solve(context.Background(), HCaptcha, "https://example.com/", "k")
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestNew(t *testing.T) {
	_, err := New(CapSolverName, "", Options{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New("anticaptcha", "key", Options{})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	p, err := New("2Captcha", "key", Options{})
	require.NoError(t, err)
	assert.Equal(t, TwoCaptchaName, p.Name())
}

func TestExtractToken(t *testing.T) {
	token, err := extractToken("svc", map[string]any{"token": "t"})
	require.NoError(t, err)
	assert.Equal(t, "t", token)

	_, err = extractToken("svc", map[string]any{"other": 1})
	assert.Error(t, err)
}
