package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfscraper"
	"cfscraper/captcha"
)

type collectingEncoder struct {
	mu      sync.Mutex
	results []TaskResult
}

func (c *collectingEncoder) Encode(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, v.(TaskResult))
	return nil
}

func (c *collectingEncoder) Close() error { return nil }

func newTestScheduler(t *testing.T, workers int, job Job) *Scheduler {
	t.Helper()
	s, err := NewScheduler(workers, cfscraper.DefaultConfig(), job, 3, 0, cfscraper.NewNoopLogger())
	require.NoError(t, err)
	return s
}

func TestRunProcessesEveryTarget(t *testing.T) {
	job := func(_ context.Context, _ *cfscraper.Client, target string) TaskResult {
		return TaskResult{Status: 200, Bytes: len(target)}
	}
	s := newTestScheduler(t, 3, job)
	targets := []string{"https://a.example/", "https://b.example/", "https://c.example/", "https://d.example/", "https://e.example/"}
	enc := &collectingEncoder{}

	require.NoError(t, run(context.Background(), s, targets, enc))

	var urls []string
	for _, r := range enc.results {
		assert.True(t, r.Success)
		assert.NotEmpty(t, r.Worker)
		urls = append(urls, r.URL)
	}
	sort.Strings(urls)
	assert.Equal(t, targets, urls)
}

func TestRunStopsOnFatalError(t *testing.T) {
	job := func(context.Context, *cfscraper.Client, string) TaskResult {
		return TaskResult{Error: captcha.NewFatalError(errors.New("capsolver error: ERROR_ZERO_BALANCE - empty"))}
	}
	s := newTestScheduler(t, 2, job)
	enc := &collectingEncoder{}

	err := run(context.Background(), s, []string{"https://a.example/", "https://b.example/", "https://c.example/"}, enc)
	require.Error(t, err)
	assert.True(t, captcha.IsFatal(err))
	assert.Empty(t, enc.results)
}

func TestRunInterrupted(t *testing.T) {
	release := make(chan struct{})
	job := func(ctx context.Context, _ *cfscraper.Client, _ string) TaskResult {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return TaskResult{Error: ctx.Err()}
	}
	s := newTestScheduler(t, 1, job)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	defer close(release)

	err := run(ctx, s, []string{"https://a.example/", "https://b.example/"}, &collectingEncoder{})
	assert.Error(t, err)
}

func TestProcessRetriesRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	job := func(context.Context, *cfscraper.Client, string) TaskResult {
		if calls.Add(1) < 3 {
			return TaskResult{Error: errors.New("read tcp: connection reset by peer")}
		}
		return TaskResult{Status: 200}
	}
	s := newTestScheduler(t, 1, job)
	defer s.closeClients()

	worker := s.workers[0]
	before := worker.client

	result := s.process(context.Background(), worker, "https://a.example/")
	assert.True(t, result.Success)
	assert.Equal(t, int32(3), calls.Load())
	assert.NotSame(t, before, worker.client, "the session was rotated")
}

func TestProcessStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	job := func(context.Context, *cfscraper.Client, string) TaskResult {
		calls.Add(1)
		return TaskResult{Error: &cfscraper.LoopProtectionError{URL: "https://a.example/", Attempts: 3}}
	}
	s := newTestScheduler(t, 1, job)
	defer s.closeClients()

	result := s.process(context.Background(), s.workers[0], "https://a.example/")
	assert.False(t, result.Success)
	assert.False(t, result.Fatal, "challenge outcomes only fail their own URL")
	assert.Contains(t, result.ErrorText, "loop protection")
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsBatchFatal(t *testing.T) {
	assert.True(t, isBatchFatal(captcha.NewFatalError(errors.New("x"))))
	assert.True(t, isBatchFatal(errors.New("ERROR_KEY_DOES_NOT_EXIST")))
	assert.False(t, isBatchFatal(errors.New("connection reset")))
}

func TestJobFor(t *testing.T) {
	for _, mode := range []string{"get", "tokens"} {
		job, err := jobFor(mode)
		require.NoError(t, err)
		assert.NotNil(t, job)
	}

	_, err := jobFor("crawl")
	assert.Error(t, err)
}

func TestReadTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("# targets\nhttps://a.example/\n\n  https://b.example/  \n"), 0o600))

	targets, err := readTargets(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/"}, targets)

	_, err = readTargets(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc, err := newEncoder(&buf, "json", false)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(TaskResult{URL: "u", Success: true}))
	require.NoError(t, enc.Close())
	assert.Equal(t, `{"worker":"","url":"u","success":true}`+"\n", buf.String())

	buf.Reset()
	enc, err = newEncoder(&buf, "yaml", false)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(tokenOutput{URL: "u", Cookies: map[string]string{"cf_clearance": "c"}, UserAgent: "ua"}))
	require.NoError(t, enc.Close())
	assert.True(t, strings.HasPrefix(buf.String(), "url: u\n"), buf.String())
	assert.Contains(t, buf.String(), "  cf_clearance: c\n")

	_, err = newEncoder(&buf, "xml", false)
	assert.Error(t, err)
}
