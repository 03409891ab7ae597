package cfscraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleCapsInFlight(t *testing.T) {
	th := newThrottle(0, 2)
	ctx := context.Background()

	require.NoError(t, th.acquire(ctx))
	require.NoError(t, th.acquire(ctx))
	assert.Equal(t, 2, th.InFlight())

	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, th.acquire(short), context.DeadlineExceeded)

	acquired := make(chan error, 1)
	go func() { acquired <- th.acquire(ctx) }()

	th.release()
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("slot was not handed over after release")
	}
	assert.Equal(t, 2, th.InFlight())

	th.release()
	th.release()
	th.release()
	assert.Zero(t, th.InFlight(), "release never goes negative")
}

func TestThrottleSpacing(t *testing.T) {
	th := newThrottle(60*time.Millisecond, 1)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, th.wait(ctx))
	require.NoError(t, th.wait(ctx))
	require.NoError(t, th.wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottleWithoutSpacing(t *testing.T) {
	th := newThrottle(0, 0)
	assert.Equal(t, 1, th.max)

	start := time.Now()
	for range 100 {
		require.NoError(t, th.wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottleWaitCancelled(t *testing.T) {
	th := newThrottle(time.Hour, 1)
	require.NoError(t, th.wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, th.wait(ctx))
}
