package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SpacesTurns(t *testing.T) {
	interval := 50 * time.Millisecond
	l := New(interval)
	ctx := context.Background()

	var stamps []time.Time
	for range 4 {
		require.NoError(t, l.WaitTurn(ctx))
		stamps = append(stamps, time.Now())
	}

	// 相邻两次放行之间不能小于 interval (给时钟抖动留 5ms)
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "turn %d came too early: %s", i, gap)
	}
}

func TestLimiter_FirstTurnIsImmediate(t *testing.T) {
	l := New(time.Hour)
	start := time.Now()
	require.NoError(t, l.WaitTurn(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(0)
	ctx := context.Background()
	start := time.Now()
	for range 100 {
		require.NoError(t, l.WaitTurn(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.WaitTurn(ctx))
}

func TestLimiter_Cancelled(t *testing.T) {
	l := New(time.Hour)
	require.NoError(t, l.WaitTurn(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WaitTurn(ctx)
	assert.Error(t, err)
}
