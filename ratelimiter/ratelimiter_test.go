package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquireWithinLimitDoesNotBlock(t *testing.T) {
	rl := New(Limits{OrdersPerSecond: 5, LiveDataPerSecond: 5, NonTradingPerSecond: 5})

	start := time.Now()
	for i := 0; i < 5; i++ {
		rl.Acquire(Orders)
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 5, rl.CurrentRate(Orders))
}

func TestAcquireBlocksPastLimit(t *testing.T) {
	rl := New(Limits{OrdersPerSecond: 2, LiveDataPerSecond: 2, NonTradingPerSecond: 2})

	rl.Acquire(Orders)
	rl.Acquire(Orders)

	start := time.Now()
	rl.Acquire(Orders)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestCategoriesAreIndependent(t *testing.T) {
	rl := New(Limits{OrdersPerSecond: 1, LiveDataPerSecond: 1, NonTradingPerSecond: 1})

	rl.Acquire(Orders)
	start := time.Now()
	rl.Acquire(LiveData)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestNearLimit(t *testing.T) {
	rl := New(Limits{OrdersPerSecond: 10, LiveDataPerSecond: 10, NonTradingPerSecond: 10})
	for i := 0; i < 8; i++ {
		rl.Acquire(Orders)
	}
	assert.True(t, rl.NearLimit(Orders, 0.8))
	assert.False(t, rl.NearLimit(LiveData, 0.8))
}

func TestStatsAndReset(t *testing.T) {
	rl := New(Limits{OrdersPerSecond: 2, LiveDataPerSecond: 2, NonTradingPerSecond: 2})
	rl.Acquire(Orders)
	rl.Acquire(Orders)
	rl.Acquire(Orders)

	stats := rl.Stats()
	assert.Equal(t, 3, stats[Orders].TotalRequests)
	assert.Equal(t, 1, stats[Orders].DelayedRequests)

	rl.ResetStats()
	stats = rl.Stats()
	assert.Equal(t, 0, stats[Orders].TotalRequests)
}
