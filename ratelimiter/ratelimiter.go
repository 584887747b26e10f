// Package ratelimiter implements the three independent sliding-window
// token buckets that gate every outbound broker call: orders, live_data,
// and non_trading. Each category has its own lock so contention on one
// never stalls the others.
package ratelimiter

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradeguard/logger"
)

// Category names one of the three independently limited call classes.
type Category string

const (
	Orders      Category = "orders"
	LiveData    Category = "live_data"
	NonTrading  Category = "non_trading"
	historySize          = 100
)

var categories = [...]Category{Orders, LiveData, NonTrading}

type bucket struct {
	mu      sync.Mutex
	limit   int
	history []time.Time
	total   int
	delayed int
}

// Limits sizes each category's per-second token allowance.
type Limits struct {
	OrdersPerSecond     int
	LiveDataPerSecond   int
	NonTradingPerSecond int
}

// RateLimiter tracks recent call timestamps per category and blocks
// Acquire until a slot opens rather than ever rejecting a caller.
type RateLimiter struct {
	buckets map[Category]*bucket

	waitSeconds *prometheus.CounterVec
}

// New constructs a RateLimiter sized by limits, below broker caps.
func New(limits Limits) *RateLimiter {
	rl := &RateLimiter{
		buckets: map[Category]*bucket{
			Orders:     {limit: limits.OrdersPerSecond},
			LiveData:   {limit: limits.LiveDataPerSecond},
			NonTrading: {limit: limits.NonTradingPerSecond},
		},
		waitSeconds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimiter_wait_seconds_total",
				Help: "Cumulative seconds callers spent blocked waiting for a token, by category.",
			},
			[]string{"category"},
		),
	}
	for _, c := range categories {
		rl.buckets[c].history = make([]time.Time, 0, historySize)
	}
	logger.Infof("rate limiter initialized: orders=%d/s live_data=%d/s non_trading=%d/s",
		limits.OrdersPerSecond, limits.LiveDataPerSecond, limits.NonTradingPerSecond)
	return rl
}

// Describe implements prometheus.Collector.
func (rl *RateLimiter) Describe(ch chan<- *prometheus.Desc) {
	rl.waitSeconds.Describe(ch)
}

// Collect implements prometheus.Collector.
func (rl *RateLimiter) Collect(ch chan<- prometheus.Metric) {
	rl.waitSeconds.Collect(ch)
}

// evictLocked drops history entries older than one second. Caller must
// hold b.mu.
func evictLocked(b *bucket, now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(b.history) && b.history[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.history = b.history[i:]
	}
}

// Acquire blocks until a token for cat is available, then records the
// call. It never fails the caller outright.
func (rl *RateLimiter) Acquire(cat Category) {
	b := rl.buckets[cat]
	for {
		b.mu.Lock()
		now := time.Now()
		evictLocked(b, now)

		if len(b.history) < b.limit {
			b.history = append(b.history, now)
			b.total++
			b.mu.Unlock()
			return
		}

		oldest := b.history[0]
		wait := oldest.Add(time.Second).Sub(now)
		b.delayed++
		b.mu.Unlock()

		if wait > 0 {
			rl.waitSeconds.WithLabelValues(string(cat)).Add(wait.Seconds())
			time.Sleep(wait)
		}
	}
}

// CurrentRate reports how many calls for cat landed in the trailing
// one-second window.
func (rl *RateLimiter) CurrentRate(cat Category) int {
	b := rl.buckets[cat]
	b.mu.Lock()
	defer b.mu.Unlock()
	evictLocked(b, time.Now())
	return len(b.history)
}

// NearLimit reports whether cat's current rate is at or above frac of
// its configured limit (default threshold 0.8 in spec terms — callers
// pass it explicitly here since Go has no default args).
func (rl *RateLimiter) NearLimit(cat Category, frac float64) bool {
	b := rl.buckets[cat]
	rate := rl.CurrentRate(cat)
	return float64(rate) >= frac*float64(b.limit)
}

// Stat is one category's snapshot returned by Stats.
type Stat struct {
	TotalRequests    int
	DelayedRequests  int
	CurrentRate      int
	Limit            int
	DelayPercentage  float64
}

// Stats returns a snapshot for every category.
func (rl *RateLimiter) Stats() map[Category]Stat {
	out := make(map[Category]Stat, len(categories))
	for _, c := range categories {
		b := rl.buckets[c]
		b.mu.Lock()
		evictLocked(b, time.Now())
		pct := 0.0
		if b.total > 0 {
			pct = float64(b.delayed) / float64(b.total) * 100
		}
		out[c] = Stat{
			TotalRequests:   b.total,
			DelayedRequests: b.delayed,
			CurrentRate:     len(b.history),
			Limit:           b.limit,
			DelayPercentage: pct,
		}
		b.mu.Unlock()
	}
	return out
}

// ResetStats zeroes the counters in every category, useful for tests and
// periodic operator resets. History (and thus live throttling) is
// untouched.
func (rl *RateLimiter) ResetStats() {
	for _, c := range categories {
		b := rl.buckets[c]
		b.mu.Lock()
		b.total = 0
		b.delayed = 0
		b.mu.Unlock()
	}
	logger.Info("rate limiter statistics reset")
}
