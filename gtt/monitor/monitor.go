// Package monitor implements the background GTT polling task: fetch
// active GTTs, group by (symbol, exchange), fetch LTPs through a short
// cache, and hand triggered GTTs to the executor, per spec §4.7.
package monitor

import (
	"sync"
	"time"

	"tradeguard/config"
	"tradeguard/errs"
	"tradeguard/gtt/executor"
	"tradeguard/gtt/store"
	"tradeguard/logger"
	"tradeguard/model"
)

const (
	defaultTickInterval = 30 * time.Second
	priceCacheTTL        = 10 * time.Second
	closedMarketSleep    = 60 * time.Second
)

// LTPFetcher is the subset of the broker client the monitor needs.
type LTPFetcher interface {
	GetLTP(symbol, exchange string) (float64, error)
}

type cacheEntry struct {
	ltp      float64
	fetchedAt time.Time
}

type key struct {
	symbol   string
	exchange string
}

// Stats is the snapshot returned by Stats().
type Stats struct {
	Ticks           int
	GroupsChecked   int
	TriggersHandled int
	ExecutorErrors  int
	DataFetchErrors int
}

// Monitor periodically scans ACTIVE GTTs for trigger conditions.
type Monitor struct {
	store    *store.Store
	broker   LTPFetcher
	executor *executor.Executor
	interval time.Duration

	mu       sync.Mutex
	paused   bool
	cache    map[key]cacheEntry
	stats    Stats

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Monitor. interval <= 0 uses the default 30s tick.
func New(s *store.Store, broker LTPFetcher, exec *executor.Executor, cfg config.GTTConfig) *Monitor {
	interval := time.Duration(cfg.MonitorIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Monitor{
		store:    s,
		broker:   broker,
		executor: exec,
		interval: interval,
		cache:    make(map[key]cacheEntry),
		stop:     make(chan struct{}),
	}
}

// withinTradingHours reports whether t falls on a weekday between 09:15
// and 15:30 local time, per the NSE/BSE trading session.
func withinTradingHours(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), 9, 15, 0, 0, t.Location())
	close := time.Date(t.Year(), t.Month(), t.Day(), 15, 30, 0, 0, t.Location())
	return !t.Before(open) && !t.After(close)
}

// Start launches the monitor task. Outside trading hours it sleeps
// closedMarketSleep and re-checks rather than ticking at the normal
// interval.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(m.nextDelay())
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				m.runTick()
				timer.Reset(m.nextDelay())
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Monitor) nextDelay() time.Duration {
	if withinTradingHours(time.Now()) {
		return m.interval
	}
	return closedMarketSleep
}

// Stop cancels the monitor task cleanly, letting any in-flight tick
// finish.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Pause suspends tick execution without stopping the task.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

// Resume un-suspends tick execution.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
}

// CheckNow runs a tick on demand. Like a scheduled tick, it does nothing
// while the monitor is paused or outside trading hours.
func (m *Monitor) CheckNow() {
	m.runTick()
}

// ClearPriceCache discards all cached LTPs. Concurrent readers racing this
// call may see a stale entry once more; TTL bounds the staleness.
func (m *Monitor) ClearPriceCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[key]cacheEntry)
}

// Stats returns a snapshot of the monitor's running counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) runTick() {
	defer func() {
		if r := recover(); r != nil {
			logger.Component("gtt_monitor").Errorf("tick panic recovered: %v", r)
		}
	}()

	m.mu.Lock()
	paused := m.paused
	m.mu.Unlock()
	if paused {
		return
	}

	if !withinTradingHours(time.Now()) {
		return
	}

	m.mu.Lock()
	m.stats.Ticks++
	m.mu.Unlock()

	active, err := m.store.GetActive()
	if err != nil {
		logger.Component("gtt_monitor").Errorf("failed to list active gtts: %v", err)
		return
	}
	if len(active) == 0 {
		return
	}

	groups := make(map[key][]model.GTT)
	for _, g := range active {
		k := key{symbol: g.Symbol, exchange: g.Exchange}
		groups[k] = append(groups[k], g)
	}

	for k, gtts := range groups {
		m.mu.Lock()
		m.stats.GroupsChecked++
		m.mu.Unlock()

		ltp, err := m.priceFor(k)
		if err != nil {
			m.mu.Lock()
			m.stats.DataFetchErrors++
			m.mu.Unlock()
			logger.Component("gtt_monitor").Warnf("ltp fetch failed for %s/%s: %v", k.symbol, k.exchange, err)
			continue
		}

		for _, g := range gtts {
			if !executor.Triggered(g.Action, ltp, g.TriggerPrice) {
				continue
			}
			if err := m.executor.Execute(g, ltp); err != nil {
				m.mu.Lock()
				m.stats.ExecutorErrors++
				m.mu.Unlock()
				logger.Component("gtt_monitor").Errorf("executor failed for gtt %d: %v", g.ID, err)
				continue
			}
			m.mu.Lock()
			m.stats.TriggersHandled++
			m.mu.Unlock()
		}
	}
}

// priceFor returns the cached LTP for k if younger than priceCacheTTL,
// otherwise fetches and caches a fresh one.
func (m *Monitor) priceFor(k key) (float64, error) {
	m.mu.Lock()
	if entry, ok := m.cache[k]; ok && time.Since(entry.fetchedAt) < priceCacheTTL {
		m.mu.Unlock()
		return entry.ltp, nil
	}
	m.mu.Unlock()

	ltp, err := m.broker.GetLTP(k.symbol, k.exchange)
	if err != nil {
		return 0, errs.NewDataFetchError(errs.DataFetchLTP, err)
	}

	m.mu.Lock()
	m.cache[k] = cacheEntry{ltp: ltp, fetchedAt: time.Now()}
	m.mu.Unlock()
	return ltp, nil
}
