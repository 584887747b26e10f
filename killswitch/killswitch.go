// Package killswitch implements the global order-lockout state machine
// and its periodic condition monitor. It is intentionally independent of
// the risk gate, which it only observes through the RiskObserver interface.
package killswitch

import (
	"sync"
	"time"

	"tradeguard/auth"
	"tradeguard/config"
	"tradeguard/errs"
	"tradeguard/logger"
)

const (
	apiHistoryCap          = 100
	apiErrorSampleMinimum   = 20
	apiErrorSampleWindow    = 50
)

// Condition names one of the five kill-switch activation reasons.
type Condition string

const (
	DailyLossLimit    Condition = "DAILY_LOSS_LIMIT"
	ConsecutiveLosses Condition = "CONSECUTIVE_LOSSES"
	APIErrorRate      Condition = "API_ERROR_RATE"
	NetworkFailure    Condition = "NETWORK_FAILURE"
	ManualTrigger     Condition = "MANUAL_TRIGGER"
)

// RiskObserver is the subset of the risk gate the condition monitor reads
// to evaluate DAILY_LOSS_LIMIT.
type RiskObserver interface {
	DailyPnL() (pnl float64, hardLossLimit float64)
}

type apiCall struct {
	at      time.Time
	success bool
}

// KillSwitch is INACTIVE until activated, after which every order path's
// CheckBeforeOrder call fails until Deactivate clears it.
type KillSwitch struct {
	mu sync.Mutex

	active      bool
	reason      string
	activatedAt time.Time

	activationCount    int
	consecutiveLosses  int
	apiHistory         []apiCall
	networkFailureSince *time.Time

	cfg  config.KillSwitchConfig
	risk RiskObserver

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a KillSwitch in the INACTIVE state.
func New(cfg config.KillSwitchConfig, risk RiskObserver) *KillSwitch {
	return &KillSwitch{
		cfg:  cfg,
		risk: risk,
		stop: make(chan struct{}),
	}
}

// Activate transitions INACTIVE -> ACTIVE. A second call while already
// ACTIVE is a no-op; this always succeeds.
func (k *KillSwitch) Activate(reason string, condition Condition) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		return
	}
	k.active = true
	k.reason = reason
	k.activatedAt = time.Now()
	k.activationCount++
	logger.Component("kill_switch").WithField("condition", condition).Warnf("kill switch activated: %s", reason)
}

// Deactivate transitions ACTIVE -> INACTIVE, gated by both token equality
// with the configured approval code and the cooldown period having
// elapsed. Failure of either leaves state unchanged and returns a
// KillSwitchActive error carrying the blocking reason.
func (k *KillSwitch) Deactivate(approvalToken string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.active {
		return nil
	}

	if !auth.ConstantTimeEqual(approvalToken, k.cfg.RecoveryProtocol.ApprovalCode) {
		return errs.NewKillSwitchActive("approval token does not match configured approval code", k.activatedAt.Format(time.RFC3339))
	}

	cooldown := time.Duration(k.cfg.RecoveryProtocol.CooldownPeriodMinutes) * time.Minute
	if time.Since(k.activatedAt) < cooldown {
		return errs.NewKillSwitchActive("cooldown period not elapsed", k.activatedAt.Format(time.RFC3339))
	}

	k.active = false
	k.reason = ""
	k.consecutiveLosses = 0
	logger.Component("kill_switch").Info("kill switch deactivated")
	return nil
}

// CheckBeforeOrder returns a KillSwitchActive error iff the state is
// ACTIVE. Every order path must call it.
func (k *KillSwitch) CheckBeforeOrder() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.active {
		return nil
	}
	return errs.NewKillSwitchActive(k.reason, k.activatedAt.Format(time.RFC3339))
}

// IsActive reports the current state without constructing an error.
func (k *KillSwitch) IsActive() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}

// RecordTradeResult bumps or resets the consecutive-loss counter.
func (k *KillSwitch) RecordTradeResult(profit float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if profit < 0 {
		k.consecutiveLosses++
	} else {
		k.consecutiveLosses = 0
	}
}

// RecordAPICall appends to the bounded call history used by API_ERROR_RATE.
func (k *KillSwitch) RecordAPICall(success bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.apiHistory = append(k.apiHistory, apiCall{at: time.Now(), success: success})
	if len(k.apiHistory) > apiHistoryCap {
		k.apiHistory = k.apiHistory[len(k.apiHistory)-apiHistoryCap:]
	}
}

// RecordNetworkFailure marks the start or end of a network outage.
func (k *KillSwitch) RecordNetworkFailure(failing bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if failing {
		if k.networkFailureSince == nil {
			now := time.Now()
			k.networkFailureSince = &now
		}
	} else {
		k.networkFailureSince = nil
	}
}

// Start launches the condition-monitor task at the configured interval
// (default 30s). Monitor errors are logged and never crash the loop.
func (k *KillSwitch) Start() {
	interval := time.Duration(k.cfg.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				k.tick()
			case <-k.stop:
				return
			}
		}
	}()
}

// Stop cancels the monitor task at the next suspension point and waits for
// any in-flight tick to finish.
func (k *KillSwitch) Stop() {
	close(k.stop)
	k.wg.Wait()
}

func (k *KillSwitch) tick() {
	defer func() {
		if r := recover(); r != nil {
			logger.Component("kill_switch").Errorf("monitor tick panic recovered: %v", r)
		}
	}()

	if k.IsActive() {
		return
	}

	if k.risk != nil {
		pnl, hardLimit := k.risk.DailyPnL()
		if pnl < 0 && -pnl >= hardLimit {
			k.Activate("daily loss at MAX_DAILY_LOSS_HARD", DailyLossLimit)
			return
		}
	}

	k.mu.Lock()
	consecutive := k.consecutiveLosses
	threshold := k.cfg.ConsecutiveLossThreshold
	k.mu.Unlock()
	if threshold > 0 && consecutive >= threshold {
		k.Activate("consecutive loss threshold reached", ConsecutiveLosses)
		return
	}

	if k.apiErrorRateBreached() {
		k.Activate("API error rate threshold reached", APIErrorRate)
		return
	}

	if k.networkFailureBreached() {
		k.Activate("network failure duration threshold reached", NetworkFailure)
		return
	}
}

func (k *KillSwitch) apiErrorRateBreached() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	n := len(k.apiHistory)
	if n < apiErrorSampleMinimum {
		return false
	}
	sample := k.apiHistory
	if n > apiErrorSampleWindow {
		sample = k.apiHistory[n-apiErrorSampleWindow:]
	}
	var failures int
	for _, c := range sample {
		if !c.success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(sample))
	return rate >= k.cfg.APIErrorRateThreshold
}

func (k *KillSwitch) networkFailureBreached() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.networkFailureSince == nil {
		return false
	}
	timeout := time.Duration(k.cfg.NetworkTimeoutSeconds) * time.Second
	return time.Since(*k.networkFailureSince) >= timeout
}
