package killswitch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/config"
)

type fakeRiskObserver struct {
	pnl       float64
	hardLimit float64
}

func (f *fakeRiskObserver) DailyPnL() (float64, float64) {
	return f.pnl, f.hardLimit
}

func testConfig() config.KillSwitchConfig {
	return config.KillSwitchConfig{
		ConsecutiveLossThreshold: 3,
		APIErrorRateThreshold:    0.5,
		NetworkTimeoutSeconds:    30,
		CheckIntervalSeconds:     30,
		RecoveryProtocol: config.RecoveryProtocol{
			CooldownPeriodMinutes: 0,
			ApprovalCode:          "secret",
		},
	}
}

func TestActivateAndCheckBeforeOrder(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	assert.False(t, k.IsActive())
	assert.NoError(t, k.CheckBeforeOrder())

	k.Activate("manual stop", ManualTrigger)
	assert.True(t, k.IsActive())
	assert.Error(t, k.CheckBeforeOrder())
}

func TestActivateIsIdempotent(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	k.Activate("first", ManualTrigger)
	k.Activate("second", ManualTrigger)
	assert.True(t, k.IsActive())
}

func TestDeactivateRejectsWrongToken(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	k.Activate("manual stop", ManualTrigger)

	err := k.Deactivate("wrong-token")
	require.Error(t, err)
	assert.True(t, k.IsActive())
}

func TestDeactivateSucceedsWithCorrectTokenAndNoCooldown(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	k.Activate("manual stop", ManualTrigger)

	err := k.Deactivate("secret")
	require.NoError(t, err)
	assert.False(t, k.IsActive())
}

func TestDeactivateRespectsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.RecoveryProtocol.CooldownPeriodMinutes = 60
	k := New(cfg, &fakeRiskObserver{})
	k.Activate("manual stop", ManualTrigger)

	err := k.Deactivate("secret")
	require.Error(t, err)
	assert.True(t, k.IsActive())
}

func TestDeactivateWhenInactiveIsNoop(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	assert.NoError(t, k.Deactivate("anything"))
}

func TestRecordTradeResultTracksConsecutiveLosses(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	k.RecordTradeResult(-10)
	k.RecordTradeResult(-10)
	assert.Equal(t, 2, k.consecutiveLosses)

	k.RecordTradeResult(5)
	assert.Equal(t, 0, k.consecutiveLosses)
}

func TestTickActivatesOnDailyLossHardLimit(t *testing.T) {
	risk := &fakeRiskObserver{pnl: -5000, hardLimit: 5000}
	k := New(testConfig(), risk)
	k.tick()
	assert.True(t, k.IsActive())
}

func TestTickActivatesOnConsecutiveLossThreshold(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	k.RecordTradeResult(-1)
	k.RecordTradeResult(-1)
	k.RecordTradeResult(-1)
	k.tick()
	assert.True(t, k.IsActive())
}

func TestTickActivatesOnAPIErrorRate(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	for i := 0; i < 20; i++ {
		k.RecordAPICall(i%2 == 0)
	}
	k.tick()
	assert.True(t, k.IsActive())
}

func TestTickActivatesOnNetworkFailureDuration(t *testing.T) {
	cfg := testConfig()
	cfg.NetworkTimeoutSeconds = 0
	k := New(cfg, &fakeRiskObserver{})
	k.RecordNetworkFailure(true)
	time.Sleep(time.Millisecond)
	k.tick()
	assert.True(t, k.IsActive())
}

func TestRecordNetworkFailureClearsOnRecovery(t *testing.T) {
	k := New(testConfig(), &fakeRiskObserver{})
	k.RecordNetworkFailure(true)
	k.RecordNetworkFailure(false)
	assert.False(t, k.networkFailureBreached())
}

func TestStartAndStop(t *testing.T) {
	cfg := testConfig()
	cfg.CheckIntervalSeconds = 1
	k := New(cfg, &fakeRiskObserver{})
	k.Start()
	k.Stop()
}
