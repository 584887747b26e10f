package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gttstore "tradeguard/gtt/store"
	"tradeguard/model"
	"tradeguard/store"
)

type fakeKillSwitch struct {
	err error
}

func (f *fakeKillSwitch) CheckBeforeOrder() error { return f.err }

type fakeRiskGate struct {
	decision model.RiskDecision
	recorded []model.Order
}

func (f *fakeRiskGate) ValidateOrder(req model.OrderRequest) model.RiskDecision { return f.decision }
func (f *fakeRiskGate) RecordOrder(o model.Order)                               { f.recorded = append(f.recorded, o) }

type fakeBroker struct {
	order *model.Order
	err   error
	ltp   float64
	ltpErr error
}

func (f *fakeBroker) PlaceOrder(req model.OrderRequest) (*model.Order, error) { return f.order, f.err }
func (f *fakeBroker) GetLTP(symbol, exchange string) (float64, error)        { return f.ltp, f.ltpErr }

func newTestStore(t *testing.T) *gttstore.Store {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.GTT()
}

func newTestGTT(t *testing.T, s *gttstore.Store, action model.Side, trigger float64) model.GTT {
	t.Helper()
	created, err := s.Create(model.GTT{
		Symbol:       "RELIANCE",
		Exchange:     "NSE",
		TriggerPrice: trigger,
		OrderType:    model.Market,
		Action:       action,
		Quantity:     10,
		Status:       model.GTTActive,
	})
	require.NoError(t, err)
	return *created
}

func TestTriggeredBuyAndSell(t *testing.T) {
	assert.True(t, Triggered(model.Buy, 99, 100))
	assert.True(t, Triggered(model.Buy, 100, 100))
	assert.False(t, Triggered(model.Buy, 101, 100))

	assert.True(t, Triggered(model.Sell, 101, 100))
	assert.True(t, Triggered(model.Sell, 100, 100))
	assert.False(t, Triggered(model.Sell, 99, 100))
}

func TestExecuteFailsFastWhenKillSwitchActive(t *testing.T) {
	s := newTestStore(t)
	g := newTestGTT(t, s, model.Buy, 100)

	e := New(s, &fakeKillSwitch{err: errors.New("kill switch active")}, &fakeRiskGate{}, &fakeBroker{})
	err := e.Execute(g, 99)
	require.Error(t, err)

	reloaded, rerr := s.Get(g.ID)
	require.NoError(t, rerr)
	assert.Equal(t, model.GTTFailed, reloaded.Status)
}

func TestExecuteFailsWhenRiskGateRejects(t *testing.T) {
	s := newTestStore(t)
	g := newTestGTT(t, s, model.Buy, 100)

	e := New(s, &fakeKillSwitch{}, &fakeRiskGate{decision: model.RiskDecision{Approved: false, Reason: "too risky"}}, &fakeBroker{})
	err := e.Execute(g, 99)
	require.Error(t, err)

	reloaded, rerr := s.Get(g.ID)
	require.NoError(t, rerr)
	assert.Equal(t, model.GTTFailed, reloaded.Status)
}

func TestExecuteFailsWhenBrokerRejects(t *testing.T) {
	s := newTestStore(t)
	g := newTestGTT(t, s, model.Buy, 100)

	e := New(s, &fakeKillSwitch{}, &fakeRiskGate{decision: model.RiskDecision{Approved: true}}, &fakeBroker{err: errors.New("broker down")})
	err := e.Execute(g, 99)
	require.Error(t, err)

	reloaded, rerr := s.Get(g.ID)
	require.NoError(t, rerr)
	assert.Equal(t, model.GTTFailed, reloaded.Status)
}

func TestExecuteSucceedsAndMarksTriggered(t *testing.T) {
	s := newTestStore(t)
	g := newTestGTT(t, s, model.Buy, 100)

	risk := &fakeRiskGate{decision: model.RiskDecision{Approved: true}}
	broker := &fakeBroker{order: &model.Order{OrderID: "GRW1"}}
	e := New(s, &fakeKillSwitch{}, risk, broker)

	err := e.Execute(g, 99)
	require.NoError(t, err)

	reloaded, rerr := s.Get(g.ID)
	require.NoError(t, rerr)
	assert.Equal(t, model.GTTTriggered, reloaded.Status)
	assert.Equal(t, "GRW1", reloaded.OrderID)
	require.Len(t, risk.recorded, 1)
	assert.Equal(t, "GRW1", risk.recorded[0].OrderID)
}

func TestRetryFailedRequiresFailedStatus(t *testing.T) {
	s := newTestStore(t)
	g := newTestGTT(t, s, model.Buy, 100)

	e := New(s, &fakeKillSwitch{}, &fakeRiskGate{}, &fakeBroker{})
	err := e.RetryFailed(g.ID)
	assert.Error(t, err)
}

func TestRetryFailedReArmsAndReExecutesWhenStillTriggered(t *testing.T) {
	s := newTestStore(t)
	g := newTestGTT(t, s, model.Buy, 100)
	require.NoError(t, s.UpdateStatus(g.ID, model.GTTFailed, gttstore.StatusUpdate{ErrorMessage: "prior failure"}))

	risk := &fakeRiskGate{decision: model.RiskDecision{Approved: true}}
	broker := &fakeBroker{order: &model.Order{OrderID: "GRW2"}, ltp: 90}
	e := New(s, &fakeKillSwitch{}, risk, broker)

	err := e.RetryFailed(g.ID)
	require.NoError(t, err)

	reloaded, rerr := s.Get(g.ID)
	require.NoError(t, rerr)
	assert.Equal(t, model.GTTTriggered, reloaded.Status)
}

func TestRetryFailedLeavesActiveWhenNotYetTriggered(t *testing.T) {
	s := newTestStore(t)
	g := newTestGTT(t, s, model.Buy, 100)
	require.NoError(t, s.UpdateStatus(g.ID, model.GTTFailed, gttstore.StatusUpdate{ErrorMessage: "prior failure"}))

	e := New(s, &fakeKillSwitch{}, &fakeRiskGate{}, &fakeBroker{ltp: 150})
	err := e.RetryFailed(g.ID)
	require.NoError(t, err)

	reloaded, rerr := s.Get(g.ID)
	require.NoError(t, rerr)
	assert.Equal(t, model.GTTActive, reloaded.Status)
}
