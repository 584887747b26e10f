package riskgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/config"
	"tradeguard/model"
)

type fakeBroker struct {
	positions []model.Position
	err       error
}

func (f *fakeBroker) GetPositions() ([]model.Position, error) {
	return f.positions, f.err
}

func testLimits() (config.RiskConfig, config.HardLimits) {
	risk := config.RiskConfig{
		MaxPortfolioValue: 50000,
		MaxPositionSize:   5000,
		MaxDailyLoss:      2000,
		MaxOpenPositions:  3,
	}
	hard := config.HardLimits{
		MaxSingleOrderValue: 10000,
		MaxDailyOrders:      15,
		MaxPortfolioValue:   50000,
		MaxDailyLossHard:    5000,
	}
	return risk, hard
}

func price(p float64) *float64 { return &p }

func TestValidateOrderApprovesWithinLimits(t *testing.T) {
	risk, hard := testLimits()
	g := New(risk, hard, &fakeBroker{})

	decision := g.ValidateOrder(model.OrderRequest{
		Symbol: "RELIANCE", Quantity: 10, Price: price(100), Side: model.Buy,
	})
	assert.True(t, decision.Approved)
}

func TestValidateOrderRejectsSingleOrderValue(t *testing.T) {
	risk, hard := testLimits()
	g := New(risk, hard, &fakeBroker{})

	decision := g.ValidateOrder(model.OrderRequest{
		Symbol: "RELIANCE", Quantity: 1000, Price: price(100), Side: model.Buy,
	})
	require.False(t, decision.Approved)
	assert.Equal(t, "single_order_value", decision.LimitType)
}

func TestValidateOrderRejectsPositionSizeSoftLimit(t *testing.T) {
	risk, hard := testLimits()
	g := New(risk, hard, &fakeBroker{})

	decision := g.ValidateOrder(model.OrderRequest{
		Symbol: "RELIANCE", Quantity: 60, Price: price(100), Side: model.Buy,
	})
	require.False(t, decision.Approved)
	assert.Equal(t, "position_size", decision.LimitType)
}

func TestValidateOrderRejectsDailyOrderCap(t *testing.T) {
	risk, hard := testLimits()
	hard.MaxDailyOrders = 1
	g := New(risk, hard, &fakeBroker{})

	g.RecordOrder(model.Order{OrderID: "1"})

	decision := g.ValidateOrder(model.OrderRequest{Symbol: "X", Quantity: 1, Price: price(10), Side: model.Buy})
	require.False(t, decision.Approved)
	assert.Equal(t, "daily_order_cap", decision.LimitType)
}

func TestValidateOrderAllowsAddingToExistingPosition(t *testing.T) {
	risk, hard := testLimits()
	risk.MaxOpenPositions = 0
	broker := &fakeBroker{positions: []model.Position{{Symbol: "RELIANCE", AvgPrice: 100, Quantity: 10}}}
	g := New(risk, hard, broker)
	require.NoError(t, g.UpdateDailyPnL())

	decision := g.ValidateOrder(model.OrderRequest{Symbol: "RELIANCE", Quantity: 1, Price: price(100), Side: model.Buy})
	assert.True(t, decision.Approved)
}

func TestValidateOrderRejectsOpenPositionCap(t *testing.T) {
	risk, hard := testLimits()
	risk.MaxOpenPositions = 0
	g := New(risk, hard, &fakeBroker{})

	decision := g.ValidateOrder(model.OrderRequest{Symbol: "NEWSTOCK", Quantity: 1, Price: price(100), Side: model.Buy})
	require.False(t, decision.Approved)
	assert.Equal(t, "open_position_cap", decision.LimitType)
}

func TestValidateOrderRejectsForbiddenSegment(t *testing.T) {
	risk, hard := testLimits()
	hard.ForbiddenSegments = []string{"FNO"}
	g := New(risk, hard, &fakeBroker{})

	decision := g.ValidateOrder(model.OrderRequest{Symbol: "X", Quantity: 1, Price: price(10), Side: model.Buy, Segment: model.FNO})
	require.False(t, decision.Approved)
	assert.Equal(t, "forbidden_segment", decision.LimitType)
}

func TestUpdateDailyPnLRecomputesFromPositions(t *testing.T) {
	risk, hard := testLimits()
	pnl1, pnl2 := 150.0, -50.0
	broker := &fakeBroker{positions: []model.Position{
		{Symbol: "A", PnL: &pnl1},
		{Symbol: "B", PnL: &pnl2},
	}}
	g := New(risk, hard, broker)
	require.NoError(t, g.UpdateDailyPnL())

	pnl, hardLimit := g.DailyPnL()
	assert.Equal(t, 100.0, pnl)
	assert.Equal(t, hard.MaxDailyLossHard, hardLimit)
}

func TestGetStatusFlagsWarningsAndHealth(t *testing.T) {
	risk, hard := testLimits()
	hard.MaxDailyOrders = 2
	g := New(risk, hard, &fakeBroker{})

	g.RecordOrder(model.Order{OrderID: "1"})
	g.RecordOrder(model.Order{OrderID: "2"})

	status := g.GetStatus()
	assert.False(t, status.IsHealthy)
	assert.NotEmpty(t, status.Warnings)
}
