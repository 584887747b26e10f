// Package riskgate implements the synchronous validation pipeline every
// order traverses before the broker is consulted: day rollover, hard and
// soft limit checks, and daily P&L bookkeeping. A single internal lock
// serializes validate/record/update/status so the pipeline is never torn
// by concurrent callers.
package riskgate

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"tradeguard/config"
	"tradeguard/logger"
	"tradeguard/model"
)

// PositionSource is the subset of the broker client the risk gate needs to
// reconcile open positions and recompute daily P&L.
type PositionSource interface {
	GetPositions() ([]model.Position, error)
}

const nearLimitThreshold = 0.8

// RiskGate validates orders against soft and hard limits and tracks
// per-day counters.
type RiskGate struct {
	mu sync.Mutex

	risk   config.RiskConfig
	hard   config.HardLimits
	broker PositionSource

	currentDay      string
	dailyPnL        float64
	dailyOrderCount int
	dailyOrders     []model.Order
	openPositions   map[string]model.Position

	rejections *prometheus.CounterVec
	pnlGauge   prometheus.Gauge
}

// New constructs a RiskGate. broker is used only by UpdateDailyPnL to
// reconcile positions; it may be nil until the broker client is wired, in
// which case UpdateDailyPnL returns an error if called.
func New(risk config.RiskConfig, hard config.HardLimits, broker PositionSource) *RiskGate {
	g := &RiskGate{
		risk:          risk,
		hard:          hard,
		broker:        broker,
		currentDay:    today(),
		openPositions: make(map[string]model.Position),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskgate_rejections_total",
				Help: "Order rejections by reason.",
			},
			[]string{"reason"},
		),
		pnlGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskgate_daily_pnl",
			Help: "Current day's realized + mark-to-market P&L.",
		}),
	}
	return g
}

// Describe implements prometheus.Collector.
func (g *RiskGate) Describe(ch chan<- *prometheus.Desc) {
	g.rejections.Describe(ch)
	g.pnlGauge.Describe(ch)
}

// Collect implements prometheus.Collector.
func (g *RiskGate) Collect(ch chan<- prometheus.Metric) {
	g.rejections.Collect(ch)
	g.pnlGauge.Collect(ch)
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// rolloverLocked resets per-day counters if the calendar date has changed.
// Caller must hold g.mu.
func (g *RiskGate) rolloverLocked() {
	d := today()
	if d == g.currentDay {
		return
	}
	g.currentDay = d
	g.dailyPnL = 0
	g.dailyOrderCount = 0
	g.dailyOrders = nil
	logger.Info("risk gate: day rollover, daily counters reset")
}

func reject(reason, limitType string, current, limit float64) model.RiskDecision {
	return model.RiskDecision{Approved: false, Reason: reason, LimitType: limitType, Current: current, Limit: limit}
}

// ValidateOrder runs the seven-step pipeline against req and returns a
// structured decision. Rejections are never errors.
func (g *RiskGate) ValidateOrder(req model.OrderRequest) model.RiskDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()

	price := 0.0
	if req.Price != nil {
		price = *req.Price
	} else if req.TriggerPrice != nil {
		price = *req.TriggerPrice
	}
	orderValue := decimal.NewFromFloat(float64(req.Quantity)).Mul(decimal.NewFromFloat(price))
	orderValueF, _ := orderValue.Float64()

	// 2. single-order value (hard)
	if orderValueF > g.hard.MaxSingleOrderValue {
		g.countRejection("single_order_value")
		return reject("order value exceeds MAX_SINGLE_ORDER_VALUE", "single_order_value", orderValueF, g.hard.MaxSingleOrderValue)
	}

	// 3. position size (soft, BUY only)
	if req.Side == model.Buy && orderValueF > g.risk.MaxPositionSize {
		g.countRejection("position_size")
		return reject("order value exceeds max_position_size", "position_size", orderValueF, g.risk.MaxPositionSize)
	}

	// 4. daily-order cap (hard)
	if g.dailyOrderCount >= g.hard.MaxDailyOrders {
		g.countRejection("daily_order_cap")
		return reject("daily order count at MAX_DAILY_ORDERS", "daily_order_cap", float64(g.dailyOrderCount), float64(g.hard.MaxDailyOrders))
	}

	// 5. open-position cap (soft, BUY to a symbol not already held)
	if req.Side == model.Buy {
		if _, held := g.openPositions[req.Symbol]; !held {
			if len(g.openPositions) >= g.risk.MaxOpenPositions {
				g.countRejection("open_position_cap")
				return reject("open position count at max_open_positions", "open_position_cap",
					float64(len(g.openPositions)), float64(g.risk.MaxOpenPositions))
			}
		}
	}

	// 6. daily loss
	if g.dailyPnL < 0 {
		loss := -g.dailyPnL
		if loss >= g.hard.MaxDailyLossHard {
			g.countRejection("daily_loss_hard")
			return reject("daily loss at MAX_DAILY_LOSS_HARD", "daily_loss_hard", loss, g.hard.MaxDailyLossHard)
		}
		if loss >= g.risk.MaxDailyLoss {
			g.countRejection("daily_loss_soft")
			return reject("daily loss at max_daily_loss", "daily_loss_soft", loss, g.risk.MaxDailyLoss)
		}
	}

	// 7. forbidden segment / product
	for _, seg := range g.hard.ForbiddenSegments {
		if seg == string(req.Segment) {
			g.countRejection("forbidden_segment")
			return reject("segment is forbidden", "forbidden_segment", 0, 0)
		}
	}
	for _, prod := range g.hard.ForbiddenProducts {
		if prod == string(req.Product) {
			g.countRejection("forbidden_product")
			return reject("product is forbidden", "forbidden_product", 0, 0)
		}
	}

	return model.RiskDecision{Approved: true}
}

func (g *RiskGate) countRejection(reason string) {
	g.rejections.WithLabelValues(reason).Inc()
}

// RecordOrder is called after a successful place; it appends to the day's
// order log and bumps the daily order count.
func (g *RiskGate) RecordOrder(o model.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.dailyOrders = append(g.dailyOrders, o)
	g.dailyOrderCount++
}

// UpdateDailyPnL re-reads positions from the broker, rebuilds
// open_positions, and recomputes daily_pnl = Σ position.pnl (nulls as 0).
func (g *RiskGate) UpdateDailyPnL() error {
	if g.broker == nil {
		return fmt.Errorf("risk gate: no position source configured")
	}
	positions, err := g.broker.GetPositions()
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	g.openPositions = make(map[string]model.Position, len(positions))
	var total decimal.Decimal
	for _, p := range positions {
		g.openPositions[p.Symbol] = p
		if p.PnL != nil {
			total = total.Add(decimal.NewFromFloat(*p.PnL))
		}
	}
	g.dailyPnL, _ = total.Float64()
	g.pnlGauge.Set(g.dailyPnL)
	return nil
}

// DailyPnL reports the current day's P&L and the hard daily-loss limit it
// is measured against, for the kill switch's DAILY_LOSS_LIMIT condition.
func (g *RiskGate) DailyPnL() (pnl float64, hardLossLimit float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.dailyPnL, g.hard.MaxDailyLossHard
}

// GetStatus returns a RiskMetrics snapshot. Warnings are attached at ≥80%,
// and is_healthy is flipped false at 100%, of the daily order cap, the
// open-position cap, or the soft daily-loss limit; capital in use is
// reported but not checked against max_portfolio_value.
func (g *RiskGate) GetStatus() model.RiskMetrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	m := model.RiskMetrics{
		DailyPnL:          g.dailyPnL,
		OpenPositionCount: len(g.openPositions),
		MaxOpenPositions:  g.risk.MaxOpenPositions,
		DailyOrderCount:   g.dailyOrderCount,
		MaxDailyOrders:    g.hard.MaxDailyOrders,
		IsHealthy:         true,
	}

	var used float64
	for _, p := range g.openPositions {
		used += p.AvgPrice * float64(p.Quantity)
	}
	m.UsedCapital = used
	m.AvailableCapital = g.risk.MaxPortfolioValue - used

	warn := func(label string, current, limit float64) {
		if limit <= 0 {
			return
		}
		if current >= limit {
			m.IsHealthy = false
		}
		if current >= limit*nearLimitThreshold {
			m.Warnings = append(m.Warnings, label)
		}
	}
	warn("daily_order_count near max_daily_orders", float64(m.DailyOrderCount), float64(m.MaxDailyOrders))
	warn("open_position_count near max_open_positions", float64(m.OpenPositionCount), float64(m.MaxOpenPositions))
	if g.dailyPnL < 0 {
		warn("daily_loss near max_daily_loss", -g.dailyPnL, g.risk.MaxDailyLoss)
	}

	return m
}
