// Package executor implements the GTT execution pipeline: kill-switch
// guard, risk validation, broker placement, and status recording, per
// spec §4.6.
package executor

import (
	"tradeguard/errs"
	"tradeguard/gtt/store"
	"tradeguard/logger"
	"tradeguard/model"
)

// KillSwitch is the subset of the kill switch the executor consults before
// every placement.
type KillSwitch interface {
	CheckBeforeOrder() error
}

// RiskGate is the subset of the risk gate the executor consults and
// updates.
type RiskGate interface {
	ValidateOrder(req model.OrderRequest) model.RiskDecision
	RecordOrder(o model.Order)
}

// Broker is the subset of the broker client the executor drives.
type Broker interface {
	PlaceOrder(req model.OrderRequest) (*model.Order, error)
	GetLTP(symbol, exchange string) (float64, error)
}

// Executor runs the trigger-to-order pipeline for a single GTT.
type Executor struct {
	store      *store.Store
	killSwitch KillSwitch
	risk       RiskGate
	broker     Broker
}

// New constructs an Executor.
func New(s *store.Store, ks KillSwitch, risk RiskGate, broker Broker) *Executor {
	return &Executor{store: s, killSwitch: ks, risk: risk, broker: broker}
}

// Triggered is the shared trigger predicate: BUY triggers when ltp is at
// or below the trigger price, SELL when ltp is at or above it.
func Triggered(action model.Side, ltp, trigger float64) bool {
	if action == model.Buy {
		return ltp <= trigger
	}
	return ltp >= trigger
}

// Execute runs the four-step pipeline for g, triggered at price.
func (e *Executor) Execute(g model.GTT, price float64) error {
	if err := e.killSwitch.CheckBeforeOrder(); err != nil {
		msg := err.Error()
		_ = e.store.UpdateStatus(g.ID, model.GTTFailed, store.StatusUpdate{
			ErrorMessage: msg,
			TriggerLTP:   &price,
		})
		return errs.NewGTTExecutionError(g.ID, "kill switch active: %s", msg)
	}

	usePrice := price
	if g.OrderType == model.Limit && g.LimitPrice != nil {
		usePrice = *g.LimitPrice
	}

	req := model.OrderRequest{
		Symbol:    g.Symbol,
		Exchange:  g.Exchange,
		Quantity:  g.Quantity,
		Side:      g.Action,
		OrderType: g.OrderType,
		Product:   model.CNC,
		Segment:   model.Cash,
	}
	if g.OrderType == model.Limit {
		p := usePrice
		req.Price = &p
	}

	decision := e.risk.ValidateOrder(req)
	if !decision.Approved {
		_ = e.store.UpdateStatus(g.ID, model.GTTFailed, store.StatusUpdate{
			ErrorMessage: decision.Reason,
			TriggerLTP:   &price,
		})
		return errs.NewGTTExecutionError(g.ID, "risk gate rejected: %s", decision.Reason)
	}

	order, err := e.broker.PlaceOrder(req)
	if err != nil {
		_ = e.store.UpdateStatus(g.ID, model.GTTFailed, store.StatusUpdate{
			ErrorMessage: err.Error(),
			TriggerLTP:   &price,
		})
		return errs.NewGTTExecutionError(g.ID, "broker placement failed: %v", err)
	}

	if err := e.store.UpdateStatus(g.ID, model.GTTTriggered, store.StatusUpdate{
		OrderID:    order.OrderID,
		TriggerLTP: &price,
	}); err != nil {
		logger.Component("gtt_executor").Errorf("gtt %d triggered but status update failed: %v", g.ID, err)
	}
	e.risk.RecordOrder(*order)

	logger.Component("gtt_executor").Infof("gtt %d triggered: order %s placed at %.2f", g.ID, order.OrderID, price)
	return nil
}

// RetryFailed re-arms a FAILED GTT: transitions it back to ACTIVE,
// re-fetches the current LTP, and re-enters the pipeline immediately if
// the trigger condition still holds. Otherwise it is left ACTIVE for the
// next monitor tick.
func (e *Executor) RetryFailed(id int64) error {
	g, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if g.Status != model.GTTFailed {
		return errs.NewGTTExecutionError(id, "retry_failed requires status FAILED, got %s", g.Status)
	}

	if err := e.store.UpdateStatus(id, model.GTTActive, store.StatusUpdate{}); err != nil {
		return err
	}

	ltp, err := e.broker.GetLTP(g.Symbol, g.Exchange)
	if err != nil {
		logger.Component("gtt_executor").Warnf("gtt %d retry: ltp fetch failed, leaving ACTIVE: %v", id, err)
		return nil
	}

	g.Status = model.GTTActive
	if !Triggered(g.Action, ltp, g.TriggerPrice) {
		return nil
	}

	reloaded, err := e.store.Get(id)
	if err != nil {
		return err
	}
	return e.Execute(*reloaded, ltp)
}
