package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"tradeguard/errs"
	"tradeguard/model"
)

// GTTRecord is the GORM row backing a GTT. Field names mirror the spec's
// data model; indexes match the documented schema contract.
type GTTRecord struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol       string     `gorm:"column:symbol;not null;index:idx_gtt_symbol,priority:1" json:"symbol"`
	Exchange     string     `gorm:"column:exchange;not null;index:idx_gtt_symbol,priority:2" json:"exchange"`
	TriggerPrice float64    `gorm:"column:trigger_price;not null" json:"trigger_price"`
	OrderType    string     `gorm:"column:order_type;not null" json:"order_type"`
	Action       string     `gorm:"column:action;not null" json:"action"`
	Quantity     int        `gorm:"column:quantity;not null" json:"quantity"`
	LimitPrice   *float64   `gorm:"column:limit_price" json:"limit_price"`
	Status       string     `gorm:"column:status;not null;default:ACTIVE;index:idx_gtt_status" json:"status"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime;index:idx_gtt_created_at" json:"created_at"`
	TriggeredAt  *time.Time `gorm:"column:triggered_at" json:"triggered_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at"`
	OrderID      string     `gorm:"column:order_id" json:"order_id"`
	ErrorMessage string     `gorm:"column:error_message" json:"error_message"`
	TriggerLTP   *float64   `gorm:"column:trigger_ltp" json:"trigger_ltp"`
	Notes        string     `gorm:"column:notes" json:"notes"`
}

// TableName returns the table name for GTTRecord.
func (GTTRecord) TableName() string { return "gtt_orders" }

// OrderRecord is an audit row for a placed order (paper or live), written
// through OrderStore.Record. The broker client does not write these rows
// itself; an order appears here only when a caller records it.
type OrderRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID      string    `gorm:"column:order_id;not null;uniqueIndex:idx_order_id" json:"order_id"`
	Symbol       string    `gorm:"column:symbol;not null;index:idx_order_symbol" json:"symbol"`
	Exchange     string    `gorm:"column:exchange;not null" json:"exchange"`
	Side         string    `gorm:"column:side;not null" json:"side"`
	OrderType    string    `gorm:"column:order_type;not null" json:"order_type"`
	Product      string    `gorm:"column:product;not null" json:"product"`
	Segment      string    `gorm:"column:segment;not null" json:"segment"`
	Quantity     int       `gorm:"column:quantity;not null" json:"quantity"`
	Price        *float64  `gorm:"column:price" json:"price"`
	TriggerPrice *float64  `gorm:"column:trigger_price" json:"trigger_price"`
	Status       string    `gorm:"column:status;not null;index:idx_order_status" json:"status"`
	FilledQty    int       `gorm:"column:filled_quantity;default:0" json:"filled_quantity"`
	AvgPrice     *float64  `gorm:"column:avg_price" json:"avg_price"`
	Message      string    `gorm:"column:message" json:"message"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime;index:idx_order_created_at" json:"created_at"`
}

// TableName returns the table name for OrderRecord.
func (OrderRecord) TableName() string { return "orders" }

// GTTStore is the sole writer of GTT records; the monitor reads snapshots
// and the executor mutates exclusively through UpdateStatus.
type GTTStore struct {
	db *gorm.DB
}

// NewGTTStore creates GTT storage over an already-migrated GORM handle.
func NewGTTStore(db *gorm.DB) *GTTStore {
	return &GTTStore{db: db}
}

// InitTables idempotently creates the GTT and order tables.
func (s *GTTStore) InitTables() error {
	if err := s.db.AutoMigrate(&GTTRecord{}, &OrderRecord{}); err != nil {
		return fmt.Errorf("failed to migrate gtt tables: %w", err)
	}
	return nil
}

// Create inserts a new ACTIVE GTT and returns the full record with its
// surrogate id.
func (s *GTTStore) Create(g model.GTT) (*model.GTT, error) {
	if g.Quantity <= 0 {
		return nil, errs.NewValidationError("quantity", g.Quantity, "quantity must be positive")
	}
	if g.TriggerPrice <= 0 {
		return nil, errs.NewValidationError("trigger_price", g.TriggerPrice, "trigger_price must be positive")
	}
	if g.OrderType == model.Limit && g.LimitPrice == nil {
		return nil, errs.NewValidationError("limit_price", g.LimitPrice, "LIMIT orders require a limit_price")
	}
	if g.OrderType != model.Limit && g.LimitPrice != nil {
		return nil, errs.NewValidationError("limit_price", g.LimitPrice, "limit_price must be null unless order_type is LIMIT")
	}

	rec := &GTTRecord{
		Symbol:       g.Symbol,
		Exchange:     g.Exchange,
		TriggerPrice: g.TriggerPrice,
		OrderType:    string(g.OrderType),
		Action:       string(g.Action),
		Quantity:     g.Quantity,
		LimitPrice:   g.LimitPrice,
		Status:       string(model.GTTActive),
		Notes:        g.Notes,
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create gtt: %w", err)
	}
	out := toModel(rec)
	return &out, nil
}

// Get fetches a GTT by id, failing with errs.GTTNotFound if absent.
func (s *GTTStore) Get(id int64) (*model.GTT, error) {
	var rec GTTRecord
	if err := s.db.First(&rec, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewGTTNotFound(id)
		}
		return nil, fmt.Errorf("get gtt %d: %w", id, err)
	}
	out := toModel(&rec)
	return &out, nil
}

// GetActive returns every ACTIVE GTT sorted oldest-first for fairness.
func (s *GTTStore) GetActive() ([]model.GTT, error) {
	var recs []GTTRecord
	err := s.db.Where("status = ?", string(model.GTTActive)).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list active gtts: %w", err)
	}
	return toModels(recs), nil
}

// GetBySymbol filters by symbol with optional exchange/status narrowing.
func (s *GTTStore) GetBySymbol(symbol, exchange string, status model.GTTStatus) ([]model.GTT, error) {
	q := s.db.Where("symbol = ?", symbol)
	if exchange != "" {
		q = q.Where("exchange = ?", exchange)
	}
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var recs []GTTRecord
	if err := q.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list gtts by symbol: %w", err)
	}
	return toModels(recs), nil
}

// GetAll returns GTTs optionally filtered by status, newest first,
// bounded by limit (0 means unbounded).
func (s *GTTStore) GetAll(limit int, status model.GTTStatus) ([]model.GTT, error) {
	q := s.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []GTTRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list gtts: %w", err)
	}
	return toModels(recs), nil
}

// StatusUpdate carries the optional fields UpdateStatus may set alongside
// a transition.
type StatusUpdate struct {
	OrderID      string
	ErrorMessage string
	TriggerLTP   *float64
}

// UpdateStatus transitions a GTT to status, stamping triggered_at on a
// transition into TRIGGERED and completed_at on a transition into any
// terminal state. Fails with errs.GTTNotFound if the id is absent.
func (s *GTTStore) UpdateStatus(id int64, status model.GTTStatus, upd StatusUpdate) error {
	var rec GTTRecord
	if err := s.db.First(&rec, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errs.NewGTTNotFound(id)
		}
		return fmt.Errorf("load gtt %d: %w", id, err)
	}

	updates := map[string]any{"status": string(status)}
	if upd.OrderID != "" {
		updates["order_id"] = upd.OrderID
	}
	if upd.ErrorMessage != "" {
		updates["error_message"] = upd.ErrorMessage
	}
	if upd.TriggerLTP != nil {
		updates["trigger_ltp"] = *upd.TriggerLTP
	}

	now := time.Now().UTC()
	if status == model.GTTTriggered && rec.TriggeredAt == nil {
		updates["triggered_at"] = now
	}
	switch status {
	case model.GTTCompleted, model.GTTFailed, model.GTTCancelled:
		if rec.CompletedAt == nil {
			updates["completed_at"] = now
		}
	}

	if err := s.db.Model(&GTTRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update gtt %d: %w", id, err)
	}
	return nil
}

// Cancel transitions id to CANCELLED, rejecting unless it is currently
// ACTIVE.
func (s *GTTStore) Cancel(id int64) error {
	g, err := s.Get(id)
	if err != nil {
		return err
	}
	if g.Status != model.GTTActive {
		return errs.NewGTTExecutionError(id, "cannot cancel gtt in status %s", g.Status)
	}
	return s.UpdateStatus(id, model.GTTCancelled, StatusUpdate{})
}

// Delete permanently removes a GTT. Intended for tests only.
func (s *GTTStore) Delete(id int64) error {
	if err := s.db.Delete(&GTTRecord{}, id).Error; err != nil {
		return fmt.Errorf("delete gtt %d: %w", id, err)
	}
	return nil
}

// Statistics summarizes GTT activity: counts by status, a 24h activity
// slice, and a success rate (COMPLETED / (COMPLETED+FAILED)).
type Statistics struct {
	ByStatus         map[model.GTTStatus]int
	CreatedLast24h   int
	TriggeredLast24h int
	SuccessRate      float64
}

// Statistics computes the current activity summary.
func (s *GTTStore) Statistics() (*Statistics, error) {
	var recs []GTTRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load gtts for statistics: %w", err)
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	stats := &Statistics{ByStatus: make(map[model.GTTStatus]int)}
	var completed, failed int
	for _, r := range recs {
		status := model.GTTStatus(r.Status)
		stats.ByStatus[status]++
		if r.CreatedAt.After(cutoff) {
			stats.CreatedLast24h++
		}
		if r.TriggeredAt != nil && r.TriggeredAt.After(cutoff) {
			stats.TriggeredLast24h++
		}
		switch status {
		case model.GTTCompleted:
			completed++
		case model.GTTFailed:
			failed++
		}
	}
	if completed+failed > 0 {
		stats.SuccessRate = float64(completed) / float64(completed+failed)
	}
	return stats, nil
}

func toModel(r *GTTRecord) model.GTT {
	return model.GTT{
		ID:           r.ID,
		Symbol:       r.Symbol,
		Exchange:     r.Exchange,
		TriggerPrice: r.TriggerPrice,
		OrderType:    model.OrderType(r.OrderType),
		Action:       model.Side(r.Action),
		Quantity:     r.Quantity,
		LimitPrice:   r.LimitPrice,
		Status:       model.GTTStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		TriggeredAt:  r.TriggeredAt,
		CompletedAt:  r.CompletedAt,
		OrderID:      r.OrderID,
		ErrorMessage: r.ErrorMessage,
		TriggerLTP:   r.TriggerLTP,
		Notes:        r.Notes,
	}
}

func toModels(recs []GTTRecord) []model.GTT {
	out := make([]model.GTT, 0, len(recs))
	for i := range recs {
		out = append(out, toModel(&recs[i]))
	}
	return out
}

// OrderStore holds audit rows for orders passed to Record, paper or live.
// Placing an order through the broker client does not record it here.
type OrderStore struct {
	db *gorm.DB
}

// NewOrderStore creates order storage over an already-migrated GORM handle.
func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// Record persists a broker response as an audit row. Re-recording the same
// OrderID is a no-op (idempotent on paper/live replay).
func (s *OrderStore) Record(o model.Order) error {
	rec := OrderRecord{
		OrderID:      o.OrderID,
		Symbol:       o.Symbol,
		Exchange:     o.Exchange,
		Side:         string(o.Side),
		OrderType:    string(o.OrderType),
		Product:      string(o.Product),
		Segment:      string(o.Segment),
		Quantity:     o.Quantity,
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
		Status:       string(o.Status),
		FilledQty:    o.FilledQty,
		AvgPrice:     o.AvgPrice,
		Message:      o.Message,
	}
	err := s.db.Where("order_id = ?", o.OrderID).FirstOrCreate(&rec).Error
	if err != nil {
		return fmt.Errorf("record order %s: %w", o.OrderID, err)
	}
	return nil
}

// RecentBySymbol gets the most recent orders for a symbol, newest first.
func (s *OrderStore) RecentBySymbol(symbol string, limit int) ([]OrderRecord, error) {
	var recs []OrderRecord
	q := s.db.Where("symbol = ?", symbol).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", symbol, err)
	}
	return recs, nil
}
