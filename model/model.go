// Package model defines the strongly-typed records every broker response
// and persisted entity is parsed into. Broker SDK responses arrive as
// untyped maps; adapters in the broker package copy fields into these
// records rather than letting raw maps leak into the rest of the system.
package model

import "time"

// Side is the transaction direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType is the broker order variety.
type OrderType string

const (
	Limit           OrderType = "LIMIT"
	Market          OrderType = "MARKET"
	StopLoss        OrderType = "STOP_LOSS"
	StopLossMarket  OrderType = "STOP_LOSS_MARKET"
)

// Product is the settlement product for an order.
type Product string

const (
	CNC  Product = "CNC"
	MIS  Product = "MIS"
	NRML Product = "NRML"
)

// Segment is the market segment an order trades in.
type Segment string

const (
	Cash Segment = "CASH"
	FNO  Segment = "FNO"
)

// OrderStatus tracks an order's lifecycle.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusFailed    OrderStatus = "FAILED"
)

// Order is a broker order, whether live or paper-simulated.
type Order struct {
	OrderID       string
	Symbol        string
	Exchange      string
	Quantity      int
	Price         *float64
	TriggerPrice  *float64
	Side          Side
	OrderType     OrderType
	Product       Product
	Segment       Segment
	Status        OrderStatus
	FilledQty     int
	AvgPrice      *float64
	Timestamp     time.Time
	Message       string
}

// OrderRequest carries the parameters of a place_order call, prior to
// network validation and broker assignment of an order id.
type OrderRequest struct {
	Symbol       string
	Exchange     string
	Quantity     int
	Price        *float64
	TriggerPrice *float64
	Side         Side
	OrderType    OrderType
	Product      Product
	Segment      Segment
}

// Quote is a real-time market quote.
type Quote struct {
	Symbol   string
	Exchange string
	LTP      float64
	Open     *float64
	High     *float64
	Low      *float64
	Close    *float64
	Volume   *int64
}

// OHLCBar is one bar of historical or intraday OHLC data.
type OHLCBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Position is a broker-reported open position.
type Position struct {
	Symbol   string
	Exchange string
	Product  Product
	Quantity int
	AvgPrice float64
	LTP      *float64
	PnL      *float64
}

// Holding is a broker-reported long-term holding (delivery).
type Holding struct {
	Symbol   string
	Exchange string
	Quantity int
	AvgPrice float64
	LTP      *float64
	PnL      *float64
}

// GTTStatus tracks a conditional order's lifecycle.
type GTTStatus string

const (
	GTTActive    GTTStatus = "ACTIVE"
	GTTTriggered GTTStatus = "TRIGGERED"
	GTTCompleted GTTStatus = "COMPLETED"
	GTTCancelled GTTStatus = "CANCELLED"
	GTTFailed    GTTStatus = "FAILED"
)

// GTT is a durable good-till-triggered conditional order.
type GTT struct {
	ID           int64
	Symbol       string
	Exchange     string
	TriggerPrice float64
	OrderType    OrderType
	Action       Side
	Quantity     int
	LimitPrice   *float64
	Status       GTTStatus
	CreatedAt    time.Time
	TriggeredAt  *time.Time
	CompletedAt  *time.Time
	OrderID      string
	ErrorMessage string
	TriggerLTP   *float64
	Notes        string
}

// RiskMetrics is the computed snapshot returned by the risk gate's
// get_status operation.
type RiskMetrics struct {
	DailyPnL          float64
	OpenPositionCount int
	MaxOpenPositions  int
	UsedCapital       float64
	AvailableCapital  float64
	DailyOrderCount   int
	MaxDailyOrders    int
	KillSwitchActive  bool
	IsHealthy         bool
	Warnings          []string
}

// RiskDecision is the structured, non-error result of validate_order.
type RiskDecision struct {
	Approved  bool
	Reason    string
	LimitType string
	Current   float64
	Limit     float64
}
