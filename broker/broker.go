// Package broker implements the single-method-per-operation wrapper over
// the external broker SDK, per spec §4.2. A paper-mode gate short-circuits
// every order/cancel/status call before the network is touched; validation
// runs before the SDK is ever consulted; retries back off exponentially and
// never retry validation or auth failures.
package broker

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeguard/config"
	"tradeguard/errs"
	"tradeguard/logger"
	"tradeguard/model"
	"tradeguard/ratelimiter"
	"tradeguard/security"
)

const (
	maxRetries      = 3
	retryBaseFactor = 1.5
)

// Stats mirrors the teacher's running-counters pattern, surfaced by
// GetStats.
type Stats struct {
	OrdersPlaced    int
	OrdersCancelled int
	QuotesFetched   int
	APIErrors       int
	PaperModeOrders int
}

// Client is the broker facade every other control-plane component calls
// through. It never exposes the underlying SDK or HTTP client.
type Client struct {
	http  *resty.Client
	auth  *AuthManager
	rl    *ratelimiter.RateLimiter
	hard  config.HardLimits
	paper bool

	apiKey string

	statsMu sync.Mutex
	stats   Stats
}

func (c *Client) bumpStat(fn func(*Stats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	fn(&c.stats)
}

// New constructs a Client. baseURL is the broker API's root; creds must
// already have passed AuthManager validation. rl is shared with the rest of
// the process so all broker-bound calls draw from the same buckets.
func New(baseURL string, creds Credentials, hard config.HardLimits, rl *ratelimiter.RateLimiter, paperMode bool) (*Client, error) {
	if err := security.ValidateBrokerURL(baseURL); err != nil {
		return nil, fmt.Errorf("broker base url: %w", err)
	}

	auth, err := NewAuthManager(creds, fetchAccessToken(baseURL))
	if err != nil {
		return nil, err
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	c := &Client{
		http:   httpClient,
		auth:   auth,
		rl:     rl,
		hard:   hard,
		paper:  paperMode,
		apiKey: creds.APIKey,
	}

	if paperMode {
		logger.Warn("broker client starting in PAPER MODE - orders will be simulated")
	}
	return c, nil
}

// fetchAccessToken is the default tokenFetcher: it exchanges the API
// key/secret for a bearer token via the broker's auth endpoint.
func fetchAccessToken(baseURL string) tokenFetcher {
	return func(creds Credentials) (string, error) {
		client := resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second)
		var body struct {
			AccessToken string `json:"access_token"`
		}
		resp, err := client.R().
			SetBody(map[string]string{"api_key": creds.APIKey, "api_secret": creds.APISecret}).
			SetResult(&body).
			Post("/v1/token")
		if err != nil {
			return "", err
		}
		if resp.StatusCode() != http.StatusOK {
			return "", fmt.Errorf("token endpoint status %d", resp.StatusCode())
		}
		return body.AccessToken, nil
	}
}

func (c *Client) authHeader() (string, error) {
	token, err := c.auth.GetAccessToken(false)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// GetStats returns a snapshot of the running call counters.
func (c *Client) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// ==================== validation ====================

func validateOrderParams(req model.OrderRequest, hard config.HardLimits) error {
	if req.Symbol == "" {
		return errs.NewValidationError("symbol", req.Symbol, "symbol must not be empty")
	}
	if req.Quantity <= 0 {
		return errs.NewValidationError("quantity", req.Quantity, "quantity must be positive")
	}
	if req.OrderType == model.Limit && (req.Price == nil || *req.Price <= 0) {
		return errs.NewValidationError("price", req.Price, "LIMIT orders require a positive price")
	}
	if (req.OrderType == model.StopLoss || req.OrderType == model.StopLossMarket) &&
		(req.TriggerPrice == nil || *req.TriggerPrice <= 0) {
		return errs.NewValidationError("trigger_price", req.TriggerPrice, "STOP_LOSS orders require a positive trigger price")
	}
	for _, seg := range hard.ForbiddenSegments {
		if seg == string(req.Segment) {
			return errs.NewValidationError("segment", req.Segment, "segment is forbidden")
		}
	}
	for _, prod := range hard.ForbiddenProducts {
		if prod == string(req.Product) {
			return errs.NewValidationError("product", req.Product, "product is forbidden")
		}
	}

	price := 0.0
	if req.Price != nil {
		price = *req.Price
	} else if req.TriggerPrice != nil {
		price = *req.TriggerPrice
	}
	value, _ := decimal.NewFromFloat(float64(req.Quantity)).Mul(decimal.NewFromFloat(price)).Float64()
	if value > hard.MaxSingleOrderValue {
		return errs.NewValidationError("order_value", value, "order value exceeds MAX_SINGLE_ORDER_VALUE")
	}
	return nil
}

// ==================== order management ====================

// PlaceOrder validates req, short-circuits in paper mode, and otherwise
// places the order via the broker SDK with retry.
func (c *Client) PlaceOrder(req model.OrderRequest) (*model.Order, error) {
	if err := validateOrderParams(req, c.hard); err != nil {
		return nil, err
	}

	if c.paper {
		c.bumpStat(func(s *Stats) { s.PaperModeOrders++ })
		orderID := fmt.Sprintf("PAPER_%s_%s", time.Now().Format("20060102150405"), req.Symbol)
		logger.Component("broker").Warnf("paper mode: simulating order %s %s x%d %s", req.Side, req.Symbol, req.Quantity, req.OrderType)
		return &model.Order{
			OrderID:      orderID,
			Symbol:       req.Symbol,
			Exchange:     req.Exchange,
			Quantity:     req.Quantity,
			Price:        req.Price,
			TriggerPrice: req.TriggerPrice,
			Side:         req.Side,
			OrderType:    req.OrderType,
			Product:      req.Product,
			Segment:      req.Segment,
			Status:       model.StatusPending,
			FilledQty:    0,
			Timestamp:    time.Now(),
			Message:      "PAPER MODE - Order simulated",
		}, nil
	}

	c.rl.Acquire(ratelimiter.Orders)

	var raw map[string]any
	err := c.callWithRetry("place_order", req.Symbol, func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetHeader("X-API-KEY", c.apiKey).
			SetHeader("Idempotency-Key", newCorrelationID()).
			SetBody(orderPayload(req)).
			SetResult(&raw).
			Post("/v1/order/create")
		return checkOrderResponse(resp, rerr)
	})
	if err != nil {
		c.bumpStat(func(s *Stats) { s.APIErrors++ })
		return nil, err
	}

	order := parseOrder(raw, req)
	c.bumpStat(func(s *Stats) { s.OrdersPlaced++ })
	return order, nil
}

// CancelOrder cancels a live order; in paper mode it returns success
// without a call.
func (c *Client) CancelOrder(orderID string) error {
	if c.paper || isPaperOrderID(orderID) {
		logger.Component("broker").Infof("paper mode: cancel %s simulated", orderID)
		return nil
	}

	c.rl.Acquire(ratelimiter.Orders)

	err := c.callWithRetry("cancel_order", orderID, func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetHeader("X-API-KEY", c.apiKey).
			Delete("/v1/order/" + orderID)
		return checkOrderResponse(resp, rerr)
	})
	if err != nil {
		c.bumpStat(func(s *Stats) { s.APIErrors++ })
		return err
	}
	c.bumpStat(func(s *Stats) { s.OrdersCancelled++ })
	return nil
}

// GetOrderStatus fetches the current state of orderID. In paper mode, and
// for any synthetic paper order id, it reports PENDING without a call.
func (c *Client) GetOrderStatus(orderID string) (*model.Order, error) {
	if c.paper || isPaperOrderID(orderID) {
		return &model.Order{OrderID: orderID, Status: model.StatusPending, Message: "PAPER MODE - Order simulated"}, nil
	}

	c.rl.Acquire(ratelimiter.NonTrading)

	var raw map[string]any
	err := c.callWithRetry("get_order_status", orderID, func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetResult(&raw).
			Get("/v1/order/" + orderID)
		return checkOrderResponse(resp, rerr)
	})
	if err != nil {
		c.bumpStat(func(s *Stats) { s.APIErrors++ })
		return nil, err
	}
	return parseOrder(raw, model.OrderRequest{}), nil
}

func isPaperOrderID(id string) bool {
	return len(id) >= 6 && id[:6] == "PAPER_"
}

// ==================== market data ====================

// GetQuote fetches a full quote for symbol on exchange.
func (c *Client) GetQuote(symbol, exchange string) (*model.Quote, error) {
	c.rl.Acquire(ratelimiter.LiveData)
	var raw map[string]any
	err := c.callWithRetry("get_quote", symbol, func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetQueryParam("symbol", symbol).
			SetQueryParam("exchange", exchange).
			SetResult(&raw).
			Get("/v1/quote")
		return checkDataResponse(resp, rerr)
	})
	if err != nil {
		return nil, errs.NewDataFetchError(errs.DataFetchQuote, err)
	}
	c.bumpStat(func(s *Stats) { s.QuotesFetched++ })
	return parseQuote(raw, symbol, exchange), nil
}

// GetLTP fetches just the last traded price for symbol.
func (c *Client) GetLTP(symbol, exchange string) (float64, error) {
	q, err := c.GetQuote(symbol, exchange)
	if err != nil {
		return 0, err
	}
	return q.LTP, nil
}

// GetMultipleLTPs batches an LTP fetch across symbols, grouped into a
// single broker round-trip where the SDK supports it. Enrichment beyond
// spec.md's literal five-operation broker surface.
func (c *Client) GetMultipleLTPs(symbols []string, exchange string) (map[string]float64, error) {
	c.rl.Acquire(ratelimiter.LiveData)
	var raw map[string]map[string]any
	err := c.callWithRetry("get_multiple_ltps", exchange, func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetBody(map[string]any{"symbols": symbols, "exchange": exchange}).
			SetResult(&raw).
			Post("/v1/quote/batch")
		return checkDataResponse(resp, rerr)
	})
	if err != nil {
		return nil, errs.NewDataFetchError(errs.DataFetchLTP, err)
	}
	out := make(map[string]float64, len(raw))
	for sym, v := range raw {
		out[sym] = floatField(v, "ltp")
	}
	return out, nil
}

// GetOHLC fetches the current day's OHLC bar for symbol.
func (c *Client) GetOHLC(symbol, exchange string) (*model.OHLCBar, error) {
	c.rl.Acquire(ratelimiter.LiveData)
	var raw map[string]any
	err := c.callWithRetry("get_ohlc", symbol, func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetQueryParam("symbol", symbol).
			SetQueryParam("exchange", exchange).
			SetResult(&raw).
			Get("/v1/ohlc")
		return checkDataResponse(resp, rerr)
	})
	if err != nil {
		return nil, errs.NewDataFetchError(errs.DataFetchOHLC, err)
	}
	return parseOHLCBar(raw), nil
}

// GetHistoricalData fetches historical bars for symbol between from and to.
func (c *Client) GetHistoricalData(symbol, exchange string, from, to time.Time) ([]model.OHLCBar, error) {
	c.rl.Acquire(ratelimiter.NonTrading)
	var raw []map[string]any
	err := c.callWithRetry("get_historical_data", symbol, func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetQueryParam("symbol", symbol).
			SetQueryParam("exchange", exchange).
			SetQueryParam("from", from.Format(time.RFC3339)).
			SetQueryParam("to", to.Format(time.RFC3339)).
			SetResult(&raw).
			Get("/v1/historical")
		return checkDataResponse(resp, rerr)
	})
	if err != nil {
		return nil, errs.NewDataFetchError(errs.DataFetchHistorical, err)
	}
	bars := make([]model.OHLCBar, 0, len(raw))
	for _, r := range raw {
		bars = append(bars, *parseOHLCBar(r))
	}
	return bars, nil
}

// ==================== portfolio ====================

// GetPositions returns open positions. In paper mode this is always empty,
// per spec's documented paper-mode portfolio behavior.
func (c *Client) GetPositions() ([]model.Position, error) {
	if c.paper {
		return []model.Position{}, nil
	}
	c.rl.Acquire(ratelimiter.NonTrading)
	var raw []map[string]any
	err := c.callWithRetry("get_positions", "", func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetResult(&raw).
			Get("/v1/positions")
		return checkDataResponse(resp, rerr)
	})
	if err != nil {
		return nil, errs.NewDataFetchError(errs.DataFetchPositions, err)
	}
	out := make([]model.Position, 0, len(raw))
	for _, r := range raw {
		out = append(out, parsePosition(r))
	}
	return out, nil
}

// GetHoldings returns delivery holdings. Empty in paper mode.
func (c *Client) GetHoldings() ([]model.Holding, error) {
	if c.paper {
		return []model.Holding{}, nil
	}
	c.rl.Acquire(ratelimiter.NonTrading)
	var raw []map[string]any
	err := c.callWithRetry("get_holdings", "", func() error {
		header, herr := c.authHeader()
		if herr != nil {
			return herr
		}
		resp, rerr := c.http.R().
			SetHeader("Authorization", header).
			SetResult(&raw).
			Get("/v1/holdings")
		return checkDataResponse(resp, rerr)
	})
	if err != nil {
		return nil, errs.NewDataFetchError(errs.DataFetchHoldings, err)
	}
	out := make([]model.Holding, 0, len(raw))
	for _, r := range raw {
		out = append(out, parseHolding(r))
	}
	return out, nil
}

// PortfolioSummary is the aggregate view recovered from
// original_source's portfolio tool, beyond spec.md's literal operation
// list.
type PortfolioSummary struct {
	TotalPositions int
	TotalHoldings  int
	UnrealizedPnL  float64
	HoldingsValue  float64
}

// GetPortfolioSummary aggregates positions and holdings into one snapshot.
func (c *Client) GetPortfolioSummary() (*PortfolioSummary, error) {
	positions, err := c.GetPositions()
	if err != nil {
		return nil, err
	}
	holdings, err := c.GetHoldings()
	if err != nil {
		return nil, err
	}
	summary := &PortfolioSummary{TotalPositions: len(positions), TotalHoldings: len(holdings)}
	for _, p := range positions {
		if p.PnL != nil {
			summary.UnrealizedPnL += *p.PnL
		}
	}
	for _, h := range holdings {
		ltp := h.AvgPrice
		if h.LTP != nil {
			ltp = *h.LTP
		}
		summary.HoldingsValue += ltp * float64(h.Quantity)
	}
	return summary, nil
}

// AllocationBreakdown maps symbol to the fraction of holdings value it
// represents. Recovered from original_source's portfolio tool.
func (c *Client) GetAllocationBreakdown() (map[string]float64, error) {
	holdings, err := c.GetHoldings()
	if err != nil {
		return nil, err
	}
	total := 0.0
	values := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		ltp := h.AvgPrice
		if h.LTP != nil {
			ltp = *h.LTP
		}
		v := ltp * float64(h.Quantity)
		values[h.Symbol] += v
		total += v
	}
	if total == 0 {
		return values, nil
	}
	out := make(map[string]float64, len(values))
	for sym, v := range values {
		out[sym] = v / total
	}
	return out, nil
}

// ==================== retry + error classification ====================

// callWithRetry runs fn up to maxRetries+1 times with exponential backoff
// 1.5^attempt seconds. Validation and auth errors short-circuit.
func (c *Client) callWithRetry(op, symbol string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var valErr *errs.ValidationError
		var authErr *errs.AuthenticationError
		if asErr(err, &valErr) || asErr(err, &authErr) {
			return err
		}

		lastErr = classifyOrderError(err, symbol)
		if attempt < maxRetries {
			backoff := time.Duration(pow(retryBaseFactor, attempt) * float64(time.Second))
			logger.Component("broker").Warnf("%s attempt %d/%d failed: %v, retrying in %s", op, attempt+1, maxRetries+1, err, backoff)
			time.Sleep(backoff)
		}
	}
	return lastErr
}

func asErr[T error](err error, target *T) bool {
	for e := err; e != nil; e = unwrap(e) {
		if t, ok := e.(T); ok {
			*target = t
			return true
		}
	}
	return false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func classifyOrderError(err error, symbol string) error {
	msg := err.Error()
	kind := errs.OrderErrorGeneric
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		kind = errs.OrderErrorInsufficientFunds
	case strings.Contains(msg, "market closed"), strings.Contains(msg, "market is closed"):
		kind = errs.OrderErrorMarketClosed
	case strings.Contains(msg, "symbol not found"), strings.Contains(msg, "invalid symbol"):
		kind = errs.OrderErrorSymbolNotFound
	case strings.Contains(msg, "rate limit"):
		return &errs.RateLimitExceeded{Category: "orders", RetryAfter: "1s"}
	}
	return errs.NewOrderError(kind, symbol, "", msg, err)
}

func checkOrderResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errs.NewNetworkError(err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("broker responded %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func checkDataResponse(resp *resty.Response, err error) error {
	return checkOrderResponse(resp, err)
}

// ==================== response parsing ====================
// The SDK returns untyped maps; these adapters copy fields into the
// strongly-typed model records, defaulting missing fields to zero/null.

func orderPayload(req model.OrderRequest) map[string]any {
	payload := map[string]any{
		"trading_symbol":   req.Symbol,
		"exchange":         req.Exchange,
		"transaction_type": req.Side,
		"quantity":         req.Quantity,
		"order_type":       req.OrderType,
		"product":          req.Product,
		"segment":          req.Segment,
	}
	if req.Price != nil {
		payload["price"] = *req.Price
	}
	if req.TriggerPrice != nil {
		payload["trigger_price"] = *req.TriggerPrice
	}
	return payload
}

func floatField(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

func floatPtrField(m map[string]any, key string) *float64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return &f
		}
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}

func parseOrder(raw map[string]any, req model.OrderRequest) *model.Order {
	o := &model.Order{
		OrderID:   stringField(raw, "order_id"),
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Quantity:  req.Quantity,
		Side:      req.Side,
		OrderType: req.OrderType,
		Product:   req.Product,
		Segment:   req.Segment,
		Status:    model.OrderStatus(stringField(raw, "status")),
		FilledQty: intField(raw, "filled_quantity"),
		AvgPrice:  floatPtrField(raw, "average_price"),
		Timestamp: time.Now(),
		Message:   stringField(raw, "message"),
	}
	if sym := stringField(raw, "trading_symbol"); sym != "" {
		o.Symbol = sym
	}
	if o.Status == "" {
		o.Status = model.StatusPending
	}
	return o
}

func parseQuote(raw map[string]any, symbol, exchange string) *model.Quote {
	return &model.Quote{
		Symbol:   symbol,
		Exchange: exchange,
		LTP:      floatField(raw, "ltp"),
		Open:     floatPtrField(raw, "open"),
		High:     floatPtrField(raw, "high"),
		Low:      floatPtrField(raw, "low"),
		Close:    floatPtrField(raw, "close"),
	}
}

func parseOHLCBar(raw map[string]any) *model.OHLCBar {
	return &model.OHLCBar{
		Timestamp: time.Now(),
		Open:      floatField(raw, "open"),
		High:      floatField(raw, "high"),
		Low:       floatField(raw, "low"),
		Close:     floatField(raw, "close"),
		Volume:    int64(floatField(raw, "volume")),
	}
}

func parsePosition(raw map[string]any) model.Position {
	return model.Position{
		Symbol:   stringField(raw, "trading_symbol"),
		Exchange: stringField(raw, "exchange"),
		Product:  model.Product(stringField(raw, "product")),
		Quantity: intField(raw, "quantity"),
		AvgPrice: floatField(raw, "average_price"),
		LTP:      floatPtrField(raw, "ltp"),
		PnL:      floatPtrField(raw, "pnl"),
	}
}

func parseHolding(raw map[string]any) model.Holding {
	return model.Holding{
		Symbol:   stringField(raw, "trading_symbol"),
		Exchange: stringField(raw, "exchange"),
		Quantity: intField(raw, "quantity"),
		AvgPrice: floatField(raw, "average_price"),
		LTP:      floatPtrField(raw, "ltp"),
		PnL:      floatPtrField(raw, "pnl"),
	}
}

// newCorrelationID mints a request-scoped id sent as the Idempotency-Key
// of a live order placement. Paper order ids do not use it.
func newCorrelationID() string {
	return uuid.NewString()
}
