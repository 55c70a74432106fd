package bitmex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/market"
)

// Exchange adapts the BitMEX REST API to broker.Exchange for one symbol.
type Exchange struct {
	c      *Client
	symbol string

	mu       sync.Mutex
	tickSize float64
}

var (
	_ broker.Exchange       = (*Exchange)(nil)
	_ broker.LeverageSetter = (*Exchange)(nil)
	_ broker.OrderCanceler  = (*Exchange)(nil)
)

func New(c *Client, symbol string) *Exchange {
	return &Exchange{c: c, symbol: symbol}
}

type instrument struct {
	Symbol    string  `json:"symbol"`
	State     string  `json:"state"`
	LastPrice float64 `json:"lastPrice"`
	MarkPrice float64 `json:"markPrice"`
	TickSize  float64 `json:"tickSize"`
}

type tradeBin struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Open      *float64  `json:"open"`
	High      *float64  `json:"high"`
	Low       *float64  `json:"low"`
	Close     *float64  `json:"close"`
	Volume    float64   `json:"volume"`
}

type margin struct {
	Currency        string  `json:"currency"`
	WalletBalance   float64 `json:"walletBalance"`
	MarginBalance   float64 `json:"marginBalance"`
	AvailableMargin float64 `json:"availableMargin"`
}

type position struct {
	Symbol        string  `json:"symbol"`
	Currency      string  `json:"currency"`
	CurrentQty    float64 `json:"currentQty"`
	AvgEntryPrice float64 `json:"avgEntryPrice"`
	MarkPrice     float64 `json:"markPrice"`
	UnrealisedPnl float64 `json:"unrealisedPnl"`
	RealisedPnl   float64 `json:"realisedPnl"`
}

type order struct {
	OrderID   string    `json:"orderID"`
	ClOrdID   string    `json:"clOrdID"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	OrdType   string    `json:"ordType"`
	OrdStatus string    `json:"ordStatus"`
	Price     *float64  `json:"price"`
	StopPx    *float64  `json:"stopPx"`
	OrderQty  float64   `json:"orderQty"`
	CumQty    float64   `json:"cumQty"`
	LeavesQty float64   `json:"leavesQty"`
	Timestamp time.Time `json:"timestamp"`
}

type newOrder struct {
	Symbol   string      `json:"symbol"`
	Side     string      `json:"side"`
	OrderQty json.Number `json:"orderQty"`
	OrdType  string      `json:"ordType"`
	Price    json.Number `json:"price,omitempty"`
	StopPx   json.Number `json:"stopPx,omitempty"`
	ClOrdID  string      `json:"clOrdID,omitempty"`
	ExecInst string      `json:"execInst,omitempty"`
}

// Initialize verifies the credentials are set and the symbol is tradable.
func (e *Exchange) Initialize(ctx context.Context) error {
	if e.c.key == "" || e.c.secret == "" {
		return &broker.InitError{Exchange: "bitmex", Err: errors.New("api key and secret are required")}
	}
	inst, err := e.instrument(ctx)
	if err != nil {
		return &broker.InitError{Exchange: "bitmex", Err: err}
	}
	if inst.State != "" && inst.State != "Open" {
		return &broker.InitError{Exchange: "bitmex", Err: fmt.Errorf("instrument %s is %s", e.symbol, inst.State)}
	}
	// an authenticated call to prove the key works
	if _, err := e.margins(ctx); err != nil {
		return &broker.InitError{Exchange: "bitmex", Err: err}
	}
	e.mu.Lock()
	e.tickSize = inst.TickSize
	e.mu.Unlock()
	return nil
}

// TickSize is the instrument's price increment, known after Initialize.
func (e *Exchange) TickSize() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickSize
}

func (e *Exchange) instrument(ctx context.Context) (instrument, error) {
	var out []instrument
	q := url.Values{"symbol": {e.symbol}}
	if err := e.c.do(ctx, "instrument", "GET", "/instrument", q, nil, &out); err != nil {
		return instrument{}, err
	}
	if len(out) == 0 {
		return instrument{}, fmt.Errorf("unknown instrument %q", e.symbol)
	}
	return out[0], nil
}

func (e *Exchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var out []instrument
	if err := e.c.do(ctx, "ticker", "GET", "/instrument", url.Values{"symbol": {symbol}}, nil, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 || out[0].LastPrice <= 0 {
		return 0, &broker.TransportError{Op: "ticker", Err: fmt.Errorf("no last price for %s", symbol)}
	}
	return out[0].LastPrice, nil
}

// maxBucketed is the most rows /trade/bucketed returns per request.
const maxBucketed = 1000

// FetchCandles returns the last count closed bins, oldest first. Counts above
// maxBucketed are fetched in pages walking back with endTime.
func (e *Exchange) FetchCandles(ctx context.Context, symbol, interval string, count int) ([]market.Candle, error) {
	if _, err := market.ParseInterval(interval); err != nil {
		return nil, err
	}
	var bins []tradeBin
	for len(bins) < count {
		n := min(count-len(bins), maxBucketed)
		q := url.Values{
			"symbol":  {symbol},
			"binSize": {interval},
			"partial": {"false"},
			"reverse": {"true"},
			"count":   {strconv.Itoa(n)},
		}
		if len(bins) > 0 {
			oldest := bins[len(bins)-1].Timestamp
			q.Set("endTime", oldest.Add(-time.Millisecond).UTC().Format(time.RFC3339Nano))
		}
		var page []tradeBin
		if err := e.c.do(ctx, "candles", "GET", "/trade/bucketed", q, nil, &page); err != nil {
			return nil, err
		}
		bins = append(bins, page...)
		if len(page) < n {
			break
		}
	}

	out := make([]market.Candle, 0, len(bins))
	for _, b := range bins {
		if b.Close == nil {
			continue
		}
		c := market.Candle{Close: *b.Close, Time: b.Timestamp.UTC(), Volume: b.Volume}
		c.Open, c.High, c.Low = orClose(b.Open, c.Close), orClose(b.High, c.Close), orClose(b.Low, c.Close)
		out = append(out, c)
	}
	// reverse=true returns newest first
	slices.Reverse(out)
	return out, nil
}

func orClose(p *float64, c float64) float64 {
	if p == nil {
		return c
	}
	return *p
}

// currencies maps BitMEX settlement units to an asset and its scale.
var currencies = map[string]struct {
	asset string
	scale float64
}{
	"XBt":  {"BTC", 1e8},
	"USDt": {"USDT", 1e6},
}

func toAsset(currency string, amount float64) (string, float64) {
	if c, ok := currencies[currency]; ok {
		return c.asset, amount / c.scale
	}
	return strings.ToUpper(currency), amount
}

// quotePnL converts a P&L in settlement units to the contract's quote
// currency. Inverse (XBt) contracts are converted at the mark price.
func quotePnL(currency string, pnl, mark float64) float64 {
	_, v := toAsset(currency, pnl)
	if currency == "XBt" {
		return v * mark
	}
	return v
}

func (e *Exchange) margins(ctx context.Context) ([]margin, error) {
	var out []margin
	q := url.Values{"currency": {"all"}}
	if err := e.c.do(ctx, "balance", "GET", "/user/margin", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchBalance reports wallets per asset. RealizedPnL is the traded symbol's
// realised P&L since the last daily settlement, in quote currency.
func (e *Exchange) FetchBalance(ctx context.Context) (broker.Balance, error) {
	ms, err := e.margins(ctx)
	if err != nil {
		return broker.Balance{}, err
	}
	bal := broker.Balance{Total: broker.Wallet{}, Used: broker.Wallet{}, Free: broker.Wallet{}}
	for _, m := range ms {
		asset, total := toAsset(m.Currency, m.MarginBalance)
		_, free := toAsset(m.Currency, m.AvailableMargin)
		bal.Total[asset] = total
		bal.Free[asset] = free
		bal.Used[asset] = total - free
	}

	// only the traded contract; a quanto's XBt P&L is not priced by its own mark
	var ps []position
	q := url.Values{"filter": {fmt.Sprintf(`{"symbol":%q}`, e.symbol)}}
	if err := e.c.do(ctx, "positions", "GET", "/position", q, nil, &ps); err != nil {
		return broker.Balance{}, err
	}
	for _, p := range ps {
		if p.Symbol != e.symbol {
			continue
		}
		bal.RealizedPnL += quotePnL(p.Currency, p.RealisedPnl, p.MarkPrice)
	}
	return bal, nil
}

func (e *Exchange) FetchPositions(ctx context.Context, symbol string) ([]broker.Position, error) {
	var ps []position
	q := url.Values{"filter": {fmt.Sprintf(`{"symbol":%q}`, symbol)}}
	if err := e.c.do(ctx, "positions", "GET", "/position", q, nil, &ps); err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(ps))
	for _, p := range ps {
		if p.Symbol != symbol {
			continue
		}
		bp := broker.Position{
			Symbol:        p.Symbol,
			Size:          abs(p.CurrentQty),
			EntryPrice:    p.AvgEntryPrice,
			UnrealizedPnL: quotePnL(p.Currency, p.UnrealisedPnl, p.MarkPrice),
		}
		switch {
		case p.CurrentQty > 0:
			bp.Side = market.Long
		case p.CurrentQty < 0:
			bp.Side = market.Short
		}
		out = append(out, bp)
	}
	return out, nil
}

func num(x float64) json.Number {
	return json.Number(decimal.NewFromFloat(x).String())
}

func (e *Exchange) CreateOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if req.Quantity <= 0 {
		return "", fmt.Errorf("bitmex: order quantity must be > 0, got %g", req.Quantity)
	}
	no := newOrder{
		Symbol:   req.Symbol,
		Side:     side(req.Side),
		OrderQty: num(req.Quantity),
		ClOrdID:  req.ClientID,
	}
	switch req.Type {
	case broker.Market:
		no.OrdType = "Market"
	case broker.Limit:
		if req.Price <= 0 {
			return "", errors.New("bitmex: limit order needs a price")
		}
		no.OrdType = "Limit"
		no.Price = num(req.Price)
	case broker.Stop:
		if req.TriggerPrice <= 0 {
			return "", errors.New("bitmex: stop order needs a trigger price")
		}
		no.OrdType = "Stop"
		no.StopPx = num(req.TriggerPrice)
	default:
		return "", fmt.Errorf("bitmex: unsupported order type %q", req.Type)
	}
	if req.ReduceOnly {
		no.ExecInst = "ReduceOnly"
	}

	var o order
	if err := e.c.do(ctx, "create order", "POST", "/order", nil, no, &o); err != nil {
		return "", err
	}
	if o.OrdStatus == "Rejected" {
		return "", fmt.Errorf("bitmex: order %s rejected", o.OrderID)
	}
	return o.OrderID, nil
}

func side(s broker.OrderSide) string {
	if s == broker.Sell {
		return "Sell"
	}
	return "Buy"
}

// FetchOrders returns the symbol's most recent orders, newest first.
func (e *Exchange) FetchOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	var orders []order
	q := url.Values{
		"symbol":  {symbol},
		"reverse": {"true"},
		"count":   {"100"},
	}
	if err := e.c.do(ctx, "orders", "GET", "/order", q, nil, &orders); err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.toBroker())
	}
	return out, nil
}

func (o order) toBroker() broker.Order {
	bo := broker.Order{
		ID:        o.OrderID,
		ClientID:  o.ClOrdID,
		Symbol:    o.Symbol,
		Status:    broker.ParseOrderStatus(o.OrdStatus),
		Side:      broker.OrderSide(strings.ToLower(o.Side)),
		Type:      broker.OrderType(strings.ToLower(o.OrdType)),
		Quantity:  o.OrderQty,
		Filled:    o.CumQty,
		Remaining: o.LeavesQty,
		Time:      o.Timestamp.UTC(),
	}
	if o.Price != nil {
		bo.Price = *o.Price
	}
	if o.StopPx != nil {
		bo.TriggerPrice = *o.StopPx
	}
	return bo
}

func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]string{"symbol": symbol}
	return e.c.do(ctx, "cancel all orders", "DELETE", "/order/all", nil, body, nil)
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	var canceled []order
	body := map[string]string{"orderID": orderID}
	if err := e.c.do(ctx, "cancel order", "DELETE", "/order", nil, body, &canceled); err != nil {
		return err
	}
	if len(canceled) == 0 {
		return fmt.Errorf("bitmex: %w: %s", broker.ErrOrderNotFound, orderID)
	}
	if st := broker.ParseOrderStatus(canceled[0].OrdStatus); st != broker.StatusCanceled {
		return fmt.Errorf("bitmex: order %s not canceled, status %s", orderID, st)
	}
	return nil
}

// SetLeverage switches the symbol to isolated margin at leverage; 0 selects cross margin.
func (e *Exchange) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	body := map[string]any{"symbol": symbol, "leverage": num(leverage)}
	return e.c.do(ctx, "set leverage", "POST", "/position/leverage", nil, body, nil)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
