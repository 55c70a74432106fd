// Package broker defines the contract between the trading core and an exchange.
//
// The core only ever talks to an Exchange; concrete integrations (bitmex, sim)
// implement it. Every call is a network round trip in a real adapter, so each
// takes a context and must honor its deadline.
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/emacross/market"
)

type Exchange interface {
	Initialize(ctx context.Context) error
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	// FetchCandles returns up to count closed candles, oldest first.
	FetchCandles(ctx context.Context, symbol, interval string, count int) ([]market.Candle, error)
	FetchBalance(ctx context.Context) (Balance, error)
	FetchPositions(ctx context.Context, symbol string) ([]Position, error)
	CreateOrder(ctx context.Context, req OrderRequest) (string, error)
	// FetchOrders returns the open and recent orders for symbol.
	FetchOrders(ctx context.Context, symbol string) ([]Order, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// LeverageSetter is implemented by exchanges that allow changing leverage per symbol.
type LeverageSetter interface {
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
}

// OrderCanceler is implemented by exchanges that can cancel a single order.
type OrderCanceler interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
	Stop   OrderType = "stop"
)

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// EntrySide is the order side that opens a position of side s.
func EntrySide(s market.Side) OrderSide {
	if s == market.Short {
		return Sell
	}
	return Buy
}

// ExitSide is the order side that closes a position of side s.
func ExitSide(s market.Side) OrderSide {
	if s == market.Short {
		return Buy
	}
	return Sell
}

type OrderRequest struct {
	Symbol   string
	Type     OrderType
	Side     OrderSide
	Quantity float64

	// Price is the limit price (Limit orders only).
	Price float64
	// TriggerPrice is the stop trigger (Stop orders only).
	TriggerPrice float64

	// ClientID is attached as client order metadata when the exchange supports it.
	ClientID   string
	ReduceOnly bool
}

type Order struct {
	ID           string
	ClientID     string
	Symbol       string
	Status       OrderStatus
	Side         OrderSide
	Type         OrderType
	Price        float64
	TriggerPrice float64
	Quantity     float64
	Filled       float64
	Remaining    float64
	Time         time.Time
}

type Position struct {
	Symbol        string
	Side          market.Side
	Size          float64 // always >= 0; direction is in Side
	EntryPrice    float64
	UnrealizedPnL float64
}

func (p Position) Open() bool { return p.Size != 0 }

// OpenPositions drops flat entries from an adapter's raw position list.
func OpenPositions(ps []Position) []Position {
	out := make([]Position, 0, len(ps))
	for _, p := range ps {
		if p.Open() {
			out = append(out, p)
		}
	}
	return out
}

// Wallet maps an asset to an amount.
type Wallet map[string]float64

type Balance struct {
	Total Wallet
	Used  Wallet
	Free  Wallet

	// RealizedPnL is the realized profit and loss for the current trading day,
	// in the settlement currency, when the exchange reports it.
	RealizedPnL float64
}
