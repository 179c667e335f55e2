package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or trade.
type Side string

const (
	Bid Side = "BID"
	Ask Side = "ASK"
)

// NativeTrade is a trade as the exchange adapter produced it.
// Implementations are opaque and not JSON-portable; only accessors are exposed.
type NativeTrade interface {
	ID() string
	OrderID() string
	Side() Side
	Price() decimal.Decimal
	Amount() decimal.Decimal
	Fee() (amount decimal.Decimal, currency string)
	Timestamp() time.Time
}

// TradeParams holds the fields for NewNativeTrade.
type TradeParams struct {
	ID          string
	OrderID     string
	Side        Side
	Price       decimal.Decimal
	Amount      decimal.Decimal
	FeeAmount   decimal.Decimal
	FeeCurrency string
	Timestamp   time.Time
}

// NewNativeTrade wraps decoded exchange fields in an opaque NativeTrade.
func NewNativeTrade(p TradeParams) NativeTrade {
	return &nativeTrade{p: p}
}

type nativeTrade struct {
	p TradeParams
}

func (t *nativeTrade) ID() string              { return t.p.ID }
func (t *nativeTrade) OrderID() string         { return t.p.OrderID }
func (t *nativeTrade) Side() Side              { return t.p.Side }
func (t *nativeTrade) Price() decimal.Decimal  { return t.p.Price }
func (t *nativeTrade) Amount() decimal.Decimal { return t.p.Amount }
func (t *nativeTrade) Timestamp() time.Time    { return t.p.Timestamp }

func (t *nativeTrade) Fee() (decimal.Decimal, string) {
	return t.p.FeeAmount, t.p.FeeCurrency
}
