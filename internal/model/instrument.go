package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInstrument is returned when an InstrumentSpec is missing a field.
var ErrInvalidInstrument = errors.New("invalid instrument")

// InstrumentSpec identifies a tradeable pair on an exchange (e.g. binance BTC/USDT).
type InstrumentSpec struct {
	Exchange string `json:"exchange"`
	Base     string `json:"base"`
	Counter  string `json:"counter"`
}

// Validate checks that every field is set.
func (s InstrumentSpec) Validate() error {
	switch {
	case strings.TrimSpace(s.Exchange) == "":
		return fmt.Errorf("%w: exchange is required", ErrInvalidInstrument)
	case strings.TrimSpace(s.Base) == "":
		return fmt.Errorf("%w: base is required", ErrInvalidInstrument)
	case strings.TrimSpace(s.Counter) == "":
		return fmt.Errorf("%w: counter is required", ErrInvalidInstrument)
	}
	return nil
}

// String returns "exchange/BASE/COUNTER".
func (s InstrumentSpec) String() string {
	return s.Exchange + "/" + s.Base + "/" + s.Counter
}

// Pair returns "BASE/COUNTER".
func (s InstrumentSpec) Pair() string {
	return s.Base + "/" + s.Counter
}

// Less orders instruments by exchange, base, then counter.
func (s InstrumentSpec) Less(o InstrumentSpec) bool {
	if s.Exchange != o.Exchange {
		return s.Exchange < o.Exchange
	}
	if s.Base != o.Base {
		return s.Base < o.Base
	}
	return s.Counter < o.Counter
}

// DataType is a category of market or account event a client can subscribe to.
type DataType string

const (
	Ticker           DataType = "TICKER"
	OrderBook        DataType = "ORDERBOOK"
	OpenOrders       DataType = "OPEN_ORDERS"
	Trades           DataType = "TRADES"
	UserTradeHistory DataType = "USER_TRADE_HISTORY"
	UserTrade        DataType = "USER_TRADE"
	Balance          DataType = "BALANCE"
)

// DataTypes lists every data type in a stable order.
var DataTypes = []DataType{Ticker, OrderBook, OpenOrders, Trades, UserTradeHistory, UserTrade, Balance}

// Valid reports whether t is a known data type.
func (t DataType) Valid() bool {
	for _, known := range DataTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MarketDataSubscription is one (instrument, data type) pair a connection wants.
// It is comparable and safe to use as a map key.
type MarketDataSubscription struct {
	Instrument InstrumentSpec `json:"instrument"`
	Type       DataType       `json:"type"`
}

// NewSubscription builds a MarketDataSubscription.
func NewSubscription(spec InstrumentSpec, t DataType) MarketDataSubscription {
	return MarketDataSubscription{Instrument: spec, Type: t}
}

func (s MarketDataSubscription) String() string {
	return string(s.Type) + ":" + s.Instrument.String()
}
