package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is an upstream payload delivered to a client connection.
// The set of implementations is closed.
type Event interface {
	event()
}

// -----------------------------------------------------------------------------
// Market Data Events
// -----------------------------------------------------------------------------

// TickerEvent is a top-of-book and daily statistics update for one instrument.
type TickerEvent struct {
	Instrument InstrumentSpec `json:"instrument"`
	Ticker     TickerData     `json:"ticker"`
}

// TickerData holds ticker fields as reported by the exchange.
type TickerData struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderBookEvent is a full order book snapshot for one instrument.
type OrderBookEvent struct {
	Instrument InstrumentSpec    `json:"instrument"`
	OrderBook  OrderBookSnapshot `json:"orderBook"`
}

// OrderBookSnapshot is a depth snapshot, best price first on each side.
type OrderBookSnapshot struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// PriceLevel is the aggregated amount resting at one price.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OpenOrdersEvent lists the user's resting orders on one instrument.
type OpenOrdersEvent struct {
	Instrument InstrumentSpec `json:"instrument"`
	Orders     []Order        `json:"orders"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Order is a user order resting on an exchange.
type Order struct {
	ID           string          `json:"id"`
	Side         Side            `json:"side"`
	LimitPrice   decimal.Decimal `json:"limitPrice"`
	Amount       decimal.Decimal `json:"amount"`
	FilledAmount decimal.Decimal `json:"filledAmount"`
	Status       string          `json:"status"`
	Timestamp    time.Time       `json:"timestamp"`
}

// TradeEvent is a public trade on one instrument.
// The exchange-native trade is not portable; see protocol.Serialize.
type TradeEvent struct {
	Instrument InstrumentSpec `json:"instrument"`
	Trade      NativeTrade    `json:"-"`
}

// TradeHistoryEvent is the user's recent trade history on one instrument.
type TradeHistoryEvent struct {
	Instrument InstrumentSpec `json:"instrument"`
	Trades     []NativeTrade  `json:"-"`
}

// UserTradeEvent is a single fill of one of the user's orders.
type UserTradeEvent struct {
	Instrument InstrumentSpec `json:"instrument"`
	Trade      NativeTrade    `json:"-"`
}

// BalanceEvent is the user's balance of one currency on one exchange.
type BalanceEvent struct {
	Exchange string      `json:"exchange"`
	Currency string      `json:"currency"`
	Balance  BalanceData `json:"balance"`
}

// BalanceData holds total and available amounts.
type BalanceData struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// -----------------------------------------------------------------------------
// Control Events
// -----------------------------------------------------------------------------

// NotificationLevel grades a notification.
type NotificationLevel string

const (
	LevelInfo  NotificationLevel = "INFO"
	LevelAlert NotificationLevel = "ALERT"
	LevelError NotificationLevel = "ERROR"
)

// Rank orders levels from least to most severe. Unknown levels rank lowest.
func (l NotificationLevel) Rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelAlert:
		return 2
	case LevelError:
		return 3
	}
	return 0
}

// Notification is an out-of-band alert sent to every connected client.
type Notification struct {
	Message   string            `json:"message"`
	Level     NotificationLevel `json:"level"`
	Timestamp time.Time         `json:"timestamp"`
}

// JobStatus is the state a background job reports.
type JobStatus string

const (
	StatusRunning JobStatus = "RUNNING"
	StatusSuccess JobStatus = "SUCCESS"
	StatusFailed  JobStatus = "FAILURE_PERMANENT"
)

// StatusUpdate reports progress of a job a client requested.
type StatusUpdate struct {
	RequestID string    `json:"requestId"`
	Status    JobStatus `json:"status"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (TickerEvent) event()       {}
func (OrderBookEvent) event()    {}
func (OpenOrdersEvent) event()   {}
func (TradeEvent) event()        {}
func (TradeHistoryEvent) event() {}
func (UserTradeEvent) event()    {}
func (BalanceEvent) event()      {}
func (Notification) event()      {}
func (StatusUpdate) event()      {}
