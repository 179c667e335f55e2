package protocol

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketstream/internal/model"
)

// PortableTrade is the JSON-safe form of a model.NativeTrade.
type PortableTrade struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId,omitempty"`
	Exchange    string          `json:"exchange"`
	Side        model.Side      `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	FeeAmount   decimal.Decimal `json:"feeAmount"`
	FeeCurrency string          `json:"feeCurrency,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// SerializedTrade is the outbound data of TRADE and USER_TRADE frames.
type SerializedTrade struct {
	Instrument model.InstrumentSpec `json:"instrument"`
	Trade      PortableTrade        `json:"trade"`
}

// SerializedTradeHistory is the outbound data of USER_TRADE_HISTORY frames.
type SerializedTradeHistory struct {
	Instrument model.InstrumentSpec `json:"instrument"`
	Trades     []PortableTrade      `json:"trades"`
}

// Serialize converts events carrying exchange-native trades into portable
// shapes. Every other event is returned unchanged.
func Serialize(ev model.Event) any {
	switch e := ev.(type) {
	case model.TradeEvent:
		return SerializedTrade{Instrument: e.Instrument, Trade: portable(e.Instrument.Exchange, e.Trade)}
	case model.UserTradeEvent:
		return SerializedTrade{Instrument: e.Instrument, Trade: portable(e.Instrument.Exchange, e.Trade)}
	case model.TradeHistoryEvent:
		trades := make([]PortableTrade, 0, len(e.Trades))
		for _, t := range e.Trades {
			trades = append(trades, portable(e.Instrument.Exchange, t))
		}
		return SerializedTradeHistory{Instrument: e.Instrument, Trades: trades}
	}
	return ev
}

func portable(exchange string, t model.NativeTrade) PortableTrade {
	if t == nil {
		return PortableTrade{Exchange: exchange}
	}
	feeAmount, feeCurrency := t.Fee()
	return PortableTrade{
		ID:          t.ID(),
		OrderID:     t.OrderID(),
		Exchange:    exchange,
		Side:        t.Side(),
		Price:       t.Price(),
		Amount:      t.Amount(),
		FeeAmount:   feeAmount,
		FeeCurrency: feeCurrency,
		Timestamp:   t.Timestamp().UTC(),
	}
}
