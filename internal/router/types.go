package router

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketstream/internal/model"
)

// Envelope types carried on the upstream feed.
const (
	TypeTicker       = "ticker"
	TypeOrderBook    = "orderbook"
	TypeOpenOrders   = "open_orders"
	TypeTrade        = "trade"
	TypeTradeHistory = "trade_history"
	TypeUserTrade    = "user_trade"
	TypeBalance      = "balance"
	TypeNotification = "notification"
	TypeStatusUpdate = "status_update"
)

// Publisher receives decoded events. registry.Hub satisfies it.
type Publisher interface {
	Publish(t model.DataType, ev model.Event)
	PublishControl(ev model.Event)
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
}

// Wire types for JSON parsing

// envelope wraps every feed message.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// tradeWire is the feed form of one exchange trade.
type tradeWire struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId"`
	Side        model.Side      `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	FeeAmount   decimal.Decimal `json:"feeAmount"`
	FeeCurrency string          `json:"feeCurrency"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (w tradeWire) native() model.NativeTrade {
	return model.NewNativeTrade(model.TradeParams{
		ID:          w.ID,
		OrderID:     w.OrderID,
		Side:        w.Side,
		Price:       w.Price,
		Amount:      w.Amount,
		FeeAmount:   w.FeeAmount,
		FeeCurrency: w.FeeCurrency,
		Timestamp:   w.Timestamp,
	})
}

// singleTradeWire is the data of trade and user_trade messages.
type singleTradeWire struct {
	Instrument model.InstrumentSpec `json:"instrument"`
	Trade      tradeWire            `json:"trade"`
}

// tradeHistoryWire is the data of trade_history messages.
type tradeHistoryWire struct {
	Instrument model.InstrumentSpec `json:"instrument"`
	Trades     []tradeWire          `json:"trades"`
}
