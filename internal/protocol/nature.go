package protocol

import "github.com/rickgao/marketstream/internal/model"

// Nature tags the payload of an outbound frame.
type Nature string

const (
	NatureTicker           Nature = "TICKER"
	NatureOrderBook        Nature = "ORDERBOOK"
	NatureOpenOrders       Nature = "OPEN_ORDERS"
	NatureTrade            Nature = "TRADE"
	NatureUserTrade        Nature = "USER_TRADE"
	NatureUserTradeHistory Nature = "USER_TRADE_HISTORY"
	NatureBalance          Nature = "BALANCE"
	NatureNotification     Nature = "NOTIFICATION"
	NatureStatusUpdate     Nature = "STATUS_UPDATE"
	NatureError            Nature = "ERROR"
)

// Natures lists every outbound nature except ERROR.
var Natures = []Nature{
	NatureTicker,
	NatureOrderBook,
	NatureOpenOrders,
	NatureTrade,
	NatureUserTrade,
	NatureUserTradeHistory,
	NatureBalance,
	NatureNotification,
	NatureStatusUpdate,
}

// NatureOf returns the outbound nature used for events of data type t.
func NatureOf(t model.DataType) Nature {
	switch t {
	case model.Ticker:
		return NatureTicker
	case model.OrderBook:
		return NatureOrderBook
	case model.OpenOrders:
		return NatureOpenOrders
	case model.Trades:
		return NatureTrade
	case model.UserTradeHistory:
		return NatureUserTradeHistory
	case model.UserTrade:
		return NatureUserTrade
	case model.Balance:
		return NatureBalance
	}
	return NatureError
}

// ControlNature returns the nature of a control event and whether ev is one.
func ControlNature(ev model.Event) (Nature, bool) {
	switch ev.(type) {
	case model.Notification:
		return NatureNotification, true
	case model.StatusUpdate:
		return NatureStatusUpdate, true
	}
	return "", false
}
