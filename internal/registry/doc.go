// Package registry is the event-source side of the stream server.
//
// Producers publish market events and control events (notifications,
// status updates) into a Hub. Each registered client owns a subscription
// set and any number of handles; every handle has a bounded mailbox that
// evicts its oldest event when full, so a slow consumer never blocks a
// publisher.
//
// Matching rules:
//   - TICKER, ORDERBOOK, OPEN_ORDERS, TRADES, USER_TRADE_HISTORY: the
//     event's instrument must be subscribed under the stream type
//   - USER_TRADE: routed to clients subscribed under USER_TRADE_HISTORY
//     for the trade's instrument
//   - BALANCE: a subscription for exchange/BASE/COUNTER matches balances
//     on that exchange for BASE or COUNTER
//   - control events go to every registered client
package registry
