// Package notify relays notifications from the event source to a
// Telegram chat.
//
// The relay registers as an ordinary registry client and consumes the
// control stream, so it receives the same notifications connected
// websocket clients do. Notifications below the configured level and
// status updates are ignored.
package notify
