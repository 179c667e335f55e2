// Package protocol implements the client websocket wire format.
//
// Inbound frames are JSON objects {"command": ..., "tickers": [...]} decoded into
// a closed set of Command types. Outbound frames are {"nature": ..., "data": ...}.
// Serialize converts exchange-native trade payloads into portable JSON shapes
// before they are written.
package protocol
