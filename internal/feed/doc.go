// Package feed ingests upstream market data from Redis pub/sub, a Kafka
// topic or an upstream websocket.
//
// Feeds only move bytes. Each message is stamped with its receive time
// and pushed into a Buffer that the router drains; decoding happens in
// the router.
package feed
