// Package router decodes upstream feed envelopes and publishes them into
// the event-source registry.
//
// Every feed message is a JSON envelope:
//
//	{"type": "ticker", "data": {"instrument": {...}, "ticker": {...}}}
//
// Market types are published per data type; notification and
// status_update are broadcast to every registered client.
package router
