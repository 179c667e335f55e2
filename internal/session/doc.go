// Package session implements the per-connection state machine.
//
// A Session is driven by its transport's callbacks (Open, OnMessage,
// Close, OnTransportError) and owns the connection's subscription set,
// readiness gate and active bindings. Outbound frames from every binding
// pass through a single writer.
//
//	OPENING --Open--> ACTIVE --Close--> CLOSED
package session
