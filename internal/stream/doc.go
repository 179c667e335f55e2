// Package stream turns registry handles into per-connection deliveries.
//
// A Binder opens one registry handle per subscribed data type (or one per
// instrument when the type's policy throttles per instrument) and runs a
// pump goroutine for each. Every pump applies, in order:
//
//	readiness gate  -> drop while the client has not sent READY recently
//	throttle        -> last value wins within the policy window
//	serialize       -> exchange-native trades become portable trades
//
// and forwards the result to the binding's merged delivery channel.
// Cancelling a binding never waits on the consumer of that channel.
package stream
