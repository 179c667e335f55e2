// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Active client sessions and rebinds
//   - Frames sent per nature, write failures, protocol errors
//   - Events dropped by the readiness gate, throttles and full mailboxes
//   - Upstream feed message rates
//   - Notification history inserts and relays
package metrics
