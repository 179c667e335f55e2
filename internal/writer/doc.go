// Package writer persists control events to PostgreSQL.
//
// The history writer registers with the event source as its own client,
// consumes the control stream (notifications and status updates) and
// inserts them in batches with pgx.Batch. Batches flush when full or on
// the flush interval. Inserts are append-only.
package writer
