// Package database provides the PostgreSQL connection pool for the
// notification history.
//
// The pool is optional; the stream server runs without it when
// database.enabled is false.
package database
