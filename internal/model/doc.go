// Package model defines shared data types used across the market stream server.
//
// Conventions:
//   - Instruments are identified by exchange plus base/counter currency
//   - Prices and amounts: shopspring/decimal, never float64
//   - Timestamps: time.Time in UTC
//   - Events form a closed set; only types in this package implement Event
package model
