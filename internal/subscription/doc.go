// Package subscription implements the immutable set of (instrument, data type)
// pairs a client connection currently wants.
//
// A Set is never mutated in place. Each CHANGE_<TYPE> command from a client is an
// authoritative replacement for that type, applied with ApplyTypeChange, which
// returns a new Set and leaves every other type untouched.
package subscription
