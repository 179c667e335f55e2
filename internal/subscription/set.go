package subscription

import (
	"sort"

	"github.com/rickgao/marketstream/internal/model"
)

// Set is an immutable set of market data subscriptions, unique by value.
// The zero value is an empty set.
type Set struct {
	subs map[model.MarketDataSubscription]struct{}
}

// Empty returns the empty set.
func Empty() Set {
	return Set{}
}

// Of builds a set from the given subscriptions. Duplicates collapse.
func Of(subs ...model.MarketDataSubscription) Set {
	if len(subs) == 0 {
		return Set{}
	}
	m := make(map[model.MarketDataSubscription]struct{}, len(subs))
	for _, s := range subs {
		m[s] = struct{}{}
	}
	return Set{subs: m}
}

// ApplyTypeChange returns a new set with every entry of type t replaced by
// instruments × t. Entries of other types are carried over unchanged.
func (s Set) ApplyTypeChange(t model.DataType, instruments []model.InstrumentSpec) Set {
	m := make(map[model.MarketDataSubscription]struct{}, len(s.subs)+len(instruments))
	for sub := range s.subs {
		if sub.Type != t {
			m[sub] = struct{}{}
		}
	}
	for _, spec := range instruments {
		m[model.NewSubscription(spec, t)] = struct{}{}
	}
	if len(m) == 0 {
		return Set{}
	}
	return Set{subs: m}
}

// Contains reports whether sub is in the set.
func (s Set) Contains(sub model.MarketDataSubscription) bool {
	_, ok := s.subs[sub]
	return ok
}

// Len returns the number of subscriptions.
func (s Set) Len() int {
	return len(s.subs)
}

// IsEmpty reports whether the set has no subscriptions.
func (s Set) IsEmpty() bool {
	return len(s.subs) == 0
}

// HasType reports whether any subscription has type t.
func (s Set) HasType(t model.DataType) bool {
	for sub := range s.subs {
		if sub.Type == t {
			return true
		}
	}
	return false
}

// Types returns the data types present, ordered as model.DataTypes.
func (s Set) Types() []model.DataType {
	present := make(map[model.DataType]bool)
	for sub := range s.subs {
		present[sub.Type] = true
	}
	types := make([]model.DataType, 0, len(present))
	for _, t := range model.DataTypes {
		if present[t] {
			types = append(types, t)
		}
	}
	return types
}

// Instruments returns the instruments subscribed under type t, sorted.
func (s Set) Instruments(t model.DataType) []model.InstrumentSpec {
	var specs []model.InstrumentSpec
	for sub := range s.subs {
		if sub.Type == t {
			specs = append(specs, sub.Instrument)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Less(specs[j]) })
	return specs
}

// All returns every subscription ordered by type then instrument.
func (s Set) All() []model.MarketDataSubscription {
	all := make([]model.MarketDataSubscription, 0, len(s.subs))
	for _, t := range s.Types() {
		for _, spec := range s.Instruments(t) {
			all = append(all, model.NewSubscription(spec, t))
		}
	}
	return all
}

// Equal reports whether both sets hold the same subscriptions.
func (s Set) Equal(o Set) bool {
	if len(s.subs) != len(o.subs) {
		return false
	}
	for sub := range s.subs {
		if !o.Contains(sub) {
			return false
		}
	}
	return true
}
