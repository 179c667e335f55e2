package config

import (
	"github.com/rickgao/marketstream/internal/stream"
)

// BuildPolicies returns the delivery policy table for the configured mode
// with per-nature overrides applied. Call after Validate.
func (t ThrottleConfig) BuildPolicies() stream.Policies {
	policies := stream.DefaultPolicies()
	if t.Mode == ThrottleModeMinimal {
		policies = stream.Unthrottled()
	}

	for key, override := range t.Policies {
		nature, ok := natureForKey(key)
		if !ok {
			continue
		}

		p := policies.For(nature)
		if override.Window != nil {
			p.Window = *override.Window
		}
		if override.PerInstrument != nil {
			p.PerInstrument = *override.PerInstrument
		}
		if override.Gated != nil {
			p.Gated = *override.Gated
		}
		policies = policies.With(nature, p)
	}

	return policies
}
