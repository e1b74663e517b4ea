// Package llm is the client side of the generation service: two model
// tiers behind one Generate call.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Tier selects a generation model.
type Tier string

const (
	TierFast    Tier = "fast"
	TierComplex Tier = "complex"
)

// Other returns the opposite tier.
func (t Tier) Other() Tier {
	if t == TierComplex {
		return TierFast
	}
	return TierComplex
}

func (t Tier) String() string { return string(t) }

// ParseTier accepts "fast" or "complex", case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFast:
		return TierFast, nil
	case TierComplex:
		return TierComplex, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Service generates text for a prompt on a tier.
type Service interface {
	Generate(ctx context.Context, tier Tier, prompt string) (string, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, tier Tier, prompt string) (string, error)

func (f ServiceFunc) Generate(ctx context.Context, tier Tier, prompt string) (string, error) {
	return f(ctx, tier, prompt)
}
