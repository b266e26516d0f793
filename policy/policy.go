// Package policy evaluates which capabilities are available for a licensing
// tier, backend environment, and authentication state. It is a pure mapping
// with no I/O so callers can resolve capabilities on every decision point
// without caching.
package policy

import "strings"

// Tier is the licensing level of an installation.
type Tier string

const (
	TierDemo    Tier = "demo"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// ParseTier maps a tier name to a Tier, defaulting to basic for unknown or
// empty input.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "demo":
		return TierDemo
	case "premium":
		return TierPremium
	default:
		return TierBasic
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so a Tier can be parsed
// directly from an environment variable.
func (t *Tier) UnmarshalText(text []byte) error {
	*t = ParseTier(string(text))
	return nil
}

// TierFromPlan derives the entitled tier from a membership plan label such
// as "Premium Annual" or "Basic Monthly". ok is false when the label names
// no known tier.
func TierFromPlan(plan string) (Tier, bool) {
	p := strings.ToLower(plan)
	switch {
	case strings.Contains(p, "premium"):
		return TierPremium, true
	case strings.Contains(p, "basic"):
		return TierBasic, true
	case strings.Contains(p, "demo"):
		return TierDemo, true
	default:
		return "", false
	}
}

// DisplayName returns a human readable label for the tier.
func (t Tier) DisplayName() string {
	switch t {
	case TierDemo:
		return "Demo"
	case TierPremium:
		return "Premium"
	default:
		return "Basic"
	}
}

// Environment selects the backend mode gateway clients run against.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// ParseEnvironment maps an environment name to an Environment, defaulting to
// sandbox for unknown input. Sandbox is the safe default: a misconfigured
// installation must never reach a production payment backend.
func ParseEnvironment(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return EnvProduction
	default:
		return EnvSandbox
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Environment) UnmarshalText(text []byte) error {
	*e = ParseEnvironment(string(text))
	return nil
}

// DefaultEnvironment returns the backend environment a tier runs against when
// no explicit override is configured. Demo installations are always pinned to
// sandbox.
func DefaultEnvironment(t Tier) Environment {
	if t == TierDemo {
		return EnvSandbox
	}
	return EnvProduction
}

// EffectiveEnvironment resolves the environment for a tier given an optional
// override. The override is ignored for demo, which is sandbox-only.
func EffectiveEnvironment(t Tier, override string) Environment {
	if t == TierDemo {
		return EnvSandbox
	}
	if strings.TrimSpace(override) == "" {
		return DefaultEnvironment(t)
	}
	return ParseEnvironment(override)
}
