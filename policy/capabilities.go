package policy

// Capability is a named feature resolved from tier, environment, and auth
// state. Capabilities are never persisted; they are recomputed on demand.
type Capability string

const (
	CapProductSearch   Capability = "product-search"
	CapStockUpdate     Capability = "stock-update"
	CapBarcodeScan     Capability = "barcode-scan"
	CapCSVExport       Capability = "csv-export"
	CapLabelPrinting   Capability = "label-printing"
	CapMultiRegister   Capability = "multi-register"
	CapProviderSwitch  Capability = "provider-switch"
	CapCharge          Capability = "charge"
	CapChargeStatus    Capability = "charge-status"
	CapTransactionSync Capability = "transaction-sync"
)

// capabilityTags declares the gating rules for each capability. Premium-only
// capabilities are also granted to demo installations so the full feature set
// can be evaluated against the sandbox backends.
type capabilityTags struct {
	premiumOnly        bool
	requiresProduction bool
	requiresSession    bool
}

var allCapabilities = map[Capability]capabilityTags{
	CapProductSearch:   {requiresSession: true},
	CapStockUpdate:     {requiresSession: true},
	CapBarcodeScan:     {},
	CapCSVExport:       {premiumOnly: true, requiresSession: true},
	CapLabelPrinting:   {premiumOnly: true},
	CapMultiRegister:   {premiumOnly: true, requiresSession: true},
	CapProviderSwitch:  {premiumOnly: true},
	CapCharge:          {requiresSession: true},
	CapChargeStatus:    {requiresSession: true},
	CapTransactionSync: {requiresSession: true, requiresProduction: true},
}

// Set is an immutable-by-convention collection of enabled capabilities.
type Set map[Capability]struct{}

// Has reports whether the capability is enabled.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the enabled capabilities in unspecified order.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}

// CapabilitiesFor resolves the enabled capability set for the given tier,
// environment, and session presence. The function is total: every input
// yields a defined set. Unknown tiers are treated as basic and unknown
// environments as sandbox before evaluation.
func CapabilitiesFor(tier Tier, env Environment, sessionPresent bool) Set {
	switch tier {
	case TierDemo, TierBasic, TierPremium:
	default:
		tier = TierBasic
	}
	switch env {
	case EnvSandbox, EnvProduction:
	default:
		env = EnvSandbox
	}
	if tier == TierDemo {
		// Demo never leaves the sandbox, whatever the caller resolved.
		env = EnvSandbox
	}

	set := make(Set, len(allCapabilities))
	for c, tags := range allCapabilities {
		if tags.premiumOnly && tier == TierBasic {
			continue
		}
		if tags.requiresProduction && env != EnvProduction {
			continue
		}
		if tags.requiresSession && !sessionPresent {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}
