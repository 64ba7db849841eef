package supervisor

import "resume-gateway/internal/config"

// Variant names one of the backend entry points.
type Variant string

const (
	VariantDefault  Variant = "default"
	VariantPremium  Variant = "premium"
	VariantDatabase Variant = "database"
)

// SelectVariant picks the backend entry point for cfg. Persistence wins over
// premium, premium over default. It has no side effects.
func SelectVariant(cfg *config.Config) Variant {
	switch {
	case cfg.Features.DatabaseConfigured():
		return VariantDatabase
	case cfg.Features.Premium:
		return VariantPremium
	default:
		return VariantDefault
	}
}

// Entry returns the script launched for v.
func Entry(b *config.BackendConfig, v Variant) string {
	switch v {
	case VariantDatabase:
		return b.EntryDatabase
	case VariantPremium:
		return b.EntryPremium
	default:
		return b.EntryDefault
	}
}
