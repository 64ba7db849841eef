package supervisor

import (
	"testing"

	"resume-gateway/internal/config"
)

func TestSelectVariant(t *testing.T) {
	tests := []struct {
		name     string
		features config.FeaturesConfig
		want     Variant
	}{
		{"nothing configured", config.FeaturesConfig{}, VariantDefault},
		{"premium only", config.FeaturesConfig{Premium: true}, VariantPremium},
		{"database only", config.FeaturesConfig{DatabaseURL: "postgres://db"}, VariantDatabase},
		{"database wins over premium", config.FeaturesConfig{DatabaseURL: "postgres://db", Premium: true}, VariantDatabase},
		{"blank database url ignored", config.FeaturesConfig{DatabaseURL: "   ", Premium: true}, VariantPremium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Features: tt.features}
			if got := SelectVariant(cfg); got != tt.want {
				t.Errorf("SelectVariant() = %q, want %q", got, tt.want)
			}
			// Pure: same input, same answer.
			if again := SelectVariant(cfg); again != tt.want {
				t.Errorf("second SelectVariant() = %q, want %q", again, tt.want)
			}
		})
	}
}

func TestEntry(t *testing.T) {
	b := &config.BackendConfig{
		EntryDefault:  "main.py",
		EntryPremium:  "premium_app.py",
		EntryDatabase: "app_with_database.py",
	}

	tests := []struct {
		variant Variant
		want    string
	}{
		{VariantDefault, "main.py"},
		{VariantPremium, "premium_app.py"},
		{VariantDatabase, "app_with_database.py"},
		{Variant("unknown"), "main.py"},
	}

	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			if got := Entry(b, tt.variant); got != tt.want {
				t.Errorf("Entry(%q) = %q, want %q", tt.variant, got, tt.want)
			}
		})
	}
}
