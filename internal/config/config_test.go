package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DEFAULT_BRANCH_ID", "")
	t.Setenv("WALKIN_TAX_ID", "")
	t.Setenv("TAX_RATE", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.DefaultBranchID != "principal" {
		t.Fatalf("expected default branch principal, got %q", cfg.DefaultBranchID)
	}
	if cfg.WalkInTaxID != "0" {
		t.Fatalf("expected walk-in tax id 0, got %q", cfg.WalkInTaxID)
	}
	if cfg.TaxRate.StringFixed(2) != "0.13" {
		t.Fatalf("expected default tax rate 0.13, got %s", cfg.TaxRate)
	}
}

func TestLoadRejectsMalformedTaxRate(t *testing.T) {
	t.Setenv("TAX_RATE", "not-a-number")

	cfg := Load()
	if cfg.TaxRate.StringFixed(2) != "0.13" {
		t.Fatalf("expected fallback tax rate 0.13, got %s", cfg.TaxRate)
	}

	t.Setenv("TAX_RATE", "-0.5")
	cfg = Load()
	if cfg.TaxRate.StringFixed(2) != "0.13" {
		t.Fatalf("expected negative tax rate to fall back to 0.13, got %s", cfg.TaxRate)
	}
}

func TestAddress(t *testing.T) {
	t.Setenv("PORT", "9191")

	cfg := Load()
	if cfg.Address() != ":9191" {
		t.Fatalf("expected :9191, got %q", cfg.Address())
	}
}
