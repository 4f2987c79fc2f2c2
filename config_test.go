package x402

import (
	"strings"
	"testing"
	"time"
)

func TestConfig_ValidateAcceptsMinimal(t *testing.T) {
	cfg := testConfig(&MockFacilitator{})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfig_ValidateFailsFast(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"bad payTo", func(c *Config) { c.PayTo = "0x123" }, "payTo"},
		{"empty amount", func(c *Config) { c.PaymentAmount = "" }, "paymentAmount is required"},
		{"decimal amount", func(c *Config) { c.PaymentAmount = "0.01" }, "smallest unit"},
		{"negative amount", func(c *Config) { c.PaymentAmount = "-10" }, "smallest unit"},
		{"bad token address", func(c *Config) { c.TokenAddress = "usdc" }, "tokenAddress"},
		{"empty token name", func(c *Config) { c.TokenName = " " }, "tokenName"},
		{"negative decimals", func(c *Config) { c.TokenDecimals = -1 }, "tokenDecimals"},
		{"empty facilitator URL", func(c *Config) { c.FacilitatorURL = "" }, "facilitatorUrl is required"},
		{"non-http facilitator URL", func(c *Config) { c.FacilitatorURL = "ftp://x" }, "http(s)"},
		{"zero chain id", func(c *Config) { c.ChainID = 0 }, "chainId"},
		{"negative max age", func(c *Config) { c.MaxAuthorizationAge = -time.Second }, "maxAuthorizationAge"},
		{"nil nonce store", func(c *Config) { c.Nonces = nil }, "nonce store"},
		{"nil facilitator", func(c *Config) { c.Facilitator = nil }, "facilitator client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(&MockFacilitator{})
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error mentioning %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := testConfig(&MockFacilitator{}).withDefaults()

	if cfg.TokenVersion != "1" {
		t.Errorf("expected default tokenVersion 1, got %q", cfg.TokenVersion)
	}
	if cfg.Currency != "USDC" {
		t.Errorf("expected default currency USDC, got %q", cfg.Currency)
	}
	if cfg.MaxTimeoutSeconds != 300 {
		t.Errorf("expected default maxTimeoutSeconds 300, got %d", cfg.MaxTimeoutSeconds)
	}
	if cfg.Logger == nil {
		t.Error("expected default nop logger")
	}
}
