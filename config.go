package x402

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/x402arcade/x402-go/noncestore"
)

// Config holds one middleware instance's payment requirements and
// collaborators. It is immutable once validated; adapters share it by
// value.
type Config struct {
	// PayTo is the address that must receive the payment.
	PayTo string

	// PaymentAmount is the required amount in the token's smallest unit,
	// as a decimal string.
	PaymentAmount string

	// TokenAddress is the ERC-20 contract accepted for payment.
	TokenAddress string

	// TokenName is the human-readable token name, e.g. "USD Coin".
	TokenName string

	// TokenDecimals is the token's decimal count, e.g. 6 for USDC.
	TokenDecimals int

	// FacilitatorURL is the base URL of the settlement facilitator.
	FacilitatorURL string

	// ChainID identifies the settlement chain.
	ChainID int64

	// TokenVersion is the token's EIP-712 domain version. Defaults to "1".
	TokenVersion string

	// MaxAuthorizationAge, when set, rejects authorizations whose
	// validAfter lies further in the past.
	MaxAuthorizationAge time.Duration

	// MinValidityWindow, when set, rejects authorizations expiring sooner
	// than this from now; settlement would likely lose the race.
	MinValidityWindow time.Duration

	// Debug enables per-stage and facilitator request/response logging.
	Debug bool

	// Currency names the payment currency in 402 responses. Defaults to
	// "USDC".
	Currency string

	// Description explains what the payment buys.
	Description string

	// MaxTimeoutSeconds advertised in 402 responses. Defaults to 300.
	MaxTimeoutSeconds int

	// Nonces is the replay-protection store. Required.
	Nonces noncestore.Store

	// Facilitator performs verify and settle calls. Required; usually a
	// facilitator.Client built from FacilitatorURL.
	Facilitator Facilitator

	// Logger receives structured pipeline logs. Defaults to a nop logger.
	Logger *zap.Logger

	// Registry, when set, registers payment metrics with it.
	Registry prometheus.Registerer
}

// Validate checks the configuration eagerly, failing on the first invalid
// field. Config comes from the operator, so unlike client payloads a single
// precise error at startup beats an aggregate.
func (c *Config) Validate() error {
	if !IsAddress(c.PayTo) {
		return fmt.Errorf("payTo %q is not a valid address", c.PayTo)
	}
	if c.PaymentAmount == "" {
		return fmt.Errorf("paymentAmount is required")
	}
	amount, err := decimal.NewFromString(c.PaymentAmount)
	if err != nil || !amount.IsPositive() || !amount.IsInteger() {
		return fmt.Errorf("paymentAmount %q must be a positive integer in the token's smallest unit", c.PaymentAmount)
	}
	if !IsAddress(c.TokenAddress) {
		return fmt.Errorf("tokenAddress %q is not a valid address", c.TokenAddress)
	}
	if strings.TrimSpace(c.TokenName) == "" {
		return fmt.Errorf("tokenName is required")
	}
	if c.TokenDecimals < 0 {
		return fmt.Errorf("tokenDecimals must not be negative, got %d", c.TokenDecimals)
	}
	if c.FacilitatorURL == "" {
		return fmt.Errorf("facilitatorUrl is required")
	}
	if u, err := url.Parse(c.FacilitatorURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("facilitatorUrl %q is not a valid http(s) URL", c.FacilitatorURL)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chainId must be positive, got %d", c.ChainID)
	}
	if c.MaxAuthorizationAge < 0 {
		return fmt.Errorf("maxAuthorizationAge must not be negative")
	}
	if c.MinValidityWindow < 0 {
		return fmt.Errorf("minValidityWindow must not be negative")
	}
	if c.Nonces == nil {
		return fmt.Errorf("nonce store is required")
	}
	if c.Facilitator == nil {
		return fmt.Errorf("facilitator client is required")
	}
	return nil
}

// withDefaults returns a copy with optional fields filled in.
func (c Config) withDefaults() Config {
	if c.TokenVersion == "" {
		c.TokenVersion = "1"
	}
	if c.Currency == "" {
		c.Currency = "USDC"
	}
	if c.MaxTimeoutSeconds == 0 {
		c.MaxTimeoutSeconds = 300
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
