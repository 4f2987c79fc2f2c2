package x402

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	bytes32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	integerPattern = regexp.MustCompile(`^[0-9]+$`)
)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool { return addressPattern.MatchString(s) }

// IsBytes32 reports whether s is a 0x-prefixed 32-byte hex value.
func IsBytes32(s string) bool { return bytes32Pattern.MatchString(s) }

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool { return strings.EqualFold(a, b) }

// isPositiveInteger reports whether s is a decimal integer greater than zero.
func isPositiveInteger(s string) bool {
	if !integerPattern.MatchString(s) {
		return false
	}
	d, err := decimal.NewFromString(s)
	return err == nil && d.IsPositive()
}

// ValidationResult aggregates every structural violation found in a payload.
type ValidationResult struct {
	Valid  bool
	Errors []*ValidationError
}

// ValidatePaymentPayload checks a flattened payload structurally. It never
// short-circuits: all violations are collected so a client can fix its
// request in one round trip.
func ValidatePaymentPayload(p *PaymentPayload) ValidationResult {
	var errs []*ValidationError

	if p.Version != ProtocolVersion {
		errs = append(errs, VersionMismatch(p.Version))
	}
	if p.Scheme != SchemeExact {
		errs = append(errs, SchemeMismatch(p.Scheme))
	}
	if strings.TrimSpace(p.Network) == "" {
		errs = append(errs, InvalidNetwork(p.Network))
	}
	if !IsAddress(p.From) {
		errs = append(errs, InvalidAddress("from", p.From))
	}
	if !IsAddress(p.To) {
		errs = append(errs, InvalidAddress("to", p.To))
	}
	if !isPositiveInteger(p.Value) {
		errs = append(errs, TypeMismatch("value", "positive integer as a decimal string", p.Value))
	}
	if !integerPattern.MatchString(p.ValidAfter) {
		errs = append(errs, InvalidTimestamp("validAfter", p.ValidAfter))
	}
	if !integerPattern.MatchString(p.ValidBefore) {
		errs = append(errs, InvalidTimestamp("validBefore", p.ValidBefore))
	}
	if integerPattern.MatchString(p.ValidAfter) && integerPattern.MatchString(p.ValidBefore) {
		after, err1 := decimal.NewFromString(p.ValidAfter)
		before, err2 := decimal.NewFromString(p.ValidBefore)
		if err1 == nil && err2 == nil && !after.LessThan(before) {
			errs = append(errs, TypeMismatch("validBefore", "validAfter < validBefore", p.ValidBefore))
		}
	}
	if !IsBytes32(p.Nonce) {
		errs = append(errs, InvalidNonce(p.Nonce))
	}
	if p.V != 27 && p.V != 28 {
		errs = append(errs, InvalidSignatureComponent("v", ""))
	}
	if !IsBytes32(p.R) {
		errs = append(errs, InvalidSignatureComponent("r", p.R))
	}
	if !IsBytes32(p.S) {
		errs = append(errs, InvalidSignatureComponent("s", p.S))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateSettlementRequest mirrors payload validation for the outbound
// settlement shape.
func ValidateSettlementRequest(req *SettlementRequest) ValidationResult {
	var errs []*ValidationError

	auth := req.Authorization
	if !IsAddress(auth.From) {
		errs = append(errs, InvalidAddress("authorization.from", auth.From))
	}
	if !IsAddress(auth.To) {
		errs = append(errs, InvalidAddress("authorization.to", auth.To))
	}
	if !isPositiveInteger(auth.Value) {
		errs = append(errs, TypeMismatch("authorization.value", "positive integer as a decimal string", auth.Value))
	}
	if !IsBytes32(auth.Nonce) {
		errs = append(errs, InvalidNonce(auth.Nonce))
	}
	if !IsAddress(req.TokenAddress) {
		errs = append(errs, InvalidAddress("tokenAddress", req.TokenAddress))
	}
	if req.ChainID <= 0 {
		errs = append(errs, TypeMismatch("chainId", "positive integer", ""))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
