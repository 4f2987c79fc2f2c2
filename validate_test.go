package x402

import (
	"testing"
)

func TestValidatePaymentPayload_Valid(t *testing.T) {
	result := ValidatePaymentPayload(testPayload(testNonce(1)))
	if !result.Valid {
		t.Fatalf("expected valid payload, got %d errors: %v", len(result.Errors), result.Errors)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %d", len(result.Errors))
	}
}

func TestValidatePaymentPayload_ReportsAllViolations(t *testing.T) {
	payload := testPayload(testNonce(2))
	payload.From = "nope"
	payload.To = "0x123" // too short
	payload.Value = "-1"
	payload.ValidAfter = "tomorrow"
	payload.Nonce = "0xshort"
	payload.V = 26
	payload.R = "bad"

	result := ValidatePaymentPayload(payload)
	if result.Valid {
		t.Fatal("expected invalid payload")
	}
	if len(result.Errors) < 7 {
		t.Errorf("expected all 7 violations reported, got %d: %v", len(result.Errors), result.Errors)
	}

	fields := make(map[string]bool)
	for _, err := range result.Errors {
		fields[err.Field] = true
	}
	for _, field := range []string{"from", "to", "value", "validAfter", "nonce", "v", "r"} {
		if !fields[field] {
			t.Errorf("expected a violation for field %q, got fields %v", field, fields)
		}
	}
}

func TestValidatePaymentPayload_WindowOrdering(t *testing.T) {
	payload := testPayload(testNonce(3))
	payload.ValidAfter = "1700000600"
	payload.ValidBefore = "1700000000"

	result := ValidatePaymentPayload(payload)
	if result.Valid {
		t.Fatal("expected invalid payload when validAfter >= validBefore")
	}
}

func TestValidatePaymentPayload_SignatureComponents(t *testing.T) {
	for _, v := range []int{27, 28} {
		payload := testPayload(testNonce(4))
		payload.V = v
		if result := ValidatePaymentPayload(payload); !result.Valid {
			t.Errorf("v=%d should be accepted: %v", v, result.Errors)
		}
	}
	for _, v := range []int{0, 1, 26, 29} {
		payload := testPayload(testNonce(5))
		payload.V = v
		if result := ValidatePaymentPayload(payload); result.Valid {
			t.Errorf("v=%d should be rejected", v)
		}
	}
}

func TestIsAddress(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{testPayTo, true},
		{"0xAbCdEf1234567890aBcDeF1234567890AbCdEf12", true},
		{"0x123", false},
		{"1111111111111111111111111111111111111111", false}, // no prefix
		{"0xGGGG111111111111111111111111111111111111", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsAddress(tt.in); got != tt.want {
			t.Errorf("IsAddress(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0xABCDEF1234567890ABCDEF1234567890ABCDEF12", "0xabcdef1234567890abcdef1234567890abcdef12") {
		t.Error("expected case-insensitive address equality")
	}
	if SameAddress(testPayTo, testPayer) {
		t.Error("expected distinct addresses to differ")
	}
}

func TestValidateSettlementRequest(t *testing.T) {
	good := NewSettlementRequest(testPayload(testNonce(6)), testChainID, testToken, "", "")
	if result := ValidateSettlementRequest(good); !result.Valid {
		t.Errorf("expected valid request, got %v", result.Errors)
	}

	bad := NewSettlementRequest(testPayload(testNonce(7)), 0, "", "", "")
	bad.Authorization.From = ""
	result := ValidateSettlementRequest(bad)
	if result.Valid {
		t.Fatal("expected invalid request")
	}
	if len(result.Errors) < 3 {
		t.Errorf("expected aggregated violations, got %d", len(result.Errors))
	}
}
