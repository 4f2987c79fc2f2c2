package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestProcessor(t *testing.T, cfg Config) *Processor {
	t.Helper()
	processor, err := NewProcessor(cfg)
	if err != nil {
		t.Fatalf("failed to build processor: %v", err)
	}
	return processor
}

func TestProcessor_ValidityWindow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name        string
		validAfter  int64
		validBefore int64
		wantCode    Code // empty means the payment should settle
	}{
		{"inside window", base.Unix() - 60, base.Unix() + 600, ""},
		{"validAfter 10s in the future, within skew", base.Unix() + 10, base.Unix() + 600, ""},
		{"validAfter exactly at skew boundary", base.Unix() + 30, base.Unix() + 600, ""},
		{"validAfter 31s in the future", base.Unix() + 31, base.Unix() + 600, CodeAuthorizationNotYetValid},
		{"validBefore 31s ago", base.Unix() - 600, base.Unix() - 31, CodeAuthorizationExpired},
		{"validBefore 10s ago, within skew", base.Unix() - 600, base.Unix() - 10, ""},
		{"validBefore exactly at skew boundary", base.Unix() - 600, base.Unix() - 30, CodeAuthorizationExpired},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := newTestProcessor(t, testConfig(&MockFacilitator{}))
			processor.now = func() time.Time { return base }

			payload := testPayload(testNonce(100 + i))
			payload.ValidAfter = strconv.FormatInt(tt.validAfter, 10)
			payload.ValidBefore = strconv.FormatInt(tt.validBefore, 10)

			outcome := processor.Process(context.Background(), ProcessRequest{
				Header:   encodeTestPayment(t, payload),
				Resource: "/v1/paid",
			})

			if tt.wantCode == "" {
				if !outcome.Continue() {
					t.Fatalf("expected payment to settle, got response: %s", outcome.Response.Body)
				}
				return
			}
			if outcome.Continue() {
				t.Fatal("expected rejection")
			}
			if body := decodeEnvelope(t, outcome.Response.Body); body.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, body.Code)
			}
		})
	}
}

func TestProcessor_MaxAuthorizationAge(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	cfg := testConfig(&MockFacilitator{})
	cfg.MaxAuthorizationAge = 5 * time.Minute

	processor := newTestProcessor(t, cfg)
	processor.now = func() time.Time { return base }

	payload := testPayload(testNonce(110))
	payload.ValidAfter = strconv.FormatInt(base.Unix()-3600, 10)
	payload.ValidBefore = strconv.FormatInt(base.Unix()+3600, 10)

	outcome := processor.Process(context.Background(), ProcessRequest{Header: encodeTestPayment(t, payload)})
	if outcome.Continue() {
		t.Fatal("expected stale authorization to be rejected")
	}
	if body := decodeEnvelope(t, outcome.Response.Body); body.Code != CodeAuthorizationExpired {
		t.Errorf("expected code %s, got %s", CodeAuthorizationExpired, body.Code)
	}
}

func TestProcessor_URLSafeBase64Header(t *testing.T) {
	processor := newTestProcessor(t, testConfig(&MockFacilitator{}))

	standard := encodeTestPayment(t, testPayload(testNonce(120)))
	raw, err := base64.StdEncoding.DecodeString(standard)
	if err != nil {
		t.Fatalf("fixture is not standard base64: %v", err)
	}

	// URL-safe alphabet with padding stripped, as some clients send.
	urlSafe := strings.TrimRight(base64.URLEncoding.EncodeToString(raw), "=")

	outcome := processor.Process(context.Background(), ProcessRequest{Header: urlSafe})
	if !outcome.Continue() {
		t.Fatalf("expected URL-safe unpadded header to be accepted, got: %s", outcome.Response.Body)
	}
}

func TestProcessor_AggregatedValidationErrors(t *testing.T) {
	processor := newTestProcessor(t, testConfig(&MockFacilitator{}))

	payload := testPayload(testNonce(130))
	payload.From = "not-an-address"
	payload.Value = "-5"
	payload.V = 99

	outcome := processor.Process(context.Background(), ProcessRequest{Header: encodeTestPayment(t, payload)})
	if outcome.Continue() {
		t.Fatal("expected rejection")
	}
	if outcome.Response.Status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", outcome.Response.Status)
	}

	body := decodeEnvelope(t, outcome.Response.Body)
	if body.Code != CodeInvalidPayload {
		t.Fatalf("expected code %s, got %s", CodeInvalidPayload, body.Code)
	}
	count, ok := body.Context["errorCount"].(float64)
	if !ok || int(count) < 3 {
		t.Errorf("expected at least 3 aggregated violations, got context %v", body.Context)
	}
}

func TestProcessor_FacilitatorBusinessRejection(t *testing.T) {
	facilitator := &MockFacilitator{
		SettleFunc: func(ctx context.Context, req *SettlementRequest) (*SettlementResponse, error) {
			return &SettlementResponse{
				Success:      false,
				ErrorCode:    "INSUFFICIENT_FUNDS",
				ErrorMessage: "payer balance too low",
			}, nil
		},
	}
	processor := newTestProcessor(t, testConfig(facilitator))

	outcome := processor.Process(context.Background(), ProcessRequest{
		Header: encodeTestPayment(t, testPayload(testNonce(140))),
	})
	if outcome.Continue() {
		t.Fatal("expected rejection")
	}
	body := decodeEnvelope(t, outcome.Response.Body)
	if body.Code != CodeInsufficientBalance {
		t.Errorf("expected code %s, got %s", CodeInsufficientBalance, body.Code)
	}
	if body.Details["facilitatorCode"] != "INSUFFICIENT_FUNDS" {
		t.Errorf("expected facilitatorCode detail, got %v", body.Details)
	}
}

func TestProcessor_TimeoutMapsTo504(t *testing.T) {
	facilitator := &MockFacilitator{
		SettleFunc: func(ctx context.Context, req *SettlementRequest) (*SettlementResponse, error) {
			return nil, SettlementFromError(context.DeadlineExceeded, 30*time.Second)
		},
	}
	processor := newTestProcessor(t, testConfig(facilitator))

	outcome := processor.Process(context.Background(), ProcessRequest{
		Header: encodeTestPayment(t, testPayload(testNonce(150))),
	})
	if outcome.Continue() {
		t.Fatal("expected rejection")
	}
	if outcome.Response.Status != http.StatusGatewayTimeout {
		t.Fatalf("expected status 504, got %d", outcome.Response.Status)
	}
	if body := decodeEnvelope(t, outcome.Response.Body); body.Code != CodeTimeout {
		t.Errorf("expected code %s, got %s", CodeTimeout, body.Code)
	}
}

func TestProcessor_PanicBecomesInternalError(t *testing.T) {
	facilitator := &MockFacilitator{
		VerifyFunc: func(ctx context.Context, req *SettlementRequest) (*VerifyResult, error) {
			panic("facilitator client bug")
		},
	}
	processor := newTestProcessor(t, testConfig(facilitator))

	outcome := processor.Process(context.Background(), ProcessRequest{
		Header: encodeTestPayment(t, testPayload(testNonce(160))),
	})
	if outcome.Continue() {
		t.Fatal("expected rejection")
	}
	if outcome.Response.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", outcome.Response.Status)
	}
	if body := decodeEnvelope(t, outcome.Response.Body); body.Code != CodeInternalError {
		t.Errorf("expected code %s, got %s", CodeInternalError, body.Code)
	}
}

func TestProcessor_ReceiptRoundTrip(t *testing.T) {
	processor := newTestProcessor(t, testConfig(&MockFacilitator{}))

	outcome := processor.Process(context.Background(), ProcessRequest{
		Header: encodeTestPayment(t, testPayload(testNonce(170))),
	})
	if !outcome.Continue() {
		t.Fatalf("expected settlement, got: %s", outcome.Response.Body)
	}

	raw, err := base64.StdEncoding.DecodeString(outcome.ReceiptHeader)
	if err != nil {
		t.Fatalf("receipt is not base64: %v", err)
	}
	var receipt PaymentReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		t.Fatalf("receipt is not JSON: %v", err)
	}
	if receipt.Payer != testPayer {
		t.Errorf("expected payer %s, got %s", testPayer, receipt.Payer)
	}
}
