package grpc

import (
	"context"
	"strconv"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	x402 "github.com/x402arcade/x402-go"
	"github.com/x402arcade/x402-go/noncestore"
)

type stubFacilitator struct{}

func (stubFacilitator) Verify(ctx context.Context, req *x402.SettlementRequest) (*x402.VerifyResult, error) {
	return &x402.VerifyResult{IsValid: true}, nil
}

func (stubFacilitator) Settle(ctx context.Context, req *x402.SettlementRequest) (*x402.SettlementResponse, error) {
	return &x402.SettlementResponse{
		Success:         true,
		TransactionHash: "0xtx",
		BlockNumber:     7,
		SettledAt:       time.Now().UTC(),
	}, nil
}

func interceptorConfig() x402.Config {
	return x402.Config{
		PayTo:          "0x1111111111111111111111111111111111111111",
		PaymentAmount:  "10000",
		TokenAddress:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		TokenName:      "USD Coin",
		TokenDecimals:  6,
		FacilitatorURL: "http://facilitator.test",
		ChainID:        84532,
		Nonces:         noncestore.NewMemoryStore(),
		Facilitator:    stubFacilitator{},
	}
}

func encodedPayment(t *testing.T, nonce string) string {
	t.Helper()
	now := time.Now().Unix()
	payload := &x402.PaymentPayload{
		Version:     x402.ProtocolVersion,
		Scheme:      x402.SchemeExact,
		Network:     "base-sepolia",
		From:        "0x2222222222222222222222222222222222222222",
		To:          "0x1111111111111111111111111111111111111111",
		Value:       "10000",
		ValidAfter:  strconv.FormatInt(now-60, 10),
		ValidBefore: strconv.FormatInt(now+600, 10),
		Nonce:       nonce,
		V:           27,
		R:           "0x" + "11" + "00000000000000000000000000000000000000000000000000000000000000",
		S:           "0x" + "22" + "00000000000000000000000000000000000000000000000000000000000000",
	}
	encoded, err := x402.EncodePaymentHeader(x402.PayloadToHeader(payload))
	if err != nil {
		t.Fatalf("failed to encode payment: %v", err)
	}
	return encoded
}

func TestUnaryServerInterceptor_MissingPayment(t *testing.T) {
	interceptor := UnaryServerInterceptor(interceptorConfig())

	info := &grpc.UnaryServerInfo{FullMethod: "/arcade.v1.Arcade/InsertCoin"}
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not run without payment")
		return nil, nil
	})

	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected a gRPC status error, got %v", err)
	}
	if st.Code() != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition, got %v", st.Code())
	}
}

func TestUnaryServerInterceptor_ValidPayment(t *testing.T) {
	interceptor := UnaryServerInterceptor(interceptorConfig())

	md := metadata.Pairs(MetadataKeyPayment, encodedPayment(t,
		"0x0000000000000000000000000000000000000000000000000000000000000301"))
	ctx := metadata.NewIncomingContext(context.Background(), md)

	info := &grpc.UnaryServerInfo{FullMethod: "/arcade.v1.Arcade/InsertCoin"}
	resp, err := interceptor(ctx, "request", info, func(ctx context.Context, req any) (any, error) {
		payment, ok := x402.PaymentFromContext(ctx)
		if !ok {
			t.Fatal("expected payment info in handler context")
		}
		if payment.TransactionHash != "0xtx" {
			t.Errorf("expected settled transaction hash, got %q", payment.TransactionHash)
		}
		return "response", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp != "response" {
		t.Errorf("expected handler response to pass through, got %v", resp)
	}
}

func TestUnaryServerInterceptor_RejectedPayment(t *testing.T) {
	interceptor := UnaryServerInterceptor(interceptorConfig())

	// Reusing the same nonce must be rejected as InvalidArgument.
	nonce := "0x0000000000000000000000000000000000000000000000000000000000000302"
	md := metadata.Pairs(MetadataKeyPayment, encodedPayment(t, nonce))
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: "/arcade.v1.Arcade/InsertCoin"}
	handler := func(ctx context.Context, req any) (any, error) { return nil, nil }

	if _, err := interceptor(ctx, nil, info, handler); err != nil {
		t.Fatalf("first use should settle, got %v", err)
	}

	_, err := interceptor(ctx, nil, info, handler)
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected a gRPC status error, got %v", err)
	}
	if st.Code() != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for replayed nonce, got %v", st.Code())
	}
}

func TestUnaryServerInterceptor_PanicsOnInvalidConfig(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for invalid config")
		}
	}()
	UnaryServerInterceptor(x402.Config{})
}
