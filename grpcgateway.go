package x402

import (
	"context"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/metadata"
)

// WithPaymentMetadata returns a ServeMuxOption that propagates settled
// payment information from HTTP context into gRPC metadata, making it
// visible to gRPC handlers behind a grpc-gateway.
func WithPaymentMetadata() runtime.ServeMuxOption {
	return runtime.WithMetadata(func(ctx context.Context, r *http.Request) metadata.MD {
		md := metadata.MD{}

		info, ok := PaymentFromContext(ctx)
		if !ok || info == nil {
			return md
		}

		md.Set("x-payment-payer", info.Payer)
		md.Set("x-payment-amount", info.Amount)
		md.Set("x-payment-amount-decimal", info.AmountDecimal)
		md.Set("x-payment-nonce", info.Nonce)
		md.Set("x-payment-chain-id", strconv.FormatInt(info.ChainID, 10))
		if info.TransactionHash != "" {
			md.Set("x-payment-tx-hash", info.TransactionHash)
		}
		return md
	})
}

// PaymentFromGatewayMetadata reconstructs payment information from gRPC
// metadata set by WithPaymentMetadata. Use this in gRPC handlers served
// behind a grpc-gateway.
func PaymentFromGatewayMetadata(ctx context.Context) (*PaymentInfo, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, false
	}

	payer := md.Get("x-payment-payer")
	if len(payer) == 0 {
		return nil, false
	}

	info := &PaymentInfo{Payer: payer[0]}
	if v := md.Get("x-payment-amount"); len(v) > 0 {
		info.Amount = v[0]
	}
	if v := md.Get("x-payment-amount-decimal"); len(v) > 0 {
		info.AmountDecimal = v[0]
	}
	if v := md.Get("x-payment-nonce"); len(v) > 0 {
		info.Nonce = v[0]
	}
	if v := md.Get("x-payment-chain-id"); len(v) > 0 {
		if id, err := strconv.ParseInt(v[0], 10, 64); err == nil {
			info.ChainID = id
		}
	}
	if v := md.Get("x-payment-tx-hash"); len(v) > 0 {
		info.TransactionHash = v[0]
	}
	return info, true
}
