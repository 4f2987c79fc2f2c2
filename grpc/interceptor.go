package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	x402 "github.com/x402arcade/x402-go"
)

// UnaryServerInterceptor returns a unary interceptor that requires a
// settled x402 payment before invoking the handler. The payment header
// is read from "x-payment" metadata; on rejection the call fails with a
// gRPC status mirroring the HTTP error mapping, and a base64 payment
// requirements document is attached to response headers under
// "x-payment-required". On success the payment details are attached to
// the handler context and the settlement receipt is sent as trailing
// metadata.
//
// Panics if the config is invalid, so misconfiguration is caught at
// server construction.
func UnaryServerInterceptor(cfg x402.Config) grpc.UnaryServerInterceptor {
	processor, err := x402.NewProcessor(cfg)
	if err != nil {
		panic(fmt.Sprintf("x402/grpc: invalid config: %v", err))
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		outcome := process(ctx, processor, info.FullMethod)
		if !outcome.Continue() {
			return nil, rejectCall(ctx, outcome.Response)
		}
		if outcome.ReceiptHeader != "" {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(MetadataKeyPaymentResponse, outcome.ReceiptHeader))
		}
		return handler(x402.WithPaymentInfo(ctx, outcome.Payment), req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor. The payment is verified and settled once, when
// the stream opens.
func StreamServerInterceptor(cfg x402.Config) grpc.StreamServerInterceptor {
	processor, err := x402.NewProcessor(cfg)
	if err != nil {
		panic(fmt.Sprintf("x402/grpc: invalid config: %v", err))
	}

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		outcome := process(ctx, processor, info.FullMethod)
		if !outcome.Continue() {
			return rejectCall(ctx, outcome.Response)
		}
		if outcome.ReceiptHeader != "" {
			ss.SetTrailer(metadata.Pairs(MetadataKeyPaymentResponse, outcome.ReceiptHeader))
		}
		return handler(srv, &paidStream{
			ServerStream: ss,
			ctx:          x402.WithPaymentInfo(ctx, outcome.Payment),
		})
	}
}

func process(ctx context.Context, processor *x402.Processor, method string) x402.Outcome {
	md, _ := metadata.FromIncomingContext(ctx)
	return processor.Process(ctx, x402.ProcessRequest{
		Header:   PaymentFromMetadata(md),
		Resource: method,
	})
}

// rejectCall translates a pipeline response into a gRPC status error.
// The 402 body travels as response-header metadata because gRPC has no
// equivalent of an HTTP body on error.
func rejectCall(ctx context.Context, resp *x402.Response) error {
	code := codeForStatus(resp.Status)
	if resp.Status == http.StatusPaymentRequired {
		if required, ok := resp.Header[x402.HeaderPaymentRequired]; ok {
			_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataKeyPaymentRequired, required))
		}
		return status.Error(code, "payment required")
	}

	var envelope x402.Envelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return status.Error(code, "payment rejected")
	}
	return status.Errorf(code, "%s: %s", envelope.Error.Code, envelope.Error.Message)
}

func codeForStatus(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusPaymentRequired:
		return codes.FailedPrecondition
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusBadGateway:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
