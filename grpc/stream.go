package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// paidStream swaps the stream context for one carrying the settled
// payment, so handlers can call x402.PaymentFromContext as usual.
type paidStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *paidStream) Context() context.Context {
	return s.ctx
}
