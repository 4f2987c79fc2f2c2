// Package grpc carries the x402 payment pipeline over native gRPC using
// metadata for payment signaling.
package grpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/metadata"

	x402 "github.com/x402arcade/x402-go"
)

const (
	// MetadataKeyPayment carries the client's base64 payment header.
	MetadataKeyPayment = "x-payment"

	// MetadataKeyPaymentRequired carries the base64 402 body on rejection.
	MetadataKeyPaymentRequired = "x-payment-required"

	// MetadataKeyPaymentResponse carries the settlement receipt in
	// trailing metadata.
	MetadataKeyPaymentResponse = "x-payment-response"
)

// PaymentFromMetadata extracts the raw payment header from incoming
// metadata, empty when absent.
func PaymentFromMetadata(md metadata.MD) string {
	values := md.Get(MetadataKeyPayment)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// DecodePaymentRequired decodes the base64 402 body from metadata set by
// the interceptors. Clients use it to learn what payment is expected.
func DecodePaymentRequired(encoded string) (*x402.PaymentRequiredResponse, error) {
	return x402.DecodePaymentRequired(encoded)
}

// DecodeReceipt decodes the settlement receipt from trailing metadata.
func DecodeReceipt(encoded string) (*x402.PaymentReceipt, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	var receipt x402.PaymentReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}
