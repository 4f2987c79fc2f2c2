package x402

import (
	"context"
	"time"
)

// Protocol constants shared by every transport adapter.
const (
	// ProtocolVersion is the x402 protocol version this module speaks.
	ProtocolVersion = "1"

	// SchemeExact is the only payment scheme supported: the authorization
	// must cover the required amount exactly or exceed it.
	SchemeExact = "exact"

	// HeaderPayment carries the client's base64-encoded signed authorization.
	HeaderPayment = "X-Payment"

	// HeaderPaymentRequired carries the base64-encoded 402 response body.
	HeaderPaymentRequired = "X-Payment-Required"

	// HeaderPaymentVersion advertises the protocol version on 402 responses.
	HeaderPaymentVersion = "X-Payment-Version"

	// HeaderPaymentResponse carries the base64-encoded settlement receipt on
	// successful responses.
	HeaderPaymentResponse = "X-Payment-Response"

	// HeaderFacilitatorVersion is sent on every outbound facilitator call.
	HeaderFacilitatorVersion = "X402-Version"
)

// ClockSkewTolerance is the allowed margin between client and server clocks
// when evaluating the authorization validity window.
const ClockSkewTolerance = 30 * time.Second

// PaymentPayload is the flat, normalized form of a signed transfer
// authorization. It is built once per request from the decoded X-Payment
// header and never mutated afterwards. All bigint-like fields are canonical
// decimal strings.
type PaymentPayload struct {
	Version     string `json:"version"`     // protocol version, "1"
	Scheme      string `json:"scheme"`      // payment scheme, "exact"
	Network     string `json:"network"`     // network identifier, e.g. "cronos-testnet"
	From        string `json:"from"`        // payer address, 20-byte hex
	To          string `json:"to"`          // recipient address, 20-byte hex
	Value       string `json:"value"`       // amount in smallest token unit
	ValidAfter  string `json:"validAfter"`  // unix seconds, decimal string
	ValidBefore string `json:"validBefore"` // unix seconds, decimal string
	Nonce       string `json:"nonce"`       // single-use value, 32-byte hex
	V           int    `json:"v"`           // signature recovery id, 27 or 28
	R           string `json:"r"`           // signature component, 32-byte hex
	S           string `json:"s"`           // signature component, 32-byte hex
}

// PaymentHeader is the nested wire shape of the X-Payment header value.
type PaymentHeader struct {
	X402Version NumericString        `json:"x402Version"`
	Scheme      string               `json:"scheme"`
	Network     string               `json:"network"`
	Payload     *SignedAuthorization `json:"payload"`
}

// SignedAuthorization pairs the authorization message with its signature
// components.
type SignedAuthorization struct {
	Message *AuthorizationMessage `json:"message"`
	V       NumericString         `json:"v"`
	R       string                `json:"r"`
	S       string                `json:"s"`
}

// AuthorizationMessage is the signed transfer authorization itself,
// following the EIP-3009 transferWithAuthorization field set.
type AuthorizationMessage struct {
	From        string        `json:"from"`
	To          string        `json:"to"`
	Value       NumericString `json:"value"`
	ValidAfter  NumericString `json:"validAfter"`
	ValidBefore NumericString `json:"validBefore"`
	Nonce       string        `json:"nonce"`
}

// Authorization is the flattened authorization plus signature as submitted
// to the facilitator.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	V           int    `json:"v"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// SettlementRequest is the body of both facilitator calls.
type SettlementRequest struct {
	Authorization Authorization `json:"authorization"`
	ChainID       int64         `json:"chainId"`
	TokenAddress  string        `json:"tokenAddress"`
	// PaymentHeader echoes the original X-Payment value so the facilitator
	// can audit exactly what the client signed.
	PaymentHeader string `json:"paymentHeader,omitempty"`
	Resource      string `json:"resource,omitempty"`
}

// VerifyResult is the facilitator's answer to a verify call.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettlementResponse is the facilitator's answer to a settle call. On
// success TransactionHash and BlockNumber are set; on failure ErrorCode and
// ErrorMessage are.
type SettlementResponse struct {
	Success         bool      `json:"success"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	ErrorCode       string    `json:"errorCode,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	SettledAt       time.Time `json:"settledAt"`
}

// SupportedInfo describes what the facilitator can settle. Used for health
// probing at startup.
type SupportedInfo struct {
	Kinds []SupportedKind `json:"kinds"`
}

// SupportedKind is a scheme+network pair the facilitator supports.
type SupportedKind struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// Facilitator is the outbound contract for payment verification and
// settlement. Implemented by facilitator.Client; tests substitute mocks.
type Facilitator interface {
	// Verify checks the authorization signature and payer balance without
	// moving funds.
	Verify(ctx context.Context, req *SettlementRequest) (*VerifyResult, error)

	// Settle executes the transfer on-chain.
	Settle(ctx context.Context, req *SettlementRequest) (*SettlementResponse, error)
}

// PaymentInfo is attached to the request context once a payment has been
// accepted. A settled payment carries TransactionHash, BlockNumber and
// SettledAt; a pending one carries ReceivedAt only.
type PaymentInfo struct {
	Payer         string `json:"payer"`
	Recipient     string `json:"recipient"`
	Amount        string `json:"amount"`        // smallest-unit integer
	AmountDecimal string `json:"amountDecimal"` // amount / 10^tokenDecimals
	TokenAddress  string `json:"tokenAddress"`
	ChainID       int64  `json:"chainId"`
	Nonce         string `json:"nonce"`

	TransactionHash string     `json:"transactionHash,omitempty"`
	BlockNumber     uint64     `json:"blockNumber,omitempty"`
	SettledAt       *time.Time `json:"settledAt,omitempty"`
	ReceivedAt      *time.Time `json:"receivedAt,omitempty"`
}

// Settled reports whether the payment has been executed on-chain.
func (p *PaymentInfo) Settled() bool {
	return p.SettledAt != nil
}

// PaymentRequiredResponse is the body of a 402 response, also delivered
// base64-encoded in the X-Payment-Required header.
type PaymentRequiredResponse struct {
	X402Version       string         `json:"x402Version"`
	Amount            string         `json:"amount"`
	Currency          string         `json:"currency"`
	PayTo             string         `json:"payTo"`
	ChainID           int64          `json:"chainId"`
	TokenAddress      string         `json:"tokenAddress"`
	Description       string         `json:"description"`
	Resource          string         `json:"resource"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Accepts           []AcceptOption `json:"accepts"`
}

// AcceptOption is one accepted payment method in a 402 response.
type AcceptOption struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Asset   Asset  `json:"asset"`
}

// Asset describes the token accepted for payment.
type Asset struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals,omitempty"`
}

// PaymentReceipt is sent in the X-Payment-Response header after a
// successful settlement.
type PaymentReceipt struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash,omitempty"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
	Payer           string `json:"payer,omitempty"`
}

type contextKey string

// paymentInfoKey is the context key under which adapters attach PaymentInfo.
const paymentInfoKey contextKey = "x402-payment-info"

// WithPaymentInfo returns a context carrying the accepted payment.
func WithPaymentInfo(ctx context.Context, info *PaymentInfo) context.Context {
	return context.WithValue(ctx, paymentInfoKey, info)
}

// PaymentFromContext extracts the accepted payment from the request context.
func PaymentFromContext(ctx context.Context) (*PaymentInfo, bool) {
	info, ok := ctx.Value(paymentInfoKey).(*PaymentInfo)
	return info, ok
}

// RequirePayment extracts the payment from context and fails if the request
// did not pass through the payment pipeline.
func RequirePayment(ctx context.Context) (*PaymentInfo, error) {
	info, ok := PaymentFromContext(ctx)
	if !ok {
		return nil, ErrPaymentContextMissing
	}
	return info, nil
}
