package x402

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrPaymentContextMissing is returned by RequirePayment when a handler runs
// outside the payment pipeline.
var ErrPaymentContextMissing = errors.New("x402: payment context not found")

// Code identifies one protocol fault. The set is closed: every error leaving
// this module carries exactly one of these codes.
type Code string

const (
	CodeMissingHeader            Code = "MISSING_HEADER"
	CodeInvalidJSON              Code = "INVALID_JSON"
	CodeInvalidVersion           Code = "INVALID_VERSION"
	CodeInvalidScheme            Code = "INVALID_SCHEME"
	CodeInvalidNetwork           Code = "INVALID_NETWORK"
	CodeInvalidPayload           Code = "INVALID_PAYLOAD"
	CodeAmountMismatch           Code = "AMOUNT_MISMATCH"
	CodeRecipientMismatch        Code = "RECIPIENT_MISMATCH"
	CodeAuthorizationExpired     Code = "AUTHORIZATION_EXPIRED"
	CodeAuthorizationNotYetValid Code = "AUTHORIZATION_NOT_YET_VALID"
	CodeInvalidSignature         Code = "INVALID_SIGNATURE"
	CodeInsufficientBalance      Code = "INSUFFICIENT_BALANCE"
	CodeNonceAlreadyUsed         Code = "NONCE_ALREADY_USED"
	CodeInvalidToken             Code = "INVALID_TOKEN"
	CodeUnsupportedChain         Code = "UNSUPPORTED_CHAIN"
	CodeFacilitatorError         Code = "FACILITATOR_ERROR"
	CodeNetworkError             Code = "NETWORK_ERROR"
	CodeTimeout                  Code = "TIMEOUT"
	CodeInternalError            Code = "INTERNAL_ERROR"
)

// codeStatus maps every code to its default HTTP status.
var codeStatus = map[Code]int{
	CodeMissingHeader:            http.StatusPaymentRequired,
	CodeInvalidJSON:              http.StatusBadRequest,
	CodeInvalidVersion:           http.StatusBadRequest,
	CodeInvalidScheme:            http.StatusBadRequest,
	CodeInvalidNetwork:           http.StatusBadRequest,
	CodeInvalidPayload:           http.StatusBadRequest,
	CodeAmountMismatch:           http.StatusBadRequest,
	CodeRecipientMismatch:        http.StatusBadRequest,
	CodeAuthorizationExpired:     http.StatusBadRequest,
	CodeAuthorizationNotYetValid: http.StatusBadRequest,
	CodeInvalidSignature:         http.StatusBadRequest,
	CodeInsufficientBalance:      http.StatusBadRequest,
	CodeNonceAlreadyUsed:         http.StatusBadRequest,
	CodeInvalidToken:             http.StatusBadRequest,
	CodeUnsupportedChain:         http.StatusBadRequest,
	CodeFacilitatorError:         http.StatusBadGateway,
	CodeNetworkError:             http.StatusBadGateway,
	CodeTimeout:                  http.StatusGatewayTimeout,
	CodeInternalError:            http.StatusInternalServerError,
}

// codeMessage holds the default message template per code.
var codeMessage = map[Code]string{
	CodeMissingHeader:            "payment required: missing X-Payment header",
	CodeInvalidJSON:              "payment header is not valid JSON",
	CodeInvalidVersion:           "unsupported x402 version",
	CodeInvalidScheme:            "unsupported payment scheme",
	CodeInvalidNetwork:           "unsupported or missing network",
	CodeInvalidPayload:           "payment payload failed validation",
	CodeAmountMismatch:           "payment amount does not cover the required amount",
	CodeRecipientMismatch:        "payment recipient does not match the configured payTo address",
	CodeAuthorizationExpired:     "payment authorization has expired",
	CodeAuthorizationNotYetValid: "payment authorization is not yet valid",
	CodeInvalidSignature:         "payment signature verification failed",
	CodeInsufficientBalance:      "payer balance is insufficient",
	CodeNonceAlreadyUsed:         "payment nonce has already been used",
	CodeInvalidToken:             "unsupported payment token",
	CodeUnsupportedChain:         "unsupported chain",
	CodeFacilitatorError:         "facilitator request failed",
	CodeNetworkError:             "could not reach the facilitator",
	CodeTimeout:                  "facilitator request timed out",
	CodeInternalError:            "internal payment processing error",
}

// StatusForCode returns the default HTTP status for a code, falling back to
// 500 for codes outside the taxonomy.
func StatusForCode(code Code) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the contract every protocol fault satisfies. The pipeline and
// all adapters dispatch on Code and HTTPStatus, never on dynamic types.
type Error interface {
	error
	Code() Code
	HTTPStatus() int
	Envelope() Envelope
}

// Envelope is the stable outward JSON shape of every error:
// {"error":{"code","message","details?","timestamp"}}. The details key is
// omitted entirely when unset, never null.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody is the inner error object. Field, Expected, Actual and
// Context are populated by the validation variant only.
type EnvelopeBody struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
	Field     string         `json:"field,omitempty"`
	Expected  string         `json:"expected,omitempty"`
	Actual    string         `json:"actual,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ProtocolError is the base variant: a generic protocol fault carrying a
// code, message, HTTP status, optional details and a creation timestamp.
type ProtocolError struct {
	code      Code
	message   string
	status    int
	details   map[string]any
	timestamp time.Time
	cause     error
}

// NewError creates a base error with the default message and status for the
// given code.
func NewError(code Code) *ProtocolError {
	return NewErrorf(code, "%s", codeMessage[code])
}

// NewErrorf creates a base error with a custom message.
func NewErrorf(code Code, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		code:      code,
		message:   fmt.Sprintf(format, args...),
		status:    StatusForCode(code),
		timestamp: time.Now().UTC(),
	}
}

// WithDetails attaches diagnostic key/value pairs to the error. Values must
// not contain secrets beyond wallet addresses and nonces.
func (e *ProtocolError) WithDetails(kv ...any) *ProtocolError {
	if e.details == nil {
		e.details = make(map[string]any, len(kv)/2)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			e.details[key] = kv[i+1]
		}
	}
	return e
}

// WithCause records the underlying error for unwrapping.
func (e *ProtocolError) WithCause(cause error) *ProtocolError {
	e.cause = cause
	return e
}

func (e *ProtocolError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *ProtocolError) Unwrap() error { return e.cause }

// Code returns the taxonomy code.
func (e *ProtocolError) Code() Code { return e.code }

// HTTPStatus returns the status the error maps to.
func (e *ProtocolError) HTTPStatus() int { return e.status }

// Message returns the human-readable message.
func (e *ProtocolError) Message() string { return e.message }

// Details returns the attached diagnostics, nil when none.
func (e *ProtocolError) Details() map[string]any { return e.details }

// Timestamp returns the error creation time.
func (e *ProtocolError) Timestamp() time.Time { return e.timestamp }

// Envelope renders the outward JSON shape.
func (e *ProtocolError) Envelope() Envelope {
	return Envelope{Error: EnvelopeBody{
		Code:      e.code,
		Message:   e.message,
		Details:   e.details,
		Timestamp: e.timestamp.Format(time.RFC3339),
	}}
}

// settlementCodeMap remaps facilitator-reported error codes onto the
// internal taxonomy.
var settlementCodeMap = map[string]Code{
	"EXPIRED_AUTHORIZATION":       CodeAuthorizationExpired,
	"AUTHORIZATION_NOT_YET_VALID": CodeAuthorizationNotYetValid,
	"INVALID_SIGNATURE":           CodeInvalidSignature,
	"INSUFFICIENT_BALANCE":        CodeInsufficientBalance,
	"INSUFFICIENT_FUNDS":          CodeInsufficientBalance,
	"NONCE_ALREADY_USED":          CodeNonceAlreadyUsed,
	"NONCE_USED":                  CodeNonceAlreadyUsed,
	"INVALID_TOKEN":               CodeInvalidToken,
	"UNSUPPORTED_TOKEN":           CodeInvalidToken,
	"UNSUPPORTED_CHAIN":           CodeUnsupportedChain,
	"UNSUPPORTED_NETWORK":         CodeUnsupportedChain,
	"AMOUNT_MISMATCH":             CodeAmountMismatch,
	"RECIPIENT_MISMATCH":          CodeRecipientMismatch,
}

// FromSettlementErrorCode maps a facilitator-reported code onto the internal
// taxonomy. Unknown codes become FACILITATOR_ERROR so callers always see a
// code they can branch on.
func FromSettlementErrorCode(code, message string) *ProtocolError {
	mapped, ok := settlementCodeMap[code]
	if !ok {
		mapped = CodeFacilitatorError
	}
	if message == "" {
		message = codeMessage[mapped]
	}
	return NewErrorf(mapped, "%s", message).WithDetails("facilitatorCode", code)
}

// Wrap normalizes any error into the taxonomy: typed errors pass through
// unchanged, everything else becomes INTERNAL_ERROR carrying the original
// type name.
func Wrap(err error) Error {
	if err == nil {
		return nil
	}
	var typed Error
	if errors.As(err, &typed) {
		return typed
	}
	return NewError(CodeInternalError).
		WithDetails("cause", fmt.Sprintf("%T", err)).
		WithCause(err)
}

// WrapValue normalizes an arbitrary recovered panic value.
func WrapValue(v any) Error {
	if err, ok := v.(error); ok {
		return Wrap(err)
	}
	return NewError(CodeInternalError).WithDetails("cause", fmt.Sprintf("%T", v))
}
