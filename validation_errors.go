package x402

import (
	"fmt"
	"time"
)

// ValidationError is the variant raised for malformed or incorrect client
// input. It is always client-recoverable by resubmission (4xx) and never
// reaches the facilitator.
type ValidationError struct {
	*ProtocolError
	Field    string
	Expected string
	Actual   string
	Context  map[string]any
}

func newValidationError(code Code, message string) *ValidationError {
	return &ValidationError{ProtocolError: NewErrorf(code, "%s", message)}
}

// Envelope renders the outward shape with the validation extras.
func (e *ValidationError) Envelope() Envelope {
	env := Envelope{Error: EnvelopeBody{
		Code:      e.ProtocolError.code,
		Message:   e.ProtocolError.message,
		Details:   e.ProtocolError.details,
		Timestamp: e.ProtocolError.timestamp.Format(time.RFC3339),
		Field:     e.Field,
		Expected:  e.Expected,
		Actual:    e.Actual,
		Context:   e.Context,
	}}
	return env
}

// MissingField reports a required field absent from the payment header.
func MissingField(field string) *ValidationError {
	e := newValidationError(CodeInvalidPayload, fmt.Sprintf("required field %q is missing", field))
	e.Field = field
	return e
}

// TypeMismatch reports a field of the wrong type or shape.
func TypeMismatch(field, expected, actual string) *ValidationError {
	e := newValidationError(CodeInvalidPayload,
		fmt.Sprintf("field %q: expected %s, got %s", field, expected, actual))
	e.Field = field
	e.Expected = expected
	e.Actual = actual
	return e
}

// InvalidJSON reports an undecodable payment header.
func InvalidJSON(message string) *ValidationError {
	return newValidationError(CodeInvalidJSON, message)
}

// VersionMismatch reports an unsupported x402 version.
func VersionMismatch(actual string) *ValidationError {
	e := newValidationError(CodeInvalidVersion,
		fmt.Sprintf("unsupported x402 version %q, expected %q", actual, ProtocolVersion))
	e.Field = "x402Version"
	e.Expected = ProtocolVersion
	e.Actual = actual
	return e
}

// SchemeMismatch reports an unsupported payment scheme.
func SchemeMismatch(actual string) *ValidationError {
	e := newValidationError(CodeInvalidScheme,
		fmt.Sprintf("unsupported payment scheme %q, expected %q", actual, SchemeExact))
	e.Field = "scheme"
	e.Expected = SchemeExact
	e.Actual = actual
	return e
}

// InvalidNetwork reports a missing or unsupported network identifier.
func InvalidNetwork(actual string) *ValidationError {
	e := newValidationError(CodeInvalidNetwork, "network is missing or unsupported")
	e.Field = "network"
	e.Actual = actual
	return e
}

// InvalidAddress reports a malformed 20-byte hex address.
func InvalidAddress(field, actual string) *ValidationError {
	e := newValidationError(CodeInvalidPayload,
		fmt.Sprintf("field %q is not a valid address", field))
	e.Field = field
	e.Expected = "0x-prefixed 20-byte hex address"
	e.Actual = actual
	return e
}

// AmountMismatch reports a paid value below the required amount.
func AmountMismatch(required, paid string) *ValidationError {
	e := newValidationError(CodeAmountMismatch,
		fmt.Sprintf("payment of %s does not cover the required %s", paid, required))
	e.Field = "value"
	e.Expected = required
	e.Actual = paid
	e.ProtocolError = e.ProtocolError.WithDetails("minAmount", required)
	return e
}

// RecipientMismatch reports a payment addressed to the wrong recipient.
func RecipientMismatch(expected, actual string) *ValidationError {
	e := newValidationError(CodeRecipientMismatch,
		fmt.Sprintf("payment addressed to %s, expected %s", actual, expected))
	e.Field = "to"
	e.Expected = expected
	e.Actual = actual
	return e
}

// InvalidTimestamp reports a non-numeric validity bound.
func InvalidTimestamp(field, actual string) *ValidationError {
	e := newValidationError(CodeInvalidPayload,
		fmt.Sprintf("field %q is not a valid unix timestamp", field))
	e.Field = field
	e.Expected = "unix seconds as a decimal string"
	e.Actual = actual
	return e
}

// InvalidSignatureComponent reports a malformed v, r or s.
func InvalidSignatureComponent(field, actual string) *ValidationError {
	e := newValidationError(CodeInvalidPayload,
		fmt.Sprintf("field %q is not a valid signature component", field))
	e.Field = field
	e.Actual = actual
	return e
}

// InvalidNonce reports a malformed 32-byte hex nonce.
func InvalidNonce(actual string) *ValidationError {
	e := newValidationError(CodeInvalidPayload, "nonce is not a valid 32-byte hex value")
	e.Field = "nonce"
	e.Expected = "0x-prefixed 32-byte hex value"
	e.Actual = actual
	return e
}

// AuthorizationExpired reports a validity window already closed.
func AuthorizationExpired(validBefore string, now time.Time) *ValidationError {
	e := newValidationError(CodeAuthorizationExpired,
		fmt.Sprintf("authorization expired at %s", validBefore))
	e.Field = "validBefore"
	e.Actual = validBefore
	e.ProtocolError = e.ProtocolError.WithDetails("now", now.Unix())
	return e
}

// AuthorizationNotYetValid reports a validity window not yet open.
func AuthorizationNotYetValid(validAfter string, now time.Time) *ValidationError {
	e := newValidationError(CodeAuthorizationNotYetValid,
		fmt.Sprintf("authorization becomes valid at %s", validAfter))
	e.Field = "validAfter"
	e.Actual = validAfter
	e.ProtocolError = e.ProtocolError.WithDetails("now", now.Unix())
	return e
}

// NonceAlreadyUsed reports a replayed nonce.
func NonceAlreadyUsed(nonce string) *ValidationError {
	e := newValidationError(CodeNonceAlreadyUsed, codeMessage[CodeNonceAlreadyUsed])
	e.Field = "nonce"
	e.Actual = nonce
	return e
}

// InvalidSignature reports a signature rejected by the facilitator.
func InvalidSignature(reason string) *ValidationError {
	msg := codeMessage[CodeInvalidSignature]
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return newValidationError(CodeInvalidSignature, msg)
}

// FromValidationErrors folds a whole structural-validation error list into
// a single INVALID_PAYLOAD error whose context carries every violation.
func FromValidationErrors(errs []*ValidationError) *ValidationError {
	if len(errs) == 1 {
		return errs[0]
	}
	messages := make([]string, len(errs))
	details := make([]map[string]any, len(errs))
	for i, v := range errs {
		messages[i] = v.ProtocolError.message
		detail := map[string]any{"code": v.ProtocolError.code}
		if v.Field != "" {
			detail["field"] = v.Field
		}
		if v.Expected != "" {
			detail["expected"] = v.Expected
		}
		if v.Actual != "" {
			detail["actual"] = v.Actual
		}
		details[i] = detail
	}
	e := newValidationError(CodeInvalidPayload,
		fmt.Sprintf("payment payload failed validation with %d errors", len(errs)))
	e.Context = map[string]any{
		"errorCount": len(errs),
		"errors":     details,
		"messages":   messages,
	}
	return e
}
