package x402

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// SettlementError is the variant raised for facilitator-side failures.
// Transient faults (5xx, network, timeout) map to 502/504 and are retry
// candidates; domain rejections (4xx) map to 400 and must never be retried.
type SettlementError struct {
	*ProtocolError
	StatusCode int           // facilitator HTTP status, 0 for transport failures
	Body       string        // facilitator response body, truncated
	Duration   time.Duration // round-trip time of the failed call
	Transient  bool
}

// Retryable reports whether retrying the call could change the outcome.
func (e *SettlementError) Retryable() bool { return e.Transient }

const maxBodyInError = 512

// SettlementFromHTTPResponse classifies a non-2xx facilitator response.
// 5xx is transient (502); 4xx is a deterministic rejection (400).
func SettlementFromHTTPResponse(status int, body string, cause error, duration time.Duration) *SettlementError {
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError] + "...(truncated)"
	}

	var base *ProtocolError
	transient := false
	switch {
	case status >= 500:
		base = NewErrorf(CodeFacilitatorError, "facilitator returned status %d", status)
		transient = true
	default:
		base = NewErrorf(CodeFacilitatorError, "facilitator rejected the request with status %d", status)
		base.status = http.StatusBadRequest
	}

	base = base.WithDetails(
		"facilitatorStatus", status,
		"durationMs", duration.Milliseconds(),
	)
	if cause != nil {
		base = base.WithCause(cause)
	}

	return &SettlementError{
		ProtocolError: base,
		StatusCode:    status,
		Body:          body,
		Duration:      duration,
		Transient:     transient,
	}
}

// SettlementFromError classifies a transport-level failure: timeouts and
// client-side aborts become TIMEOUT (504), everything else NETWORK_ERROR
// (502). Both are transient.
func SettlementFromError(cause error, duration time.Duration) *SettlementError {
	code := CodeNetworkError
	if isTimeout(cause) {
		code = CodeTimeout
	}
	base := NewError(code).
		WithCause(cause).
		WithDetails("durationMs", duration.Milliseconds())
	return &SettlementError{
		ProtocolError: base,
		Duration:      duration,
		Transient:     true,
	}
}

// FacilitatorRejection maps a settlement-layer business failure (2xx
// response with success=false) through the taxonomy.
func FacilitatorRejection(errorCode, errorMessage string) *SettlementError {
	base := FromSettlementErrorCode(errorCode, errorMessage)
	return &SettlementError{
		ProtocolError: base,
		StatusCode:    http.StatusOK,
		Transient:     false,
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// url.Error wraps timeouts from the transport with this text.
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}

// statusText used in adapter logs when mapping outcomes.
func describeStatus(status int) string {
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
