package x402

import (
	"fmt"
	"net/http"
)

// PaymentMiddleware creates net/http middleware that enforces x402 payment
// before the wrapped handler runs. The configuration is validated at
// construction time; an invalid one is a programming error and panics, the
// same way an invalid route table would.
func PaymentMiddleware(cfg Config) func(http.Handler) http.Handler {
	processor, err := NewProcessor(cfg)
	if err != nil {
		panic(fmt.Sprintf("x402: %v", err))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			outcome := processor.Process(r.Context(), ProcessRequest{
				Header:   r.Header.Get(HeaderPayment),
				Resource: r.URL.Path,
			})

			if !outcome.Continue() {
				WriteResponse(w, outcome.Response)
				return
			}

			if outcome.ReceiptHeader != "" {
				w.Header().Set(HeaderPaymentResponse, outcome.ReceiptHeader)
			}
			ctx := WithPaymentInfo(r.Context(), outcome.Payment)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteResponse writes a rendered pipeline response to the wire.
func WriteResponse(w http.ResponseWriter, resp *Response) {
	for key, value := range resp.Header {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
