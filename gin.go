package x402

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// GinMiddleware creates a gin handler that enforces x402 payment before the
// rest of the chain runs. It drives the same pipeline as PaymentMiddleware.
func GinMiddleware(cfg Config) gin.HandlerFunc {
	processor, err := NewProcessor(cfg)
	if err != nil {
		panic(fmt.Sprintf("x402: %v", err))
	}
	return func(c *gin.Context) {
		outcome := processor.Process(c.Request.Context(), ProcessRequest{
			Header:   c.GetHeader(HeaderPayment),
			Resource: c.Request.URL.Path,
		})

		if !outcome.Continue() {
			for key, value := range outcome.Response.Header {
				c.Header(key, value)
			}
			c.Data(outcome.Response.Status, "application/json", outcome.Response.Body)
			c.Abort()
			return
		}

		if outcome.ReceiptHeader != "" {
			c.Header(HeaderPaymentResponse, outcome.ReceiptHeader)
		}
		c.Request = c.Request.WithContext(WithPaymentInfo(c.Request.Context(), outcome.Payment))
		c.Next()
	}
}
