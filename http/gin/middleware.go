// Package gin provides Gin-compatible middleware for payment gating. It is a
// thin adapter: the stdlib middlewares do the work, and the gin.Context's
// writer is rerouted through them so settlement still runs at the moment the
// handler commits its response.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	httpx402 "github.com/bus402/x402-video-paylink/http"
)

// NewPaymentMiddleware creates a Gin middleware gating priced routes with
// both payment schemes. Either config may be nil to disable that scheme.
//
// Example usage:
//
//	r := gin.Default()
//	r.Use(ginx402.NewPaymentMiddleware(exactConfig, deferredConfig))
//	r.GET("/stream/:id", func(c *gin.Context) {
//	    if payment, ok := httpx402.PaymentFromContext(c.Request.Context()); ok {
//	        c.Header("X-Payer", payment.Payer)
//	    }
//	    c.File(manifestPath(c.Param("id")))
//	})
func NewPaymentMiddleware(exact *httpx402.ExactConfig, deferred *httpx402.DeferredConfig) gin.HandlerFunc {
	chain := func(next http.Handler) http.Handler {
		gated := next
		if deferred != nil {
			gated = httpx402.NewDeferredMiddleware(deferred)(gated)
		}
		if exact != nil {
			gated = httpx402.NewExactMiddleware(exact)(gated)
		}
		return gated
	}

	return func(c *gin.Context) {
		admitted := false
		handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admitted = true
			c.Request = r

			// Reroute the context's writer so the downstream handlers write
			// through the payment interceptor, then restore it.
			original := c.Writer
			c.Writer = &paymentWriter{ResponseWriter: original, shim: w}
			defer func() { c.Writer = original }()

			c.Next()
		}))

		handler.ServeHTTP(c.Writer, c.Request)
		if !admitted {
			c.Abort()
		}
	}
}

// paymentWriter routes writes through the payment middleware's interceptor
// while keeping Gin's extended ResponseWriter surface available.
type paymentWriter struct {
	gin.ResponseWriter
	shim http.ResponseWriter
}

func (w *paymentWriter) Header() http.Header {
	return w.shim.Header()
}

func (w *paymentWriter) Write(b []byte) (int, error) {
	return w.shim.Write(b)
}

func (w *paymentWriter) WriteString(s string) (int, error) {
	return w.shim.Write([]byte(s))
}

func (w *paymentWriter) WriteHeader(statusCode int) {
	w.shim.WriteHeader(statusCode)
}
