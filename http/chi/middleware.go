// Package chi provides Chi-compatible middleware for payment gating. Chi
// shares the stdlib middleware signature, so this package composes the exact
// and deferred middlewares and adds router-level conveniences.
package chi

import (
	"net/http"

	httpx402 "github.com/bus402/x402-video-paylink/http"
)

// NewPaymentMiddleware creates a Chi middleware gating priced routes with
// both payment schemes. Either config may be nil to disable that scheme.
// OPTIONS requests bypass payment for CORS preflight support.
//
// Example usage:
//
//	r := chi.NewRouter()
//	r.Use(chix402.NewPaymentMiddleware(exactConfig, deferredConfig))
//	r.Get("/stream/{id}", manifestHandler)
func NewPaymentMiddleware(exact *httpx402.ExactConfig, deferred *httpx402.DeferredConfig) func(http.Handler) http.Handler {
	var exactMW, deferredMW func(http.Handler) http.Handler
	if exact != nil {
		exactMW = httpx402.NewExactMiddleware(exact)
	}
	if deferred != nil {
		deferredMW = httpx402.NewDeferredMiddleware(deferred)
	}

	return func(next http.Handler) http.Handler {
		gated := next
		if deferredMW != nil {
			gated = deferredMW(gated)
		}
		if exactMW != nil {
			gated = exactMW(gated)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			gated.ServeHTTP(w, r)
		})
	}
}
