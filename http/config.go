// Package http provides the payment-gating middleware for priced media
// routes: the exact scheme settles one onchain payment and mints a scoped
// access receipt, the deferred scheme validates aggregated offchain vouchers.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/bus402/x402-video-paylink/facilitator"
	"github.com/bus402/x402-video-paylink/metrics"
	"github.com/bus402/x402-video-paylink/pricing"
	"github.com/bus402/x402-video-paylink/receipt"
	"github.com/bus402/x402-video-paylink/voucher"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key under which verified payment
// information is stored for downstream handlers.
const PaymentContextKey = contextKey("x402_payment")

// Payment describes the payment that admitted the current request. Exactly
// one of the admission paths fills it: a settled exact payment, a valid
// receipt token, or an accepted deferred voucher.
type Payment struct {
	// Scheme is the payment scheme that admitted the request, or "receipt"
	// when a previously minted token did.
	Scheme string

	// Network is the x402 network identifier, empty for receipt admissions.
	Network string

	// Payer is the buyer address, lower-cased.
	Payer string

	// VoucherID is set for deferred admissions.
	VoucherID string
}

// PaymentFromContext returns the payment that admitted the request, if any.
func PaymentFromContext(ctx context.Context) (Payment, bool) {
	payment, ok := ctx.Value(PaymentContextKey).(Payment)
	return payment, ok
}

// withPayment stores the admitting payment on the request context.
func withPayment(r *http.Request, payment Payment) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), PaymentContextKey, payment))
}

// ExactConfig configures the exact-scheme middleware.
type ExactConfig struct {
	// Routes is the pricing table. Requests that match no rule, or match a
	// rule of a different scheme, bypass the middleware.
	Routes *pricing.Table

	// Facilitator verifies and settles payments.
	Facilitator facilitator.Interface

	// Receipts mints and checks the bearer tokens issued after settlement.
	Receipts *receipt.Issuer

	// Scope derives the receipt scope patterns for a settling request.
	// Defaults to DefaultScope.
	Scope func(r *http.Request) []string

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Collector

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// DeferredConfig configures the deferred-scheme middleware.
type DeferredConfig struct {
	// Routes is the pricing table. Requests that match no rule, or match a
	// rule of a different scheme, bypass the middleware.
	Routes *pricing.Table

	// Validator runs the voucher state machine.
	Validator *voucher.Validator

	// NewVoucherID generates identifiers offered for fresh sessions.
	// Defaults to random UUIDs.
	NewVoucherID func() string

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Collector

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultScope derives receipt scope patterns from the settling request URL.
// A manifest request for /stream/{id}.m3u8 yields {scheme}://{host}/stream/{id}*
// so the receipt also covers the stream's variant manifests and segments.
// Requests outside /stream/ are scoped to their exact URL.
func DefaultScope(r *http.Request) []string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	base := scheme + "://" + r.Host

	const streamPrefix = "/stream/"
	p := r.URL.Path
	if rest, ok := strings.CutPrefix(p, streamPrefix); ok && rest != "" {
		id := rest
		if i := strings.IndexByte(id, '/'); i >= 0 {
			id = id[:i]
		}
		id = strings.TrimSuffix(id, path.Ext(id))
		if id != "" {
			return []string{base + streamPrefix + id + "*"}
		}
	}
	return []string{base + p}
}

func defaultVoucherID() string {
	return uuid.NewString()
}
