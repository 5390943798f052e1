package http

import (
	"errors"
	"log/slog"
	"net/http"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/http/internal/helpers"
	"github.com/bus402/x402-video-paylink/receipt"
)

// NewExactMiddleware creates the exact-scheme payment middleware. Matched
// requests are admitted by a valid in-scope receipt token or by a verified
// payment; settlement and receipt minting are deferred until the downstream
// handler commits a success response, so a failing handler never charges the
// buyer.
func NewExactMiddleware(config *ExactConfig) func(http.Handler) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scope := config.Scope
	if scope == nil {
		scope = DefaultScope
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := config.Routes.Match(r.Method, r.URL.Path)
			if !ok || route.Rule.Scheme != x402.SchemeExact {
				next.ServeHTTP(w, r)
				return
			}

			resourceURL := helpers.ResourceURL(r)
			requirements := []x402.PaymentRequirement{route.Requirement(resourceURL)}

			// A previously minted receipt admits the request without a new
			// payment, as long as its scope covers this URL.
			if token, ok := helpers.BearerToken(r); ok && config.Receipts != nil {
				claims, err := config.Receipts.Authorize(token, resourceURL)
				if err == nil {
					logger.Debug("request admitted by receipt", "payer", claims.Subject, "path", r.URL.Path)
					next.ServeHTTP(w, withPayment(r, Payment{Scheme: "receipt", Payer: claims.Subject}))
					return
				}
				if errors.Is(err, receipt.ErrOutOfScope) {
					logger.Info("receipt out of scope", "path", r.URL.Path)
				} else {
					logger.Info("invalid receipt token", "error", err)
				}
				// Fall through: the client may still pay directly.
			}

			paymentHeader := r.Header.Get(x402.HeaderPayment)
			if paymentHeader == "" {
				logger.Info("no payment header provided", "path", r.URL.Path)
				if helpers.IsBrowserRequest(r) {
					helpers.SendPaywall(w, requirements)
					return
				}
				helpers.SendPaymentRequired(w, "payment required", requirements)
				return
			}

			payment, err := helpers.ParsePaymentHeaderFromRequest(r)
			if err != nil {
				logger.Warn("invalid payment header", "error", err)
				helpers.SendPaymentRequired(w, err.Error(), requirements)
				return
			}

			requirement, err := x402.FindMatchingRequirement(payment, requirements)
			if err != nil {
				logger.Warn("no matching requirement", "scheme", payment.Scheme, "network", payment.Network)
				config.Metrics.PaymentRejected(payment.Scheme, "no_matching_requirement")
				helpers.SendPaymentRequired(w, "payment does not match requirements", requirements)
				return
			}

			logger.Info("verifying payment", "scheme", payment.Scheme, "network", payment.Network)
			verifyResp, err := config.Facilitator.Verify(r.Context(), payment, *requirement)
			if err != nil {
				logger.Error("facilitator verification failed", "error", err)
				http.Error(w, "Payment verification failed", http.StatusServiceUnavailable)
				return
			}
			if !verifyResp.IsValid {
				logger.Warn("payment verification rejected", "reason", verifyResp.InvalidReason)
				config.Metrics.PaymentRejected(payment.Scheme, verifyResp.InvalidReason)
				helpers.SendPaymentRequired(w, verifyResp.InvalidReason, requirements)
				return
			}

			logger.Info("payment verified", "payer", verifyResp.Payer)
			config.Metrics.PaymentVerified(payment.Scheme, payment.Network)

			r = withPayment(r, Payment{
				Scheme:  payment.Scheme,
				Network: payment.Network,
				Payer:   verifyResp.Payer,
			})

			interceptor := &responseInterceptor{
				w: w,
				finalize: func(statusCode int, header http.Header) bool {
					logger.Info("settling payment", "payer", verifyResp.Payer)
					settlementResp, err := config.Facilitator.Settle(r.Context(), payment, *requirement)
					if err != nil {
						logger.Error("settlement failed", "error", err)
						config.Metrics.Settlement("error")
						helpers.SendPaymentRequired(w, "settlement failed", requirements)
						return false
					}
					if !settlementResp.Success {
						logger.Warn("settlement unsuccessful", "reason", settlementResp.ErrorReason)
						config.Metrics.Settlement("rejected")
						helpers.SendPaymentRequired(w, settlementResp.ErrorReason, requirements)
						return false
					}

					logger.Info("payment settled", "transaction", settlementResp.Transaction)
					config.Metrics.Settlement("success")

					if err := helpers.AddSettlementHeader(header, *settlementResp); err != nil {
						// The payment already settled; the missing header is
						// not worth failing the response over.
						logger.Warn("failed to add settlement header", "error", err)
					}

					if config.Receipts != nil {
						patterns := scope(r)
						token, err := config.Receipts.Issue(verifyResp.Payer, resourceURL, patterns)
						if err != nil {
							logger.Warn("failed to mint receipt", "error", err)
						} else {
							header.Set(x402.HeaderReceiptToken, token)
							config.Metrics.ReceiptMinted()
							logger.Info("receipt minted", "payer", verifyResp.Payer, "scope", patterns)
						}
					}
					return true
				},
				onError: func(statusCode int) {
					logger.Warn("handler returned non-success, skipping settlement", "status", statusCode)
				},
			}
			next.ServeHTTP(interceptor, r)
		})
	}
}
