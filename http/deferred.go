package http

import (
	"log/slog"
	"net/http"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/encoding"
	"github.com/bus402/x402-video-paylink/http/internal/helpers"
	"github.com/bus402/x402-video-paylink/voucher"
)

// NewDeferredMiddleware creates the deferred-scheme payment middleware.
// Matched requests must carry a signed voucher; the validator classifies it as
// first use, reuse, or aggregation against the stored per-identifier state.
// Every 402 carries a hint in the requirement extra telling the client what to
// sign next: a fresh identifier, or the stored voucher to aggregate on.
func NewDeferredMiddleware(config *DeferredConfig) func(http.Handler) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newVoucherID := config.NewVoucherID
	if newVoucherID == nil {
		newVoucherID = defaultVoucherID
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := config.Routes.Match(r.Method, r.URL.Path)
			if !ok || route.Rule.Scheme != x402.SchemeDeferred {
				next.ServeHTTP(w, r)
				return
			}

			resourceURL := helpers.ResourceURL(r)

			// freshOffer re-offers the route with a new voucher identifier.
			freshOffer := func() []x402.PaymentRequirement {
				req := route.Requirement(resourceURL)
				req.Extra = x402.NewVoucherExtra(newVoucherID())
				return []x402.PaymentRequirement{req}
			}

			paymentHeader := r.Header.Get(x402.HeaderPayment)
			if paymentHeader == "" {
				logger.Info("no voucher provided", "path", r.URL.Path)
				helpers.SendPaymentRequired(w, "payment required", freshOffer())
				return
			}

			payment, err := helpers.ParsePaymentHeaderFromRequest(r)
			if err != nil {
				logger.Warn("invalid payment header", "error", err)
				helpers.SendPaymentRequired(w, err.Error(), freshOffer())
				return
			}
			if payment.Scheme != x402.SchemeDeferred || payment.Network != route.Rule.Network {
				logger.Warn("payment does not match route", "scheme", payment.Scheme, "network", payment.Network)
				config.Metrics.PaymentRejected(payment.Scheme, "no_matching_requirement")
				helpers.SendPaymentRequired(w, "payment does not match requirements", freshOffer())
				return
			}

			payload, err := encoding.DeferredPayloadFrom(payment)
			if err != nil {
				logger.Warn("malformed voucher payload", "error", err)
				config.Metrics.PaymentRejected(payment.Scheme, voucher.ReasonMalformed)
				helpers.SendPaymentRequired(w, "malformed voucher payload", freshOffer())
				return
			}

			terms := voucher.Terms{
				Seller:  route.PayTo,
				Asset:   route.Chain.USDCAddress,
				ChainID: route.Chain.ChainID,
				Step:    route.StepAmount(),
			}

			result, rejection := config.Validator.Validate(payload, terms)
			if rejection != nil {
				logger.Warn("voucher rejected",
					"reason", rejection.Reason,
					"detail", rejection.Detail,
					"voucherId", payload.Voucher.ID)
				config.Metrics.PaymentRejected(x402.SchemeDeferred, rejection.Reason)

				// When prior state exists the stored voucher is re-offered as
				// the aggregation basis; otherwise the client starts fresh.
				req := route.Requirement(resourceURL)
				if rejection.Stored != nil {
					req.Extra = x402.AggregationExtra(*rejection.Stored)
				} else {
					req.Extra = x402.NewVoucherExtra(newVoucherID())
				}
				helpers.SendPaymentRequired(w, rejection.Error(), []x402.PaymentRequirement{req})
				return
			}

			logger.Info("voucher accepted",
				"outcome", result.Outcome.String(),
				"voucherId", payload.Voucher.ID,
				"nonce", payload.Voucher.Nonce,
				"valueAggregate", payload.Voucher.ValueAggregate)
			config.Metrics.PaymentVerified(x402.SchemeDeferred, payment.Network)
			config.Metrics.VoucherOutcome(result.Outcome.String())

			r = withPayment(r, Payment{
				Scheme:    x402.SchemeDeferred,
				Network:   payment.Network,
				Payer:     payload.Voucher.Buyer,
				VoucherID: payload.Voucher.ID,
			})

			interceptor := &responseInterceptor{
				w: w,
				finalize: func(statusCode int, header http.Header) bool {
					ack := x402.DeferredAck{
						Scheme:    x402.SchemeDeferred,
						Network:   payment.Network,
						VoucherID: payload.Voucher.ID,
						Timestamp: result.State.ValidatedAt.Unix(),
					}
					if err := helpers.AddAckHeader(header, ack); err != nil {
						// The voucher is already recorded; deliver the segment
						// even if the ack header cannot be encoded.
						logger.Warn("failed to add ack header", "error", err)
					}
					return true
				},
				onError: func(statusCode int) {
					logger.Warn("handler returned non-success, skipping ack", "status", statusCode)
				},
			}
			next.ServeHTTP(interceptor, r)
		})
	}
}
