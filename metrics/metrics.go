// Package metrics exposes Prometheus counters for the payment gateway. All
// methods are nil-safe so middlewares can run without a collector configured.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the gateway's counters.
type Collector struct {
	paymentsVerified *prometheus.CounterVec
	paymentsRejected *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	voucherOutcomes  *prometheus.CounterVec
	receiptsMinted   prometheus.Counter
}

// NewCollector creates and registers the gateway counters.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		paymentsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paylink_payments_verified_total",
			Help: "Payments that passed verification, by scheme and network.",
		}, []string{"scheme", "network"}),
		paymentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paylink_payments_rejected_total",
			Help: "402 rejections, by scheme and machine-readable reason.",
		}, []string{"scheme", "reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paylink_settlements_total",
			Help: "Exact-scheme settlement attempts, by result.",
		}, []string{"result"}),
		voucherOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paylink_voucher_outcomes_total",
			Help: "Accepted deferred vouchers, by outcome classification.",
		}, []string{"outcome"}),
		receiptsMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paylink_receipts_minted_total",
			Help: "Access receipts minted after successful settlement.",
		}),
	}
	reg.MustRegister(c.paymentsVerified, c.paymentsRejected, c.settlements, c.voucherOutcomes, c.receiptsMinted)
	return c
}

// PaymentVerified counts a verified payment.
func (c *Collector) PaymentVerified(scheme, network string) {
	if c == nil {
		return
	}
	c.paymentsVerified.WithLabelValues(scheme, network).Inc()
}

// PaymentRejected counts a 402 rejection.
func (c *Collector) PaymentRejected(scheme, reason string) {
	if c == nil {
		return
	}
	c.paymentsRejected.WithLabelValues(scheme, reason).Inc()
}

// Settlement counts a settlement attempt result ("success" or "failure").
func (c *Collector) Settlement(result string) {
	if c == nil {
		return
	}
	c.settlements.WithLabelValues(result).Inc()
}

// VoucherOutcome counts an accepted voucher classification.
func (c *Collector) VoucherOutcome(outcome string) {
	if c == nil {
		return
	}
	c.voucherOutcomes.WithLabelValues(outcome).Inc()
}

// ReceiptMinted counts a minted access receipt.
func (c *Collector) ReceiptMinted() {
	if c == nil {
		return
	}
	c.receiptsMinted.Inc()
}
