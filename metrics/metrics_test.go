package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.PaymentVerified("exact", "base-sepolia")
	c.PaymentVerified("exact", "base-sepolia")
	c.PaymentRejected("deferred", "aggregation_required")
	c.Settlement("success")
	c.VoucherOutcome("first_use")
	c.ReceiptMinted()

	if got := testutil.ToFloat64(c.paymentsVerified.WithLabelValues("exact", "base-sepolia")); got != 2 {
		t.Errorf("paymentsVerified = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.paymentsRejected.WithLabelValues("deferred", "aggregation_required")); got != 1 {
		t.Errorf("paymentsRejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.receiptsMinted); got != 1 {
		t.Errorf("receiptsMinted = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.PaymentVerified("exact", "base")
	c.PaymentRejected("exact", "invalid_signature")
	c.Settlement("failure")
	c.VoucherOutcome("reuse")
	c.ReceiptMinted()
}
