package evm

import (
	"errors"
	"testing"
	"time"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/voucher"
)

func newTestDeferredSigner(t *testing.T, extra ...SignerOption) *DeferredSigner {
	t.Helper()
	signer := newTestSigner(t, extra...)

	deferred, err := NewDeferredSigner(append([]SignerOption{
		WithECDSAKey(signer.privateKey),
		WithNetwork("base-sepolia"),
		WithToken(testUSDC, "USDC", 6),
	}, extra...)...)
	if err != nil {
		t.Fatalf("NewDeferredSigner: %v", err)
	}
	deferred.now = func() time.Time { return time.Unix(1700000000, 0) }
	return deferred
}

func deferredRequirement(extra map[string]interface{}) *x402.PaymentRequirement {
	return &x402.PaymentRequirement{
		Scheme:            x402.SchemeDeferred,
		Network:           "base-sepolia",
		Asset:             testUSDC,
		PayTo:             testPayTo,
		MaxAmountRequired: "1000",
		Extra:             extra,
	}
}

func TestDeferredSignerCanSign(t *testing.T) {
	signer := newTestDeferredSigner(t)

	if !signer.CanSign(deferredRequirement(nil)) {
		t.Error("must sign deferred requirements for its network and token")
	}
	if signer.CanSign(exactRequirement()) {
		t.Error("must not sign exact requirements")
	}
}

func TestDeferredSignerNewVoucher(t *testing.T) {
	signer := newTestDeferredSigner(t)

	payment, err := signer.Sign(deferredRequirement(x402.NewVoucherExtra("session-1")))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	payload, ok := payment.Payload.(x402.DeferredPayload)
	if !ok {
		t.Fatalf("payload type %T", payment.Payload)
	}
	v := payload.Voucher
	if v.ID != "session-1" || v.Nonce != 0 || v.ValueAggregate != "1000" {
		t.Errorf("voucher = %+v", v)
	}
	if v.Seller != testPayTo || v.Asset != testUSDC || v.ChainID != 84532 {
		t.Errorf("voucher identity = %+v", v)
	}
	if v.Buyer != signer.Address().Hex() {
		t.Errorf("buyer = %s, want %s", v.Buyer, signer.Address().Hex())
	}
	if v.Timestamp != 1700000000 {
		t.Errorf("timestamp = %d", v.Timestamp)
	}
	if v.Expiry != 1700000000+int64(DefaultVoucherTTL.Seconds()) {
		t.Errorf("expiry = %d", v.Expiry)
	}
	if err := voucher.VerifySignature(v, payload.Signature); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestDeferredSignerAggregation(t *testing.T) {
	signer := newTestDeferredSigner(t)

	first, err := signer.Sign(deferredRequirement(x402.NewVoucherExtra("session-1")))
	if err != nil {
		t.Fatalf("Sign new: %v", err)
	}
	prior := first.Payload.(x402.DeferredPayload)

	hint := x402.AggregationExtra(x402.VoucherState{
		Voucher:   prior.Voucher,
		Signature: prior.Signature,
	})
	second, err := signer.Sign(deferredRequirement(hint))
	if err != nil {
		t.Fatalf("Sign aggregation: %v", err)
	}

	next := second.Payload.(x402.DeferredPayload).Voucher
	if next.Nonce != prior.Voucher.Nonce+1 {
		t.Errorf("nonce = %d, want %d", next.Nonce, prior.Voucher.Nonce+1)
	}
	if next.ValueAggregate != "2000" {
		t.Errorf("valueAggregate = %s, want 2000", next.ValueAggregate)
	}
	if next.Timestamp <= prior.Voucher.Timestamp {
		t.Errorf("timestamp %d must advance past %d", next.Timestamp, prior.Voucher.Timestamp)
	}
	if !next.SameIdentity(prior.Voucher) {
		t.Errorf("identity fields changed: %+v", next)
	}
	if err := voucher.VerifySignature(next, second.Payload.(x402.DeferredPayload).Signature); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestDeferredSignerMaxAmountCapsAggregate(t *testing.T) {
	signer := newTestDeferredSigner(t, WithMaxAmount("1500"))

	first, err := signer.Sign(deferredRequirement(x402.NewVoucherExtra("session-1")))
	if err != nil {
		t.Fatalf("Sign new: %v", err)
	}
	prior := first.Payload.(x402.DeferredPayload)

	hint := x402.AggregationExtra(x402.VoucherState{Voucher: prior.Voucher, Signature: prior.Signature})
	if _, err := signer.Sign(deferredRequirement(hint)); !errors.Is(err, x402.ErrAmountExceeded) {
		t.Errorf("err = %v, want ErrAmountExceeded on cumulative limit", err)
	}
}

func TestDeferredSignerRejectsBadHints(t *testing.T) {
	signer := newTestDeferredSigner(t)

	tests := []struct {
		name  string
		extra map[string]interface{}
	}{
		{"missing hint", nil},
		{"unknown type", map[string]interface{}{"type": "recurring"}},
		{"new without voucher", map[string]interface{}{"type": x402.DeferredExtraNew}},
		{"new without id", map[string]interface{}{"type": x402.DeferredExtraNew, "voucher": map[string]interface{}{}}},
		{"aggregation without voucher", map[string]interface{}{"type": x402.DeferredExtraAggregation}},
		{"aggregation with empty id", map[string]interface{}{
			"type":    x402.DeferredExtraAggregation,
			"voucher": map[string]interface{}{"nonce": float64(0)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Sign(deferredRequirement(tt.extra))
			if !errors.Is(err, x402.ErrInvalidRequirements) {
				t.Errorf("err = %v, want ErrInvalidRequirements", err)
			}
		})
	}
}

func TestDeferredSignerAggregationFromJSONHint(t *testing.T) {
	signer := newTestDeferredSigner(t)

	// A 402 body round-trips through JSON, so the echoed voucher arrives as a
	// generic map. The signer must handle that shape.
	hint := map[string]interface{}{
		"type": x402.DeferredExtraAggregation,
		"voucher": map[string]interface{}{
			"id":             "session-1",
			"seller":         testPayTo,
			"buyer":          signer.Address().Hex(),
			"asset":          testUSDC,
			"nonce":          float64(2),
			"valueAggregate": "3000",
			"timestamp":      float64(1699999990),
			"expiry":         float64(1700003600),
			"chainId":        float64(84532),
		},
		"signature": "0xprior",
	}

	payment, err := signer.Sign(deferredRequirement(hint))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v := payment.Payload.(x402.DeferredPayload).Voucher
	if v.Nonce != 3 || v.ValueAggregate != "4000" || v.ChainID != 84532 {
		t.Errorf("voucher = %+v", v)
	}
}
