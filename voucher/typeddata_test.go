package voucher

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/bus402/x402-video-paylink"
)

func testVoucher(buyer string) x402.DeferredVoucher {
	return x402.DeferredVoucher{
		ID:             "sess-1",
		Seller:         "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
		Buyer:          buyer,
		Asset:          "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Nonce:          0,
		ValueAggregate: "1000",
		Timestamp:      1700000000,
		Expiry:         1700003600,
		ChainID:        84532,
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	v := testVoucher(address.Hex())
	signature, err := Sign(key, v)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if !strings.HasPrefix(signature, "0x") {
		t.Errorf("signature missing 0x prefix: %s", signature)
	}
	if len(signature) != 2+65*2 {
		t.Errorf("signature length = %d, want %d", len(signature), 2+65*2)
	}

	recovered, err := RecoverSigner(v, signature)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if recovered != address {
		t.Errorf("recovered %s, want %s", recovered.Hex(), address.Hex())
	}

	if err := VerifySignature(v, signature); err != nil {
		t.Errorf("VerifySignature: %v", err)
	}
}

func TestVerifySignatureTamperedVoucher(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := testVoucher(crypto.PubkeyToAddress(key.PublicKey).Hex())
	signature, err := Sign(key, v)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*x402.DeferredVoucher)
	}{
		{"value", func(v *x402.DeferredVoucher) { v.ValueAggregate = "2000" }},
		{"nonce", func(v *x402.DeferredVoucher) { v.Nonce = 1 }},
		{"seller", func(v *x402.DeferredVoucher) { v.Seller = "0x0000000000000000000000000000000000000001" }},
		{"timestamp", func(v *x402.DeferredVoucher) { v.Timestamp++ }},
		{"id", func(v *x402.DeferredVoucher) { v.ID = "sess-2" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := v
			tt.mutate(&tampered)
			if err := VerifySignature(tampered, signature); err == nil {
				t.Error("expected verification failure for tampered voucher")
			}
		})
	}
}

func TestVerifySignatureWrongSigner(t *testing.T) {
	buyerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	// The voucher names buyerKey's address but otherKey signs it.
	v := testVoucher(crypto.PubkeyToAddress(buyerKey.PublicKey).Hex())
	signature, err := Sign(otherKey, v)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := VerifySignature(v, signature); err == nil {
		t.Error("expected verification failure for wrong signer")
	}
}

func TestRecoverSignerMalformed(t *testing.T) {
	v := testVoucher("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")

	tests := []struct {
		name      string
		signature string
	}{
		{"empty", ""},
		{"not hex", "0xzz"},
		{"too short", "0xdeadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RecoverSigner(v, tt.signature); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDigestDeterministic(t *testing.T) {
	v := testVoucher("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")

	first, err := Digest(v)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	second, err := Digest(v)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if string(first) != string(second) {
		t.Error("digest not deterministic")
	}

	v.Nonce++
	changed, err := Digest(v)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if string(first) == string(changed) {
		t.Error("digest unchanged after field mutation")
	}
}
