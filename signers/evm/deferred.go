package evm

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/voucher"
)

// DefaultVoucherTTL is the expiry horizon stamped on fresh vouchers.
const DefaultVoucherTTL = time.Hour

// DeferredSigner implements x402.Signer for the deferred voucher scheme. It
// is stateless across requests: the server's requirement extra carries either
// a fresh identifier to start from or the last accepted voucher to aggregate
// on, and the signer follows that hint.
type DeferredSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    string
	chain      x402.ChainConfig
	tokens     []x402.TokenConfig
	priority   int
	maxAmount  *big.Int
	voucherTTL time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewDeferredSigner creates a deferred-scheme voucher signer.
func NewDeferredSigner(opts ...SignerOption) (*DeferredSigner, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	chain, err := x402.ChainByNetwork(cfg.network)
	if err != nil {
		return nil, err
	}

	return &DeferredSigner{
		privateKey: cfg.privateKey,
		address:    crypto.PubkeyToAddress(cfg.privateKey.PublicKey),
		network:    cfg.network,
		chain:      chain,
		tokens:     cfg.tokens,
		priority:   cfg.priority,
		maxAmount:  cfg.maxAmount,
		voucherTTL: DefaultVoucherTTL,
		now:        time.Now,
	}, nil
}

// Network implements x402.Signer.
func (s *DeferredSigner) Network() string {
	return s.network
}

// Scheme implements x402.Signer.
func (s *DeferredSigner) Scheme() string {
	return x402.SchemeDeferred
}

// CanSign implements x402.Signer.
func (s *DeferredSigner) CanSign(requirements *x402.PaymentRequirement) bool {
	if requirements.Scheme != x402.SchemeDeferred || requirements.Network != s.network {
		return false
	}
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, requirements.Asset) {
			return true
		}
	}
	return false
}

// Sign implements x402.Signer. The requirement's extra hint selects the
// branch: "new" signs a nonce-0 voucher under the offered identifier, while
// "aggregation" advances the echoed voucher by one step.
func (s *DeferredSigner) Sign(requirements *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if !s.CanSign(requirements) {
		return nil, x402.ErrNoValidSigner
	}

	step := new(big.Int)
	if _, ok := step.SetString(requirements.MaxAmountRequired, 10); !ok {
		return nil, x402.ErrInvalidAmount
	}

	hintType, _ := requirements.Extra["type"].(string)
	var next x402.DeferredVoucher
	switch hintType {
	case x402.DeferredExtraNew:
		id, err := newVoucherID(requirements.Extra)
		if err != nil {
			return nil, err
		}
		now := s.now()
		next = x402.DeferredVoucher{
			ID:             id,
			Seller:         requirements.PayTo,
			Buyer:          s.address.Hex(),
			Asset:          requirements.Asset,
			Nonce:          0,
			ValueAggregate: step.String(),
			Timestamp:      now.Unix(),
			Expiry:         now.Add(s.voucherTTL).Unix(),
			ChainID:        s.chain.ChainID,
		}

	case x402.DeferredExtraAggregation:
		prior, err := priorVoucher(requirements.Extra)
		if err != nil {
			return nil, err
		}
		priorValue, ok := prior.Value()
		if !ok {
			return nil, fmt.Errorf("%w: prior voucher has invalid value", x402.ErrInvalidRequirements)
		}

		next = prior
		next.Nonce = prior.Nonce + 1
		next.ValueAggregate = new(big.Int).Add(priorValue, step).String()
		next.Timestamp = s.now().Unix()
		if next.Timestamp <= prior.Timestamp {
			next.Timestamp = prior.Timestamp + 1
		}

	default:
		return nil, fmt.Errorf("%w: missing voucher hint in requirement extra", x402.ErrInvalidRequirements)
	}

	value, _ := next.Value()
	if s.maxAmount != nil && value.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}

	signature, err := voucher.Sign(s.privateKey, next)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign voucher", err)
	}

	return &x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeDeferred,
		Network:     s.network,
		Payload: x402.DeferredPayload{
			Voucher:   next,
			Signature: signature,
		},
	}, nil
}

// GetPriority implements x402.Signer.
func (s *DeferredSigner) GetPriority() int {
	return s.priority
}

// GetTokens implements x402.Signer.
func (s *DeferredSigner) GetTokens() []x402.TokenConfig {
	return s.tokens
}

// GetMaxAmount implements x402.Signer. The limit caps the cumulative voucher
// value rather than a single transfer.
func (s *DeferredSigner) GetMaxAmount() *big.Int {
	return s.maxAmount
}

// Address returns the signer's Ethereum address.
func (s *DeferredSigner) Address() common.Address {
	return s.address
}

// newVoucherID extracts the offered identifier from a "new" hint.
func newVoucherID(extra map[string]interface{}) (string, error) {
	hint, ok := extra["voucher"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w: new-voucher hint missing voucher", x402.ErrInvalidRequirements)
	}
	id, ok := hint["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: new-voucher hint missing id", x402.ErrInvalidRequirements)
	}
	return id, nil
}

// priorVoucher decodes the echoed voucher from an "aggregation" hint. The
// hint arrives as decoded JSON, so it round-trips through the codec rather
// than asserting on map shapes.
func priorVoucher(extra map[string]interface{}) (x402.DeferredVoucher, error) {
	var prior x402.DeferredVoucher

	raw, ok := extra["voucher"]
	if !ok {
		return prior, fmt.Errorf("%w: aggregation hint missing voucher", x402.ErrInvalidRequirements)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return prior, fmt.Errorf("%w: %v", x402.ErrInvalidRequirements, err)
	}
	if err := json.Unmarshal(data, &prior); err != nil {
		return prior, fmt.Errorf("%w: %v", x402.ErrInvalidRequirements, err)
	}
	if prior.ID == "" {
		return prior, fmt.Errorf("%w: aggregation hint has empty voucher id", x402.ErrInvalidRequirements)
	}
	return prior, nil
}
