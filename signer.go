package x402

import "math/big"

// Signer produces signed payment payloads for one scheme on one network.
// Exact-scheme implementations sign EIP-3009 transfer authorizations; the
// deferred implementation signs vouchers, reading the requirement's extra
// hint to decide between a fresh nonce-0 voucher and an aggregation step.
type Signer interface {
	// Network returns the x402 network identifier the signer pays on.
	Network() string

	// Scheme returns the payment scheme the signer implements.
	Scheme() string

	// CanSign reports whether this signer can satisfy the requirement:
	// matching scheme and network, and a configured token for the asset.
	CanSign(requirements *PaymentRequirement) bool

	// Sign creates a signed payment payload for the given requirement.
	// Returns an error if signing fails or the amount exceeds the
	// configured spending limit.
	Sign(requirements *PaymentRequirement) (*PaymentPayload, error)

	// GetPriority returns the signer's priority level. Lower numbers are
	// preferred when several signers can satisfy a requirement.
	GetPriority() int

	// GetTokens returns the tokens this signer can pay with.
	GetTokens() []TokenConfig

	// GetMaxAmount returns the spending limit in atomic units, or nil for
	// no limit. For deferred signers the limit caps the cumulative
	// voucher value rather than a single transfer.
	GetMaxAmount() *big.Int
}
