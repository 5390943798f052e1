package x402

import (
	"math/big"
	"strings"
	"time"
)

// DeferredVoucher is a signed claim of cumulative value owed for a playback
// session. A voucher is identified by a stable, client-chosen ID and advances
// through aggregation: each step increments the nonce by one, raises the
// cumulative value by the route's step amount, and moves the timestamp
// strictly forward. ID, seller, buyer, asset, and chainId never change for
// the lifetime of an identifier.
type DeferredVoucher struct {
	// ID is the client-chosen identifier, unique per playback session.
	ID string `json:"id"`

	// Seller is the payee address the voucher is owed to.
	Seller string `json:"seller"`

	// Buyer is the payer address that signs the voucher.
	Buyer string `json:"buyer"`

	// Asset is the token contract address the owed value is denominated in.
	Asset string `json:"asset"`

	// Nonce is the aggregation counter, starting at 0.
	Nonce uint64 `json:"nonce"`

	// ValueAggregate is the cumulative owed amount in atomic units as a
	// decimal string. Monotonically non-decreasing.
	ValueAggregate string `json:"valueAggregate"`

	// Timestamp is the voucher creation or last-update time in unix seconds.
	Timestamp int64 `json:"timestamp"`

	// Expiry is the hard cutoff in unix seconds after which the voucher is
	// rejected regardless of any other state.
	Expiry int64 `json:"expiry"`

	// ChainID is the EVM chain the voucher's typed-data domain is bound to.
	ChainID int64 `json:"chainId"`
}

// Value parses the voucher's cumulative amount.
func (v DeferredVoucher) Value() (*big.Int, bool) {
	amount := new(big.Int)
	_, ok := amount.SetString(v.ValueAggregate, 10)
	return amount, ok
}

// SameIdentity reports whether the immutable fields of two vouchers match.
// Addresses are compared case-insensitively; the identifier byte-exact.
func (v DeferredVoucher) SameIdentity(other DeferredVoucher) bool {
	return v.ID == other.ID &&
		strings.EqualFold(v.Seller, other.Seller) &&
		strings.EqualFold(v.Buyer, other.Buyer) &&
		strings.EqualFold(v.Asset, other.Asset) &&
		v.ChainID == other.ChainID
}

// DeferredPayload is the deferred-scheme payment payload carried in the
// X-PAYMENT header: a voucher plus the buyer's typed-data signature over it.
type DeferredPayload struct {
	// Voucher is the full voucher structure being presented.
	Voucher DeferredVoucher `json:"voucher"`

	// Signature is the hex-encoded EIP-712 signature by Voucher.Buyer.
	Signature string `json:"signature"`
}

// DeferredAck acknowledges an accepted voucher on a successful response,
// carried base64-encoded in the X-PAYMENT-RESPONSE header. No settlement
// occurs in the deferred scheme; the ack only confirms validation.
type DeferredAck struct {
	Scheme    string `json:"scheme"`
	Network   string `json:"network"`
	VoucherID string `json:"voucherId"`
	Timestamp int64  `json:"timestamp"`
}

// VoucherState is the last accepted voucher for an identifier together with
// its signature and the server-side time of validation. One entry exists per
// identifier; it is overwritten on every accepted reuse or aggregation.
type VoucherState struct {
	Voucher     DeferredVoucher
	Signature   string
	ValidatedAt time.Time
}

// Deferred extra hint types embedded in PaymentRequirement.Extra so the
// client knows which branch to take without an extra round trip.
const (
	// DeferredExtraNew offers a fresh voucher identifier.
	DeferredExtraNew = "new"

	// DeferredExtraAggregation echoes the last accepted voucher and its
	// signature as the basis for the next aggregation step.
	DeferredExtraAggregation = "aggregation"
)

// NewVoucherExtra builds the requirement extra for a fresh session: the
// client should sign a nonce-0 voucher under the offered identifier.
func NewVoucherExtra(id string) map[string]interface{} {
	return map[string]interface{}{
		"type":    DeferredExtraNew,
		"voucher": map[string]interface{}{"id": id},
	}
}

// AggregationExtra builds the requirement extra that re-offers the stored
// voucher so the client can sign the next aggregation step.
func AggregationExtra(state VoucherState) map[string]interface{} {
	return map[string]interface{}{
		"type":      DeferredExtraAggregation,
		"voucher":   state.Voucher,
		"signature": state.Signature,
	}
}
