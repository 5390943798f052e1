package voucher

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	x402 "github.com/bus402/x402-video-paylink"
)

// Deferred-scheme defaults.
const (
	// DefaultReuseWindow is how long a validated voucher may be replayed at
	// the same nonce before the server demands an aggregation step.
	DefaultReuseWindow = 20 * time.Second

	// DefaultMaxClockSkew is how far ahead of server time a voucher
	// timestamp may sit before it is rejected as future-dated.
	DefaultMaxClockSkew = 60 * time.Second
)

// Machine-readable rejection reasons surfaced in 402 bodies.
const (
	ReasonMalformed           = "malformed_voucher"
	ReasonSellerMismatch      = "seller_mismatch"
	ReasonAssetMismatch       = "asset_mismatch"
	ReasonChainMismatch       = "chain_mismatch"
	ReasonExpired             = "voucher_expired"
	ReasonTimestampInFuture   = "timestamp_in_future"
	ReasonInvalidSignature    = "invalid_signature"
	ReasonFirstNonceNotZero   = "first_voucher_must_start_at_zero"
	ReasonAggregationRequired = "aggregation_required"
	ReasonAmountMismatch      = "aggregation_amount_mismatch"
	ReasonTimestampNotNewer   = "aggregation_timestamp_not_increasing"
	ReasonImmutableChanged    = "immutable_field_changed"
	ReasonNonceMismatch       = "nonce_mismatch"
	ReasonStoreConflict       = "concurrent_update_conflict"
)

// Outcome classifies an accepted voucher.
type Outcome int

const (
	// OutcomeFirstUse is a nonce-0 voucher for a fresh identifier.
	OutcomeFirstUse Outcome = iota

	// OutcomeReuse replays the stored voucher within the reuse window.
	OutcomeReuse

	// OutcomeAggregation advances the stored voucher by one nonce step.
	OutcomeAggregation
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFirstUse:
		return "first_use"
	case OutcomeReuse:
		return "reuse"
	case OutcomeAggregation:
		return "aggregation"
	default:
		return "unknown"
	}
}

// Terms are the route-level constraints a voucher must satisfy, derived from
// the matched pricing rule.
type Terms struct {
	// Seller is the configured payee address.
	Seller string

	// Asset is the configured token contract address.
	Asset string

	// ChainID is the chain the route's network settles on.
	ChainID int64

	// Step is the exact amount each aggregation adds, in atomic units.
	Step *big.Int
}

// Result is the accepted classification plus the state that was written.
type Result struct {
	Outcome Outcome
	State   x402.VoucherState
}

// Rejection is a terminal validation failure. Stored carries the last
// accepted state when one exists so the caller can re-offer it as the
// aggregation basis.
type Rejection struct {
	Reason string
	Detail string
	Stored *x402.VoucherState
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return r.Reason + ": " + r.Detail
	}
	return r.Reason
}

// Validator applies the deferred voucher state machine against a Store.
type Validator struct {
	store       Store
	reuseWindow time.Duration
	maxSkew     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithReuseWindow overrides the reuse window.
func WithReuseWindow(window time.Duration) ValidatorOption {
	return func(v *Validator) { v.reuseWindow = window }
}

// WithMaxClockSkew overrides the forward clock-skew tolerance.
func WithMaxClockSkew(skew time.Duration) ValidatorOption {
	return func(v *Validator) { v.maxSkew = skew }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a Validator over the given store.
func NewValidator(store Store, opts ...ValidatorOption) *Validator {
	v := &Validator{
		store:       store,
		reuseWindow: DefaultReuseWindow,
		maxSkew:     DefaultMaxClockSkew,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the full validation sequence for a presented voucher and, on
// acceptance, atomically overwrites the stored state for its identifier.
// Every failure short-circuits with a machine-readable rejection; no state is
// written on any rejected voucher.
func (v *Validator) Validate(payload x402.DeferredPayload, terms Terms) (Result, *Rejection) {
	now := v.now()
	voucher := payload.Voucher

	// Field checks against the route terms, before any store access.
	if rej := v.checkFields(voucher, terms, now); rej != nil {
		return Result{}, rej
	}

	// Signature binds every field to the declared buyer.
	if err := VerifySignature(voucher, payload.Signature); err != nil {
		return Result{}, &Rejection{Reason: ReasonInvalidSignature, Detail: err.Error()}
	}

	// Read-validate-write with compare-and-set. A failed write means a
	// concurrent request advanced the same identifier; re-validating against
	// the fresh state yields the precise rejection (or acceptance, for a
	// racing reuse).
	for attempt := 0; attempt < 3; attempt++ {
		stored, exists := v.store.Get(voucher.ID)

		var outcome Outcome
		var rej *Rejection
		if !exists {
			outcome, rej = v.classifyFirst(voucher, terms)
		} else {
			outcome, rej = v.classifyAgainst(stored, voucher, terms, now)
		}
		if rej != nil {
			return Result{}, rej
		}

		next := x402.VoucherState{
			Voucher:     voucher,
			Signature:   payload.Signature,
			ValidatedAt: now,
		}

		var expected *x402.VoucherState
		if exists {
			expected = &stored
		}
		if v.store.CompareAndSet(voucher.ID, expected, next) {
			return Result{Outcome: outcome, State: next}, nil
		}
	}

	stored, _ := v.store.Get(voucher.ID)
	return Result{}, &Rejection{Reason: ReasonStoreConflict, Stored: &stored}
}

func (v *Validator) checkFields(voucher x402.DeferredVoucher, terms Terms, now time.Time) *Rejection {
	if voucher.ID == "" {
		return &Rejection{Reason: ReasonMalformed, Detail: "missing voucher id"}
	}
	if _, ok := voucher.Value(); !ok {
		return &Rejection{Reason: ReasonMalformed, Detail: fmt.Sprintf("invalid valueAggregate %q", voucher.ValueAggregate)}
	}
	if !strings.EqualFold(voucher.Seller, terms.Seller) {
		return &Rejection{Reason: ReasonSellerMismatch, Detail: fmt.Sprintf("voucher seller %s, expected %s", voucher.Seller, terms.Seller)}
	}
	if !strings.EqualFold(voucher.Asset, terms.Asset) {
		return &Rejection{Reason: ReasonAssetMismatch, Detail: fmt.Sprintf("voucher asset %s, expected %s", voucher.Asset, terms.Asset)}
	}
	if voucher.ChainID != terms.ChainID {
		return &Rejection{Reason: ReasonChainMismatch, Detail: fmt.Sprintf("voucher chainId %d, expected %d", voucher.ChainID, terms.ChainID)}
	}
	if now.Unix() > voucher.Expiry {
		return &Rejection{Reason: ReasonExpired}
	}
	if voucher.Timestamp > now.Add(v.maxSkew).Unix() {
		return &Rejection{Reason: ReasonTimestampInFuture}
	}
	return nil
}

// classifyFirst handles identifiers with no prior state.
func (v *Validator) classifyFirst(voucher x402.DeferredVoucher, terms Terms) (Outcome, *Rejection) {
	if voucher.Nonce != 0 {
		return 0, &Rejection{Reason: ReasonFirstNonceNotZero, Detail: fmt.Sprintf("got nonce %d", voucher.Nonce)}
	}
	value, _ := voucher.Value()
	if value.Cmp(terms.Step) != 0 {
		return 0, &Rejection{Reason: ReasonAmountMismatch, Detail: fmt.Sprintf("first voucher value %s, expected step %s", value, terms.Step)}
	}
	return OutcomeFirstUse, nil
}

// classifyAgainst compares the presented voucher to the stored prior state.
func (v *Validator) classifyAgainst(stored x402.VoucherState, voucher x402.DeferredVoucher, terms Terms, now time.Time) (Outcome, *Rejection) {
	switch {
	case voucher.Nonce == stored.Voucher.Nonce:
		// Reuse: only within the recency window of the stored state's
		// validation time. The stored voucher is re-offered as the
		// aggregation basis on rejection.
		if now.Sub(stored.ValidatedAt) > v.reuseWindow {
			return 0, &Rejection{Reason: ReasonAggregationRequired, Stored: &stored}
		}
		if !voucher.SameIdentity(stored.Voucher) || voucher.ValueAggregate != stored.Voucher.ValueAggregate {
			return 0, &Rejection{Reason: ReasonImmutableChanged, Stored: &stored}
		}
		return OutcomeReuse, nil

	case voucher.Nonce == stored.Voucher.Nonce+1:
		if !voucher.SameIdentity(stored.Voucher) {
			return 0, &Rejection{Reason: ReasonImmutableChanged, Stored: &stored}
		}
		value, _ := voucher.Value()
		prior, ok := stored.Voucher.Value()
		if !ok {
			return 0, &Rejection{Reason: ReasonMalformed, Detail: "stored voucher has invalid value", Stored: &stored}
		}
		want := new(big.Int).Add(prior, terms.Step)
		if value.Cmp(want) != 0 {
			return 0, &Rejection{
				Reason: ReasonAmountMismatch,
				Detail: fmt.Sprintf("value %s, expected %s (prior %s + step %s)", value, want, prior, terms.Step),
				Stored: &stored,
			}
		}
		if voucher.Timestamp <= stored.Voucher.Timestamp {
			return 0, &Rejection{Reason: ReasonTimestampNotNewer, Stored: &stored}
		}
		return OutcomeAggregation, nil

	default:
		return 0, &Rejection{
			Reason: ReasonNonceMismatch,
			Detail: fmt.Sprintf("got nonce %d, stored nonce %d", voucher.Nonce, stored.Voucher.Nonce),
			Stored: &stored,
		}
	}
}
