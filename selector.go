package x402

import (
	"math/big"
	"sort"
	"strings"
)

// PaymentSelector chooses a requirement from a 402 offer and a signer able to
// satisfy it, and produces the signed payment.
type PaymentSelector interface {
	// SelectAndSign walks the offered requirements in server order and
	// signs the first one a configured signer can satisfy.
	SelectAndSign(accepts []PaymentRequirement, signers []Signer) (*PaymentPayload, error)
}

// DefaultPaymentSelector implements the standard selection algorithm:
// requirements are tried in the order the server offered them; among the
// signers able to satisfy one, lower signer priority wins, then lower token
// priority, then configuration order.
type DefaultPaymentSelector struct{}

// NewDefaultPaymentSelector creates a new DefaultPaymentSelector.
func NewDefaultPaymentSelector() *DefaultPaymentSelector {
	return &DefaultPaymentSelector{}
}

// SelectAndSign implements PaymentSelector.
func (s *DefaultPaymentSelector) SelectAndSign(accepts []PaymentRequirement, signers []Signer) (*PaymentPayload, error) {
	if len(signers) == 0 {
		return nil, NewPaymentError(ErrCodeNoValidSigner, "no signers configured", ErrNoValidSigner)
	}
	if len(accepts) == 0 {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "no payment requirements offered", ErrInvalidRequirements)
	}

	for i := range accepts {
		requirement := &accepts[i]

		requiredAmount := new(big.Int)
		if _, ok := requiredAmount.SetString(requirement.MaxAmountRequired, 10); !ok {
			continue
		}

		candidates := candidatesFor(requirement, requiredAmount, signers)
		if len(candidates) == 0 {
			continue
		}

		sort.SliceStable(candidates, func(a, b int) bool {
			if candidates[a].signerPriority != candidates[b].signerPriority {
				return candidates[a].signerPriority < candidates[b].signerPriority
			}
			return candidates[a].tokenPriority < candidates[b].tokenPriority
		})

		payment, err := candidates[0].signer.Sign(requirement)
		if err != nil {
			return nil, NewPaymentError(ErrCodeSigningFailed, "failed to sign payment", err)
		}
		return payment, nil
	}

	return nil, NewPaymentError(ErrCodeNoValidSigner, "no signer can satisfy any offered requirement", ErrNoValidSigner).
		WithDetails("offered", len(accepts))
}

// candidatesFor collects the signers able to satisfy a requirement within
// their spending limits.
func candidatesFor(requirement *PaymentRequirement, requiredAmount *big.Int, signers []Signer) []signerCandidate {
	var candidates []signerCandidate
	for _, signer := range signers {
		if !signer.CanSign(requirement) {
			continue
		}
		if maxAmount := signer.GetMaxAmount(); maxAmount != nil && requiredAmount.Cmp(maxAmount) > 0 {
			continue
		}

		tokenPriority := 0
		for _, token := range signer.GetTokens() {
			if strings.EqualFold(token.Address, requirement.Asset) {
				tokenPriority = token.Priority
				break
			}
		}

		candidates = append(candidates, signerCandidate{
			signer:         signer,
			signerPriority: signer.GetPriority(),
			tokenPriority:  tokenPriority,
		})
	}
	return candidates
}

// signerCandidate is a signer that can satisfy a payment requirement.
type signerCandidate struct {
	signer         Signer
	signerPriority int
	tokenPriority  int
}
