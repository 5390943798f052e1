// Package facilitator defines the external verify/settle contract the
// exact-scheme middleware depends on. The onchain facilitator is an external
// collaborator; this package only fixes its interface.
package facilitator

import (
	"context"

	x402 "github.com/bus402/x402-video-paylink"
)

// Interface is the standard facilitator contract for payment verification
// and settlement.
type Interface interface {
	// Verify verifies a payment authorization without executing the transaction.
	Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on the blockchain.
	Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error)
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}
