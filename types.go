// Package x402 implements the wire types and shared helpers for an x402
// payment gateway that sells access to streamed media. Two schemes coexist:
// "exact" (a single onchain-settled payment that yields a scoped access
// receipt) and "deferred" (offchain-signed vouchers aggregated across many
// small segment requests).
package x402

import "math/big"

// ProtocolVersion is the x402 protocol version this module speaks.
const ProtocolVersion = 1

// Payment scheme identifiers.
const (
	// SchemeExact settles one payment onchain before access is granted.
	SchemeExact = "exact"

	// SchemeDeferred accepts offchain-signed vouchers that accumulate value
	// across requests without per-request settlement.
	SchemeDeferred = "deferred"
)

// HTTP header names used by the protocol.
const (
	// HeaderPayment carries the base64-encoded payment payload on requests.
	HeaderPayment = "X-PAYMENT"

	// HeaderPaymentResponse carries the settlement or acknowledgement result
	// on responses.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	// HeaderReceiptToken carries a freshly minted access receipt after a
	// successful exact-scheme settlement.
	HeaderReceiptToken = "X-Receipt-Token"
)

// PaymentRequirement represents a single payment option from a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier ("exact" or "deferred").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base-sepolia").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units as a decimal
	// string (e.g., wei).
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable payment description.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra contains scheme-specific additional data: the EIP-712 domain
	// parameters for the exact scheme, or the new/aggregation voucher hint
	// for the deferred scheme.
	Extra map[string]interface{} `json:"extra"`
}

// PaymentRequirementsResponse represents the complete 402 response body.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a machine-readable error message.
	Error string `json:"error"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentPayload represents a signed payment sent to the server in the
// X-PAYMENT header.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier.
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload contains the scheme-specific signed payment data.
	// For "exact": EVMPayload with signature and EIP-3009 authorization.
	// For "deferred": DeferredPayload with voucher and signature.
	Payload interface{} `json:"payload"`
}

// EVMPayload represents an exact-scheme payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units (wei).
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// SettlementResponse represents the server's response after an exact-scheme
// settlement, carried base64-encoded in the X-PAYMENT-RESPONSE header.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer"`
}

// TokenConfig represents configuration for a token a client-side signer holds.
type TokenConfig struct {
	// Address is the token contract address.
	Address string

	// Symbol is the token symbol (e.g., "USDC").
	Symbol string

	// Decimals is the number of decimal places for the token.
	Decimals int

	// Priority is the token's priority level within the signer.
	// Lower numbers indicate higher priority.
	Priority int
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	value := new(big.Float)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}

	multiplier := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, multiplier)

	result, accuracy := value.Int(nil)
	if accuracy != big.Exact {
		return nil, ErrInvalidAmount
	}
	return result, nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.5".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	f := new(big.Float).SetInt(value)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Quo(f, divisor)

	return f.Text('f', decimals)
}
