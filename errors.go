package x402

import (
	"errors"
	"fmt"
)

// Protocol error definitions shared across schemes.

var (
	// ErrPaymentRequired indicates that payment is required to access the resource.
	ErrPaymentRequired = errors.New("payment required")

	// ErrInvalidAmount indicates an unparseable or inexact amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMalformedHeader indicates that the X-PAYMENT header is malformed.
	ErrMalformedHeader = errors.New("malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("unsupported x402 version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("unsupported payment scheme")

	// ErrUnsupportedNetwork indicates an unsupported blockchain network.
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrInvalidSignature indicates an invalid cryptographic signature.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidRequirements indicates malformed payment requirements.
	ErrInvalidRequirements = errors.New("invalid payment requirements")

	// ErrNoValidSigner indicates no configured signer can satisfy the requirements.
	ErrNoValidSigner = errors.New("no valid signer")

	// ErrSigningFailed indicates a payment could not be signed.
	ErrSigningFailed = errors.New("signing failed")

	// ErrFacilitatorUnavailable indicates the facilitator service is unavailable.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")

	// ErrSettlementFailed indicates onchain settlement failed.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrInvalidKey indicates an invalid or missing signing key.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrInvalidKeystore indicates an unreadable or undecryptable keystore file.
	ErrInvalidKeystore = errors.New("invalid keystore")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrNoTokens indicates a signer configured without any payable tokens.
	ErrNoTokens = errors.New("no tokens configured")

	// ErrAmountExceeded indicates a payment above the signer's spending limit.
	ErrAmountExceeded = errors.New("amount exceeds spending limit")
)

// Error codes attached to PaymentError values.
const (
	ErrCodeInvalidRequirements = "invalid_requirements"
	ErrCodeNoValidSigner       = "no_valid_signer"
	ErrCodeSigningFailed       = "signing_failed"
	ErrCodeVerification        = "verification_failed"
	ErrCodeSettlement          = "settlement_failed"
)

// PaymentError carries a machine-readable code and optional key-value details
// alongside the wrapped cause.
type PaymentError struct {
	Code    string
	Message string
	Err     error
	Details map[string]interface{}
}

// NewPaymentError creates a PaymentError wrapping err.
func NewPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

// WithDetails attaches a key-value pair for diagnostics and returns the error.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
