// Package encoding provides utilities for encoding and decoding x402 payment
// data. It handles base64 and JSON marshaling for payment payloads,
// settlements, acknowledgements, and requirements.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	x402 "github.com/bus402/x402-video-paylink"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string for
// the X-PAYMENT request header.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return payment, nil
}

// EncodeSettlement converts a SettlementResponse to a base64-encoded JSON
// string for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a SettlementResponse.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}

// EncodeAck converts a DeferredAck to a base64-encoded JSON string for the
// X-PAYMENT-RESPONSE header on deferred-scheme responses.
func EncodeAck(ack x402.DeferredAck) (string, error) {
	ackJSON, err := json.Marshal(ack)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ack: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ackJSON), nil
}

// DecodeAck converts a base64-encoded JSON string to a DeferredAck.
func DecodeAck(encoded string) (x402.DeferredAck, error) {
	var ack x402.DeferredAck

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ack, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &ack); err != nil {
		return ack, fmt.Errorf("failed to unmarshal ack: %w", err)
	}

	return ack, nil
}

// DeferredPayloadFrom extracts the deferred voucher payload from a decoded
// PaymentPayload. The payload arrives as generic JSON, so it is re-marshaled
// into the typed structure.
func DeferredPayloadFrom(payment x402.PaymentPayload) (x402.DeferredPayload, error) {
	var deferred x402.DeferredPayload

	raw, err := json.Marshal(payment.Payload)
	if err != nil {
		return deferred, fmt.Errorf("failed to re-marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &deferred); err != nil {
		return deferred, fmt.Errorf("failed to unmarshal deferred payload: %w", err)
	}
	if deferred.Voucher.ID == "" {
		return deferred, fmt.Errorf("deferred payload missing voucher id")
	}
	return deferred, nil
}

// EVMPayloadFrom extracts the exact-scheme EVM payload from a decoded
// PaymentPayload.
func EVMPayloadFrom(payment x402.PaymentPayload) (x402.EVMPayload, error) {
	var evm x402.EVMPayload

	raw, err := json.Marshal(payment.Payload)
	if err != nil {
		return evm, fmt.Errorf("failed to re-marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &evm); err != nil {
		return evm, fmt.Errorf("failed to unmarshal EVM payload: %w", err)
	}
	return evm, nil
}
