// Package voucher implements the deferred-scheme voucher state machine: the
// EIP-712 typed-data signature over vouchers, the per-identifier voucher
// store, and the first-use/reuse/aggregation validation rules.
package voucher

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/bus402/x402-video-paylink"
)

// EIP-712 domain parameters binding voucher signatures to this protocol and
// to the asset contract on the voucher's chain.
const (
	DomainName    = "x402 Deferred Payment"
	DomainVersion = "1"
)

// typedData builds the EIP-712 structure for a voucher. The domain separates
// signatures by chain and asset contract; the message covers every voucher
// field so no component can be swapped after signing.
func typedData(v x402.DeferredVoucher) (apitypes.TypedData, error) {
	value, ok := v.Value()
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("invalid valueAggregate %q", v.ValueAggregate)
	}

	chainID := math.HexOrDecimal256(*big.NewInt(v.ChainID))

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"DeferredVoucher": []apitypes.Type{
				{Name: "id", Type: "string"},
				{Name: "seller", Type: "address"},
				{Name: "buyer", Type: "address"},
				{Name: "asset", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "valueAggregate", Type: "uint256"},
				{Name: "timestamp", Type: "uint256"},
				{Name: "expiry", Type: "uint256"},
			},
		},
		PrimaryType: "DeferredVoucher",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           &chainID,
			VerifyingContract: v.Asset,
		},
		Message: apitypes.TypedDataMessage{
			"id":             v.ID,
			"seller":         v.Seller,
			"buyer":          v.Buyer,
			"asset":          v.Asset,
			"nonce":          new(big.Int).SetUint64(v.Nonce),
			"valueAggregate": value,
			"timestamp":      big.NewInt(v.Timestamp),
			"expiry":         big.NewInt(v.Expiry),
		},
	}, nil
}

// Digest computes the EIP-712 signing hash for a voucher:
// keccak256("\x19\x01" || domainSeparator || hashStruct(voucher)).
func Digest(v x402.DeferredVoucher) ([]byte, error) {
	td, err := typedData(v)
	if err != nil {
		return nil, err
	}

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash voucher: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// Sign signs a voucher with the buyer's private key and returns the
// hex-encoded 65-byte signature with the v value adjusted to 27/28.
func Sign(privateKey *ecdsa.PrivateKey, v x402.DeferredVoucher) (string, error) {
	digest, err := Digest(v)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// RecoverSigner recovers the address that produced a voucher signature.
func RecoverSigner(v x402.DeferredVoucher, signature string) (common.Address, error) {
	digest, err := Digest(v)
	if err != nil {
		return common.Address{}, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: not hex", x402.ErrInvalidSignature)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: expected 65 bytes, got %d", x402.ErrInvalidSignature, len(sig))
	}

	// Normalize v from 27/28 to 0/1 for recovery.
	if sig[64] == 27 || sig[64] == 28 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pubkey, err := crypto.Ecrecover(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", x402.ErrInvalidSignature, err)
	}

	recovered, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", x402.ErrInvalidSignature, err)
	}

	return crypto.PubkeyToAddress(*recovered), nil
}

// VerifySignature checks that a voucher was signed by its declared buyer.
func VerifySignature(v x402.DeferredVoucher, signature string) error {
	signer, err := RecoverSigner(v, signature)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(v.Buyer) {
		return fmt.Errorf("%w: buyer is not a valid address", x402.ErrInvalidSignature)
	}
	if signer != common.HexToAddress(v.Buyer) {
		return fmt.Errorf("%w: signed by %s, voucher buyer is %s", x402.ErrInvalidSignature, signer.Hex(), v.Buyer)
	}
	return nil
}
