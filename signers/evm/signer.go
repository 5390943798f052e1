// Package evm implements payment signers for EVM chains: EIP-3009 transfer
// authorizations for the exact scheme and EIP-712 vouchers for the deferred
// scheme. Keys load from hex, encrypted keystore files, or BIP39 mnemonics.
package evm

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/bus402/x402-video-paylink"
)

// Signer implements x402.Signer for the exact scheme on EVM chains.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    string
	chain      x402.ChainConfig
	tokens     []x402.TokenConfig
	priority   int
	maxAmount  *big.Int
}

// SignerOption configures a Signer.
type SignerOption func(*signerConfig) error

// signerConfig collects option state shared by the exact and deferred signers.
type signerConfig struct {
	privateKey *ecdsa.PrivateKey
	network    string
	tokens     []x402.TokenConfig
	priority   int
	maxAmount  *big.Int
}

// NewSigner creates an exact-scheme EVM signer.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	chain, err := x402.ChainByNetwork(cfg.network)
	if err != nil {
		return nil, err
	}

	return &Signer{
		privateKey: cfg.privateKey,
		address:    crypto.PubkeyToAddress(cfg.privateKey.PublicKey),
		network:    cfg.network,
		chain:      chain,
		tokens:     cfg.tokens,
		priority:   cfg.priority,
		maxAmount:  cfg.maxAmount,
	}, nil
}

func buildConfig(opts []SignerOption) (*signerConfig, error) {
	cfg := &signerConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}
	if cfg.network == "" {
		return nil, x402.ErrUnsupportedNetwork
	}
	if len(cfg.tokens) == 0 {
		return nil, x402.ErrNoTokens
	}
	return cfg, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) SignerOption {
	return func(cfg *signerConfig) error {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return x402.ErrInvalidKey
		}
		cfg.privateKey = privateKey
		return nil
	}
}

// WithECDSAKey sets an already-parsed private key.
func WithECDSAKey(key *ecdsa.PrivateKey) SignerOption {
	return func(cfg *signerConfig) error {
		if key == nil {
			return x402.ErrInvalidKey
		}
		cfg.privateKey = key
		return nil
	}
}

// WithNetwork sets the x402 network identifier.
func WithNetwork(network string) SignerOption {
	return func(cfg *signerConfig) error {
		cfg.network = network
		return nil
	}
}

// WithToken adds a token configuration.
func WithToken(address, symbol string, decimals int) SignerOption {
	return WithTokenPriority(address, symbol, decimals, 0)
}

// WithTokenPriority adds a token configuration with a priority.
func WithTokenPriority(address, symbol string, decimals, priority int) SignerOption {
	return func(cfg *signerConfig) error {
		cfg.tokens = append(cfg.tokens, x402.TokenConfig{
			Address:  address,
			Symbol:   symbol,
			Decimals: decimals,
			Priority: priority,
		})
		return nil
	}
}

// WithPriority sets the signer priority.
func WithPriority(priority int) SignerOption {
	return func(cfg *signerConfig) error {
		cfg.priority = priority
		return nil
	}
}

// WithMaxAmount sets the spending limit in atomic units.
func WithMaxAmount(amount string) SignerOption {
	return func(cfg *signerConfig) error {
		maxAmount, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return x402.ErrInvalidAmount
		}
		cfg.maxAmount = maxAmount
		return nil
	}
}

// Network implements x402.Signer.
func (s *Signer) Network() string {
	return s.network
}

// Scheme implements x402.Signer.
func (s *Signer) Scheme() string {
	return x402.SchemeExact
}

// CanSign implements x402.Signer.
func (s *Signer) CanSign(requirements *x402.PaymentRequirement) bool {
	if requirements.Scheme != x402.SchemeExact || requirements.Network != s.network {
		return false
	}
	return s.hasToken(requirements.Asset)
}

func (s *Signer) hasToken(asset string) bool {
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, asset) {
			return true
		}
	}
	return false
}

// Sign implements x402.Signer. The EIP-712 domain name and version come from
// the requirement's extra payload when present, falling back to the chain
// registry defaults.
func (s *Signer) Sign(requirements *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if !s.CanSign(requirements) {
		return nil, x402.ErrNoValidSigner
	}

	amount := new(big.Int)
	if _, ok := amount.SetString(requirements.MaxAmountRequired, 10); !ok {
		return nil, x402.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}

	auth, err := CreateEIP3009Authorization(
		s.address,
		common.HexToAddress(requirements.PayTo),
		amount,
		requirements.MaxTimeoutSeconds,
	)
	if err != nil {
		return nil, err
	}

	name, version := s.chain.EIP3009Name, s.chain.EIP3009Version
	if extraName, ok := requirements.Extra["name"].(string); ok && extraName != "" {
		name = extraName
	}
	if extraVersion, ok := requirements.Extra["version"].(string); ok && extraVersion != "" {
		version = extraVersion
	}

	signature, err := SignTransferAuthorization(
		s.privateKey,
		common.HexToAddress(requirements.Asset),
		big.NewInt(s.chain.ChainID),
		auth,
		name,
		version,
	)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeExact,
		Network:     s.network,
		Payload: x402.EVMPayload{
			Signature: signature,
			Authorization: x402.EVMAuthorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       auth.Nonce.Hex(),
			},
		},
	}, nil
}

// GetPriority implements x402.Signer.
func (s *Signer) GetPriority() int {
	return s.priority
}

// GetTokens implements x402.Signer.
func (s *Signer) GetTokens() []x402.TokenConfig {
	return s.tokens
}

// GetMaxAmount implements x402.Signer.
func (s *Signer) GetMaxAmount() *big.Int {
	return s.maxAmount
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}
