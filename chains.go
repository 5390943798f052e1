package x402

import "fmt"

// ChainConfig contains chain-specific configuration for USDC payments and
// voucher domains on EVM networks.
type ChainConfig struct {
	// NetworkID is the x402 protocol network identifier (e.g., "base").
	NetworkID string

	// ChainID is the EVM chain id used in typed-data domains.
	ChainID int64

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals int

	// EIP3009Name is the EIP-712 domain parameter "name" for the USDC contract.
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain parameter "version".
	EIP3009Version string
}

// Mainnet chain configurations.
var (
	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		NetworkID:      "base",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	PolygonMainnet = ChainConfig{
		NetworkID:      "polygon",
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	AvalancheMainnet = ChainConfig{
		NetworkID:      "avalanche",
		ChainID:        43114,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Testnet chain configurations.
var (
	// BaseSepolia is the configuration for Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		NetworkID:      "base-sepolia",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// PolygonAmoy is the configuration for Polygon Amoy testnet.
	PolygonAmoy = ChainConfig{
		NetworkID:      "polygon-amoy",
		ChainID:        80002,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// AvalancheFuji is the configuration for Avalanche Fuji testnet.
	AvalancheFuji = ChainConfig{
		NetworkID:      "avalanche-fuji",
		ChainID:        43113,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

var chainsByNetwork = map[string]ChainConfig{
	BaseMainnet.NetworkID:      BaseMainnet,
	PolygonMainnet.NetworkID:   PolygonMainnet,
	AvalancheMainnet.NetworkID: AvalancheMainnet,
	BaseSepolia.NetworkID:      BaseSepolia,
	PolygonAmoy.NetworkID:      PolygonAmoy,
	AvalancheFuji.NetworkID:    AvalancheFuji,
}

// ChainByNetwork returns the chain configuration for a network identifier.
func ChainByNetwork(networkID string) (ChainConfig, error) {
	chain, ok := chainsByNetwork[networkID]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
	}
	return chain, nil
}

// ValidateNetwork reports whether a network identifier is supported.
func ValidateNetwork(networkID string) error {
	if networkID == "" {
		return fmt.Errorf("%w: empty network id", ErrUnsupportedNetwork)
	}
	if _, ok := chainsByNetwork[networkID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
	}
	return nil
}

// FindMatchingRequirement finds the requirement matching a payment's scheme
// and network. Returns ErrUnsupportedScheme when nothing matches.
func FindMatchingRequirement(payment PaymentPayload, requirements []PaymentRequirement) (*PaymentRequirement, error) {
	for i := range requirements {
		if requirements[i].Scheme == payment.Scheme && requirements[i].Network == payment.Network {
			return &requirements[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no requirement for scheme %q on network %q",
		ErrUnsupportedScheme, payment.Scheme, payment.Network)
}
