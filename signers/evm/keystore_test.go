package evm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	x402 "github.com/bus402/x402-video-paylink"
)

// Standard BIP39 test vector mnemonic.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestWithMnemonic(t *testing.T) {
	signer, err := NewSigner(
		WithMnemonic(testMnemonic, 0),
		WithNetwork("base-sepolia"),
		WithToken(testUSDC, "USDC", 6),
	)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	// The standard path m/44'/60'/0'/0/0 for this mnemonic is a fixed,
	// well-known address.
	if signer.Address().Hex() != "0x9858EfFD232B4033E47d90003D41EC34EcaEda94" {
		t.Errorf("derived address = %s", signer.Address().Hex())
	}
}

func TestWithMnemonicAccountIndexesDiffer(t *testing.T) {
	opts := func(index uint32) []SignerOption {
		return []SignerOption{
			WithMnemonic(testMnemonic, index),
			WithNetwork("base-sepolia"),
			WithToken(testUSDC, "USDC", 6),
		}
	}

	first, err := NewSigner(opts(0)...)
	if err != nil {
		t.Fatalf("NewSigner index 0: %v", err)
	}
	second, err := NewSigner(opts(1)...)
	if err != nil {
		t.Fatalf("NewSigner index 1: %v", err)
	}
	if first.Address() == second.Address() {
		t.Error("different account indexes must derive different keys")
	}
}

func TestWithMnemonicInvalid(t *testing.T) {
	_, err := NewSigner(
		WithMnemonic("not a valid mnemonic phrase", 0),
		WithNetwork("base-sepolia"),
		WithToken(testUSDC, "USDC", 6),
	)
	if !errors.Is(err, x402.ErrInvalidMnemonic) {
		t.Errorf("err = %v, want ErrInvalidMnemonic", err)
	}
}

func TestWithKeystoreErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.json")
	_, err := NewSigner(
		WithKeystore(missing, "password"),
		WithNetwork("base-sepolia"),
		WithToken(testUSDC, "USDC", 6),
	)
	if !errors.Is(err, x402.ErrInvalidKeystore) {
		t.Errorf("missing file: err = %v, want ErrInvalidKeystore", err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.json")
	if writeErr := os.WriteFile(garbage, []byte("{not json"), 0o600); writeErr != nil {
		t.Fatal(writeErr)
	}
	_, err = NewSigner(
		WithKeystore(garbage, "password"),
		WithNetwork("base-sepolia"),
		WithToken(testUSDC, "USDC", 6),
	)
	if !errors.Is(err, x402.ErrInvalidKeystore) {
		t.Errorf("garbage file: err = %v, want ErrInvalidKeystore", err)
	}
}
