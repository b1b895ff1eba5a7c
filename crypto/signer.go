package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps the custodial backend key. Every backend-initiated ledger
// mutation is signed with this one key, so exactly one Signer exists per
// process and all submissions flow through the sequencer.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key.
func NewSigner(hexKey string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("empty private key")
	}
	key, err := ethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// SignerFromEnv loads the backend key from the named environment variable.
func SignerFromEnv(envVar string) (*Signer, error) {
	raw := os.Getenv(envVar)
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("environment variable %s is empty", envVar)
	}
	return NewSigner(raw)
}

// GenerateSigner creates a fresh key. Test helper; production keys are
// provisioned externally.
func GenerateSigner() (*Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's account address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Key exposes the underlying private key for transaction signing.
func (s *Signer) Key() *ecdsa.PrivateKey {
	return s.key
}
