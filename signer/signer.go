// Package signer provides the signing identity used for issuance transactions.
//
// All ledger mutations of one pipeline invocation go through a single SignerProvider,
// which is why they share one nonce sequence and must be submitted sequentially.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignerProvider is the interface for the signer provider.
type SignerProvider interface {
	Sign(payload []byte) ([]byte, error)
	GetAddress() string
}

// DefaultProvider signs with an in-process private key.
type DefaultProvider struct {
	priv *ecdsa.PrivateKey
}

// NewDefaultProvider creates a new default signer provider.
//
// privHex is the private key in hex format, with or without the 0x prefix.
// Returns the signer provider or an error if the private key is invalid.
func NewDefaultProvider(privHex string) (SignerProvider, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &DefaultProvider{priv: priv}, nil
}

// Sign signs a 32-byte hash.
func (s *DefaultProvider) Sign(hashPayload []byte) ([]byte, error) {
	signature, err := crypto.Sign(hashPayload, s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	if len(signature) != 65 {
		return nil, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(signature))
	}

	return signature, nil
}

// GetAddress returns the lowercase hex address of the signer.
func (s *DefaultProvider) GetAddress() string {
	return strings.ToLower(crypto.PubkeyToAddress(s.priv.PublicKey).Hex())
}

// TxSignerFn adapts a SignerProvider to bind.SignerFn.
//
// The latest signer for the chain is used so that both legacy and dynamic-fee
// transactions can be signed.
func TxSignerFn(chainID *big.Int, p SignerProvider) func(common.Address, *types.Transaction) (*types.Transaction, error) {
	return func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if addr != common.HexToAddress(p.GetAddress()) {
			return nil, fmt.Errorf("signer %s cannot sign for %s", p.GetAddress(), addr.Hex())
		}
		txSigner := types.LatestSignerForChainID(chainID)
		h := txSigner.Hash(tx)
		sig, err := p.Sign(h.Bytes())
		if err != nil {
			return nil, err
		}
		return tx.WithSignature(txSigner, sig)
	}
}
