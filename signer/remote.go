package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RemoteSigner signs hashes through a remote HTTP API holding the key.
type RemoteSigner struct {
	endpoint string
	apiKey   string
	address  string
	client   *http.Client
}

// NewRemoteSigner creates a new RemoteSigner for the given signing address.
func NewRemoteSigner(endpoint, apiKey, address string) (SignerProvider, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid signer address: %q", address)
	}

	return &RemoteSigner{
		endpoint: endpoint,
		apiKey:   apiKey,
		address:  strings.ToLower(common.HexToAddress(address).Hex()),
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// GetAddress returns the signing address.
func (s *RemoteSigner) GetAddress() string {
	return s.address
}

// Sign signs a 32-byte hash using the remote API.
func (s *RemoteSigner) Sign(payload []byte) ([]byte, error) {
	if len(payload) != 32 {
		return nil, fmt.Errorf("payload must be 32 bytes, got %d", len(payload))
	}

	reqBody, err := json.Marshal(map[string]any{
		"payload_hex": hex.EncodeToString(payload),
		"address":     s.address,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer http %d", resp.StatusCode)
	}

	var out struct {
		SignatureHex string `json:"signature_hex"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, err
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length %d", len(sig))
	}

	// Ethereum-style V (27/28) is normalized back to the recovery id go-ethereum expects.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	return sig, nil
}
