package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/piprate/json-gold/ld"
)

const vocabulary = "https://w3id.org/attestor#"

// payloadContext is inlined so canonicalization never dereferences a remote context.
func payloadContext() map[string]interface{} {
	return map[string]interface{}{
		"@vocab":   vocabulary,
		"proofSet": map[string]interface{}{"@container": "@list"},
	}
}

// Document returns the payload as a JSON-LD document.
func (p Payload) Document() map[string]interface{} {
	proofs := make([]interface{}, 0, len(p.ProofSet))
	for _, e := range p.ProofSet {
		proofs = append(proofs, map[string]interface{}{
			"tokenId":         strconv.FormatUint(e.TokenID, 10),
			"contractAddress": e.ContractAddress.Hex(),
			"topic":           e.Topic,
		})
	}

	return map[string]interface{}{
		"@context":      payloadContext(),
		"@type":         "Attestation",
		"issuedAt":      p.IssuedAt,
		"subjectHolder": p.SubjectHolder,
		"issuer":        p.Issuer.Hex(),
		"proofSet":      proofs,
	}
}

// Canonicalize returns the URDNA2015 N-Quads form of the payload document.
func (p Payload) Canonicalize() ([]byte, error) {
	processor := ld.NewJsonLdProcessor()
	options := ld.NewJsonLdOptions("")
	options.Format = "application/n-quads"
	options.Algorithm = ld.AlgorithmURDNA2015

	canonicalized, err := processor.Normalize(p.Document(), options)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize payload: %w", err)
	}

	nquads, ok := canonicalized.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected normalized type %T", canonicalized)
	}
	return []byte(nquads), nil
}

// Digest returns the hex SHA-256 of the canonical payload.
func (p Payload) Digest() (string, error) {
	canonical, err := p.Canonicalize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
