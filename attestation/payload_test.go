package attestation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-attestation-sdk/scanner"
)

func TestBuildPayloadUnknownTopic(t *testing.T) {
	inv := inventory(10)
	inv.Records[0].Topic = scanner.Unknown

	p, err := BuildPayload(inv, FormData{GivenName: " Ada ", FamilyName: "Lovelace ", Date: "2025-06-01"}, 10)
	require.NoError(t, err)
	assert.Empty(t, p.ProofSet[0].Topic)
	assert.Equal(t, "Ada Lovelace", p.SubjectHolder)
}

func TestPayloadDigest(t *testing.T) {
	p, err := BuildPayload(inventory(12), validForm, DefaultProofSetSize)
	require.NoError(t, err)

	d1, err := p.Digest()
	require.NoError(t, err)
	assert.Len(t, d1, 64)

	d2, err := p.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	renamed := p
	renamed.SubjectHolder = "Grace Hopper"
	d3, err := renamed.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)

	reordered := p
	reordered.ProofSet = append(p.ProofSet[1:2:2], p.ProofSet[0])
	reordered.ProofSet = append(reordered.ProofSet, p.ProofSet[2:]...)
	d4, err := reordered.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, d1, d4)

	nquads, err := p.Canonicalize()
	require.NoError(t, err)
	assert.Contains(t, string(nquads), "Ada Lovelace")
}
