package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-attestation-sdk/journal"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	key := journal.IdempotencyKey(common.HexToAddress("0x01"), common.HexToAddress("0x02"), 42)
	assert.Equal(t,
		"0x0000000000000000000000000000000000000001|0x0000000000000000000000000000000000000002|42", key)

	first := journal.NewEntry(journal.KindAttestation, "run-1", key)
	first.RecordedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	second := journal.NewEntry(journal.KindAttestation, "run-1", key)
	second.RecordedAt = first.RecordedAt.Add(time.Minute)
	unrelated := journal.NewEntry(journal.KindApproval, "run-2", "other")

	require.NoError(t, s.Append(ctx, second))
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, unrelated))
	assert.Equal(t, 3, s.Len())

	assert.ErrorIs(t, s.Append(ctx, first), journal.ErrDuplicateKey)

	entries, err := s.ByKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)

	got, err := s.Get(ctx, unrelated.ID)
	require.NoError(t, err)
	assert.Equal(t, journal.KindApproval, got.Kind)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestStoreRejectsInvalidEntries(t *testing.T) {
	s := New()
	tests := []journal.Entry{
		{},
		{ID: "x", Kind: journal.KindAttestation},
		{ID: "x", IdempotencyKey: "k", Kind: "other"},
	}
	for _, e := range tests {
		assert.ErrorIs(t, s.Append(context.Background(), e), journal.ErrInvalidInput)
	}
	assert.Equal(t, 0, s.Len())
}
