package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHeaders struct {
	calls atomic.Int32
	err   error
}

func (h *countingHeaders) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	h.calls.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	return &types.Header{Number: number, Time: 1_700_000_000 + number.Uint64()}, nil
}

func TestCachedClock(t *testing.T) {
	src := &countingHeaders{}
	clock, err := NewCachedClock(src, 0)
	require.NoError(t, err)
	defer clock.Close()

	ts, err := clock.BlockTimestamp(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_007, 0).UTC(), ts)
	assert.Equal(t, time.UTC, ts.Location())

	again, err := clock.BlockTimestamp(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, ts, again)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCachedClockUnavailable(t *testing.T) {
	clock, err := NewCachedClock(&countingHeaders{err: errors.New("connection refused")}, 16)
	require.NoError(t, err)
	defer clock.Close()

	_, err = clock.BlockTimestamp(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}
