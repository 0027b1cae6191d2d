package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"
)

// DefaultClockEntries bounds the number of cached block timestamps.
const DefaultClockEntries = 1 << 16

// HeaderSource reads block headers.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// CachedClock resolves block timestamps through a ristretto cache.
//
// Block timestamps are immutable and identical for every holder, so this is the one
// cache the pipeline keeps across invocations.
type CachedClock struct {
	src   HeaderSource
	cache *ristretto.Cache[uint64, time.Time]
	sfg   singleflight.Group
}

// NewCachedClock creates a CachedClock holding at most maxEntries timestamps.
func NewCachedClock(src HeaderSource, maxEntries int64) (*CachedClock, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultClockEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, time.Time]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		Cost: func(time.Time) int64 {
			return 1
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create block clock cache: %w", err)
	}

	return &CachedClock{src: src, cache: cache}, nil
}

// BlockTimestamp returns the timestamp of blockNumber in UTC.
func (c *CachedClock) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	if ts, ok := c.cache.Get(blockNumber); ok {
		return ts, nil
	}

	res, err, _ := c.sfg.Do(strconv.FormatUint(blockNumber, 10), func() (interface{}, error) {
		header, err := c.src.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return nil, fmt.Errorf("%w: header %d: %v", ErrUnavailable, blockNumber, err)
		}
		if header == nil {
			return nil, fmt.Errorf("block %d not found", blockNumber)
		}
		ts := time.Unix(int64(header.Time), 0).UTC()
		c.cache.Set(blockNumber, ts, 1)
		c.cache.Wait()
		return ts, nil
	})
	if err != nil {
		return time.Time{}, err
	}

	return res.(time.Time), nil
}

// Close releases the cache.
func (c *CachedClock) Close() {
	c.cache.Close()
}
