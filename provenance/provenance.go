// Package provenance reconstructs mint time and custody facts of one token from its
// transfer history.
package provenance

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-attestation-sdk/ledger"
)

// Provenance is what the transfer history says about one token held by one holder.
type Provenance struct {
	// MintedAt is the timestamp of the block holding the mint to the holder, nil when the
	// holder never received the token from the zero address.
	MintedAt *time.Time
	// MintBlock is the block of the selected mint event.
	MintBlock uint64
	// TransferredOut is true when the holder ever sent the token onward.
	TransferredOut bool
	// MintEvents counts the mint events to the holder. More than one is an anomaly.
	MintEvents int
}

// Anomalous reports whether more than one mint to the holder was observed.
func (p Provenance) Anomalous() bool {
	return p.MintEvents > 1
}

// Evaluate derives the Provenance of a token from events.
//
// Only events where the holder is the sender or the receiver are considered. When more
// than one mint event exists the earliest by block number and log index wins.
func Evaluate(ctx context.Context, events []ledger.TransferEvent, holder common.Address, clock ledger.BlockClock) (Provenance, error) {
	var (
		p    Provenance
		mint *ledger.TransferEvent
	)

	for i := range events {
		ev := events[i]
		if ev.From != holder && ev.To != holder {
			continue
		}

		if ev.From == holder {
			p.TransferredOut = true
		}

		if ev.From == (common.Address{}) && ev.To == holder {
			p.MintEvents++
			if mint == nil || earlier(ev, *mint) {
				mint = &events[i]
			}
		}
	}

	if mint == nil {
		return p, nil
	}

	ts, err := clock.BlockTimestamp(ctx, mint.BlockNumber)
	if err != nil {
		return p, fmt.Errorf("failed to resolve mint time of token %d: %w", mint.TokenID, err)
	}
	ts = ts.UTC()
	p.MintedAt = &ts
	p.MintBlock = mint.BlockNumber
	return p, nil
}

func earlier(a, b ledger.TransferEvent) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	return a.LogIndex < b.LogIndex
}
