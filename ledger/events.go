package ledger

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	eventTransferSingle = "TransferSingle"
	eventTransferBatch  = "TransferBatch"
)

// transferTopics returns the topic IDs of TransferSingle and TransferBatch.
func transferTopics(contractABI abi.ABI) []common.Hash {
	return []common.Hash{
		contractABI.Events[eventTransferSingle].ID,
		contractABI.Events[eventTransferBatch].ID,
	}
}

// decodeTransferLog converts one ERC-1155 transfer log into per-ID events.
func decodeTransferLog(contractABI abi.ABI, lg types.Log) ([]TransferEvent, error) {
	// topic0 is the event ID, then operator, from and to are indexed.
	if len(lg.Topics) != 4 {
		return nil, fmt.Errorf("unexpected topic count %d in log %s:%d", len(lg.Topics), lg.TxHash.Hex(), lg.Index)
	}

	base := TransferEvent{
		From:        common.BytesToAddress(lg.Topics[2].Bytes()),
		To:          common.BytesToAddress(lg.Topics[3].Bytes()),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		TxHash:      lg.TxHash,
	}

	var ids []*big.Int
	switch lg.Topics[0] {
	case contractABI.Events[eventTransferSingle].ID:
		vals, err := contractABI.Unpack(eventTransferSingle, lg.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", eventTransferSingle, err)
		}
		id, ok := vals[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected id type %T", vals[0])
		}
		ids = []*big.Int{id}
	case contractABI.Events[eventTransferBatch].ID:
		vals, err := contractABI.Unpack(eventTransferBatch, lg.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", eventTransferBatch, err)
		}
		batch, ok := vals[0].([]*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected ids type %T", vals[0])
		}
		ids = batch
	default:
		return nil, fmt.Errorf("log %s:%d is not a transfer event", lg.TxHash.Hex(), lg.Index)
	}

	out := make([]TransferEvent, 0, len(ids))
	for _, id := range ids {
		// IDs outside uint64 cannot be part of a bounded scan.
		if !id.IsUint64() {
			continue
		}
		ev := base
		ev.TokenID = id.Uint64()
		out = append(out, ev)
	}
	return out, nil
}

// decodeTransferLogs decodes, filters by tokenID when set, deduplicates and orders logs.
func decodeTransferLogs(contractABI abi.ABI, logs []types.Log, tokenID *uint64) ([]TransferEvent, error) {
	type key struct {
		tx      common.Hash
		index   uint
		tokenID uint64
	}
	seen := make(map[key]struct{}, len(logs))

	var events []TransferEvent
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		decoded, err := decodeTransferLog(contractABI, lg)
		if err != nil {
			return nil, err
		}
		for _, ev := range decoded {
			if tokenID != nil && ev.TokenID != *tokenID {
				continue
			}
			k := key{tx: ev.TxHash, index: ev.LogIndex, tokenID: ev.TokenID}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			events = append(events, ev)
		}
	}

	SortEvents(events)
	return events, nil
}

// SortEvents orders events by block number, then log index.
func SortEvents(events []TransferEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}
