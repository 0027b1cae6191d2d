package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/ledger/stub"
	"github.com/pilacorp/go-attestation-sdk/metadata"
)

var (
	holder   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	classes  = ledger.Contract{Kind: ledger.ClassContract, Address: common.HexToAddress("0xc1a55")}
	baseTime = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
)

type docs map[uint64]metadata.Document

func (d docs) Fetch(_ context.Context, _ string, tokenID uint64) (metadata.Document, error) {
	doc, ok := d[tokenID]
	if !ok {
		return metadata.Document{Name: "partial"}, metadata.ErrInvalidDocument
	}
	return doc, nil
}

func mintClasses(gw *stub.Gateway, ids ...uint64) {
	for _, id := range ids {
		gw.Mint(classes, holder, id, id*10, baseTime.Add(time.Duration(id)*time.Hour))
		gw.SetURI(classes, id, fmt.Sprintf("ipfs://cid/%d.json", id))
		gw.SetClassData(classes, id, ledger.ClassData{
			Topic:         fmt.Sprintf("topic %d", id),
			ClassIndex:    fmt.Sprint(id),
			SubjectHolder: "Ada Lovelace",
		})
	}
}

func newScanner(t *testing.T, gw ledger.Gateway, source metadata.Source) *Scanner {
	t.Helper()
	s, err := New(Options{Gateway: gw, Metadata: source, Workers: 4, PageSize: 7})
	require.NoError(t, err)
	return s
}

func TestScanOrderAndEnrichment(t *testing.T) {
	gw := stub.New()
	mintClasses(gw, 30, 2, 17, 5)
	gw.Transfer(classes, holder, other, 17, 400, baseTime.Add(400*time.Hour))
	// held by someone else only
	gw.Mint(classes, other, 9, 90, baseTime)

	s := newScanner(t, gw, docs{2: {Name: "two"}, 5: {Name: "five"}, 30: {Name: "thirty"}})
	inv, err := s.Scan(context.Background(), holder, classes, Upto(40))
	require.NoError(t, err)

	assert.Equal(t, holder, inv.Holder)
	assert.Equal(t, classes.Address, inv.Contract)
	assert.Equal(t, []uint64{2, 5, 30}, inv.IDs())

	first := inv.Records[0]
	assert.Equal(t, "two", first.Metadata.Name)
	assert.Equal(t, "topic 2", first.Topic)
	assert.Equal(t, "2", first.ClassIndex)
	assert.Equal(t, "Ada Lovelace", first.SubjectHolder)
	require.NotNil(t, first.MintedAt)
	assert.True(t, baseTime.Add(2*time.Hour).Equal(*first.MintedAt))
	assert.False(t, first.TransferredOut)
}

func TestScanKeepsTransferredTokenStillHeld(t *testing.T) {
	gw := stub.New()
	mintClasses(gw, 4)
	// holder owned two units and sent one away
	gw.Mint(classes, holder, 4, 41, baseTime)
	gw.Transfer(classes, holder, other, 4, 50, baseTime.Add(time.Hour))

	inv, err := newScanner(t, gw, nil).Scan(context.Background(), holder, classes, Upto(10))
	require.NoError(t, err)
	require.Len(t, inv.Records, 1)
	assert.True(t, inv.Records[0].TransferredOut)
	assert.True(t, inv.Records[0].MintAnomaly)
	require.NotNil(t, inv.Records[0].MintedAt)
	assert.True(t, baseTime.Add(4*time.Hour).Equal(*inv.Records[0].MintedAt))
}

func TestScanPerTokenFailuresAreRecovered(t *testing.T) {
	gw := stub.New()
	mintClasses(gw, 1, 2, 3, 4)
	gw.FailToken("balanceOf", 2, ledger.ErrTokenNotFound)
	gw.FailToken("classData", 3, errors.New("reverted"))
	gw.FailToken("transferEvents", 4, fmt.Errorf("%w: execution reverted", ledger.ErrTokenNotFound))

	inv, err := newScanner(t, gw, docs{}).Scan(context.Background(), holder, classes, Upto(10))
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3, 4}, inv.IDs())

	assert.Equal(t, "partial", inv.Records[0].Metadata.Name)

	assert.Equal(t, Unknown, inv.Records[1].Topic)
	assert.Equal(t, Unknown, inv.Records[1].ClassIndex)
	assert.Equal(t, Unknown, inv.Records[1].SubjectHolder)
	assert.NotNil(t, inv.Records[1].MintedAt)

	assert.Equal(t, "topic 4", inv.Records[2].Topic)
	assert.Nil(t, inv.Records[2].MintedAt)
}

func TestScanFailsOnUnreachableLedger(t *testing.T) {
	gw := stub.New()
	mintClasses(gw, 1, 2, 3)
	gw.FailToken("balanceOf", 3, fmt.Errorf("%w: connection refused", ledger.ErrUnavailable))

	inv, err := newScanner(t, gw, nil).Scan(context.Background(), holder, classes, Upto(10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScanFailed)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.Empty(t, inv.Records)
}

func TestScanFailsOnUnavailableHistory(t *testing.T) {
	unreachable := fmt.Errorf("%w: connection refused", ledger.ErrUnavailable)

	tests := []struct {
		name string
		fail func(gw *stub.Gateway)
	}{
		{"transfer events", func(gw *stub.Gateway) { gw.FailMethod("transferEvents", unreachable) }},
		{"one token's transfer events", func(gw *stub.Gateway) { gw.FailToken("transferEvents", 2, unreachable) }},
		{"block timestamp", func(gw *stub.Gateway) { gw.FailMethod("blockTimestamp", unreachable) }},
		{"head block", func(gw *stub.Gateway) { gw.FailMethod("latestBlock", unreachable) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := stub.New()
			mintClasses(gw, 1, 2, 3)
			tt.fail(gw)

			inv, err := newScanner(t, gw, nil).Scan(context.Background(), holder, classes, Upto(10))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrScanFailed)
			assert.ErrorIs(t, err, ledger.ErrUnavailable)
			assert.Empty(t, inv.Records)
		})
	}
}

func TestScanRecordsEpoch(t *testing.T) {
	gw := stub.New()
	mintClasses(gw, 1, 2)
	gw.SetBlockTime(500, baseTime.Add(500*time.Hour))

	inv, err := newScanner(t, gw, nil).Scan(context.Background(), holder, classes, Upto(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), inv.Epoch)
}

func TestScanInvalidRange(t *testing.T) {
	s := newScanner(t, stub.New(), nil)

	_, err := s.Scan(context.Background(), holder, classes, IDRange{First: 0, Last: 5})
	assert.ErrorIs(t, err, ErrScanFailed)

	_, err = s.Scan(context.Background(), holder, classes, IDRange{First: 5, Last: 4})
	assert.ErrorIs(t, err, ErrScanFailed)
}

func TestHeld(t *testing.T) {
	gw := stub.New()
	mintClasses(gw, 3, 12, 20)
	s := newScanner(t, gw, nil)

	ids, err := s.Held(context.Background(), holder, classes, Upto(25))
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 12, 20}, ids)

	before := gw.Reads("balanceOf")
	first, ok, err := s.FirstHeld(context.Background(), holder, classes, Upto(25))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), first)
	// only the first page of seven IDs was queried
	assert.Equal(t, 7, gw.Reads("balanceOf")-before)

	_, ok, err = s.FirstHeld(context.Background(), other, classes, Upto(25))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIDRangePages(t *testing.T) {
	tests := []struct {
		r    IDRange
		size int
		want []IDRange
	}{
		{Upto(10), 4, []IDRange{{1, 4}, {5, 8}, {9, 10}}},
		{Upto(10), 10, []IDRange{{1, 10}}},
		{Upto(10), 0, []IDRange{{1, 10}}},
		{IDRange{First: 5, Last: 5}, 3, []IDRange{{5, 5}}},
		{IDRange{First: 5, Last: 4}, 3, nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.r, tt.size), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Pages(tt.size))
		})
	}

	assert.Equal(t, 100, Upto(100).Len())
	assert.Equal(t, 0, IDRange{First: 2, Last: 1}.Len())
}
