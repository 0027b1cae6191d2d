package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-attestation-sdk/journal"
	"github.com/pilacorp/go-attestation-sdk/journal/memory"
	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/ledger/stub"
	"github.com/pilacorp/go-attestation-sdk/scanner"
)

var (
	student     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	reviewer    = common.HexToAddress("0x36e4418dafb9d1e5fff7408f5a57981e240c8f8e")
	stranger    = common.HexToAddress("0x9999999999999999999999999999999999999999")
	classAddr   = common.HexToAddress("0x00000000000000000000000000000000000c1a55")
	attestAddr  = common.HexToAddress("0x0000000000000000000000000000000000a77e57")
	approveAddr = common.HexToAddress("0x00000000000000000000000000000000000a9907")

	classes     = ledger.Contract{Kind: ledger.ClassContract, Address: classAddr}
	attestation = ledger.Contract{Kind: ledger.AttestationContract, Address: attestAddr}
)

func setup(t *testing.T) *stub.Gateway {
	t.Helper()
	gw := stub.New()
	gw.SetSigner(reviewer)

	proofs := make([]ledger.ProofEntry, 0, 10)
	for id := uint64(1); id <= 10; id++ {
		proofs = append(proofs, ledger.ProofEntry{TokenID: id, ContractAddress: classAddr})
		gw.SetClassData(classes, id, ledger.ClassData{Topic: "topic " + string(rune('a'+id-1))})
	}

	gw.Mint(attestation, student, 3, 100, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	gw.SetAttestationData(attestation, 3, ledger.AttestationData{
		IssuedAt:      "2025-06-01",
		SubjectHolder: "Ada Lovelace",
		Issuer:        student,
		ProofSet:      proofs,
	})
	return gw
}

func newWorkflow(t *testing.T, gw ledger.Gateway, mutate func(*Options)) *Workflow {
	t.Helper()
	opts := Options{
		Gateway:     gw,
		Attestation: attestAddr,
		Approval:    approveAddr,
		LocateRange: scanner.Upto(20),
		Workers:     3,
	}
	if mutate != nil {
		mutate(&opts)
	}
	w, err := New(opts)
	require.NoError(t, err)
	return w
}

func TestLocateNotFound(t *testing.T) {
	w := newWorkflow(t, setup(t), nil)
	assert.Equal(t, Searching, w.State())

	var (
		rec *AttestationRecord
		err error
	)
	assert.NotPanics(t, func() {
		rec, err = w.Locate(context.Background(), stranger)
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, rec)
	assert.Equal(t, NotFound, w.State())
}

func TestLocateEnrichesProofSet(t *testing.T) {
	gw := setup(t)
	gw.FailToken("classData", 4, errors.New("reverted"))
	w := newWorkflow(t, gw, nil)

	rec, err := w.Locate(context.Background(), student)
	require.NoError(t, err)
	assert.Equal(t, Found, w.State())

	assert.Equal(t, uint64(3), rec.TokenID)
	assert.Equal(t, "Ada Lovelace", rec.SubjectHolder)
	assert.Equal(t, student, rec.Issuer)
	require.Len(t, rec.ProofSet, 10)
	for i, p := range rec.ProofSet {
		assert.Equal(t, uint64(i+1), p.TokenID)
		if p.TokenID == 4 {
			assert.Equal(t, scanner.Unknown, p.Topic)
			continue
		}
		assert.Equal(t, "topic "+string(rune('a'+i)), p.Topic)
	}
}

func TestLocateLedgerFailure(t *testing.T) {
	gw := setup(t)
	gw.FailMethod("balanceOf", ledger.ErrUnavailable)
	w := newWorkflow(t, gw, nil)

	_, err := w.Locate(context.Background(), student)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.Equal(t, Searching, w.State())
}

func TestApproveTwice(t *testing.T) {
	gw := setup(t)
	store := memory.New()
	w := newWorkflow(t, gw, func(o *Options) { o.Journal = store })

	rec, err := w.Locate(context.Background(), student)
	require.NoError(t, err)

	first, already, err := w.Approve(context.Background(), rec, "A", "excellent work")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, Approved, w.State())
	assert.Equal(t, "A", first.Grade)
	assert.Equal(t, student, first.Subject)
	assert.Equal(t, uint64(3), first.AttestationID)
	assert.Equal(t, uint64(1), first.TokenID)
	assert.NotEmpty(t, first.TransactionHash)
	require.Len(t, gw.Submitted(), 1)

	to, data, ok := ledger.DecodeMintApproval(gw.Submitted()[0])
	require.True(t, ok)
	assert.Equal(t, student, to)
	assert.Equal(t, uint64(3), data.AttestationID)

	// a fresh workflow sees the approval on the ledger
	again := newWorkflow(t, gw, nil)
	second, already, err := again.Approve(context.Background(), rec, "B", "second opinion")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, "A", second.Grade)
	assert.Equal(t, "Ada Lovelace", second.SubjectHolder)
	assert.Len(t, gw.Submitted(), 1)

	entries, err := store.ByKey(context.Background(), journal.IdempotencyKey(student, approveAddr, 3))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Succeeded)
}

func TestApprovePreconditions(t *testing.T) {
	gw := setup(t)
	w := newWorkflow(t, gw, nil)
	rec, err := w.Locate(context.Background(), student)
	require.NoError(t, err)

	_, _, err = w.Approve(context.Background(), nil, "A", "ok")
	assert.ErrorIs(t, err, ErrPrecondition)

	_, _, err = w.Approve(context.Background(), rec, " ", "ok")
	assert.ErrorIs(t, err, ErrPrecondition)

	_, _, err = w.Approve(context.Background(), rec, "A", "")
	assert.ErrorIs(t, err, ErrPrecondition)

	assert.Empty(t, gw.Submitted())
}

func TestApproveReviewerGate(t *testing.T) {
	gw := setup(t)
	w := newWorkflow(t, gw, func(o *Options) { o.Reviewers = []common.Address{stranger} })
	rec, err := w.Locate(context.Background(), student)
	require.NoError(t, err)

	_, _, err = w.Approve(context.Background(), rec, "A", "ok")
	assert.ErrorIs(t, err, ErrNotReviewer)
	assert.Empty(t, gw.Submitted())

	allowed := newWorkflow(t, gw, func(o *Options) { o.Reviewers = []common.Address{stranger, reviewer} })
	_, already, err := allowed.Approve(context.Background(), rec, "A", "ok")
	require.NoError(t, err)
	assert.False(t, already)
}

func TestApproveSubmitFailure(t *testing.T) {
	gw := setup(t)
	gw.FailRecipient(student, ledger.ErrReverted)
	w := newWorkflow(t, gw, nil)
	rec, err := w.Locate(context.Background(), student)
	require.NoError(t, err)

	_, _, err = w.Approve(context.Background(), rec, "A", "ok")
	assert.ErrorIs(t, err, ledger.ErrReverted)
	assert.NotErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, Reviewing, w.State())
}

func TestApprovals(t *testing.T) {
	gw := setup(t)
	w := newWorkflow(t, gw, nil)

	records, err := w.Approvals(context.Background(), student)
	require.NoError(t, err)
	assert.Empty(t, records)

	rec, err := w.Locate(context.Background(), student)
	require.NoError(t, err)
	_, _, err = w.Approve(context.Background(), rec, "A", "great")
	require.NoError(t, err)

	records, err = w.Approvals(context.Background(), student)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].Grade)
	assert.Equal(t, "great", records[0].Comment)
	assert.Equal(t, "Ada Lovelace", records[0].SubjectHolder)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "approved", Approved.String())
	assert.Equal(t, "unknown", State(99).String())
}
