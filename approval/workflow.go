// Package approval locates a holder's attestation and issues the reviewer's approval
// credential for it.
//
// Whether a subject is already approved is always derived from the ledger; a Workflow
// keeps no state beyond the current invocation.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/pilacorp/go-attestation-sdk/config"
	"github.com/pilacorp/go-attestation-sdk/journal"
	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/logging"
	"github.com/pilacorp/go-attestation-sdk/metrics"
	"github.com/pilacorp/go-attestation-sdk/scanner"
)

var (
	// ErrNotFound is returned by Locate when the holder has no attestation in range.
	ErrNotFound = errors.New("attestation not found")
	// ErrPrecondition is returned when Approve is called with input it cannot act on.
	ErrPrecondition = errors.New("approval precondition not met")
	// ErrNotReviewer is returned when the signer is not a configured reviewer.
	ErrNotReviewer = errors.New("signer is not a reviewer")
)

// State is the position of a Workflow in the approval process.
type State int

const (
	Searching State = iota
	Found
	NotFound
	Reviewing
	Approved
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Reviewing:
		return "reviewing"
	case Approved:
		return "approved"
	default:
		return "unknown"
	}
}

// AttestationRecord is a located attestation with its proof set enriched from the class contract.
type AttestationRecord struct {
	TokenID       uint64
	Contract      common.Address
	IssuedAt      string
	SubjectHolder string
	Issuer        common.Address
	ProofSet      []ledger.ProofEntry
}

// Record is an approval credential.
type Record struct {
	SubjectHolder   string
	Subject         common.Address
	Grade           string
	Comment         string
	TokenID         uint64
	AttestationID   uint64
	TransactionHash string
}

// Options configures a Workflow.
type Options struct {
	Gateway     ledger.Gateway
	Attestation common.Address
	Approval    common.Address
	// LocateRange bounds the attestation and approval searches.
	LocateRange scanner.IDRange
	// Reviewers may approve. Empty allows any signer.
	Reviewers []common.Address
	// Workers bounds concurrent proof set enrichment. Defaults to scanner.DefaultWorkers.
	Workers int
	Scanner *scanner.Scanner
	Journal journal.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Workflow drives Locate and Approve for one reviewer session.
// A Workflow is not safe for concurrent use.
type Workflow struct {
	gw          ledger.Gateway
	attestation ledger.Contract
	approval    ledger.Contract
	locateRange scanner.IDRange
	reviewers   map[common.Address]struct{}
	workers     int
	scanner     *scanner.Scanner
	journal     journal.Store
	logger      *zap.Logger
	metrics     *metrics.Metrics

	state State
}

// New creates a Workflow in the Searching state.
func New(opts Options) (*Workflow, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.Attestation == (common.Address{}) || opts.Approval == (common.Address{}) {
		return nil, errors.New("attestation and approval contracts are required")
	}
	if opts.LocateRange.Len() == 0 {
		opts.LocateRange = scanner.Upto(config.DefaultLocateUpperBound)
	}
	if opts.Workers <= 0 {
		opts.Workers = scanner.DefaultWorkers
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Scanner == nil {
		s, err := scanner.New(scanner.Options{Gateway: opts.Gateway, Workers: opts.Workers, Logger: opts.Logger, Metrics: opts.Metrics})
		if err != nil {
			return nil, err
		}
		opts.Scanner = s
	}

	reviewers := make(map[common.Address]struct{}, len(opts.Reviewers))
	for _, r := range opts.Reviewers {
		reviewers[r] = struct{}{}
	}

	return &Workflow{
		gw:          opts.Gateway,
		attestation: ledger.Contract{Kind: ledger.AttestationContract, Address: opts.Attestation},
		approval:    ledger.Contract{Kind: ledger.ApprovalContract, Address: opts.Approval},
		locateRange: opts.LocateRange,
		reviewers:   reviewers,
		workers:     opts.Workers,
		scanner:     opts.Scanner,
		journal:     opts.Journal,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		state:       Searching,
	}, nil
}

// State returns the current state.
func (w *Workflow) State() State {
	return w.state
}

// Locate finds the first attestation held by holder and enriches its proof set.
//
// A holder without attestations yields ErrNotFound and the NotFound state. Ledger
// failures are returned as is and leave the workflow Searching.
func (w *Workflow) Locate(ctx context.Context, holder common.Address) (*AttestationRecord, error) {
	w.state = Searching
	logger := w.logger.With(zap.String("holder", holder.Hex()))

	id, ok, err := w.scanner.FirstHeld(ctx, holder, w.attestation, w.locateRange)
	if err != nil {
		return nil, fmt.Errorf("locate attestation: %w", err)
	}
	if !ok {
		w.state = NotFound
		logger.Debug("no attestation held", zap.Stringer("range", w.locateRange))
		return nil, ErrNotFound
	}

	data, err := w.gw.AttestationData(ctx, w.attestation, id)
	if errors.Is(err, ledger.ErrTokenNotFound) {
		w.state = NotFound
		logger.Warn("attestation data missing", zap.Uint64("token_id", id), zap.Error(err))
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read attestation %d: %w", id, err)
	}

	rec := &AttestationRecord{
		TokenID:       id,
		Contract:      w.attestation.Address,
		IssuedAt:      data.IssuedAt,
		SubjectHolder: data.SubjectHolder,
		Issuer:        data.Issuer,
		ProofSet:      w.enrich(ctx, data.ProofSet, logger),
	}

	w.state = Found
	logger.Info("attestation located", zap.Uint64("token_id", id), zap.Int("proof_set", len(rec.ProofSet)))
	return rec, nil
}

// enrich fills each proof entry's topic from its class contract. Entries are read in
// parallel and keep their order; failed reads keep the stored topic.
func (w *Workflow) enrich(ctx context.Context, proofs []ledger.ProofEntry, logger *zap.Logger) []ledger.ProofEntry {
	mapper := iter.Mapper[ledger.ProofEntry, ledger.ProofEntry]{MaxGoroutines: w.workers}
	return mapper.Map(proofs, func(p *ledger.ProofEntry) ledger.ProofEntry {
		entry := *p
		class := ledger.Contract{Kind: ledger.ClassContract, Address: entry.ContractAddress}
		data, err := w.gw.ClassData(ctx, class, entry.TokenID)
		if err != nil {
			w.metrics.TokenFailure(metrics.StageClass)
			logger.Warn("proof entry class data unavailable", zap.Uint64("token_id", entry.TokenID), zap.Error(err))
			if entry.Topic == "" {
				entry.Topic = scanner.Unknown
			}
			return entry
		}
		if data.Topic != "" {
			entry.Topic = data.Topic
		}
		return entry
	})
}

// Approve issues the approval credential for rec to its issuer.
//
// If the issuer already holds an approval the existing record is returned with
// alreadyApproved set and no transaction is sent.
func (w *Workflow) Approve(ctx context.Context, rec *AttestationRecord, grade, comment string) (*Record, bool, error) {
	if rec == nil {
		return nil, false, fmt.Errorf("%w: no attestation located", ErrPrecondition)
	}
	grade, comment = strings.TrimSpace(grade), strings.TrimSpace(comment)
	if grade == "" || comment == "" {
		return nil, false, fmt.Errorf("%w: grade and comment are required", ErrPrecondition)
	}
	if rec.Issuer == (common.Address{}) {
		return nil, false, fmt.Errorf("%w: attestation has no issuer", ErrPrecondition)
	}

	reviewer, err := w.gw.SignerAddress()
	if err != nil {
		return nil, false, err
	}
	if len(w.reviewers) > 0 {
		if _, ok := w.reviewers[reviewer]; !ok {
			w.metrics.Approval(metrics.OutcomeFailed)
			return nil, false, fmt.Errorf("%w: %s", ErrNotReviewer, reviewer.Hex())
		}
	}

	w.state = Reviewing
	runID := journal.RunID(ctx)
	logger := w.logger.With(
		zap.String("run_id", runID),
		zap.String("subject", rec.Issuer.Hex()),
		zap.Uint64("attestation_id", rec.TokenID),
		zap.String("reviewer", reviewer.Hex()),
	)

	existing, err := w.first(ctx, rec.Issuer)
	if err != nil {
		return nil, false, fmt.Errorf("check existing approval: %w", err)
	}
	if existing != nil {
		existing.SubjectHolder = rec.SubjectHolder
		w.state = Approved
		w.metrics.Approval(metrics.OutcomeSkipped)
		logger.Info("subject already approved", zap.Uint64("token_id", existing.TokenID))
		return existing, true, nil
	}

	data := ledger.ApprovalData{Grade: grade, Comment: comment, Subject: rec.Issuer, AttestationID: rec.TokenID}
	receipt, err := w.gw.Submit(ctx, ledger.MintApprovalCall(w.approval, rec.Issuer, data))
	if err != nil {
		w.metrics.Approval(metrics.OutcomeFailed)
		logger.Warn("approval failed", zap.Error(err))
		w.record(ctx, runID, rec, "", err, logger)
		return nil, false, fmt.Errorf("mint approval: %w", err)
	}

	out := &Record{
		SubjectHolder:   rec.SubjectHolder,
		Subject:         rec.Issuer,
		Grade:           grade,
		Comment:         comment,
		AttestationID:   rec.TokenID,
		TransactionHash: receipt.TxHash.Hex(),
	}
	if id, ok, err := w.scanner.FirstHeld(ctx, rec.Issuer, w.approval, w.locateRange); err == nil && ok {
		out.TokenID = id
	} else if err != nil {
		logger.Warn("approval token id unavailable", zap.Error(err))
	}

	w.state = Approved
	w.metrics.Approval(metrics.OutcomeSucceeded)
	w.record(ctx, runID, rec, out.TransactionHash, nil, logger)
	logger.Info("approval issued", zap.String("tx_hash", out.TransactionHash), zap.Uint64("token_id", out.TokenID))
	return out, false, nil
}

// Approvals lists the approval credentials held by holder in ID order.
func (w *Workflow) Approvals(ctx context.Context, holder common.Address) ([]Record, error) {
	ids, err := w.scanner.Held(ctx, holder, w.approval, w.locateRange)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := w.read(ctx, holder, id)
		if errors.Is(err, ledger.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if att, err := w.gw.AttestationData(ctx, w.attestation, rec.AttestationID); err == nil {
			rec.SubjectHolder = att.SubjectHolder
		}
		records = append(records, *rec)
	}
	return records, nil
}

// first returns the lowest approval held by subject, or nil.
func (w *Workflow) first(ctx context.Context, subject common.Address) (*Record, error) {
	id, ok, err := w.scanner.FirstHeld(ctx, subject, w.approval, w.locateRange)
	if err != nil || !ok {
		return nil, err
	}
	rec, err := w.read(ctx, subject, id)
	if errors.Is(err, ledger.ErrTokenNotFound) {
		// a held token always counts as an approval, even without readable data
		return &Record{Subject: subject, TokenID: id}, nil
	}
	return rec, err
}

func (w *Workflow) read(ctx context.Context, holder common.Address, id uint64) (*Record, error) {
	data, err := w.gw.ApprovalData(ctx, w.approval, id)
	if err != nil {
		return nil, fmt.Errorf("read approval %d: %w", id, err)
	}
	return &Record{
		Subject:       holder,
		Grade:         data.Grade,
		Comment:       data.Comment,
		TokenID:       id,
		AttestationID: data.AttestationID,
	}, nil
}

func (w *Workflow) record(ctx context.Context, runID string, rec *AttestationRecord, txHash string, failure error, logger *zap.Logger) {
	if w.journal == nil {
		return
	}

	// approvals are keyed on the attestation they approve
	e := journal.NewEntry(journal.KindApproval, runID, journal.IdempotencyKey(rec.Issuer, w.approval.Address, rec.TokenID))
	e.Holder = rec.Issuer
	e.Contract = w.approval.Address
	e.Recipient = rec.Issuer
	e.TxHash = txHash
	e.Succeeded = failure == nil
	if failure != nil {
		e.Error = failure.Error()
	}

	if err := w.journal.Append(ctx, e); err != nil {
		logger.Warn("failed to journal approval", zap.Error(err))
	}
}
