// Package pipeline runs scan, eligibility and issuance for one holder and maps every
// failure to an outcome a caller can act on.
// Flow: scan → provenance → eligibility → issuance
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pilacorp/go-attestation-sdk/approval"
	"github.com/pilacorp/go-attestation-sdk/attestation"
	"github.com/pilacorp/go-attestation-sdk/eligibility"
	"github.com/pilacorp/go-attestation-sdk/journal"
	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/logging"
	"github.com/pilacorp/go-attestation-sdk/metrics"
	"github.com/pilacorp/go-attestation-sdk/scanner"
)

// ErrNotEligible is returned by Run when the holder does not meet the eligibility rules.
var ErrNotEligible = errors.New("requirements not met")

// Outcome classifies the end state of a run.
type Outcome int

const (
	// Completed means the run reached its goal.
	Completed Outcome = iota
	// Retryable means the run stopped on a transient failure and may be refreshed manually.
	Retryable
	// Denied means the run stopped for a reason that retrying will not change.
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Retryable:
		return "retryable"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by any pipeline component to an Outcome.
// A nil error is Completed.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Completed
	case errors.Is(err, ErrNotEligible),
		errors.Is(err, attestation.ErrPrecondition),
		errors.Is(err, approval.ErrPrecondition),
		errors.Is(err, approval.ErrNotFound),
		errors.Is(err, approval.ErrNotReviewer),
		errors.Is(err, ledger.ErrNoSigner):
		return Denied
	default:
		// scan failures, unavailable or reverting ledger, cancelled contexts
		return Retryable
	}
}

// Result is what one run produced.
type Result struct {
	RunID   string
	Holder  common.Address
	Outcome Outcome
	// Reasons explains a Denied outcome or a failed run, one line each.
	Reasons []string
	Verdict *eligibility.Verdict
	Issued  []attestation.IssuanceResult
	Err     error
}

// Options configures a Pipeline.
type Options struct {
	Scanner *scanner.Scanner
	Engine  eligibility.Engine
	// Orchestrator is required by Run only.
	Orchestrator *attestation.Orchestrator
	// Contract is the class contract scanned for the holder's tokens.
	Contract  common.Address
	ScanRange scanner.IDRange
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Pipeline runs the eligibility and attestation flow. It holds no per-holder state.
type Pipeline struct {
	scanner      *scanner.Scanner
	engine       eligibility.Engine
	orchestrator *attestation.Orchestrator
	contract     ledger.Contract
	scanRange    scanner.IDRange
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if opts.Contract == (common.Address{}) {
		return nil, errors.New("class contract is required")
	}
	if err := opts.ScanRange.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan range: %w", err)
	}
	if opts.Engine.MinimumCount <= 0 {
		opts.Engine.MinimumCount = eligibility.DefaultMinimumCount
	}
	if opts.Engine.Cutoff.IsZero() {
		opts.Engine.Cutoff = eligibility.DefaultCutoff
	}
	opts.Logger = logging.OrNop(opts.Logger)

	return &Pipeline{
		scanner:      opts.Scanner,
		engine:       opts.Engine,
		orchestrator: opts.Orchestrator,
		contract:     ledger.Contract{Kind: ledger.ClassContract, Address: opts.Contract},
		scanRange:    opts.ScanRange,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}, nil
}

// Check scans holder and evaluates the eligibility rules without issuing anything.
func (p *Pipeline) Check(ctx context.Context, holder common.Address) *Result {
	ctx, res := p.begin(ctx, holder)
	p.check(ctx, res)
	if res.Err == nil && !res.Verdict.Eligible {
		p.fail(res, ErrNotEligible)
		res.Reasons = res.Verdict.Summary()
	}
	return res
}

// Run scans holder, evaluates the eligibility rules and, when eligible, issues the
// attestation to every recipient.
//
// The Result is always returned. Its Outcome is Completed when at least one recipient
// holds the attestation afterwards, Denied when the holder is not eligible or the input
// is rejected, and Retryable otherwise.
func (p *Pipeline) Run(ctx context.Context, holder common.Address, form attestation.FormData, recipients []common.Address) *Result {
	ctx, res := p.begin(ctx, holder)
	if p.orchestrator == nil {
		p.fail(res, errors.New("no orchestrator configured"))
		return res
	}

	p.check(ctx, res)
	if res.Err != nil {
		return res
	}
	if !res.Verdict.Eligible {
		p.fail(res, ErrNotEligible)
		res.Reasons = res.Verdict.Summary()
		return res
	}

	issued, err := p.orchestrator.Issue(ctx, res.Verdict.Inventory, form, recipients)
	if err != nil {
		p.fail(res, fmt.Errorf("issue attestation: %w", err))
		return res
	}
	res.Issued = issued

	var failed []error
	for _, r := range issued {
		if r.Succeeded {
			continue
		}
		failed = append(failed, fmt.Errorf("%s: %w", r.Recipient.Hex(), r.Err))
		res.Reasons = append(res.Reasons, fmt.Sprintf("recipient %s: %v", r.Recipient.Hex(), r.Err))
	}
	if len(failed) == len(issued) {
		p.fail(res, errors.Join(failed...))
		return res
	}

	p.logger.Info("run completed",
		zap.String("run_id", res.RunID),
		zap.String("holder", holder.Hex()),
		zap.Int("recipients", len(issued)),
		zap.Int("failed", len(failed)),
	)
	return res
}

func (p *Pipeline) begin(ctx context.Context, holder common.Address) (context.Context, *Result) {
	runID := uuid.NewString()
	return journal.WithRunID(ctx, runID), &Result{RunID: runID, Holder: holder, Outcome: Completed}
}

func (p *Pipeline) check(ctx context.Context, res *Result) {
	logger := p.logger.With(zap.String("run_id", res.RunID), zap.String("holder", res.Holder.Hex()))

	start := time.Now()
	inv, err := p.scanner.Scan(ctx, res.Holder, p.contract, p.scanRange)
	if err != nil {
		p.fail(res, err)
		return
	}

	verdict := p.engine.Evaluate(inv)
	res.Verdict = &verdict
	p.metrics.Verdict(verdict.Eligible)
	logger.Info("eligibility evaluated",
		zap.Bool("eligible", verdict.Eligible),
		zap.Int("tokens", verdict.Diagnostics.Count),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (p *Pipeline) fail(res *Result, err error) {
	res.Err = err
	res.Outcome = Classify(err)
	if res.Outcome == Retryable && len(res.Reasons) == 0 {
		res.Reasons = []string{err.Error()}
	}
	p.logger.Warn("run stopped",
		zap.String("run_id", res.RunID),
		zap.String("holder", res.Holder.Hex()),
		zap.Stringer("outcome", res.Outcome),
		zap.Error(err),
	)
}
