// Package attestation builds attestation payloads and issues them to recipients.
package attestation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pilacorp/go-attestation-sdk/config"
	"github.com/pilacorp/go-attestation-sdk/journal"
	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/logging"
	"github.com/pilacorp/go-attestation-sdk/metrics"
	"github.com/pilacorp/go-attestation-sdk/scanner"
)

var (
	// ErrPrecondition is returned when Issue is called with input it cannot act on.
	ErrPrecondition = errors.New("attestation precondition not met")
	// ErrInvalidRecipient is recorded for a recipient that cannot receive a token.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// IssuanceResult is the outcome of issuing the attestation to one recipient.
type IssuanceResult struct {
	Recipient       common.Address
	TransactionHash string
	Succeeded       bool
	// Skipped is set when the recipient already held an attestation from the same holder
	// and no transaction was sent.
	Skipped bool
	Err     error
}

// Options configures an Orchestrator.
type Options struct {
	Gateway ledger.Gateway
	// Contract is the attestation contract address.
	Contract common.Address
	// ProofSetSize defaults to DefaultProofSetSize.
	ProofSetSize int
	// Policy defaults to config.AllowDuplicates.
	Policy config.DuplicatePolicy
	// LocateRange bounds the search for existing attestations under config.SkipIfAttested.
	LocateRange scanner.IDRange
	// Scanner is used for the existing attestation search. Built from Gateway when nil.
	Scanner *scanner.Scanner
	// Journal records every attempt when set.
	Journal journal.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Orchestrator issues attestations.
type Orchestrator struct {
	gw          ledger.Gateway
	contract    ledger.Contract
	size        int
	policy      config.DuplicatePolicy
	locateRange scanner.IDRange
	scanner     *scanner.Scanner
	journal     journal.Store
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.Contract == (common.Address{}) {
		return nil, errors.New("attestation contract is required")
	}
	if opts.ProofSetSize <= 0 {
		opts.ProofSetSize = DefaultProofSetSize
	}
	if opts.Policy == "" {
		opts.Policy = config.AllowDuplicates
	}
	if _, err := config.ParseDuplicatePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if opts.LocateRange.Len() == 0 {
		opts.LocateRange = scanner.Upto(config.DefaultLocateUpperBound)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Scanner == nil {
		s, err := scanner.New(scanner.Options{Gateway: opts.Gateway, Logger: opts.Logger, Metrics: opts.Metrics})
		if err != nil {
			return nil, err
		}
		opts.Scanner = s
	}

	return &Orchestrator{
		gw:          opts.Gateway,
		contract:    ledger.Contract{Kind: ledger.AttestationContract, Address: opts.Contract},
		size:        opts.ProofSetSize,
		policy:      opts.Policy,
		locateRange: opts.LocateRange,
		scanner:     opts.Scanner,
		journal:     opts.Journal,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}, nil
}

// Issue builds one payload from inv and form and issues it to every recipient in order.
//
// Recipients are processed one after another, each transaction awaited before the next,
// since they share one signer nonce sequence. A failure for one recipient is recorded in
// its result and does not stop the others. Issue only returns an error when nothing was
// attempted.
//
// Journal entries are keyed on the holder, the class contract and inv.Epoch, the head
// block of the scan that produced inv.
func (o *Orchestrator) Issue(ctx context.Context, inv scanner.Inventory, form FormData, recipients []common.Address) ([]IssuanceResult, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrPrecondition)
	}

	payload, err := BuildPayload(inv, form, o.size)
	if err != nil {
		return nil, err
	}

	epoch := inv.Epoch
	if epoch == 0 {
		// inventory not produced by a scan
		head, err := o.gw.LatestBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("read ledger epoch: %w", err)
		}
		epoch = head
	}
	key := journal.IdempotencyKey(inv.Holder, inv.Contract, epoch)
	runID := journal.RunID(ctx)

	logger := o.logger.With(
		zap.String("run_id", runID),
		zap.String("holder", inv.Holder.Hex()),
		zap.String("contract", o.contract.Address.Hex()),
		zap.String("idempotency_key", key),
	)

	digest, err := payload.Digest()
	if err != nil {
		logger.Warn("payload digest unavailable", zap.Error(err))
	}

	logger.Info("issuing attestation",
		zap.Int("recipients", len(recipients)),
		zap.Int("proof_set", len(payload.ProofSet)),
		zap.String("digest", digest),
		zap.String("policy", string(o.policy)),
	)

	results := make([]IssuanceResult, 0, len(recipients))
	for _, recipient := range recipients {
		res := o.issueOne(ctx, payload, recipient, logger)
		results = append(results, res)
		o.record(ctx, runID, key, digest, inv, res, logger)
	}
	return results, nil
}

func (o *Orchestrator) issueOne(ctx context.Context, payload Payload, recipient common.Address, logger *zap.Logger) IssuanceResult {
	res := IssuanceResult{Recipient: recipient}
	logger = logger.With(zap.String("recipient", recipient.Hex()))

	if recipient == (common.Address{}) {
		res.Err = fmt.Errorf("%w: zero address", ErrInvalidRecipient)
		o.metrics.Issuance(metrics.OutcomeFailed)
		logger.Warn("issuance failed", zap.Error(res.Err))
		return res
	}

	if o.policy == config.SkipIfAttested {
		attested, err := o.alreadyAttested(ctx, recipient, payload.Issuer)
		if err != nil {
			res.Err = fmt.Errorf("check existing attestation: %w", err)
			o.metrics.Issuance(metrics.OutcomeFailed)
			logger.Warn("issuance failed", zap.Error(res.Err))
			return res
		}
		if attested {
			res.Succeeded = true
			res.Skipped = true
			o.metrics.Issuance(metrics.OutcomeSkipped)
			logger.Info("recipient already attested, skipping")
			return res
		}
	}

	receipt, err := o.gw.Submit(ctx, ledger.MintAttestationCall(o.contract, recipient, payload.AttestationData()))
	if err != nil {
		res.Err = err
		o.metrics.Issuance(metrics.OutcomeFailed)
		logger.Warn("issuance failed", zap.Error(err))
		return res
	}

	res.Succeeded = true
	res.TransactionHash = receipt.TxHash.Hex()
	o.metrics.Issuance(metrics.OutcomeSucceeded)
	logger.Info("attestation issued", zap.String("tx_hash", res.TransactionHash), zap.Uint64("block", receipt.BlockNumber))
	return res
}

// alreadyAttested reports whether recipient holds an attestation whose issuer is holder.
func (o *Orchestrator) alreadyAttested(ctx context.Context, recipient, holder common.Address) (bool, error) {
	ids, err := o.scanner.Held(ctx, recipient, o.contract, o.locateRange)
	if err != nil {
		return false, err
	}

	for _, id := range ids {
		data, err := o.gw.AttestationData(ctx, o.contract, id)
		if errors.Is(err, ledger.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if data.Issuer == holder {
			return true, nil
		}
	}
	return false, nil
}

// record appends res to the journal. Journal failures never change the outcome.
func (o *Orchestrator) record(ctx context.Context, runID, key, digest string, inv scanner.Inventory, res IssuanceResult, logger *zap.Logger) {
	if o.journal == nil {
		return
	}

	e := journal.NewEntry(journal.KindAttestation, runID, key)
	e.Holder = inv.Holder
	e.Contract = o.contract.Address
	e.Recipient = res.Recipient
	e.Digest = digest
	e.TxHash = res.TransactionHash
	e.Succeeded = res.Succeeded
	e.Skipped = res.Skipped
	if res.Err != nil {
		e.Error = res.Err.Error()
	}

	if err := o.journal.Append(ctx, e); err != nil {
		logger.Warn("failed to journal issuance", zap.String("recipient", res.Recipient.Hex()), zap.Error(err))
	}
}
