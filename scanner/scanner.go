// Package scanner walks a bounded token ID space and builds the inventory a holder owns
// on one contract.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/logging"
	"github.com/pilacorp/go-attestation-sdk/metadata"
	"github.com/pilacorp/go-attestation-sdk/metrics"
	"github.com/pilacorp/go-attestation-sdk/provenance"
)

const (
	DefaultWorkers  = 8
	DefaultPageSize = 25

	// Unknown marks class fields that could not be read.
	Unknown = "unknown"
)

// ErrScanFailed is returned when the scan could not complete. No inventory is returned with it.
var ErrScanFailed = errors.New("scan failed")

// TokenRecord is one owned token with its metadata and provenance.
type TokenRecord struct {
	TokenID       uint64
	Metadata      metadata.Document
	Topic         string
	ClassIndex    string
	SubjectHolder string
	// MintedAt is nil when no mint to the holder was found.
	MintedAt       *time.Time
	TransferredOut bool
	// MintAnomaly is set when more than one mint to the holder was observed.
	MintAnomaly bool
}

// Inventory is the ordered set of tokens a holder owns on one contract.
// Records are in ascending token ID order.
type Inventory struct {
	Holder   common.Address
	Contract common.Address
	// Epoch is the head block when the scan started.
	Epoch   uint64
	Records []TokenRecord
}

// IDs returns the token IDs of the inventory in order.
func (inv Inventory) IDs() []uint64 {
	ids := make([]uint64, 0, len(inv.Records))
	for _, r := range inv.Records {
		ids = append(ids, r.TokenID)
	}
	return ids
}

// Options configures a Scanner.
type Options struct {
	Gateway ledger.Gateway
	// Metadata resolves token documents. Nil skips metadata.
	Metadata metadata.Source
	// Workers bounds concurrent ledger reads. Defaults to DefaultWorkers.
	Workers int
	// PageSize is the number of IDs walked per page. Defaults to DefaultPageSize.
	PageSize int
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Scanner builds inventories.
type Scanner struct {
	gw       ledger.Gateway
	meta     metadata.Source
	workers  int
	pageSize int
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New creates a Scanner.
func New(opts Options) (*Scanner, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	opts.Logger = logging.OrNop(opts.Logger)

	return &Scanner{
		gw:       opts.Gateway,
		meta:     opts.Metadata,
		workers:  opts.Workers,
		pageSize: opts.PageSize,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Scan returns the inventory of holder on contract over r.
//
// Zero balances and missing tokens skip the ID. Metadata and class data failures degrade
// the record to Unknown fields, and a token whose history reverts keeps a nil MintedAt.
// Any other ledger failure, an unreachable node included, fails the whole scan with
// ErrScanFailed.
func (s *Scanner) Scan(ctx context.Context, holder common.Address, contract ledger.Contract, r IDRange) (Inventory, error) {
	start := time.Now()
	logger := s.logger.With(
		zap.String("holder", holder.Hex()),
		zap.String("contract", contract.Address.Hex()),
		zap.Stringer("range", r),
	)

	epoch, records, err := s.scan(ctx, holder, contract, r, logger)
	s.metrics.ObserveScan(contract.Kind.String(), len(records), time.Since(start), err)
	if err != nil {
		logger.Warn("scan failed", zap.Error(err))
		return Inventory{}, err
	}

	logger.Debug("scan completed",
		zap.Int("tokens", len(records)),
		zap.Uint64("epoch", epoch),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Inventory{Holder: holder, Contract: contract.Address, Epoch: epoch, Records: records}, nil
}

func (s *Scanner) scan(ctx context.Context, holder common.Address, contract ledger.Contract, r IDRange, logger *zap.Logger) (uint64, []TokenRecord, error) {
	if err := r.Validate(); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	epoch, err := s.gw.LatestBlock(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: head block: %w", ErrScanFailed, err)
	}

	var records []TokenRecord
	for _, page := range r.Pages(s.pageSize) {
		found, err := walk(ctx, s.workers, page, func(ctx context.Context, id uint64) (*TokenRecord, error) {
			held, err := s.holds(ctx, holder, contract, id, logger)
			if err != nil || !held {
				return nil, err
			}
			rec, err := s.record(ctx, holder, contract, id, logger)
			if err != nil {
				return nil, err
			}
			return &rec, nil
		})
		if err != nil {
			return epoch, nil, err
		}
		records = append(records, found...)
	}
	return epoch, records, nil
}

// Held returns the IDs in r for which holder has a positive balance, in ascending order.
func (s *Scanner) Held(ctx context.Context, holder common.Address, contract ledger.Contract, r IDRange) ([]uint64, error) {
	return s.held(ctx, holder, contract, r, false)
}

// FirstHeld returns the lowest ID in r for which holder has a positive balance.
// Pages after the one holding the first hit are not queried.
func (s *Scanner) FirstHeld(ctx context.Context, holder common.Address, contract ledger.Contract, r IDRange) (uint64, bool, error) {
	ids, err := s.held(ctx, holder, contract, r, true)
	if err != nil || len(ids) == 0 {
		return 0, false, err
	}
	return ids[0], true, nil
}

func (s *Scanner) held(ctx context.Context, holder common.Address, contract ledger.Contract, r IDRange, stopAtFirst bool) ([]uint64, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	logger := s.logger.With(zap.String("holder", holder.Hex()), zap.String("contract", contract.Address.Hex()))

	var ids []uint64
	for _, page := range r.Pages(s.pageSize) {
		found, err := walk(ctx, s.workers, page, func(ctx context.Context, id uint64) (*uint64, error) {
			held, err := s.holds(ctx, holder, contract, id, logger)
			if err != nil || !held {
				return nil, err
			}
			return &id, nil
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, found...)
		if stopAtFirst && len(ids) > 0 {
			break
		}
	}
	return ids, nil
}

// walk calls fn for every ID of page on a bounded pool and returns the non-nil results in
// ID order. The first error cancels the page.
func walk[T any](ctx context.Context, workers int, page IDRange, fn func(context.Context, uint64) (*T, error)) ([]T, error) {
	slots := make([]*T, page.Len())

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(workers)
	for i := 0; i < page.Len(); i++ {
		id := page.First + uint64(i)
		p.Go(func(ctx context.Context) error {
			res, err := fn(ctx, id)
			if err != nil {
				return err
			}
			slots[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(slots))
	for _, v := range slots {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// holds reports whether holder has a positive balance of id.
func (s *Scanner) holds(ctx context.Context, holder common.Address, contract ledger.Contract, id uint64, logger *zap.Logger) (bool, error) {
	balance, err := s.gw.BalanceOf(ctx, contract, holder, id)
	if errors.Is(err, ledger.ErrTokenNotFound) {
		s.metrics.TokenFailure(metrics.StageBalance)
		logger.Debug("token does not exist", zap.Uint64("token_id", id), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: balance of token %d: %w", ErrScanFailed, id, err)
	}
	return balance != nil && balance.Sign() > 0, nil
}

// record builds the TokenRecord of an owned token. Metadata and class data are best
// effort. Transfer history and block time failures are returned unless they are token level.
func (s *Scanner) record(ctx context.Context, holder common.Address, contract ledger.Contract, id uint64, logger *zap.Logger) (TokenRecord, error) {
	logger = logger.With(zap.Uint64("token_id", id))
	rec := TokenRecord{
		TokenID:       id,
		Topic:         Unknown,
		ClassIndex:    Unknown,
		SubjectHolder: Unknown,
	}

	if s.meta != nil {
		rec.Metadata = s.fetchMetadata(ctx, contract, id, logger)
	}

	if contract.Kind == ledger.ClassContract {
		data, err := s.gw.ClassData(ctx, contract, id)
		if err != nil {
			s.metrics.TokenFailure(metrics.StageClass)
			logger.Warn("class data unavailable", zap.Error(err))
		} else {
			rec.Topic = orUnknown(data.Topic)
			rec.ClassIndex = orUnknown(data.ClassIndex)
			rec.SubjectHolder = orUnknown(data.SubjectHolder)
		}
	}

	events, err := s.gw.TransferEvents(ctx, contract, holder, &id)
	if err != nil {
		if !tokenLevel(err) {
			return rec, fmt.Errorf("%w: transfer history of token %d: %w", ErrScanFailed, id, err)
		}
		s.metrics.TokenFailure(metrics.StageEvents)
		logger.Warn("transfer history unavailable", zap.Error(err))
		return rec, nil
	}

	p, err := provenance.Evaluate(ctx, events, holder, s.gw)
	if err != nil {
		if !tokenLevel(err) {
			return rec, fmt.Errorf("%w: %w", ErrScanFailed, err)
		}
		s.metrics.TokenFailure(metrics.StageEvents)
		logger.Warn("provenance incomplete", zap.Error(err))
	}
	rec.MintedAt = p.MintedAt
	rec.TransferredOut = p.TransferredOut
	rec.MintAnomaly = p.Anomalous()
	if rec.MintAnomaly {
		logger.Warn("multiple mint events to holder, earliest kept",
			zap.Int("mint_events", p.MintEvents), zap.Uint64("mint_block", p.MintBlock))
	}
	return rec, nil
}

// tokenLevel reports whether err concerns only the token being read, such as a revert on
// a missing ID, rather than the ledger as a whole.
func tokenLevel(err error) bool {
	return errors.Is(err, ledger.ErrTokenNotFound) || errors.Is(err, ledger.ErrReverted)
}

func (s *Scanner) fetchMetadata(ctx context.Context, contract ledger.Contract, id uint64, logger *zap.Logger) metadata.Document {
	uri, err := s.gw.URI(ctx, contract, id)
	if err != nil {
		s.metrics.TokenFailure(metrics.StageMetadata)
		logger.Warn("metadata uri unavailable", zap.Error(err))
		return metadata.Document{}
	}

	doc, err := s.meta.Fetch(ctx, uri, id)
	if err != nil {
		s.metrics.TokenFailure(metrics.StageMetadata)
		logger.Warn("metadata document unavailable", zap.String("uri", uri), zap.Error(err))
	}
	return doc
}

func orUnknown(v string) string {
	if v == "" {
		return Unknown
	}
	return v
}
