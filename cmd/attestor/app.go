package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pilacorp/go-attestation-sdk/approval"
	"github.com/pilacorp/go-attestation-sdk/attestation"
	"github.com/pilacorp/go-attestation-sdk/config"
	"github.com/pilacorp/go-attestation-sdk/eligibility"
	"github.com/pilacorp/go-attestation-sdk/journal"
	"github.com/pilacorp/go-attestation-sdk/journal/memory"
	"github.com/pilacorp/go-attestation-sdk/journal/postgres"
	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/logging"
	"github.com/pilacorp/go-attestation-sdk/metadata"
	"github.com/pilacorp/go-attestation-sdk/metrics"
	"github.com/pilacorp/go-attestation-sdk/pipeline"
	"github.com/pilacorp/go-attestation-sdk/scanner"
	"github.com/pilacorp/go-attestation-sdk/signer"
)

// app holds the components built from one configuration.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	client  *ledger.Client
	scanner *scanner.Scanner
	journal journal.Store
	closers []func()
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	a.metrics, err = metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	txSigner, err := newSigner(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.client, err = ledger.Dial(ctx, &ledger.Config{
		RPCURL:    cfg.RPCURL,
		ChainID:   cfg.ChainID,
		GasPrice:  cfg.GasPrice,
		GasLimit:  cfg.GasLimit,
		FromBlock: cfg.FromBlock,
	}, txSigner)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, a.client.Close)

	a.scanner, err = scanner.New(scanner.Options{
		Gateway: a.client,
		Metadata: metadata.NewFetcher(metadata.Options{
			Gateway: cfg.IPFSGateway,
			Timeout: cfg.MetadataTimeout,
			Logger:  logger,
		}),
		Workers:  cfg.ScanWorkers,
		PageSize: int(cfg.ScanPageSize),
		Logger:   logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.journal, err = a.openJournal(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	logger.Debug("attestor ready",
		zap.String("rpc_url", cfg.RPCURL),
		zap.Int64("chain_id", cfg.ChainID),
		zap.Bool("signer", txSigner != nil),
	)
	return a, nil
}

// newSigner returns nil when no signing identity is configured; mutations then fail
// with ledger.ErrNoSigner.
func newSigner(cfg *config.Config) (signer.SignerProvider, error) {
	switch {
	case cfg.RemoteSignerURL != "":
		return signer.NewRemoteSigner(cfg.RemoteSignerURL, cfg.RemoteSignerAPIKey, cfg.RemoteSignerAddress)
	case cfg.SignerKey != "":
		return signer.NewDefaultProvider(cfg.SignerKey)
	default:
		return nil, nil
	}
}

func (a *app) openJournal(ctx context.Context) (journal.Store, error) {
	if a.cfg.JournalDSN == "" {
		return memory.New(), nil
	}

	store, err := postgres.Open(ctx, a.cfg.JournalDSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("failed to close journal", zap.Error(err))
		}
	})
	return store, nil
}

func (a *app) orchestrator() (*attestation.Orchestrator, error) {
	return attestation.New(attestation.Options{
		Gateway:      a.client,
		Contract:     a.cfg.AttestationAddress(),
		ProofSetSize: a.cfg.ProofSetSize,
		Policy:       a.cfg.DuplicatePolicy,
		LocateRange:  scanner.Upto(a.cfg.LocateUpperBound),
		Scanner:      a.scanner,
		Journal:      a.journal,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
}

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	o, err := a.orchestrator()
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		Scanner: a.scanner,
		Engine: eligibility.Engine{
			MinimumCount: a.cfg.ProofSetSize,
			Cutoff:       a.cfg.Cutoff,
		},
		Orchestrator: o,
		Contract:     a.cfg.ClassAddress(),
		ScanRange:    scanner.Upto(a.cfg.ScanUpperBound),
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
}

func (a *app) workflow() (*approval.Workflow, error) {
	return approval.New(approval.Options{
		Gateway:     a.client,
		Attestation: a.cfg.AttestationAddress(),
		Approval:    a.cfg.ApprovalAddress(),
		LocateRange: scanner.Upto(a.cfg.LocateUpperBound),
		Reviewers:   a.cfg.ReviewerAddresses(),
		Workers:     a.cfg.ScanWorkers,
		Scanner:     a.scanner,
		Journal:     a.journal,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
}

// close runs the closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

var errInvalidAddress = errors.New("invalid address")
