package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-attestation-sdk/config"
	"github.com/pilacorp/go-attestation-sdk/journal"
	"github.com/pilacorp/go-attestation-sdk/journal/postgres"
)

var (
	errJournalQuery = errors.New("give either an idempotency key or --id")
	errNoJournal    = errors.New("journal dsn is not configured, the in-memory journal does not outlive a command")
)

type entryView struct {
	ID             string    `json:"id"`
	RunID          string    `json:"runId"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Holder         string    `json:"holder"`
	Contract       string    `json:"contract"`
	Recipient      string    `json:"recipient"`
	Digest         string    `json:"digest,omitempty"`
	TxHash         string    `json:"txHash,omitempty"`
	Succeeded      bool      `json:"succeeded"`
	Skipped        bool      `json:"skipped,omitempty"`
	Error          string    `json:"error,omitempty"`
	RecordedAt     time.Time `json:"recordedAt"`
}

func newEntryView(e journal.Entry) entryView {
	return entryView{
		ID:             e.ID,
		RunID:          e.RunID,
		Kind:           string(e.Kind),
		IdempotencyKey: e.IdempotencyKey,
		Holder:         e.Holder.Hex(),
		Contract:       e.Contract.Hex(),
		Recipient:      e.Recipient.Hex(),
		Digest:         e.Digest,
		TxHash:         e.TxHash,
		Succeeded:      e.Succeeded,
		Skipped:        e.Skipped,
		Error:          e.Error,
		RecordedAt:     e.RecordedAt,
	}
}

func journalCmd(configPath *string) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "journal [idempotency-key]",
		Short: "Show the issuance attempts recorded under an idempotency key, or one entry by ID.",
		Long: `Show the issuance attempts recorded under an idempotency key, or one entry by ID.

Keys have the form <holder>|<contract>|<epoch> and are printed by the issue command.
Only a postgres journal (journal.dsn) can be queried.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			}
			if (key == "") == (id == "") {
				return errJournalQuery
			}
			cmd.SilenceUsage = true

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.JournalDSN == "" {
				return errNoJournal
			}

			store, err := postgres.Open(cmd.Context(), cfg.JournalDSN)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			v, err := lookupJournal(cmd.Context(), store, key, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "entry ID to show instead of a key")
	return cmd
}

// lookupJournal returns the entry with id when set, otherwise the entries under key.
func lookupJournal(ctx context.Context, store journal.Store, key, id string) (any, error) {
	if id != "" {
		e, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return newEntryView(e), nil
	}

	entries, err := store.ByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newEntryView(e))
	}
	return views, nil
}
