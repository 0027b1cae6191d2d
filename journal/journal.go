// Package journal keeps an append-only audit trail of issuance attempts.
//
// The journal is never consulted to decide whether to issue; the ledger remains the
// only source of truth. It records what was attempted, with which payload digest and
// under which idempotency key.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when an entry with the same ID already exists.
	ErrDuplicateKey = errors.New("duplicate key: append-only journal does not allow updates")
	// ErrInvalidInput is returned when an entry fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind distinguishes attestation and approval entries.
type Kind string

const (
	KindAttestation Kind = "attestation"
	KindApproval    Kind = "approval"
)

// Entry is one issuance attempt for one recipient.
type Entry struct {
	ID             string
	RunID          string
	Kind           Kind
	IdempotencyKey string
	Holder         common.Address
	Contract       common.Address
	Recipient      common.Address
	Digest         string
	TxHash         string
	Succeeded      bool
	Skipped        bool
	Error          string
	RecordedAt     time.Time
}

// NewEntry returns an Entry with a fresh ID and the current time.
func NewEntry(kind Kind, runID, key string) Entry {
	return Entry{
		ID:             uuid.NewString(),
		RunID:          runID,
		Kind:           kind,
		IdempotencyKey: key,
		RecordedAt:     time.Now().UTC(),
	}
}

// Validate checks the required fields of an entry.
func (e Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	}
	if e.Kind != KindAttestation && e.Kind != KindApproval {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, e.Kind)
	}
	return nil
}

// Store is an append-only journal.
type Store interface {
	// Append adds an entry. Returns ErrDuplicateKey if the ID exists.
	Append(ctx context.Context, e Entry) error
	// ByKey returns the entries recorded under an idempotency key, oldest first.
	ByKey(ctx context.Context, key string) ([]Entry, error)
	// Get returns the entry with id. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (Entry, error)
}

// IdempotencyKey identifies one issuance attempt for a holder on a contract at a ledger epoch.
func IdempotencyKey(holder, contract common.Address, epoch uint64) string {
	return fmt.Sprintf("%s|%s|%d", holder.Hex(), contract.Hex(), epoch)
}

type runIDKey struct{}

// WithRunID returns a context carrying runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run ID carried by ctx, or a fresh one.
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
