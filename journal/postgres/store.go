// Package postgres is a journal.Store backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver

	"github.com/pilacorp/go-attestation-sdk/journal"
)

//go:embed schema.sql
var schema string

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

const (
	insertEntry = `INSERT INTO issuance_journal ` +
		`(id, run_id, kind, idempotency_key, holder, contract, recipient, digest, tx_hash, succeeded, skipped, error, recorded_at) ` +
		`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	selectColumns = `SELECT id, run_id, kind, idempotency_key, holder, contract, recipient, digest, tx_hash, succeeded, skipped, error, recorded_at ` +
		`FROM issuance_journal `

	selectByKey = selectColumns + `WHERE idempotency_key = $1 ORDER BY recorded_at, id`
	selectByID  = selectColumns + `WHERE id = $1`
)

// Store implements journal.Store on database/sql with the pgx driver.
type Store struct {
	db *sql.DB
}

var _ journal.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the journal table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts an entry. Returns ErrDuplicateKey if the ID exists.
func (s *Store) Append(ctx context.Context, e journal.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, insertEntry,
		e.ID, e.RunID, string(e.Kind), e.IdempotencyKey,
		e.Holder.Hex(), e.Contract.Hex(), e.Recipient.Hex(),
		e.Digest, e.TxHash, e.Succeeded, e.Skipped, e.Error, e.RecordedAt.UTC(),
	)
	if isDuplicateKeyError(err) {
		return journal.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// ByKey returns the entries recorded under key, oldest first.
func (s *Store) ByKey(ctx context.Context, key string) ([]journal.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectByKey, key)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// Get returns the entry with id. Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (journal.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return journal.Entry{}, journal.ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (journal.Entry, error) {
	var (
		e                          journal.Entry
		kind                       string
		holder, contract, receiver string
	)
	err := row.Scan(&e.ID, &e.RunID, &kind, &e.IdempotencyKey, &holder, &contract, &receiver,
		&e.Digest, &e.TxHash, &e.Succeeded, &e.Skipped, &e.Error, &e.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return journal.Entry{}, err
	}
	if err != nil {
		return journal.Entry{}, fmt.Errorf("scan journal entry: %w", err)
	}

	e.Kind = journal.Kind(kind)
	e.Holder = common.HexToAddress(holder)
	e.Contract = common.HexToAddress(contract)
	e.Recipient = common.HexToAddress(receiver)
	e.RecordedAt = e.RecordedAt.UTC()
	return e, nil
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
