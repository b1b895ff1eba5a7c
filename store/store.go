package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"flapgate/economy"
)

// SQLiteStore persists the one-time claim ledger and the saga audit log.
// Backing the claim set with a durable table (instead of process memory)
// means restarts cannot re-open a claimed reward.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the store at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// A single writer keeps the unique-constraint check-and-set race free
	// without busy-retry loops.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS claims (
            actor TEXT PRIMARY KEY,
            claimed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS saga_audit (
            id TEXT PRIMARY KEY,
            actor TEXT NOT NULL,
            saga TEXT NOT NULL,
            outcome TEXT NOT NULL,
            tx_ref TEXT,
            occurred_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_saga_audit_actor ON saga_audit(actor, occurred_at);`,
		`CREATE TABLE IF NOT EXISTS listers (
            token_id INTEGER PRIMARY KEY,
            seller TEXT NOT NULL,
            listed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReserveClaim atomically inserts the actor into the claim ledger. The
// primary key makes concurrent reservations collapse to exactly one winner.
func (s *SQLiteStore) ReserveClaim(ctx context.Context, actor string) (bool, error) {
	actor = normalizeActor(actor)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO claims(actor) VALUES(?) ON CONFLICT(actor) DO NOTHING`, actor)
	if err != nil {
		return false, fmt.Errorf("reserve claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve claim: %w", err)
	}
	return affected == 1, nil
}

// ReleaseClaim removes a reservation whose reward never landed.
func (s *SQLiteStore) ReleaseClaim(ctx context.Context, actor string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE actor = ?`, normalizeActor(actor))
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// HasClaimed reports whether the actor holds a claim.
func (s *SQLiteStore) HasClaimed(ctx context.Context, actor string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM claims WHERE actor = ?`, normalizeActor(actor)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query claim: %w", err)
	}
	return true, nil
}

// RecordSaga appends one audit row.
func (s *SQLiteStore) RecordSaga(ctx context.Context, rec economy.SagaRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saga_audit(id, actor, saga, outcome, tx_ref, occurred_at) VALUES(?, ?, ?, ?, ?, ?)`,
		rec.ID, normalizeActor(rec.Actor), rec.Saga, rec.Outcome, rec.TxRef, at)
	if err != nil {
		return fmt.Errorf("record saga: %w", err)
	}
	return nil
}

// RecentSagas returns up to limit audit rows for an actor, newest first.
func (s *SQLiteStore) RecentSagas(ctx context.Context, actor string, limit int) ([]economy.SagaRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, saga, outcome, tx_ref, occurred_at FROM saga_audit
         WHERE actor = ? ORDER BY occurred_at DESC LIMIT ?`, normalizeActor(actor), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []economy.SagaRecord
	for rows.Next() {
		var rec economy.SagaRecord
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Saga, &rec.Outcome, &rec.TxRef, &rec.At); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordLister remembers who actually listed a token. On chain every listing
// is written by the custodial backend signer, so the marketplace's seller
// field cannot identify the player; this table is the authoritative answer.
func (s *SQLiteStore) RecordLister(ctx context.Context, tokenID uint64, seller string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listers(token_id, seller) VALUES(?, ?)
         ON CONFLICT(token_id) DO UPDATE SET seller = excluded.seller, listed_at = CURRENT_TIMESTAMP`,
		tokenID, normalizeActor(seller))
	if err != nil {
		return fmt.Errorf("record lister: %w", err)
	}
	return nil
}

// Lister returns the recorded seller for a token, reporting false when none
// is recorded.
func (s *SQLiteStore) Lister(ctx context.Context, tokenID uint64) (string, bool, error) {
	var seller string
	err := s.db.QueryRowContext(ctx,
		`SELECT seller FROM listers WHERE token_id = ?`, tokenID).Scan(&seller)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query lister: %w", err)
	}
	return seller, true, nil
}

// ClearLister drops the record once the listing is bought or cancelled.
func (s *SQLiteStore) ClearLister(ctx context.Context, tokenID uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM listers WHERE token_id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("clear lister: %w", err)
	}
	return nil
}

// Addresses are case-insensitive on the wire; store them canonically.
func normalizeActor(actor string) string {
	return strings.ToLower(strings.TrimSpace(actor))
}
