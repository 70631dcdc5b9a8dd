package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore implements Store using database/sql. It supports both
// Postgres (github.com/lib/pq) and SQLite (modernc.org/sqlite) via
// standard drivers; both accept $N placeholders.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle and ensures the schema.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS evidence_records (
		artifact_id   TEXT PRIMARY KEY,
		case_id       TEXT NOT NULL,
		fingerprint   TEXT NOT NULL,
		url           TEXT NOT NULL,
		storage_id    TEXT NOT NULL,
		filename      TEXT NOT NULL DEFAULT '',
		content_type  TEXT NOT NULL DEFAULT '',
		size_bytes    BIGINT NOT NULL DEFAULT 0,
		status        TEXT NOT NULL,
		ledger_tx_ref TEXT,
		anchored_at   TEXT,
		last_error    TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		CHECK (status IN ('pending', 'confirmed', 'failed')),
		CHECK (
			(status = 'confirmed' AND ledger_tx_ref IS NOT NULL AND anchored_at IS NOT NULL)
			OR
			(status <> 'confirmed' AND ledger_tx_ref IS NULL AND anchored_at IS NULL)
		)
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_records_case ON evidence_records (case_id);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const recordColumns = `artifact_id, case_id, fingerprint, url, storage_id, filename, content_type, size_bytes, status, ledger_tx_ref, anchored_at, last_error, created_at, updated_at`

func (s *SQLStore) Create(ctx context.Context, r *Record) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	if err := r.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt

	query := `INSERT INTO evidence_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, NULL, $10, $11, $12)`
	_, err := s.db.ExecContext(ctx, query,
		r.ArtifactID, r.CaseID, r.Fingerprint, r.URL, r.StorageID,
		r.Filename, r.ContentType, r.SizeBytes, r.Status, r.LastError,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrExists, r.ArtifactID)
		}
		return fmt.Errorf("insert evidence record: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, artifactID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM evidence_records WHERE artifact_id = $1`
	row := s.db.QueryRowContext(ctx, query, artifactID)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, artifactID)
		}
		return nil, err
	}
	return r, nil
}

func (s *SQLStore) ListByCase(ctx context.Context, caseID string) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM evidence_records WHERE case_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := make([]*Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLStore) MarkConfirmed(ctx context.Context, artifactID, txRef string, anchoredAt time.Time) error {
	query := `UPDATE evidence_records
		SET status = $1, ledger_tx_ref = $2, anchored_at = $3, last_error = '', updated_at = $4
		WHERE artifact_id = $5 AND status = $6`
	return s.transition(ctx, artifactID, query,
		StatusConfirmed, txRef, formatTime(anchoredAt.UTC()), formatTime(time.Now().UTC()), artifactID, StatusPending)
}

func (s *SQLStore) MarkFailed(ctx context.Context, artifactID, lastError string) error {
	query := `UPDATE evidence_records
		SET status = $1, last_error = $2, updated_at = $3
		WHERE artifact_id = $4 AND status = $5`
	return s.transition(ctx, artifactID, query,
		StatusFailed, lastError, formatTime(time.Now().UTC()), artifactID, StatusPending)
}

func (s *SQLStore) MarkPending(ctx context.Context, artifactID string) error {
	query := `UPDATE evidence_records
		SET status = $1, last_error = '', updated_at = $2
		WHERE artifact_id = $3 AND status = $4`
	return s.transition(ctx, artifactID, query,
		StatusPending, formatTime(time.Now().UTC()), artifactID, StatusFailed)
}

// transition runs a status-guarded UPDATE and maps "no rows changed" to
// ErrNotFound or ErrConflict.
func (s *SQLStore) transition(ctx context.Context, artifactID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update evidence record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, artifactID); errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %s", ErrConflict, artifactID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r          Record
		txRef      sql.NullString
		anchoredAt sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&r.ArtifactID, &r.CaseID, &r.Fingerprint, &r.URL, &r.StorageID,
		&r.Filename, &r.ContentType, &r.SizeBytes, &r.Status,
		&txRef, &anchoredAt, &r.LastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.LedgerTxRef = txRef.String
	if anchoredAt.Valid && anchoredAt.String != "" {
		t := parseTime(anchoredAt.String)
		r.AnchoredAt = &t
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

// isUniqueViolation matches the primary-key violation text of both the
// SQLite and Postgres drivers without importing driver error types here.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
