// Package record persists the local evidence record for each uploaded
// artifact: fingerprint, owning case, anchoring status and the ledger
// transaction reference. It holds persistence only; the anchoring state
// machine lives in pkg/anchor and verdicts in pkg/verify.
package record

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the anchoring status of an evidence record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Record is the durable local record for one artifact.
//
// Invariant: LedgerTxRef and AnchoredAt are set if and only if
// Status == StatusConfirmed. LastError is set only on StatusFailed.
type Record struct {
	ArtifactID  string     `json:"artifact_id"`
	CaseID      string     `json:"case_id"`
	Fingerprint string     `json:"fingerprint"`
	URL         string     `json:"url"`
	StorageID   string     `json:"storage_id"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	Status      Status     `json:"status"`
	LedgerTxRef string     `json:"ledger_tx_ref,omitempty"`
	AnchoredAt  *time.Time `json:"anchored_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

var (
	// ErrNotFound means no record exists for the artifact ID.
	ErrNotFound = errors.New("record: not found")

	// ErrExists means a record for the artifact ID already exists.
	ErrExists = errors.New("record: already exists")

	// ErrConflict means a status transition was refused because the
	// record was not in the required source status.
	ErrConflict = errors.New("record: status conflict")
)

// Validate checks the confirmed/tx-ref invariant.
func (r *Record) Validate() error {
	switch r.Status {
	case StatusConfirmed:
		if r.LedgerTxRef == "" || r.AnchoredAt == nil {
			return fmt.Errorf("record %s: confirmed without ledger_tx_ref/anchored_at", r.ArtifactID)
		}
	case StatusPending, StatusFailed:
		if r.LedgerTxRef != "" || r.AnchoredAt != nil {
			return fmt.Errorf("record %s: %s with ledger_tx_ref/anchored_at set", r.ArtifactID, r.Status)
		}
	default:
		return fmt.Errorf("record %s: unknown status %q", r.ArtifactID, r.Status)
	}
	return nil
}

// AnchorMetadata is the audit bag submitted to the ledger alongside the
// fingerprint. It is stored for audit purposes and never participates in
// the tamper comparison.
func (r *Record) AnchorMetadata() map[string]any {
	return map[string]any{
		"timestamp":    r.CreatedAt.UTC().Format(time.RFC3339),
		"filename":     r.Filename,
		"content_type": r.ContentType,
		"size_bytes":   r.SizeBytes,
	}
}

// Store is the persistence contract for evidence records. Every status
// transition is a single atomic operation guarded by the source status,
// so ledger_tx_ref, anchored_at and status always change together.
type Store interface {
	// Create persists a new record in StatusPending.
	Create(ctx context.Context, r *Record) error

	// Get returns the record for an artifact ID, or ErrNotFound.
	Get(ctx context.Context, artifactID string) (*Record, error)

	// ListByCase returns all records owned by a case, newest first.
	ListByCase(ctx context.Context, caseID string) ([]*Record, error)

	// MarkConfirmed transitions pending -> confirmed, setting the ledger
	// transaction reference and anchor time atomically. ErrConflict if
	// the record is not pending.
	MarkConfirmed(ctx context.Context, artifactID, txRef string, anchoredAt time.Time) error

	// MarkFailed transitions pending -> failed with a human-readable
	// error. ErrConflict if the record is not pending.
	MarkFailed(ctx context.Context, artifactID, lastError string) error

	// MarkPending transitions failed -> pending, clearing last_error.
	// ErrConflict if the record is not failed.
	MarkPending(ctx context.Context, artifactID string) error
}
