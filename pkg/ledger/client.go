// Package ledger is the gateway to the external append-only ledger that
// anchors evidence fingerprints. The ledger is the system of record for
// "was this fingerprint ever anchored, and under which case".
//
// The client is stateless. It is constructed once at process startup and
// passed explicitly to the anchoring coordinator and the verification
// service; there is no ambient singleton.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Entry is the ledger's record for one anchored fingerprint.
type Entry struct {
	Fingerprint string         `json:"fingerprint"`
	CaseID      string         `json:"case_id"`
	ArtifactID  string         `json:"artifact_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TxRef       string         `json:"tx_ref"`
	Sequence    uint64         `json:"sequence"`
	AnchoredAt  time.Time      `json:"anchored_at"`
}

// Submission is the payload anchored for one artifact. Metadata is an
// opaque audit bag (timestamp, filename, content type, size); only CaseID
// participates in tamper comparison at verification time.
type Submission struct {
	Fingerprint string         `json:"fingerprint"`
	CaseID      string         `json:"case_id"`
	ArtifactID  string         `json:"artifact_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

var (
	// ErrUnavailable signals a transport or RPC failure. Retryable.
	ErrUnavailable = errors.New("ledger: unavailable")

	// ErrRejected signals the ledger actively refused the transaction
	// (malformed payload, credential or fee problem). Retryable only once
	// the underlying cause is fixed.
	ErrRejected = errors.New("ledger: transaction rejected")

	// ErrNotFound is returned by Read when no entry exists for a
	// fingerprint. It is an answer, not a transport failure.
	ErrNotFound = errors.New("ledger: entry not found")
)

// Client submits and reads anchor records.
//
// Submit costs real resources on the ledger side (transaction fees). It
// must never be called speculatively; callers own at-most-once semantics
// per successful anchoring. The call returns once the write is accepted
// into a transaction, which may happen well before consensus finality.
type Client interface {
	Submit(ctx context.Context, sub Submission) (txRef string, err error)
	Read(ctx context.Context, fingerprint string) (*Entry, error)
}
