// Package evidence orchestrates the intake of new evidence artifacts:
// fingerprint the bytes, check the uploader's declared hash, persist the
// blob and the pending record, then hand the artifact to the anchoring
// coordinator. The upload response returns as soon as the record is
// durable; anchoring completes in the background.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/casetrust/anchor/pkg/blob"
	"github.com/casetrust/anchor/pkg/fingerprint"
	"github.com/casetrust/anchor/pkg/observability"
	"github.com/casetrust/anchor/pkg/record"
)

var (
	// ErrIntegrityMismatch means the uploader's declared hash does not
	// match the fingerprint of the received bytes. The artifact was
	// corrupted or altered in transit and is refused before any state is
	// written.
	ErrIntegrityMismatch = errors.New("evidence: declared hash does not match received content")

	// ErrEmptyUpload means the upload carried no bytes.
	ErrEmptyUpload = errors.New("evidence: empty upload")
)

// Upload describes one incoming artifact.
type Upload struct {
	CaseID      string
	Filename    string
	ContentType string
	Data        []byte

	// DeclaredHash is the client-side SHA-256 of the file, if the
	// uploader provided one. Empty skips the transit-integrity check.
	DeclaredHash string
}

// Receipt is returned to the uploader once the artifact is accepted.
type Receipt struct {
	ArtifactID  string        `json:"artifact_id"`
	CaseID      string        `json:"case_id"`
	Fingerprint string        `json:"fingerprint"`
	URL         string        `json:"url"`
	Status      record.Status `json:"status"`
}

// Anchorer is the slice of the coordinator the intake service needs.
type Anchorer interface {
	Enqueue(artifactID string)
}

// Service accepts evidence uploads.
type Service struct {
	blobs    blob.Store
	records  record.Store
	anchorer Anchorer
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Config tunes the intake service.
type Config struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewService wires intake over the blob store, record store and
// anchoring coordinator.
func NewService(blobs blob.Store, records record.Store, anchorer Anchorer, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		blobs:    blobs,
		records:  records,
		anchorer: anchorer,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Accept fingerprints and stores an uploaded artifact, creates its
// pending evidence record and schedules anchoring. The returned receipt
// carries the server-computed fingerprint so the uploader can keep its
// own copy of the claim.
//
// Ordering is deliberate: blob first, record second, enqueue last. A
// crash between blob and record leaves an orphan blob (harmless, the
// store is content-addressed); a record without its blob would be a
// dangling claim.
func (s *Service) Accept(ctx context.Context, up Upload) (*Receipt, error) {
	if len(up.Data) == 0 {
		return nil, ErrEmptyUpload
	}

	fp := fingerprint.Digest(up.Data)
	if up.DeclaredHash != "" && !fingerprint.Matches(up.DeclaredHash, fp) {
		s.logger.Warn("upload refused: declared hash mismatch",
			"case_id", up.CaseID, "filename", up.Filename,
			"declared", up.DeclaredHash, "computed", fp)
		return nil, ErrIntegrityMismatch
	}

	ref, err := s.blobs.Store(ctx, up.Data, up.ContentType)
	if err != nil {
		return nil, fmt.Errorf("evidence: store blob: %w", err)
	}

	rec := &record.Record{
		ArtifactID:  uuid.NewString(),
		CaseID:      up.CaseID,
		Fingerprint: fp,
		URL:         ref.URL,
		StorageID:   ref.StorageID,
		Filename:    up.Filename,
		ContentType: up.ContentType,
		SizeBytes:   int64(len(up.Data)),
		Status:      record.StatusPending,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("evidence: create record: %w", err)
	}

	s.metrics.UploadAccepted(ctx)
	s.logger.Info("evidence accepted",
		"artifact_id", rec.ArtifactID, "case_id", rec.CaseID,
		"fingerprint", fp, "size_bytes", rec.SizeBytes)

	s.anchorer.Enqueue(rec.ArtifactID)

	return &Receipt{
		ArtifactID:  rec.ArtifactID,
		CaseID:      rec.CaseID,
		Fingerprint: fp,
		URL:         ref.URL,
		Status:      record.StatusPending,
	}, nil
}

// Get returns the evidence record for an artifact.
func (s *Service) Get(ctx context.Context, artifactID string) (*record.Record, error) {
	return s.records.Get(ctx, artifactID)
}

// ListByCase returns all evidence records owned by a case, newest first.
func (s *Service) ListByCase(ctx context.Context, caseID string) ([]*record.Record, error) {
	return s.records.ListByCase(ctx, caseID)
}
