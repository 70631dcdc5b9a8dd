package record_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/casetrust/anchor/pkg/record"
)

func newTestStore(t *testing.T) *record.SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := record.NewSQLStore(db)
	require.NoError(t, err)
	return s
}

func pendingRecord(artifactID, caseID string) *record.Record {
	return &record.Record{
		ArtifactID:  artifactID,
		CaseID:      caseID,
		Fingerprint: "aa11bb22",
		URL:         "file:///blobs/" + artifactID,
		StorageID:   "sha256:aa11bb22",
		Filename:    "scene.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   2048,
		Status:      record.StatusPending,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, pendingRecord("art-1", "case-42")))

	got, err := s.Get(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, "case-42", got.CaseID)
	assert.Equal(t, record.StatusPending, got.Status)
	assert.Empty(t, got.LedgerTxRef)
	assert.Nil(t, got.AnchoredAt)
	assert.False(t, got.CreatedAt.IsZero())
	require.NoError(t, got.Validate())
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, pendingRecord("art-1", "case-42")))
	err := s.Create(ctx, pendingRecord("art-1", "case-42"))
	assert.ErrorIs(t, err, record.ErrExists)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestMarkConfirmed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, pendingRecord("art-1", "case-42")))

	anchoredAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.MarkConfirmed(ctx, "art-1", "0xabc123", anchoredAt))

	got, err := s.Get(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusConfirmed, got.Status)
	assert.Equal(t, "0xabc123", got.LedgerTxRef)
	require.NotNil(t, got.AnchoredAt)
	assert.True(t, got.AnchoredAt.Equal(anchoredAt))
	require.NoError(t, got.Validate())

	// Confirming twice must not issue a second transition.
	err = s.MarkConfirmed(ctx, "art-1", "0xother", time.Now())
	assert.ErrorIs(t, err, record.ErrConflict)
}

func TestMarkFailedAndRetryCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, pendingRecord("art-1", "case-42")))

	require.NoError(t, s.MarkFailed(ctx, "art-1", "ledger: unavailable"))
	got, err := s.Get(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, got.Status)
	assert.Equal(t, "ledger: unavailable", got.LastError)
	require.NoError(t, got.Validate())

	// failed -> pending clears the error.
	require.NoError(t, s.MarkPending(ctx, "art-1"))
	got, err = s.Get(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, got.Status)
	assert.Empty(t, got.LastError)

	// and the machine can run to confirmed.
	require.NoError(t, s.MarkConfirmed(ctx, "art-1", "0xabc123", time.Now().UTC()))
}

func TestTransitionGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, pendingRecord("art-1", "case-42")))

	// pending record cannot be re-driven to pending.
	assert.ErrorIs(t, s.MarkPending(ctx, "art-1"), record.ErrConflict)

	require.NoError(t, s.MarkConfirmed(ctx, "art-1", "0xabc123", time.Now().UTC()))

	// confirmed is terminal.
	assert.ErrorIs(t, s.MarkFailed(ctx, "art-1", "nope"), record.ErrConflict)
	assert.ErrorIs(t, s.MarkPending(ctx, "art-1"), record.ErrConflict)

	// transitions on unknown artifacts report not-found, not conflict.
	assert.ErrorIs(t, s.MarkConfirmed(ctx, "ghost", "0x1", time.Now()), record.ErrNotFound)
}

func TestListByCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := pendingRecord("art-1", "case-42")
	a.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, pendingRecord("art-2", "case-42")))
	require.NoError(t, s.Create(ctx, pendingRecord("art-3", "case-99")))

	records, err := s.ListByCase(ctx, "case-42")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "art-2", records[0].ArtifactID, "newest first")

	records, err = s.ListByCase(ctx, "case-7")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestValidateRejectsMixedStates(t *testing.T) {
	now := time.Now()
	bad := &record.Record{ArtifactID: "a", Status: record.StatusConfirmed}
	assert.Error(t, bad.Validate())

	bad = &record.Record{ArtifactID: "a", Status: record.StatusPending, LedgerTxRef: "0x1"}
	assert.Error(t, bad.Validate())

	bad = &record.Record{ArtifactID: "a", Status: record.StatusFailed, AnchoredAt: &now}
	assert.Error(t, bad.Validate())
}
