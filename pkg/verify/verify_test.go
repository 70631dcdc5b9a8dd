package verify_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/casetrust/anchor/pkg/anchor"
	"github.com/casetrust/anchor/pkg/ledger"
	"github.com/casetrust/anchor/pkg/record"
	"github.com/casetrust/anchor/pkg/verify"
)

func newStore(t *testing.T) record.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := record.NewSQLStore(db)
	require.NoError(t, err)
	return s
}

func newPending(t *testing.T, s record.Store, artifactID, caseID, fp string) *record.Record {
	t.Helper()
	rec := &record.Record{
		ArtifactID:  artifactID,
		CaseID:      caseID,
		Fingerprint: fp,
		URL:         "file:///blobs/" + artifactID,
		StorageID:   "sha256:" + fp,
		Filename:    "scene.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   64,
		Status:      record.StatusPending,
	}
	require.NoError(t, s.Create(context.Background(), rec))
	return rec
}

func anchored(t *testing.T, s record.Store, l ledger.Client, artifactID string) {
	t.Helper()
	c := anchor.NewCoordinator(s, l, anchor.Config{MaxAttempts: 1, InitialBackoff: time.Millisecond})
	require.NoError(t, c.Anchor(context.Background(), artifactID))
}

func TestVerifyAnchoredArtifact(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	newPending(t, s, "art-1", "case-42", "aa11")
	anchored(t, s, l, "art-1")

	svc := verify.NewService(s, l, verify.Config{})
	res, err := svc.Verify(ctx, "art-1")
	require.NoError(t, err)

	assert.Equal(t, verify.VerdictVerified, res.Verdict)
	assert.Equal(t, "case-42", res.CaseID)
	assert.Equal(t, "aa11", res.Fingerprint)
	assert.NotEmpty(t, res.LedgerTxRef)
	require.NotNil(t, res.AnchoredAt)
	assert.Equal(t, "ledger", res.Source)
	assert.False(t, res.Degraded)
	assert.False(t, res.MetadataDivergence,
		"metadata anchored by the coordinator must match the local bag")
}

func TestVerifyDetectsCrossCaseRebinding(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	// The fingerprint is first anchored under case-42.
	newPending(t, s, "art-1", "case-42", "aa11")
	anchored(t, s, l, "art-1")

	// The same bytes are later claimed by a different case. The ledger
	// refused the rebinding, so the record ends up failed; verification
	// against the ledger must call this tampered, not pending.
	newPending(t, s, "art-2", "case-99", "aa11")
	require.NoError(t, s.MarkFailed(ctx, "art-2", "ledger: submission rejected"))

	svc := verify.NewService(s, l, verify.Config{})
	res, err := svc.Verify(ctx, "art-2")
	require.NoError(t, err)

	assert.Equal(t, verify.VerdictTampered, res.Verdict)
	assert.Equal(t, "case-99", res.CaseID)
	assert.Contains(t, res.Detail, "different case")

	// The original artifact still verifies clean.
	res, err = svc.Verify(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, verify.VerdictVerified, res.Verdict)
}

func TestVerifyPendingAnchoring(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()

	newPending(t, s, "art-1", "case-42", "aa11")

	svc := verify.NewService(s, l, verify.Config{})
	res, err := svc.Verify(context.Background(), "art-1")
	require.NoError(t, err)

	assert.Equal(t, verify.VerdictPendingAnchoring, res.Verdict)
}

func TestVerifyConfirmedButAbsentFromLedger(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	// Locally confirmed against a transaction the ledger no longer
	// holds. The anomaly is reported, never repaired.
	newPending(t, s, "art-1", "case-42", "aa11")
	require.NoError(t, s.MarkConfirmed(ctx, "art-1", "0xdead", time.Now().UTC()))

	svc := verify.NewService(s, l, verify.Config{})
	res, err := svc.Verify(ctx, "art-1")
	require.NoError(t, err)

	assert.Equal(t, verify.VerdictNotFound, res.Verdict)
	assert.Contains(t, res.Detail, "confirmed")

	rec, err := s.Get(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusConfirmed, rec.Status, "verify must not rewrite local state")
}

func TestVerifyUnreachableWithoutLocalConfirmation(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()
	l.FailRead(ledger.ErrUnavailable)

	newPending(t, s, "art-1", "case-42", "aa11")

	svc := verify.NewService(s, l, verify.Config{})
	res, err := svc.Verify(context.Background(), "art-1")
	require.NoError(t, err)

	assert.Equal(t, verify.VerdictUnreachable, res.Verdict)
	assert.False(t, res.Degraded)
}

func TestVerifyDegradedLocalFallback(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	newPending(t, s, "art-1", "case-42", "aa11")
	anchored(t, s, l, "art-1")
	l.FailRead(ledger.ErrUnavailable)

	svc := verify.NewService(s, l, verify.Config{})
	res, err := svc.Verify(ctx, "art-1")
	require.NoError(t, err)

	assert.Equal(t, verify.VerdictVerified, res.Verdict)
	assert.True(t, res.Degraded)
	assert.Equal(t, "local", res.Source)
	assert.NotEmpty(t, res.LedgerTxRef)
}

func TestVerifyUnknownArtifact(t *testing.T) {
	s := newStore(t)
	svc := verify.NewService(s, ledger.NewMemoryLedger(), verify.Config{})

	res, err := svc.Verify(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, verify.VerdictArtifactUnknown, res.Verdict)
	assert.Equal(t, "ghost", res.ArtifactID)
}

func TestVerifyReconcilesAbandonedPending(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	// The ledger write landed but the status update never did, e.g. a
	// crash between submit and MarkConfirmed.
	rec := newPending(t, s, "art-1", "case-42", "aa11")
	txRef, err := l.Submit(ctx, ledger.Submission{
		Fingerprint: "aa11",
		CaseID:      "case-42",
		ArtifactID:  "art-1",
		Metadata:    rec.AnchorMetadata(),
	})
	require.NoError(t, err)

	svc := verify.NewService(s, l, verify.Config{})
	res, err := svc.Verify(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, verify.VerdictVerified, res.Verdict)

	got, err := s.Get(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusConfirmed, got.Status)
	assert.Equal(t, txRef, got.LedgerTxRef)
}

func TestVerifyFlagsMetadataDivergence(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	newPending(t, s, "art-1", "case-42", "aa11")
	_, err := l.Submit(ctx, ledger.Submission{
		Fingerprint: "aa11",
		CaseID:      "case-42",
		ArtifactID:  "art-1",
		Metadata:    map[string]any{"filename": "other.jpg"},
	})
	require.NoError(t, err)

	svc := verify.NewService(s, l, verify.Config{})
	res, err := svc.Verify(ctx, "art-1")
	require.NoError(t, err)

	// Case binding matches, so divergent metadata warns without
	// downgrading the verdict.
	assert.Equal(t, verify.VerdictVerified, res.Verdict)
	assert.True(t, res.MetadataDivergence)
}

func TestVerifyToleratesUnreachableCache(t *testing.T) {
	s := newStore(t)
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	newPending(t, s, "art-1", "case-42", "aa11")
	anchored(t, s, l, "art-1")

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := verify.NewService(s, l, verify.Config{
		Cache: verify.NewLedgerCache(rdb, time.Minute, nil),
	})
	res, err := svc.Verify(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, verify.VerdictVerified, res.Verdict)
}

func TestNilLedgerCacheIsNoOp(t *testing.T) {
	var c *verify.LedgerCache
	_, ok := c.Get(context.Background(), "aa11")
	assert.False(t, ok)
	c.Put(context.Background(), "aa11", &ledger.Entry{}) // must not panic
}
