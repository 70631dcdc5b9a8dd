package record_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casetrust/anchor/pkg/record"
)

// These tests exercise the Postgres side of the store: same SQL, $N
// placeholders, driver mocked out.

func newMockStore(t *testing.T) (*record.SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS evidence_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := record.NewSQLStore(db)
	require.NoError(t, err)
	return s, mock
}

func TestMarkConfirmedIssuesGuardedUpdate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE evidence_records").
		WithArgs(record.StatusConfirmed, "0xabc123", sqlmock.AnyArg(), sqlmock.AnyArg(), "art-1", record.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkConfirmed(context.Background(), "art-1", "0xabc123", time.Now().UTC())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConfirmedMapsZeroRowsToConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE evidence_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now().UTC().Format(time.RFC3339Nano)
	cols := []string{
		"artifact_id", "case_id", "fingerprint", "url", "storage_id",
		"filename", "content_type", "size_bytes", "status",
		"ledger_tx_ref", "anchored_at", "last_error", "created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT .+ FROM evidence_records WHERE artifact_id").
		WithArgs("art-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"art-1", "case-42", "aa11", "file:///x", "sha256:aa11",
			"scene.jpg", "image/jpeg", int64(10), string(record.StatusConfirmed),
			"0xold", now, "", now, now,
		))

	err := s.MarkConfirmed(context.Background(), "art-1", "0xabc123", time.Now().UTC())
	assert.ErrorIs(t, err, record.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedMapsMissingRowToNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE evidence_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .+ FROM evidence_records WHERE artifact_id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"artifact_id"}))

	err := s.MarkFailed(context.Background(), "ghost", "boom")
	assert.ErrorIs(t, err, record.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
