package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS commitments`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCommitment(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := newCommitment("user-1", baseTime)
	doc, err := encodeCommitment(c)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT doc FROM commitments WHERE id = \$1`).
		WithArgs(c.ID).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	got, err := s.GetCommitment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, model.CommitmentHybrid, got.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCommitment_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM commitments WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCommitment(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_OpenCommitment_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM commitments WHERE user_id = \$1 AND status NOT IN`).
		WithArgs("user-1").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.OpenCommitment(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCommitment_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	existing := newCommitment("user-1", baseTime)
	existing.Status = model.StatusActionOverdue
	doc, err := encodeCommitment(existing)
	require.NoError(t, err)

	c := newCommitment("user-1", baseTime)
	mock.ExpectExec(`INSERT INTO commitments`).
		WithArgs(c.ID, "user-1", string(model.CommitmentHybrid), string(model.StatusActive), int64(1), c.TargetDate,
			0, 0, 0, pgxmock.AnyArg(), c.CreatedAt, c.UpdatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: uqOpenCommitment})
	mock.ExpectQuery(`SELECT doc FROM commitments WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	err = s.CreateCommitment(context.Background(), c)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidState, e.Kind)
	assert.Equal(t, string(model.StatusActionOverdue), e.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCommitment_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := newCommitment("user-1", baseTime)
	c.Status = model.StatusActionPending

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE commitments`).
		WithArgs(string(model.StatusActionPending), int64(2), 0, 0, 0, pgxmock.AnyArg(), c.UpdatedAt, c.ID, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.UpdateCommitment(context.Background(), c, 1))
	assert.Equal(t, int64(2), c.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCommitment_StaleVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := newCommitment("user-1", baseTime)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE commitments`).
		WithArgs(string(model.StatusActive), int64(2), 0, 0, 0, pgxmock.AnyArg(), c.UpdatedAt, c.ID, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM commitments WHERE id = \$1`).
		WithArgs(c.ID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectRollback()

	err := s.UpdateCommitment(context.Background(), c, 1)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidState, e.Kind)
	assert.Equal(t, "failed", e.Status)
	assert.Equal(t, int64(1), c.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertProof_PendingConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := newCommitment("user-1", baseTime)
	p := newPendingProof(c.ID, baseTime)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO action_proofs`).
		WithArgs(p.ID, c.ID, string(model.ProofPending), false, pgxmock.AnyArg(), pgxmock.AnyArg(), p.SubmittedAt, p.VerifiedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: uqPendingProof})
	mock.ExpectRollback()

	err := s.InsertProof(context.Background(), p, c, 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertProof_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := newCommitment("user-1", baseTime)
	c.Status = model.StatusActionProofSubmitted
	p := newPendingProof(c.ID, baseTime)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO action_proofs`).
		WithArgs(p.ID, c.ID, string(model.ProofPending), false, pgxmock.AnyArg(), pgxmock.AnyArg(), p.SubmittedAt, p.VerifiedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE commitments`).
		WithArgs(string(model.StatusActionProofSubmitted), int64(4), 0, 0, 0, pgxmock.AnyArg(), c.UpdatedAt, c.ID, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.InsertProof(context.Background(), p, c, 3))
	assert.Equal(t, int64(4), c.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveProof_AlreadyResolved(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := newCommitment("user-1", baseTime)
	p := newPendingProof(c.ID, baseTime)
	p.Approve("partner-1", baseTime)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE action_proofs SET status`).
		WithArgs(string(model.ProofApproved), pgxmock.AnyArg(), p.VerifiedAt, p.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM action_proofs WHERE id = \$1`).
		WithArgs(p.ID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("rejected"))
	mock.ExpectRollback()

	err := s.ResolveProof(context.Background(), p, c, 2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCommitments_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := newCommitment("user-1", baseTime)
	doc, err := encodeCommitment(c)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT doc FROM commitments WHERE 1=1 AND user_id = \$1 AND status = ANY\(\$2\) ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("user-1", []string{"active"}, 10, 5).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	got, err := s.ListCommitments(context.Background(), CommitmentFilter{
		UserID:   "user-1",
		Statuses: []model.CommitmentStatus{model.StatusActive},
		Limit:    10,
		Offset:   5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Tally(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\)`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "relapses", "late", "settled"}).
			AddRow("completed", int64(3), int64(4), int64(1), int64(0)).
			AddRow("failed", int64(1), int64(2), int64(0), int64(1)))

	tally, err := s.Tally(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, tally.ByStatus[model.StatusCompleted])
	assert.Equal(t, 1, tally.ByStatus[model.StatusFailed])
	assert.Equal(t, 6, tally.Relapses)
	assert.Equal(t, 1, tally.LateCompletions)
	assert.Equal(t, 1, tally.Settlements)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProof_ReadsLocationColumn(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	p := newPendingProof("c-1", baseTime)
	doc, location, err := encodeProof(p)
	require.NoError(t, err)
	require.NotEmpty(t, location)

	mock.ExpectQuery(`SELECT doc, location FROM action_proofs WHERE id = \$1`).
		WithArgs(p.ID).
		WillReturnRows(pgxmock.NewRows([]string{"doc", "location"}).AddRow(doc, location))

	got, err := s.GetProof(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 40.7128, got.Location.Latitude, 1e-9)
	assert.InDelta(t, -74.0060, got.Location.Longitude, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
