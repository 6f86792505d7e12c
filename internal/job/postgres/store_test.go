package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/gally-search/internal/job"
	"github.com/utafrali/gally-search/pkg/database"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func setupStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewStore(mock), mock
}

var jobColumnNames = []string{
	"id", "root_id", "name", "unique_key", "status", "sealed", "pending", "created_at", "updated_at",
}

var ts = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func jobRow(id, rootID int64, name, key, status string, sealed bool, pending int) *pgxmock.Rows {
	return pgxmock.NewRows(jobColumnNames).
		AddRow(id, rootID, name, key, status, sealed, pending, ts, ts)
}

// ---------------------------------------------------------------------------
// CreateRoot
// ---------------------------------------------------------------------------

func TestStore_CreateRoot_Created(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs("reindex", "msg-1").
		WillReturnRows(jobRow(1, 0, "reindex", "msg-1", "running", false, 0))

	root, created, err := store.CreateRoot(context.Background(), "reindex", "msg-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), root.ID)
	assert.True(t, root.IsRoot())
	assert.Equal(t, job.StatusRunning, root.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRoot_KeyTaken(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs("reindex", "msg-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM jobs WHERE unique_key").
		WithArgs("msg-1").
		WillReturnRows(jobRow(7, 0, "reindex", "msg-1", "running", true, 2))

	root, created, err := store.CreateRoot(context.Background(), "reindex", "msg-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(7), root.ID)
	assert.Equal(t, 2, root.Pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRoot_Error(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs("reindex", "msg-1").
		WillReturnError(errors.New("connection lost"))

	_, _, err := store.CreateRoot(context.Background(), "reindex", "msg-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "create root job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// CreateChild
// ---------------------------------------------------------------------------

func TestStore_CreateChild_Success(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET pending = pending \\+ 1").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"sealed"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(int64(1), "chunk").
		WillReturnRows(jobRow(2, 1, "chunk", "", "new", false, 0))
	mock.ExpectCommit()

	child, err := store.CreateChild(context.Background(), 1, "chunk")
	require.NoError(t, err)
	assert.Equal(t, int64(2), child.ID)
	assert.Equal(t, int64(1), child.RootID)
	assert.Equal(t, job.StatusNew, child.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateChild_Sealed(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET pending = pending \\+ 1").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"sealed"}).AddRow(true))
	mock.ExpectRollback()

	_, err := store.CreateChild(context.Background(), 1, "chunk")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sealed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateChild_UnknownRoot(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET pending = pending \\+ 1").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.CreateChild(context.Background(), 9, "chunk")
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// CompleteChild
// ---------------------------------------------------------------------------

func TestStore_CompleteChild_FinishesRoot(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET status = 'success'").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"root_id"}).AddRow(int64(1)))
	mock.ExpectQuery("pending = pending - 1").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("success"))
	mock.ExpectCommit()

	done, err := store.CompleteChild(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CompleteChild_RootStillRunning(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET status = 'success'").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"root_id"}).AddRow(int64(1)))
	mock.ExpectQuery("pending = pending - 1").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("running"))
	mock.ExpectCommit()

	done, err := store.CompleteChild(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CompleteChild_AlreadyDone(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET status = 'success'").
		WithArgs(int64(2)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	done, err := store.CompleteChild(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Seal / Abandon / status
// ---------------------------------------------------------------------------

func TestStore_Seal_NoPendingChildren(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE jobs SET").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("success"))

	done, err := store.Seal(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Seal_UnknownRoot(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE jobs SET").
		WithArgs(int64(5)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.Seal(context.Background(), 5)
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Abandon(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE jobs SET status = 'failed', unique_key = NULL").
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE jobs SET status = 'failed', unique_key = NULL").
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Abandon(context.Background(), 1))
	assert.ErrorIs(t, store.Abandon(context.Background(), 2), job.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Fail(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(int64(2), "failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Fail(context.Background(), 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_NotFound(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM jobs WHERE id").
		WithArgs(int64(3)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), 3)
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Dependents
// ---------------------------------------------------------------------------

func TestStore_SaveDependents(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	body := json.RawMessage(`{"root_job_id":1}`)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO job_dependents").
		WithArgs(int64(1), "finish", []byte(body)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.SaveDependents(context.Background(), 1, []job.Dependent{{Topic: "finish", Body: body}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Dependents(t *testing.T) {
	store, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT topic, body FROM job_dependents").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"topic", "body"}).
			AddRow("finish", []byte(`{"root_job_id":1}`)).
			AddRow("notify", []byte(`"done"`)))

	deps, err := store.Dependents(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "finish", deps[0].Topic)
	assert.JSONEq(t, `{"root_job_id":1}`, string(deps[0].Body))
	assert.Equal(t, "notify", deps[1].Topic)
	assert.NoError(t, mock.ExpectationsWereMet())
}
