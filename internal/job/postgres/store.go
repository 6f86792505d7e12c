// Package postgres implements job.Store on PostgreSQL. Root uniqueness is a
// unique index on jobs.unique_key; counter updates rely on the row lock taken
// by UPDATE, so the root transition to success happens once.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/gally-search/internal/job"
	"github.com/utafrali/gally-search/pkg/database"
)

const jobColumns = `id, COALESCE(root_id, 0), name, COALESCE(unique_key, ''), status, sealed, pending, created_at, updated_at`

// Store implements job.Store using PostgreSQL.
type Store struct {
	pool database.DBTX
}

// NewStore creates a new PostgreSQL-backed job store.
func NewStore(pool database.DBTX) *Store {
	return &Store{pool: pool}
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j      job.Job
		status string
	)
	if err := row.Scan(
		&j.ID,
		&j.RootID,
		&j.Name,
		&j.UniqueKey,
		&status,
		&j.Sealed,
		&j.Pending,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	return &j, nil
}

// CreateRoot inserts a running root job unless the key is already held.
func (s *Store) CreateRoot(ctx context.Context, name, uniqueKey string) (*job.Job, bool, error) {
	query := `
		INSERT INTO jobs (name, unique_key, status)
		VALUES ($1, $2, 'running')
		ON CONFLICT (unique_key) DO NOTHING
		RETURNING ` + jobColumns

	ctx, end := database.TraceQuery(ctx, "CreateRootJob", query)
	root, err := scanJob(s.pool.QueryRow(ctx, query, name, uniqueKey))
	end(ignoreNoRows(err))
	if err == nil {
		return root, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create root job: %w", err)
	}

	existing, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE unique_key = $1`, uniqueKey))
	if err != nil {
		return nil, false, fmt.Errorf("get root job by key %s: %w", uniqueKey, err)
	}
	return existing, false, nil
}

// CreateChild increments the root counter and inserts the child in one
// transaction.
func (s *Store) CreateChild(ctx context.Context, rootID int64, name string) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sealed bool
	err = tx.QueryRow(ctx, `
		UPDATE jobs SET pending = pending + 1, updated_at = NOW()
		WHERE id = $1 AND root_id IS NULL
		RETURNING sealed`, rootID).Scan(&sealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("root job %d: %w", rootID, job.ErrNotFound)
		}
		return nil, fmt.Errorf("reserve child slot: %w", err)
	}
	if sealed {
		return nil, fmt.Errorf("job %d is sealed", rootID)
	}

	child, err := scanJob(tx.QueryRow(ctx, `
		INSERT INTO jobs (root_id, name, status)
		VALUES ($1, $2, 'new')
		RETURNING `+jobColumns, rootID, name))
	if err != nil {
		return nil, fmt.Errorf("insert child job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return child, nil
}

// Get retrieves a job by id.
func (s *Store) Get(ctx context.Context, id int64) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, job.ErrNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *Store) Start(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, job.StatusRunning)
}

func (s *Store) Fail(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, job.StatusFailed)
}

func (s *Store) setStatus(ctx context.Context, id int64, status job.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'success'`, id, string(status))
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.mustExist(ctx, id)
	}
	return nil
}

// CompleteChild marks the child as succeeded and decrements its root. The
// root row lock serializes concurrent completions.
func (s *Store) CompleteChild(ctx context.Context, id int64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rootID int64
	err = tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'success', updated_at = NOW()
		WHERE id = $1 AND root_id IS NOT NULL AND status <> 'success'
		RETURNING root_id`, id).Scan(&rootID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, s.mustExist(ctx, id)
		}
		return false, fmt.Errorf("complete child job: %w", err)
	}

	query := `
		UPDATE jobs SET
			pending = pending - 1,
			status = CASE WHEN sealed AND pending - 1 <= 0 AND status = 'running' THEN 'success' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING status`
	ctx, end := database.TraceQuery(ctx, "CompleteChildJob", query)
	var status string
	err = tx.QueryRow(ctx, query, rootID).Scan(&status)
	end(err)
	if err != nil {
		return false, fmt.Errorf("decrement root job %d: %w", rootID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return status == string(job.StatusSuccess), nil
}

// Seal closes the root for new children.
func (s *Store) Seal(ctx context.Context, rootID int64) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			sealed = TRUE,
			status = CASE WHEN pending <= 0 AND status = 'running' THEN 'success' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND root_id IS NULL AND NOT sealed
		RETURNING status`, rootID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, s.mustExist(ctx, rootID)
		}
		return false, fmt.Errorf("seal job: %w", err)
	}
	return status == string(job.StatusSuccess), nil
}

// Abandon fails the root and clears its unique key.
func (s *Store) Abandon(ctx context.Context, rootID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'failed', unique_key = NULL, updated_at = NOW()
		WHERE id = $1 AND root_id IS NULL`, rootID)
	if err != nil {
		return fmt.Errorf("abandon job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("root job %d: %w", rootID, job.ErrNotFound)
	}
	return nil
}

// SaveDependents stores deps in order.
func (s *Store) SaveDependents(ctx context.Context, rootID int64, deps []job.Dependent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, d := range deps {
		if _, err := tx.Exec(ctx, `
			INSERT INTO job_dependents (root_id, topic, body)
			VALUES ($1, $2, $3)`, rootID, d.Topic, []byte(d.Body)); err != nil {
			return fmt.Errorf("insert dependent %s: %w", d.Topic, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Dependents lists the dependents of a root in insertion order.
func (s *Store) Dependents(ctx context.Context, rootID int64) ([]job.Dependent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT topic, body FROM job_dependents
		WHERE root_id = $1
		ORDER BY id`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()

	var deps []job.Dependent
	for rows.Next() {
		var (
			topic string
			body  []byte
		)
		if err := rows.Scan(&topic, &body); err != nil {
			return nil, fmt.Errorf("scan dependent row: %w", err)
		}
		deps = append(deps, job.Dependent{Topic: topic, Body: body})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependent rows: %w", err)
	}
	return deps, nil
}

func (s *Store) mustExist(ctx context.Context, id int64) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	return nil
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
