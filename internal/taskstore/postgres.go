package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/jmoiron/sqlx"
)

const taskColumns = `task_id, kind, state, inputs, options, output_ref, error_code, error_message,
	claimed_by, lease_expires_at, submitted_at, claimed_at, completed_at`

type taskRow struct {
	TaskID         string         `db:"task_id"`
	Kind           string         `db:"kind"`
	State          string         `db:"state"`
	Inputs         []byte         `db:"inputs"`
	Options        []byte         `db:"options"`
	OutputRef      sql.NullString `db:"output_ref"`
	ErrorCode      sql.NullString `db:"error_code"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ClaimedBy      sql.NullString `db:"claimed_by"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
	SubmittedAt    time.Time      `db:"submitted_at"`
	ClaimedAt      sql.NullTime   `db:"claimed_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

func (r *taskRow) toDomain() (*domain.Task, error) {
	t := &domain.Task{
		ID:             r.TaskID,
		Kind:           domain.TaskKind(r.Kind),
		State:          domain.TaskState(r.State),
		OutputRef:      r.OutputRef.String,
		ClaimedBy:      r.ClaimedBy.String,
		SubmittedAt:    r.SubmittedAt,
		LeaseExpiresAt: nullTime(r.LeaseExpiresAt),
		ClaimedAt:      nullTime(r.ClaimedAt),
		CompletedAt:    nullTime(r.CompletedAt),
	}
	if err := json.Unmarshal(r.Inputs, &t.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode inputs: %w", err)
	}
	if err := json.Unmarshal(r.Options, &t.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if r.ErrorCode.Valid {
		t.Error = &domain.TaskError{Code: r.ErrorCode.String, Message: r.ErrorMessage.String}
	}
	return t, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Postgres stores tasks in the blur_tasks table
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) Create(ctx context.Context, t *domain.Task) error {
	inputs, err := json.Marshal(t.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	options, err := json.Marshal(t.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	query := `
		INSERT INTO blur_tasks (task_id, kind, state, inputs, options, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	if _, err := p.db.ExecContext(ctx, query, t.ID, t.Kind, t.State, inputs, options, t.SubmittedAt); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*domain.Task, error) {
	var row taskRow
	err := p.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM blur_tasks WHERE task_id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUnknownTask
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toDomain()
}

// Claim takes the lease with an optimistic conditional update
func (p *Postgres) Claim(ctx context.Context, id, workerID string, now time.Time, lease time.Duration) (*domain.Task, error) {
	query := `
		UPDATE blur_tasks
		SET state = $1,
		    claimed_by = $2,
		    lease_expires_at = $3,
		    claimed_at = $4,
		    updated_at = $4
		WHERE task_id = $5
		  AND (state = $6 OR (state IN ($1, $7) AND lease_expires_at < $4))
		RETURNING ` + taskColumns

	var row taskRow
	err := p.db.GetContext(ctx, &row, query,
		domain.TaskStateClaimed, workerID, now.Add(lease), now, id,
		domain.TaskStateQueued, domain.TaskStateRunning,
	)
	if errors.Is(err, sql.ErrNoRows) {
		p.logger.Warn("Failed to claim task - held, finished or missing",
			slog.String("task_id", id),
			slog.String("worker_id", workerID))
		return nil, p.conflict(ctx, id, true)
	}
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("failed to claim task: %w", err))
	}
	return row.toDomain()
}

func (p *Postgres) Renew(ctx context.Context, id, workerID string, now time.Time, lease time.Duration) error {
	query := `
		UPDATE blur_tasks
		SET lease_expires_at = $1, updated_at = $2
		WHERE task_id = $3 AND claimed_by = $4 AND state IN ($5, $6)
	`
	return p.mutate(ctx, id, query, now.Add(lease), now, id, workerID, domain.TaskStateClaimed, domain.TaskStateRunning)
}

func (p *Postgres) Release(ctx context.Context, id, workerID string) error {
	query := `
		UPDATE blur_tasks
		SET state = $1, claimed_by = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE task_id = $2 AND claimed_by = $3 AND state IN ($4, $5)
	`
	return p.mutate(ctx, id, query, domain.TaskStateQueued, id, workerID, domain.TaskStateClaimed, domain.TaskStateRunning)
}

func (p *Postgres) Start(ctx context.Context, id, workerID string, now time.Time) error {
	query := `
		UPDATE blur_tasks
		SET state = $1, updated_at = $2
		WHERE task_id = $3 AND claimed_by = $4 AND state = $5
	`
	return p.mutate(ctx, id, query, domain.TaskStateRunning, now, id, workerID, domain.TaskStateClaimed)
}

func (p *Postgres) Succeed(ctx context.Context, id, workerID, outputRef string, now time.Time) error {
	query := `
		UPDATE blur_tasks
		SET state = $1, output_ref = $2, completed_at = $3, lease_expires_at = NULL, updated_at = $3
		WHERE task_id = $4 AND claimed_by = $5 AND state = $6
	`
	return p.mutate(ctx, id, query, domain.TaskStateSucceeded, outputRef, now, id, workerID, domain.TaskStateRunning)
}

func (p *Postgres) Fail(ctx context.Context, id, workerID string, terr domain.TaskError, now time.Time) error {
	if workerID == "" {
		query := `
			UPDATE blur_tasks
			SET state = $1, error_code = $2, error_message = $3, completed_at = $4, updated_at = $4
			WHERE task_id = $5 AND state = $6
		`
		return p.mutate(ctx, id, query, domain.TaskStateFailed, terr.Code, terr.Message, now, id, domain.TaskStateQueued)
	}

	query := `
		UPDATE blur_tasks
		SET state = $1, error_code = $2, error_message = $3, completed_at = $4,
		    lease_expires_at = NULL, updated_at = $4
		WHERE task_id = $5 AND claimed_by = $6 AND state IN ($7, $8)
	`
	return p.mutate(ctx, id, query, domain.TaskStateFailed, terr.Code, terr.Message, now, id, workerID,
		domain.TaskStateClaimed, domain.TaskStateRunning)
}

func (p *Postgres) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		UPDATE blur_tasks
		SET state = $1, claimed_by = NULL, lease_expires_at = NULL, updated_at = $2
		WHERE task_id IN (
			SELECT task_id FROM blur_tasks
			WHERE state IN ($3, $4) AND lease_expires_at < $2
			ORDER BY lease_expires_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING task_id
	`
	var ids []string
	err := p.db.SelectContext(ctx, &ids, query,
		domain.TaskStateQueued, now, domain.TaskStateClaimed, domain.TaskStateRunning, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to release expired leases: %w", err)
	}
	return ids, nil
}

func (p *Postgres) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM blur_tasks WHERE state IN ($1, $2) AND completed_at < $3`,
		domain.TaskStateSucceeded, domain.TaskStateFailed, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// mutate runs a conditional update and explains a zero-row result
func (p *Postgres) mutate(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to update task: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return p.conflict(ctx, id, false)
	}
	return nil
}

func (p *Postgres) conflict(ctx context.Context, id string, claiming bool) error {
	t, err := p.Get(ctx, id)
	if errors.Is(err, domain.ErrUnknownTask) {
		return domain.ErrUnknownTask
	}
	if err != nil {
		return err
	}
	return conflict(t, claiming)
}
