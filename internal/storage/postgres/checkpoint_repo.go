package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// CheckpointStatus is the lifecycle of one collector run.
type CheckpointStatus string

const (
	CheckpointRunning   CheckpointStatus = "running"
	CheckpointCompleted CheckpointStatus = "completed"
	CheckpointFailed    CheckpointStatus = "failed"
)

// Checkpoint records collector progress so a crashed run resumes past
// the last fully processed key.
type Checkpoint struct {
	TaskName         string           `db:"task_name"`
	LastProcessedKey string           `db:"last_processed_key"`
	ProgressCount    int              `db:"progress_count"`
	Status           CheckpointStatus `db:"status"`
	UpdatedAt        time.Time        `db:"updated_at"`
}

// CheckpointRepo persists collector checkpoints.
type CheckpointRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Save writes or replaces the checkpoint for a task.
func (r *CheckpointRepo) Save(ctx context.Context, task, lastKey string, progress int, status CheckpointStatus) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collector_checkpoint (task_name, last_processed_key, progress_count, status, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (task_name) DO UPDATE SET
			last_processed_key = EXCLUDED.last_processed_key,
			progress_count = EXCLUDED.progress_count,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		task, lastKey, progress, string(status))
	if err != nil {
		return errs.Storage(err, "save checkpoint %s", task)
	}
	return nil
}

// Load reads the checkpoint for a task; ok is false when none exists.
func (r *CheckpointRepo) Load(ctx context.Context, task string) (Checkpoint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cp Checkpoint
	err := r.db.GetContext(ctx, &cp, `
		SELECT task_name, last_processed_key, progress_count, status, updated_at
		FROM collector_checkpoint WHERE task_name = $1`, task)
	if err == sql.ErrNoRows {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, errs.Storage(err, "load checkpoint %s", task)
	}
	return cp, true, nil
}

// AcquireRun flips a task's checkpoint to running only when no other
// invocation is already running, serializing concurrent schedules of the
// same task on the checkpoint key.
func (r *CheckpointRepo) AcquireRun(ctx context.Context, task string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO collector_checkpoint (task_name, last_processed_key, progress_count, status, updated_at)
		VALUES ($1, '', 0, 'running', NOW())
		ON CONFLICT (task_name) DO UPDATE SET
			status = 'running',
			updated_at = NOW()
		WHERE collector_checkpoint.status <> 'running'
		   OR collector_checkpoint.updated_at < NOW() - INTERVAL '6 hours'`,
		task)
	if err != nil {
		return false, errs.Storage(err, "acquire run %s", task)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
