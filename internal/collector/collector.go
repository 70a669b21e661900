// Package collector implements the scheduled, checkpointed, rate-limited
// batch jobs that keep fundamentals, analysis fields and the symbol
// universe fresh.
package collector

import (
	"context"
	"time"

	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

// checkpointEvery is how many symbols pass between checkpoint writes.
const checkpointEvery = 100

// Stats summarizes one collector invocation.
type Stats struct {
	Total   int
	Success int
	Skipped int
	Errors  int
	Elapsed time.Duration
}

// Task is one runnable collector.
type Task interface {
	Name() string
	Run(ctx context.Context) (Stats, error)
}

// CheckpointStore persists task progress so a crashed run resumes past
// the last fully processed key, and serializes concurrent invocations
// of the same task.
type CheckpointStore interface {
	Save(ctx context.Context, task, lastKey string, progress int, status postgres.CheckpointStatus) error
	Load(ctx context.Context, task string) (postgres.Checkpoint, bool, error)
	AcquireRun(ctx context.Context, task string) (bool, error)
}

// resumeKey reads the checkpoint left by an interrupted run. A
// completed checkpoint starts the next run from the top.
func resumeKey(ctx context.Context, checkpoints CheckpointStore, task string) (string, error) {
	cp, ok, err := checkpoints.Load(ctx, task)
	if err != nil {
		return "", err
	}
	if !ok || cp.Status != postgres.CheckpointRunning {
		return "", nil
	}
	return cp.LastProcessedKey, nil
}

// sleepOrDone waits the inter-request delay, honouring cancellation.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
