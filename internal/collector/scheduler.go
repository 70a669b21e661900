package collector

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler drives the collector tasks on their cron cadences. One task
// never runs twice concurrently: the checkpoint row serializes
// invocations across processes, and the scheduler skips a tick whose
// predecessor still runs.
type Scheduler struct {
	cron        *cron.Cron
	checkpoints CheckpointStore
	ctx         context.Context
}

// NewScheduler builds an empty scheduler bound to ctx for cancellation.
func NewScheduler(ctx context.Context, checkpoints CheckpointStore) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		checkpoints: checkpoints,
		ctx:         ctx,
	}
}

// Register adds a task on a cron schedule ("@every 1h" or five-field
// expressions).
func (s *Scheduler) Register(schedule string, task Task) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runOnce(task)
	})
	return err
}

func (s *Scheduler) runOnce(task Task) {
	if s.ctx.Err() != nil {
		return
	}

	acquired, err := s.checkpoints.AcquireRun(s.ctx, task.Name())
	if err != nil {
		log.Error().Err(err).Str("task", task.Name()).Msg("checkpoint acquisition failed")
		return
	}
	if !acquired {
		log.Info().Str("task", task.Name()).Msg("previous invocation still running, skipping tick")
		return
	}

	stats, err := task.Run(s.ctx)
	if err != nil {
		log.Error().Err(err).Str("task", task.Name()).
			Int("processed", stats.Success).Msg("collector run failed")
		return
	}
	log.Info().Str("task", task.Name()).
		Int("total", stats.Total).Int("success", stats.Success).
		Int("skipped", stats.Skipped).Int("errors", stats.Errors).
		Dur("elapsed", stats.Elapsed).Msg("collector run finished")
}

// Start launches the cron loop.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling; the in-flight task finishes its current symbol
// and observes the context between iterations.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
