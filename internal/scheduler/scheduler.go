// Package scheduler runs SupportPipe's periodic maintenance jobs.
//
// Jobs are registered with cron expressions (standard five fields or
// descriptors such as "@hourly") and receive a context that is cancelled on Stop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/robfig/cron/v3"
)

// DefaultDedupRetention is how long inbound message ids are remembered.
const DefaultDedupRetention = 72 * time.Hour

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs do not run until Start.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel}
}

// AddJob schedules job under name using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			slog.Error("Scheduler job failed", "job", name, "error", err)
			return
		}
		slog.Debug("Scheduler job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	slog.Debug("Scheduler job added", "job", name, "schedule", expr)
	return nil
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// PruneDedupJob forgets inbound message ids older than retention.
func PruneDedupJob(repo store.DedupRepo, retention time.Duration) Job {
	return func(ctx context.Context) error {
		n, err := repo.PruneInbound(time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("Scheduler pruned dedup records", "removed", n, "retention", retention)
		}
		return nil
	}
}
