package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Reconciler captures requirement snapshots that could not be taken at team creation
type Reconciler interface {
	ReconcileRequirements(ctx context.Context) (int, error)
}

// Scheduler runs periodic maintenance: snapshot reconciliation and a safety
// sweep that catches catalog changes nobody announced.
type Scheduler struct {
	sched      gocron.Scheduler
	reconciler Reconciler
	trigger    func()
	interval   time.Duration
}

// NewScheduler creates a scheduler. trigger is called on every tick to request a sweep.
func NewScheduler(reconciler Reconciler, trigger func(), interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		sched:      sched,
		reconciler: reconciler,
		trigger:    trigger,
		interval:   interval,
	}, nil
}

// Start registers the jobs and starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			n, err := s.reconciler.ReconcileRequirements(ctx)
			if err != nil {
				slog.Warn("snapshot reconciliation failed", "error", err)
				return
			}
			if n > 0 {
				slog.Info("snapshot reconciliation completed", "teams", n)
			}
		}),
		gocron.WithName("reconcile-requirements"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	if s.trigger != nil {
		_, err = s.sched.NewJob(
			gocron.DurationJob(s.interval),
			gocron.NewTask(s.trigger),
			gocron.WithName("safety-sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule safety sweep: %w", err)
		}
	}

	s.sched.Start()
	slog.Info("maintenance scheduler started", "interval", s.interval)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs
func (s *Scheduler) Stop() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	slog.Info("maintenance scheduler stopped")
	return nil
}
