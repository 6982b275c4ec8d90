// Package sweep runs team reevaluation in the background.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// Reevaluator re-runs eligibility for every team
type Reevaluator interface {
	Reevaluate(ctx context.Context) (models.SweepReport, error)
}

// Sweeper runs reevaluation sweeps on request.
// Requests that arrive while a sweep is running collapse into one follow-up sweep.
type Sweeper struct {
	target  Reevaluator
	timeout time.Duration
	trigger chan struct{}
}

// NewSweeper creates a sweeper. Each sweep is bounded by timeout.
func NewSweeper(target Reevaluator, timeout time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Sweeper{
		target:  target,
		timeout: timeout,
		trigger: make(chan struct{}, 1),
	}
}

// Start begins the sweep worker in a goroutine
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Trigger requests a sweep and returns immediately
func (s *Sweeper) Trigger() {
	select {
	case s.trigger <- struct{}{}:
		slog.Debug("reevaluation sweep requested")
	default:
		slog.Debug("reevaluation sweep already pending")
	}
}

func (s *Sweeper) run(ctx context.Context) {
	slog.Info("sweep worker started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep worker stopped")
			return
		case <-s.trigger:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.target.Reevaluate(sweepCtx)
	if err != nil {
		slog.Error("reevaluation sweep failed", "error", err)
		return
	}
	if report.Failed > 0 {
		slog.Warn("reevaluation sweep left teams unprocessed", "failed", report.Failed, "teams", report.Teams)
	}
}
