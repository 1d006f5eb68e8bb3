// Package jobs runs periodic maintenance against the booking store.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/resource-scheduler/internal/application"
)

// DefaultCompletionSpec runs the completion sweep every five minutes.
const DefaultCompletionSpec = "*/5 * * * *"

// Completer completes bookings whose window has elapsed.
type Completer interface {
	CompleteElapsed(ctx context.Context) (application.CompletionReport, error)
}

// CompletionSweeper moves elapsed active bookings to completed on a cron schedule.
type CompletionSweeper struct {
	cron      *cron.Cron
	completer Completer
	spec      string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewCompletionSweeper validates spec and registers the sweep. Runs never
// overlap; a tick that fires while a sweep is running is skipped.
func NewCompletionSweeper(completer Completer, spec string, timeout time.Duration, logger *slog.Logger) (*CompletionSweeper, error) {
	if completer == nil {
		return nil, fmt.Errorf("jobs: completer is required")
	}
	if spec == "" {
		spec = DefaultCompletionSpec
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("jobs: invalid schedule %q: %w", spec, err)
	}

	s := &CompletionSweeper{
		completer: completer,
		spec:      spec,
		timeout:   timeout,
		logger:    logger.With("job", "completion_sweep"),
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("jobs: register sweep: %w", err)
	}
	return s, nil
}

// Start begins running the sweep in the background.
func (s *CompletionSweeper) Start() {
	s.logger.Info("completion sweep scheduled", "spec", s.spec)
	s.cron.Start()
}

// Stop prevents further runs and waits for a running sweep or ctx to end.
func (s *CompletionSweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep.
func (s *CompletionSweeper) RunOnce(ctx context.Context) (application.CompletionReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	report, err := s.completer.CompleteElapsed(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "completion sweep failed", "error", err, "error_kind", application.ErrorKind(err))
		return report, err
	}
	s.logger.DebugContext(ctx, "completion sweep finished",
		"completed", report.Completed,
		"failed", report.Failed,
		"duration", time.Since(start).String(),
	)
	return report, nil
}

func (s *CompletionSweeper) tick() {
	_, _ = s.RunOnce(context.Background())
}
