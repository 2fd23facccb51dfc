// Package lifecycle drives a submitted job to a terminal state by polling
// its status at a fixed interval, bounded by a deadline.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/wan-ti2v-api/internal/runpod"
)

// Defaults for the poll loop.
const (
	DefaultInterval             = 10 * time.Second
	DefaultTimeout              = 10 * time.Minute
	DefaultMaxConsecutiveErrors = 3
)

// Static errors for the poll loop.
var (
	// ErrPollTimeout is returned when the job did not reach a terminal state before the deadline.
	ErrPollTimeout = errors.New("lifecycle: job did not finish before the deadline")
	// ErrServiceUnreachable is returned when the status endpoint kept failing at the transport level.
	ErrServiceUnreachable = errors.New("lifecycle: status service unreachable")
)

// JobFailedError is returned when the remote service reports a terminal failure.
// It is not retryable.
type JobFailedError struct {
	JobID   string
	Status  runpod.Status
	Message string
}

func (e *JobFailedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("lifecycle: job %s %s: %s", e.JobID, e.Status, msg)
}

// StatusQuerier is the status-query capability the poller needs.
type StatusQuerier interface {
	Poll(ctx context.Context, jobID string) (runpod.PollResult, error)
}

// Canceller cancels a remote job. It is used best-effort on timeout.
type Canceller interface {
	Cancel(ctx context.Context, jobID string) error
}

// StatusFunc is called with every status observed for a job.
type StatusFunc func(status runpod.Status)

// Poller polls a job until it reaches a terminal state.
type Poller struct {
	querier              StatusQuerier
	canceller            Canceller
	logger               *slog.Logger
	interval             time.Duration
	timeout              time.Duration
	maxConsecutiveErrors int
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the fixed delay between status queries.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout sets the overall deadline for a job.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMaxConsecutiveErrors sets how many failed polls in a row are tolerated.
func WithMaxConsecutiveErrors(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxConsecutiveErrors = n
		}
	}
}

// WithCanceller cancels the remote job when the deadline is exceeded.
func WithCanceller(c Canceller) Option {
	return func(p *Poller) {
		p.canceller = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPoller creates a Poller over the given status querier.
func NewPoller(querier StatusQuerier, opts ...Option) *Poller {
	p := &Poller{
		querier:              querier,
		logger:               slog.Default(),
		interval:             DefaultInterval,
		timeout:              DefaultTimeout,
		maxConsecutiveErrors: DefaultMaxConsecutiveErrors,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls jobID until it completes, fails, the deadline passes or ctx is
// cancelled. On success it returns the final poll result carrying the output.
// onStatus may be nil.
func (p *Poller) Wait(ctx context.Context, jobID string, onStatus StatusFunc) (runpod.PollResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	logger := p.logger.With(slog.String("remote_job_id", jobID))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		attempt    int
		errorCount int
		lastStatus runpod.Status
	)

	for {
		attempt++
		result, err := p.querier.Poll(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return runpod.PollResult{}, p.deadlineErr(ctx, jobID, logger)
		case err != nil && !runpod.IsRetryable(err):
			return runpod.PollResult{}, fmt.Errorf("lifecycle: poll job %s: %w", jobID, err)
		case err != nil:
			errorCount++
			logger.Warn("status poll failed",
				slog.Int("attempt", attempt),
				slog.Int("consecutive_errors", errorCount),
				slog.String("error", err.Error()),
			)
			if errorCount >= p.maxConsecutiveErrors {
				return runpod.PollResult{}, fmt.Errorf("%w: %w", ErrServiceUnreachable, err)
			}
		default:
			errorCount = 0
			if result.Status != lastStatus {
				logger.Info("job status changed",
					slog.String("status", string(result.Status)),
					slog.Int("attempt", attempt),
				)
				lastStatus = result.Status
			}
			if onStatus != nil {
				onStatus(result.Status)
			}

			if result.Status.IsSuccess() {
				return result, nil
			}
			if result.Status.IsTerminal() {
				return result, &JobFailedError{JobID: jobID, Status: result.Status, Message: result.Error}
			}
			if result.Status != runpod.StatusInQueue && result.Status != runpod.StatusInProgress {
				logger.Warn("unknown job status, continuing to poll",
					slog.String("status", string(result.Status)),
				)
			}
		}

		select {
		case <-ctx.Done():
			return runpod.PollResult{}, p.deadlineErr(ctx, jobID, logger)
		case <-ticker.C:
		}
	}
}

// deadlineErr classifies a finished context. When a deadline ended the wait
// the remote job is cancelled so it does not keep a worker busy.
func (p *Poller) deadlineErr(ctx context.Context, jobID string, logger *slog.Logger) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("lifecycle: wait for job %s: %w", jobID, ctx.Err())
	}

	if p.canceller != nil {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.canceller.Cancel(cancelCtx, jobID); err != nil {
			logger.Warn("failed to cancel timed out job", slog.String("error", err.Error()))
		}
	}

	return fmt.Errorf("%w after %s", ErrPollTimeout, p.timeout)
}
