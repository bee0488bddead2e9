package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/contentpilot/jobs-be/internal/domain"
)

// RecoveryConfig holds recovery sweep configuration
type RecoveryConfig struct {
	// BatchSize bounds how many jobs are checked against upstream at once.
	BatchSize int
	// BatchDelay is the pause between batches, to avoid hammering the
	// upstream API during a large sweep.
	BatchDelay time.Duration
	// Interval is the pause between scheduled sweeps when the reconciler
	// runs via Run.
	Interval time.Duration
}

// Reconciler re-derives state for jobs stuck in a non-terminal status, for
// example after a crash or a missed webhook. Unlike the poller it applies a
// fail-closed policy: a job whose upstream state cannot be determined during
// an explicit recovery pass is finalized as failed rather than left stuck.
type Reconciler struct {
	jobs         JobStore
	upstream     Upstream
	materializer *Materializer
	batchSize    int
	batchDelay   time.Duration
	interval     time.Duration
	logger       *slog.Logger
}

// NewReconciler creates a new Reconciler instance
func NewReconciler(jobs JobStore, up Upstream, materializer *Materializer, cfg RecoveryConfig, logger *slog.Logger) *Reconciler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 3
	}

	batchDelay := cfg.BatchDelay
	if batchDelay < 0 {
		batchDelay = 0
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Reconciler{
		jobs:         jobs,
		upstream:     up,
		materializer: materializer,
		batchSize:    batchSize,
		batchDelay:   batchDelay,
		interval:     interval,
		logger:       logger,
	}
}

// Run drives scheduled recovery sweeps until the context is cancelled. Only
// processing jobs are re-verified on the schedule; the wider IncludePending
// sweep is reserved for startup and the admin endpoint.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Starting recovery schedule",
		slog.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Recovery schedule stopping",
				slog.Any("reason", ctx.Err()),
			)
			return nil

		case <-ticker.C:
			if _, err := r.Sweep(ctx, SweepOptions{}); err != nil {
				r.logger.Error("Scheduled recovery sweep failed",
					slog.Any("error", err),
				)
			}
		}
	}
}

// SweepOptions widens the set of statuses a sweep re-verifies. Processing
// jobs are always included.
type SweepOptions struct {
	IncludePending bool `json:"include_pending"`
	IncludeFailed  bool `json:"include_failed"`
}

// SweepSummary aggregates one recovery sweep for observability.
type SweepSummary struct {
	Checked         int `json:"checked"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	StillProcessing int `json:"stillProcessing"`
}

// Sweep reconciles every stuck job against upstream truth in small bounded
// batches. Per-job outcomes are aggregated, never thrown; only a store-level
// failure aborts the sweep.
func (r *Reconciler) Sweep(ctx context.Context, opts SweepOptions) (*SweepSummary, error) {
	statuses := []string{domain.JobStatusProcessing}
	if opts.IncludePending {
		statuses = append(statuses, domain.JobStatusPending)
	}
	if opts.IncludeFailed {
		statuses = append(statuses, domain.JobStatusFailed)
	}

	jobs, err := r.jobs.ListByStatuses(ctx, statuses)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Starting recovery sweep",
		slog.Int("jobs", len(jobs)),
		slog.Int("batch_size", r.batchSize),
	)

	summary := &SweepSummary{Checked: len(jobs)}
	var mu sync.Mutex

	for start := 0; start < len(jobs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(jobs) {
			end = len(jobs)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.batchSize)

		for i := start; i < end; i++ {
			job := jobs[i]
			g.Go(func() error {
				outcome := r.reconcileJob(gctx, &job)
				mu.Lock()
				switch outcome {
				case domain.JobStatusCompleted:
					summary.Completed++
				case domain.JobStatusFailed:
					summary.Failed++
				default:
					summary.StillProcessing++
				}
				mu.Unlock()
				return nil
			})
		}

		// reconcileJob never returns an error, Wait only observes context
		// cancellation from gctx.
		if err := g.Wait(); err != nil {
			return summary, err
		}

		if end < len(jobs) && r.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(r.batchDelay):
			}
		}
	}

	r.logger.Info("Recovery sweep finished",
		slog.Int("checked", summary.Checked),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("still_processing", summary.StillProcessing),
	)

	return summary, nil
}

// reconcileJob queries upstream for one stuck job and returns the status the
// job ended up in: completed, failed, or processing (left for retry).
func (r *Reconciler) reconcileJob(ctx context.Context, job *domain.Job) string {
	executionID := job.ExecutionID
	if executionID == "" {
		executionID = job.JobID
	}

	state, err := r.upstream.GetStatus(ctx, executionID)
	if err != nil {
		// Fail closed: an unreachable upstream during an explicit recovery
		// pass is treated as unrecoverable, not left stuck indefinitely.
		r.logger.Warn("Upstream unreachable during recovery, failing job",
			slog.String("job_id", job.JobID),
			slog.String("execution_id", executionID),
			slog.Any("error", err),
		)
		if terr := r.jobs.MarkTerminal(ctx, job.JobID, domain.JobStatusFailed, "upstream unreachable during recovery: "+err.Error()); terr != nil {
			r.logger.Error("Failed to finalize unreachable job",
				slog.String("job_id", job.JobID),
				slog.Any("error", terr),
			)
		}
		return domain.JobStatusFailed
	}

	update := domain.MapPhase(state.Phase)

	switch update.Status {
	case domain.JobStatusCompleted:
		raw, err := r.upstream.GetResult(ctx, executionID)
		if err != nil {
			// The upstream job genuinely succeeded; only our read failed.
			// Leave the job for the poller rather than conflating the two.
			r.logger.Warn("Result fetch failed during recovery, leaving job for retry",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			return domain.JobStatusProcessing
		}

		if err := r.materializer.Materialize(ctx, job.JobID, raw, executionID); err != nil {
			r.logger.Error("Materialization failed during recovery, leaving job for retry",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			return domain.JobStatusProcessing
		}

		if err := r.jobs.MarkTerminal(ctx, job.JobID, domain.JobStatusCompleted, ""); err != nil {
			r.logger.Error("Failed to finalize recovered job",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			return domain.JobStatusProcessing
		}

		r.logger.Info("Recovered completed job",
			slog.String("job_id", job.JobID),
		)
		return domain.JobStatusCompleted

	case domain.JobStatusFailed:
		message := "upstream reported failure"
		if state.Phase == domain.PhaseUnknown {
			message = "unrecognized upstream status"
		}
		if err := r.jobs.MarkTerminal(ctx, job.JobID, domain.JobStatusFailed, message); err != nil {
			r.logger.Error("Failed to finalize failed job",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		}
		return domain.JobStatusFailed

	default:
		// Upstream still working on it. Refresh progress so the row shows
		// recent activity.
		progress := update.Progress
		if state.Progress >= 0 {
			progress = state.Progress
		}
		if err := r.jobs.UpdateProgress(ctx, job.JobID, update.Status, progress); err != nil {
			r.logger.Error("Failed to refresh job progress during recovery",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		}
		return domain.JobStatusProcessing
	}
}
