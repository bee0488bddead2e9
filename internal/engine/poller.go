package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/contentpilot/jobs-be/internal/domain"
)

// PollerConfig holds status poller configuration
type PollerConfig struct {
	Interval time.Duration
}

// Poller advances non-terminal jobs by querying the upstream API on a fixed
// interval. Last observed status wins; terminal rows are never overwritten
// because the store's update only applies to non-terminal jobs.
type Poller struct {
	jobs         JobStore
	upstream     Upstream
	materializer *Materializer
	interval     time.Duration
	logger       *slog.Logger
}

// NewPoller creates a new Poller instance
func NewPoller(jobs JobStore, up Upstream, materializer *Materializer, cfg PollerConfig, logger *slog.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	return &Poller{
		jobs:         jobs,
		upstream:     up,
		materializer: materializer,
		interval:     interval,
		logger:       logger,
	}
}

// JobPollResult is the outcome of polling one job within a cycle.
type JobPollResult struct {
	JobID       string `json:"job_id"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Updated     bool   `json:"updated"`
	Error       string `json:"error,omitempty"`
}

// PollSummary aggregates one poll cycle.
type PollSummary struct {
	Updated int             `json:"updated"`
	Total   int             `json:"total"`
	Results []JobPollResult `json:"results"`
}

// Run drives poll cycles until the context is cancelled. The poller owns its
// own timer; nothing user-facing triggers it implicitly.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Starting status poller",
		slog.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Status poller stopping",
				slog.Any("reason", ctx.Err()),
			)
			return nil

		case <-ticker.C:
			summary, err := p.RunCycle(ctx)
			if err != nil {
				p.logger.Error("Poll cycle failed",
					slog.Any("error", err),
				)
				continue
			}
			if summary.Total > 0 {
				p.logger.Info("Poll cycle finished",
					slog.Int("updated", summary.Updated),
					slog.Int("total", summary.Total),
				)
			}
		}
	}
}

// RunCycle performs one poll pass over every non-terminal job. A per-job
// upstream error leaves that job untouched for the next cycle; only a store
// failure aborts the whole batch.
func (p *Poller) RunCycle(ctx context.Context) (*PollSummary, error) {
	jobs, err := p.jobs.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	summary := &PollSummary{
		Total:   len(jobs),
		Results: make([]JobPollResult, 0, len(jobs)),
	}

	for i := range jobs {
		result := p.pollJob(ctx, &jobs[i])
		if result.Updated {
			summary.Updated++
		}
		summary.Results = append(summary.Results, result)
	}

	return summary, nil
}

// pollJob queries upstream for one job and applies the observed state.
func (p *Poller) pollJob(ctx context.Context, job *domain.Job) JobPollResult {
	executionID := job.ExecutionID
	if executionID == "" {
		executionID = job.JobID
	}

	result := JobPollResult{
		JobID:       job.JobID,
		ExecutionID: executionID,
		Status:      job.Status,
		Progress:    job.Progress,
	}

	state, err := p.upstream.GetStatus(ctx, executionID)
	if err != nil {
		// Transient upstream failure: leave the job as-is, the next cycle
		// (or a recovery sweep) picks it up again.
		p.logger.Warn("Upstream status query failed, leaving job for next cycle",
			slog.String("job_id", job.JobID),
			slog.String("execution_id", executionID),
			slog.Any("error", err),
		)
		result.Error = err.Error()
		return result
	}

	update := domain.MapPhase(state.Phase)
	progress := update.Progress
	if state.Progress >= 0 && update.Status == domain.JobStatusProcessing {
		progress = state.Progress
	}

	switch update.Status {
	case domain.JobStatusCompleted:
		if err := p.completeJob(ctx, job, executionID); err != nil {
			// The upstream job succeeded; only our result retrieval or
			// materialization failed. The job stays processing for retry.
			result.Error = err.Error()
			return result
		}
		result.Status = domain.JobStatusCompleted
		result.Progress = 100
		result.Updated = true

	case domain.JobStatusFailed:
		message := "upstream reported failure"
		if state.Phase == domain.PhaseUnknown {
			message = "unrecognized upstream status"
		}
		if err := p.jobs.MarkTerminal(ctx, job.JobID, domain.JobStatusFailed, message); err != nil {
			p.logger.Error("Failed to finalize failed job",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			result.Error = err.Error()
			return result
		}
		result.Status = domain.JobStatusFailed
		result.Updated = true

	default:
		if err := p.jobs.UpdateProgress(ctx, job.JobID, update.Status, progress); err != nil {
			p.logger.Error("Failed to update job progress",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			result.Error = err.Error()
			return result
		}
		result.Status = update.Status
		if progress >= 0 {
			result.Progress = progress
		}
		result.Updated = true
	}

	return result
}

// completeJob fetches the upstream result, materializes it, and only then
// marks the job terminal. The ordering matters: a crash between the status
// write and the result write must not lose the result.
func (p *Poller) completeJob(ctx context.Context, job *domain.Job, executionID string) error {
	raw, err := p.upstream.GetResult(ctx, executionID)
	if err != nil {
		p.logger.Warn("Result fetch failed after upstream success, will retry",
			slog.String("job_id", job.JobID),
			slog.String("execution_id", executionID),
			slog.Any("error", err),
		)
		return domain.NewRetryableError(err)
	}

	if err := p.materializer.Materialize(ctx, job.JobID, raw, executionID); err != nil {
		return err
	}

	return p.jobs.MarkTerminal(ctx, job.JobID, domain.JobStatusCompleted, "")
}
