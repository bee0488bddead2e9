package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/contentpilot/jobs-be/internal/domain"
)

// Approach values select how a raw upstream result payload is normalized.
const (
	ApproachResearch = "research"
	ApproachAvatar   = "avatar"
)

// BillingConfig maps job types to their credit cost.
type BillingConfig struct {
	Costs       map[string]int
	DefaultCost int
}

// CostFor returns the credit cost for a job type.
func (c *BillingConfig) CostFor(jobType string) int {
	if cost, ok := c.Costs[jobType]; ok {
		return cost
	}
	if c.DefaultCost > 0 {
		return c.DefaultCost
	}
	return 1
}

// Materializer is the single entry point through which any component reports
// a successful upstream completion. It converts the raw payload into the
// canonical Result shape, upserts it, and emits exactly one credit event on
// the first materialization of a job. The uniqueness constraints on
// results.job_id and credit_events.job_id make concurrent callers safe.
type Materializer struct {
	jobs    JobStore
	results ResultStore
	credits CreditLedger
	billing BillingConfig
	logger  *slog.Logger
}

// NewMaterializer creates a new Materializer instance
func NewMaterializer(jobs JobStore, results ResultStore, credits CreditLedger, billing BillingConfig, logger *slog.Logger) *Materializer {
	return &Materializer{
		jobs:    jobs,
		results: results,
		credits: credits,
		billing: billing,
		logger:  logger,
	}
}

// researchPayload is the result shape of the research API variant.
type researchPayload struct {
	Project struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	HTML string `json:"html"`
	Meta struct {
		APIVersion  string    `json:"apiVersion"`
		CompletedAt time.Time `json:"completedAt"`
	} `json:"meta"`
}

// avatarPayload is the result shape of the per-persona avatar variant.
type avatarPayload struct {
	Persona     string    `json:"persona"`
	Content     string    `json:"content"`
	ProjectName string    `json:"projectName"`
	APIVersion  string    `json:"apiVersion"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Materialize converts rawResult into a persisted Result row for the job and,
// if this call performed the first materialization, appends one credit event.
// Re-materializing an already materialized job overwrites the row and emits
// nothing.
func (m *Materializer) Materialize(ctx context.Context, jobID string, rawResult json.RawMessage, executionID string) error {
	job, err := m.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job for materialization: %w", err)
	}

	result := m.buildResult(job, rawResult, executionID)

	first, err := m.results.Upsert(ctx, result)
	if err != nil {
		return fmt.Errorf("failed to upsert result: %w", err)
	}

	if !first {
		// Another observer already materialized this job. Billing happened
		// on the first insert, nothing left to do.
		m.logger.Debug("Job already materialized",
			slog.String("job_id", jobID),
		)
		return nil
	}

	event := &domain.CreditEvent{
		UserID:  job.UserID,
		JobID:   job.JobID,
		JobType: job.JobType,
		Credits: m.billing.CostFor(job.JobType),
	}

	inserted, err := m.credits.Append(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to append credit event: %w", err)
	}

	if !inserted {
		m.logger.Warn("Credit event already existed for freshly materialized job",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// buildResult normalizes the provider-specific payload by the job's target
// approach. An unrecognized shape is stored verbatim rather than rejected so
// no data is lost on upstream format drift.
func (m *Materializer) buildResult(job *domain.Job, raw json.RawMessage, executionID string) *domain.Result {
	result := &domain.Result{
		JobID:         job.JobID,
		Metadata:      string(raw),
		UpstreamJobID: executionID,
		GeneratedAt:   time.Now().UTC(),
	}

	switch job.TargetApproach {
	case ApproachResearch:
		var payload researchPayload
		if err := json.Unmarshal(raw, &payload); err == nil && payload.HTML != "" {
			result.Payload = payload.HTML
			result.ProjectName = payload.Project.Name
			result.APIVersion = payload.Meta.APIVersion
			if !payload.Meta.CompletedAt.IsZero() {
				result.GeneratedAt = payload.Meta.CompletedAt
			}
			return result
		}

	case ApproachAvatar:
		var payload avatarPayload
		if err := json.Unmarshal(raw, &payload); err == nil && payload.Content != "" {
			result.Payload = payload.Content
			result.ProjectName = payload.ProjectName
			result.APIVersion = payload.APIVersion
			if !payload.GeneratedAt.IsZero() {
				result.GeneratedAt = payload.GeneratedAt
			}
			return result
		}
	}

	// Unknown approach or shape drift: keep the verbatim payload so nothing
	// is dropped.
	m.logger.Warn("Unrecognized result shape, storing verbatim",
		slog.String("job_id", job.JobID),
		slog.String("target_approach", job.TargetApproach),
	)
	result.Payload = string(raw)

	return result
}
