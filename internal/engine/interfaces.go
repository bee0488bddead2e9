package engine

import (
	"context"
	"encoding/json"

	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/internal/upstream"
)

// JobStore is the subset of job persistence the engine depends on. The
// concrete implementation lives in internal/store; tests substitute
// in-memory fakes.
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	FindJob(ctx context.Context, id string) (*domain.Job, error)
	ListActive(ctx context.Context) ([]domain.Job, error)
	ListByStatuses(ctx context.Context, statuses []string) ([]domain.Job, error)
	UpdateProgress(ctx context.Context, jobID, status string, progress int) error
	MarkTerminal(ctx context.Context, jobID, status, errorMessage string) error
}

// ResultStore persists materialized results. Upsert reports whether the call
// performed the first insert for the job.
type ResultStore interface {
	Upsert(ctx context.Context, result *domain.Result) (bool, error)
}

// CreditLedger appends billable events, at most once per job.
type CreditLedger interface {
	Append(ctx context.Context, event *domain.CreditEvent) (bool, error)
}

// Upstream is the read side of the external generation API.
type Upstream interface {
	GetStatus(ctx context.Context, executionID string) (*upstream.JobState, error)
	GetResult(ctx context.Context, executionID string) (json.RawMessage, error)
}
