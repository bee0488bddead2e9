package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/internal/engine"
	"github.com/contentpilot/jobs-be/internal/store"
)

// JobStore is the job persistence surface the HTTP handlers depend on.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	FindJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]domain.Job, error)
	MarkTerminal(ctx context.Context, jobID, status, errorMessage string) error
}

// ResultReader exposes materialized results for the read API.
type ResultReader interface {
	GetByJobID(ctx context.Context, jobID string) (*domain.Result, error)
}

// ResultFetcher is the slice of the upstream client the webhook path needs.
type ResultFetcher interface {
	GetResult(ctx context.Context, executionID string) (json.RawMessage, error)
}

// Materializer converts a raw upstream result into a persisted Result row
// plus, on first occurrence, a credit event.
type Materializer interface {
	Materialize(ctx context.Context, jobID string, rawResult json.RawMessage, executionID string) error
}

// PollRunner triggers one poll cycle on demand.
type PollRunner interface {
	RunCycle(ctx context.Context) (*engine.PollSummary, error)
}

// SweepRunner triggers one recovery sweep on demand.
type SweepRunner interface {
	Sweep(ctx context.Context, opts engine.SweepOptions) (*engine.SweepSummary, error)
}

// QueuePublisher hands newly created jobs to the submit worker.
type QueuePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Jobs         JobStore
	Results      ResultReader
	Upstream     ResultFetcher
	Materializer Materializer
	Poller       PollRunner
	Reconciler   SweepRunner
	Queue        QueuePublisher

	// WebhookSecret keys the HMAC signature check on inbound webhooks.
	WebhookSecret string
	// AdminToken, when set, gates the internal recovery trigger.
	AdminToken string
}

// JobHandler handles job submission and read requests
type JobHandler struct {
	logger  *slog.Logger
	jobs    JobStore
	results ResultReader
	queue   QueuePublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		jobs:    deps.Jobs,
		results: deps.Results,
		queue:   deps.Queue,
	}
}
