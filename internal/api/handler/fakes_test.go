package handler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/internal/engine"
	"github.com/contentpilot/jobs-be/internal/store"
)

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	listErr error
}

func newFakeJobStore(jobs ...*domain.Job) *fakeJobStore {
	f := &fakeJobStore{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		cp := *j
		f.jobs[j.JobID] = &cp
	}
	return f
}

func (f *fakeJobStore) get(jobID string) *domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID]
}

func (f *fakeJobStore) CreateJob(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.jobs {
		if existing.IdempotencyKey == job.IdempotencyKey {
			return domain.ErrDuplicateJob
		}
	}
	cp := *job
	f.jobs[job.JobID] = &cp
	return nil
}

func (f *fakeJobStore) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) FindJob(_ context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.JobID == id || job.ExecutionID == id {
			cp := *job
			return &cp, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (f *fakeJobStore) ListJobs(_ context.Context, filter store.JobFilter) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Job
	for _, job := range f.jobs {
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && !strings.EqualFold(job.Status, filter.Status) {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

func (f *fakeJobStore) MarkTerminal(_ context.Context, jobID, status, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.IsTerminal() {
		return nil
	}
	job.Status = status
	if status == domain.JobStatusCompleted {
		job.Progress = 100
	}
	if errorMessage != "" {
		job.ErrorMessage.String = errorMessage
		job.ErrorMessage.Valid = true
	}
	return nil
}

type fakeResultReader struct {
	results map[string]*domain.Result
}

func (f *fakeResultReader) GetByJobID(_ context.Context, jobID string) (*domain.Result, error) {
	result, ok := f.results[jobID]
	if !ok {
		return nil, domain.ErrResultNotFound
	}
	return result, nil
}

type fakeResultFetcher struct {
	results map[string]json.RawMessage
	err     error
	calls   int
}

func (f *fakeResultFetcher) GetResult(_ context.Context, executionID string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.results[executionID]
	if !ok {
		return nil, domain.ErrResultFetch
	}
	return raw, nil
}

type materializeCall struct {
	jobID       string
	raw         json.RawMessage
	executionID string
}

type fakeMaterializer struct {
	calls []materializeCall
	err   error
}

func (f *fakeMaterializer) Materialize(_ context.Context, jobID string, raw json.RawMessage, executionID string) error {
	f.calls = append(f.calls, materializeCall{jobID: jobID, raw: raw, executionID: executionID})
	return f.err
}

type fakeQueue struct {
	mu        sync.Mutex
	published [][]byte
	err       error
}

func (f *fakeQueue) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

func (f *fakeQueue) publishedJobIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, body := range f.published {
		var msg struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(body, &msg); err == nil {
			ids = append(ids, msg.JobID)
		}
	}
	return ids
}

type fakePollRunner struct {
	summary *engine.PollSummary
	err     error
}

func (f *fakePollRunner) RunCycle(context.Context) (*engine.PollSummary, error) {
	return f.summary, f.err
}

type fakeSweepRunner struct {
	summary *engine.SweepSummary
	opts    engine.SweepOptions
	err     error
}

func (f *fakeSweepRunner) Sweep(_ context.Context, opts engine.SweepOptions) (*engine.SweepSummary, error) {
	f.opts = opts
	return f.summary, f.err
}
