package submit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/internal/upstream"
)

type fakeJobs struct {
	jobs      map[string]*domain.Job
	getErr    error
	submitted map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:      make(map[string]*domain.Job),
		submitted: make(map[string]string),
	}
}

func (f *fakeJobs) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) MarkSubmitted(_ context.Context, jobID, executionID string) error {
	job, ok := f.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return domain.ErrJobNotFound
	}
	job.ExecutionID = executionID
	job.Status = domain.JobStatusProcessing
	job.Progress = 25
	f.submitted[jobID] = executionID
	return nil
}

type fakeUpstream struct {
	executionID string
	err         error
	requests    []*upstream.SubmitRequest
}

func (f *fakeUpstream) Submit(_ context.Context, req *upstream.SubmitRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.executionID, nil
}

func newTestSubmitter(jobs JobStore, up Upstream) *Submitter {
	return NewSubmitter(&Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Jobs:     jobs,
		Upstream: up,
		WorkerID: "submitter-test",
	})
}

func TestProcessSubmitsPendingJob(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["j1"] = &domain.Job{
		JobID:          "j1",
		ExecutionID:    "j1",
		Status:         domain.JobStatusPending,
		JobType:        "research_brief",
		TargetApproach: "research",
		Payload:        `{"topic":"solar"}`,
	}
	up := &fakeUpstream{executionID: "exec-99"}

	s := newTestSubmitter(jobs, up)
	err := s.Process(context.Background(), "j1")
	require.NoError(t, err)

	require.Len(t, up.requests, 1)
	assert.Equal(t, "j1", up.requests[0].JobID)
	assert.Equal(t, "research", up.requests[0].TargetApproach)
	assert.Empty(t, up.requests[0].PersonaName)
	assert.Equal(t, json.RawMessage(`{"topic":"solar"}`), up.requests[0].Payload)

	assert.Equal(t, "exec-99", jobs.submitted["j1"])
	assert.Equal(t, domain.JobStatusProcessing, jobs.jobs["j1"].Status)
	assert.Equal(t, 25, jobs.jobs["j1"].Progress)
}

func TestProcessIncludesPersonaForAvatarChildren(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["c1"] = &domain.Job{
		JobID:             "c1",
		ExecutionID:       "c1",
		Status:            domain.JobStatusPending,
		JobType:           "avatar_profile",
		TargetApproach:    "avatar",
		AvatarPersonaName: sql.NullString{String: "skeptical-engineer", Valid: true},
		Payload:           `{}`,
	}
	up := &fakeUpstream{executionID: "exec-c1"}

	s := newTestSubmitter(jobs, up)
	require.NoError(t, s.Process(context.Background(), "c1"))

	require.Len(t, up.requests, 1)
	assert.Equal(t, "skeptical-engineer", up.requests[0].PersonaName)
}

func TestProcessSkipsNonPendingJob(t *testing.T) {
	for _, status := range []string{
		domain.JobStatusProcessing,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	} {
		t.Run(status, func(t *testing.T) {
			jobs := newFakeJobs()
			jobs.jobs["j1"] = &domain.Job{JobID: "j1", Status: status}
			up := &fakeUpstream{executionID: "exec-1"}

			s := newTestSubmitter(jobs, up)
			require.NoError(t, s.Process(context.Background(), "j1"))
			assert.Empty(t, up.requests, "non-pending job must not be resubmitted")
		})
	}
}

func TestProcessUnknownJobIsNotRetryable(t *testing.T) {
	s := newTestSubmitter(newFakeJobs(), &fakeUpstream{})

	err := s.Process(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.False(t, shouldRequeue(err))
}

func TestProcessUpstreamFailureIsRetryable(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["j1"] = &domain.Job{JobID: "j1", Status: domain.JobStatusPending, Payload: `{}`}
	up := &fakeUpstream{err: errors.New("503 from upstream")}

	s := newTestSubmitter(jobs, up)
	err := s.Process(context.Background(), "j1")
	require.Error(t, err)
	assert.True(t, shouldRequeue(err))
	assert.Empty(t, jobs.submitted)
}

func TestProcessStoreFailureIsRetryable(t *testing.T) {
	jobs := newFakeJobs()
	jobs.getErr = errors.New("connection refused")

	s := newTestSubmitter(jobs, &fakeUpstream{})
	err := s.Process(context.Background(), "j1")
	require.Error(t, err)
	assert.True(t, shouldRequeue(err))
}

func TestProcessDuplicateDeliveryIsNoOp(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["j1"] = &domain.Job{JobID: "j1", Status: domain.JobStatusPending, Payload: `{}`}
	up := &fakeUpstream{executionID: "exec-1"}

	s := newTestSubmitter(jobs, up)
	require.NoError(t, s.Process(context.Background(), "j1"))

	// second delivery of the same message after the first was recorded
	require.NoError(t, s.Process(context.Background(), "j1"))
	require.Len(t, up.requests, 1)
}
