package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/internal/upstream"
)

// fakeJobStore is an in-memory JobStore that mirrors the SQL guarantees the
// engine relies on: terminal rows are never overwritten.
type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	listErr error
}

func newFakeJobStore(jobs ...*domain.Job) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *fakeJobStore) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) FindJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.JobID == id || job.ExecutionID == id {
			copied := *job
			return &copied, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (s *fakeJobStore) ListActive(_ context.Context) ([]domain.Job, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if !job.IsTerminal() {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *fakeJobStore) ListByStatuses(_ context.Context, statuses []string) ([]domain.Job, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		for _, status := range statuses {
			if strings.EqualFold(job.Status, status) {
				out = append(out, *job)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

func (s *fakeJobStore) UpdateProgress(_ context.Context, jobID, status string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.IsTerminal() {
		return nil
	}
	job.Status = status
	if progress >= 0 {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now()
	return nil
}

func (s *fakeJobStore) MarkTerminal(_ context.Context, jobID, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.IsTerminal() {
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
	job.UpdatedAt = time.Now()
	return nil
}

func (s *fakeJobStore) get(jobID string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID]
}

// fakeResultStore enforces the job_id uniqueness that makes first-insert
// detection race safe.
type fakeResultStore struct {
	mu        sync.Mutex
	results   map[string]*domain.Result
	upsertErr error
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{results: make(map[string]*domain.Result)}
}

func (s *fakeResultStore) Upsert(_ context.Context, result *domain.Result) (bool, error) {
	if s.upsertErr != nil {
		return false, s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.results[result.JobID]
	copied := *result
	s.results[result.JobID] = &copied
	return !exists, nil
}

func (s *fakeResultStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *fakeResultStore) get(jobID string) *domain.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[jobID]
}

// fakeCreditLedger enforces at-most-once billing per job.
type fakeCreditLedger struct {
	mu     sync.Mutex
	events map[string]*domain.CreditEvent
}

func newFakeCreditLedger() *fakeCreditLedger {
	return &fakeCreditLedger{events: make(map[string]*domain.CreditEvent)}
}

func (l *fakeCreditLedger) Append(_ context.Context, event *domain.CreditEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.events[event.JobID]; exists {
		return false, nil
	}
	copied := *event
	l.events[event.JobID] = &copied
	return true, nil
}

func (l *fakeCreditLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *fakeCreditLedger) get(jobID string) *domain.CreditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[jobID]
}

// fakeUpstream returns scripted statuses and results per execution id.
type fakeUpstream struct {
	mu         sync.Mutex
	statuses   map[string]*upstream.JobState
	statusErrs map[string]error
	results    map[string]json.RawMessage
	resultErrs map[string]error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		statuses:   make(map[string]*upstream.JobState),
		statusErrs: make(map[string]error),
		results:    make(map[string]json.RawMessage),
		resultErrs: make(map[string]error),
	}
}

func (u *fakeUpstream) setStatus(executionID string, phase domain.UpstreamPhase, progress int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses[executionID] = &upstream.JobState{Phase: phase, Progress: progress}
}

func (u *fakeUpstream) setStatusErr(executionID string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statusErrs[executionID] = err
}

func (u *fakeUpstream) setResult(executionID string, raw string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.results[executionID] = json.RawMessage(raw)
}

func (u *fakeUpstream) setResultErr(executionID string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resultErrs[executionID] = err
}

func (u *fakeUpstream) GetStatus(_ context.Context, executionID string) (*upstream.JobState, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err, ok := u.statusErrs[executionID]; ok {
		return nil, err
	}
	if state, ok := u.statuses[executionID]; ok {
		return state, nil
	}
	return nil, errors.New("unknown execution id")
}

func (u *fakeUpstream) GetResult(_ context.Context, executionID string) (json.RawMessage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err, ok := u.resultErrs[executionID]; ok {
		return nil, err
	}
	if raw, ok := u.results[executionID]; ok {
		return raw, nil
	}
	return nil, errors.New("no result for execution id")
}
