package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpilot/jobs-be/internal/api/dto"
	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/internal/store"
)

type jobFixture struct {
	jobs    *fakeJobStore
	results *fakeResultReader
	queue   *fakeQueue
	router  *gin.Engine
}

func newJobFixture(t *testing.T, jobs *fakeJobStore) *jobFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fx := &jobFixture{
		jobs:    jobs,
		results: &fakeResultReader{results: make(map[string]*domain.Result)},
		queue:   &fakeQueue{},
	}

	h := NewJobHandler(&Dependencies{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Jobs:    jobs,
		Results: fx.results,
		Queue:   fx.queue,
	})

	fx.router = gin.New()
	fx.router.POST("/api/v1/jobs", h.CreateJob)
	fx.router.GET("/api/v1/jobs", h.ListJobs)
	fx.router.GET("/api/v1/jobs/:job_id", h.GetJob)
	fx.router.GET("/api/v1/jobs/:job_id/result", h.GetJobResult)
	return fx
}

func createBody(t *testing.T, req dto.CreateJobRequest) []byte {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return body
}

func TestCreateJob(t *testing.T) {
	fx := newJobFixture(t, newFakeJobStore())

	body := createBody(t, dto.CreateJobRequest{
		IdempotencyKey: "key-1",
		UserID:         "u1",
		JobType:        "research_brief",
		TargetApproach: "research",
		Payload:        json.RawMessage(`{"topic":"solar"}`),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Job.JobID)
	assert.Equal(t, resp.Job.JobID, resp.Job.ExecutionID)
	assert.Equal(t, domain.JobStatusPending, resp.Job.Status)
	assert.Equal(t, 0, resp.Job.Progress)
	assert.Empty(t, resp.Children)

	created := fx.jobs.get(resp.Job.JobID)
	require.NotNil(t, created)
	assert.Equal(t, "key-1", created.IdempotencyKey)
	assert.Equal(t, `{"topic":"solar"}`, created.Payload)

	assert.Equal(t, []string{resp.Job.JobID}, fx.queue.publishedJobIDs())
}

func TestCreateJobDuplicateIdempotencyKey(t *testing.T) {
	fx := newJobFixture(t, newFakeJobStore())

	body := createBody(t, dto.CreateJobRequest{
		IdempotencyKey: "key-1",
		UserID:         "u1",
		JobType:        "research_brief",
		TargetApproach: "research",
		Payload:        json.RawMessage(`{}`),
	})

	req1 := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	req1.Header.Set("Content-Type", "application/json")
	w1 := httptest.NewRecorder()
	fx.router.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusCreated, w1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	fx.router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusConflict, w2.Code)

	assert.Len(t, fx.queue.publishedJobIDs(), 1)
}

func TestCreateJobMissingFields(t *testing.T) {
	fx := newJobFixture(t, newFakeJobStore())

	body := []byte(`{"user_id":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateJobAvatarFanOut(t *testing.T) {
	fx := newJobFixture(t, newFakeJobStore())

	body := createBody(t, dto.CreateJobRequest{
		IdempotencyKey: "key-1",
		UserID:         "u1",
		JobType:        "avatar_profile",
		TargetApproach: "avatar",
		Payload:        json.RawMessage(`{}`),
		AvatarPersonas: []string{"optimist", "skeptic"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Children, 2)

	personas := []string{resp.Children[0].AvatarPersonaName, resp.Children[1].AvatarPersonaName}
	assert.ElementsMatch(t, []string{"optimist", "skeptic"}, personas)
	for _, child := range resp.Children {
		assert.Equal(t, resp.Job.JobID, child.ParentJobID)
		assert.Equal(t, domain.JobStatusPending, child.Status)
	}

	// parent plus each child queued for submission
	assert.Len(t, fx.queue.publishedJobIDs(), 3)
}

func TestCreateJobPublishFailureStillCreates(t *testing.T) {
	fx := newJobFixture(t, newFakeJobStore())
	fx.queue.err = assert.AnError

	body := createBody(t, dto.CreateJobRequest{
		IdempotencyKey: "key-1",
		UserID:         "u1",
		JobType:        "research_brief",
		TargetApproach: "research",
		Payload:        json.RawMessage(`{}`),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	// the row exists with status pending; a recovery sweep rescues it later
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotNil(t, fx.jobs.get(resp.Job.JobID))
}

func TestGetJob(t *testing.T) {
	job := &domain.Job{
		JobID:       "11111111-1111-1111-1111-111111111111",
		ExecutionID: "exec-1",
		UserID:      "u1",
		JobType:     "research_brief",
		Status:      domain.JobStatusProcessing,
		Progress:    50,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	fx := newJobFixture(t, newFakeJobStore(job))

	tests := []struct {
		name     string
		jobID    string
		wantCode int
	}{
		{name: "existing job", jobID: job.JobID, wantCode: http.StatusOK},
		{name: "unknown job", jobID: "99999999-9999-9999-9999-999999999999", wantCode: http.StatusNotFound},
		{name: "invalid uuid", jobID: "not-a-uuid", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+tt.jobID, nil)
			w := httptest.NewRecorder()
			fx.router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				var got dto.JobDTO
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, job.JobID, got.JobID)
				assert.Equal(t, "exec-1", got.ExecutionID)
				assert.Equal(t, 50, got.Progress)
			}
		})
	}
}

func TestGetJobResult(t *testing.T) {
	jobID := "11111111-1111-1111-1111-111111111111"
	fx := newJobFixture(t, newFakeJobStore())
	fx.results.results[jobID] = &domain.Result{
		JobID:         jobID,
		Payload:       `{"html":"<p>done</p>"}`,
		Metadata:      `{"apiVersion":"v2"}`,
		ProjectName:   "solar-research",
		UpstreamJobID: "exec-1",
		APIVersion:    "v2",
		GeneratedAt:   time.Now(),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/result", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var got dto.ResultDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, jobID, got.JobID)
	assert.Equal(t, "solar-research", got.ProjectName)
	assert.Equal(t, "exec-1", got.UpstreamJobID)
}

func TestGetJobResultNotMaterialized(t *testing.T) {
	fx := newJobFixture(t, newFakeJobStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/11111111-1111-1111-1111-111111111111/result", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func listJob(jobID, userID string, createdAt time.Time) *domain.Job {
	return &domain.Job{
		JobID:          jobID,
		ExecutionID:    jobID,
		UserID:         userID,
		JobType:        "research_brief",
		TargetApproach: "research",
		Status:         domain.JobStatusPending,
		CreatedAt:      createdAt,
	}
}

func TestListJobsPagination(t *testing.T) {
	now := time.Now()
	fx := newJobFixture(t, newFakeJobStore(
		listJob("11111111-1111-1111-1111-111111111111", "user-1", now.Add(-3*time.Minute)),
		listJob("22222222-2222-2222-2222-222222222222", "user-1", now.Add(-2*time.Minute)),
		listJob("33333333-3333-3333-3333-333333333333", "user-1", now.Add(-time.Minute)),
	))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?user_id=user-1&page_size=2", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	require.NotEmpty(t, resp.NextCursor)

	// The token round-trips through the store codec.
	cursor, err := store.DecodeJobCursor(resp.NextCursor)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, resp.Jobs[len(resp.Jobs)-1].JobID, cursor.JobID)
}

func TestListJobsRejectsMalformedCursor(t *testing.T) {
	fx := newJobFixture(t, newFakeJobStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?cursor=not-a-cursor", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
