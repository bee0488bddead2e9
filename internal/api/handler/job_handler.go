package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/contentpilot/jobs-be/internal/api/dto"
	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/internal/store"
)

// submitMessage is what gets queued for the submit worker after a job row
// exists.
type submitMessage struct {
	JobID string `json:"job_id"`
}

// CreateJob handles POST /api/v1/jobs
// Creates a new generation job (plus optional per-persona child jobs) and
// queues it for upstream submission.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	now := time.Now()
	parent := domain.Job{
		JobID:          uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		JobType:        req.JobType,
		TargetApproach: req.TargetApproach,
		Status:         domain.JobStatusPending,
		Progress:       0,
		Payload:        string(req.Payload),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// Until upstream assigns one, the execution id mirrors the job id.
	parent.ExecutionID = parent.JobID

	if err := h.jobs.CreateJob(c.Request.Context(), &parent); err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "A job with this idempotency key already exists",
			})
			return
		}
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	children := make([]domain.Job, 0, len(req.AvatarPersonas))
	for _, persona := range req.AvatarPersonas {
		child := domain.Job{
			JobID:          uuid.New().String(),
			IdempotencyKey: req.IdempotencyKey + ":" + persona,
			UserID:         req.UserID,
			JobType:        req.JobType,
			TargetApproach: req.TargetApproach,
			Status:         domain.JobStatusPending,
			Payload:        string(req.Payload),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		child.ExecutionID = child.JobID
		child.ParentJobID.String = parent.JobID
		child.ParentJobID.Valid = true
		child.AvatarPersonaName.String = persona
		child.AvatarPersonaName.Valid = true

		if err := h.jobs.CreateJob(c.Request.Context(), &child); err != nil {
			if errors.Is(err, domain.ErrDuplicateJob) {
				// Persona child from an earlier identical request. Skip it;
				// the original row is already queued or done.
				continue
			}
			h.logger.Error("Failed to create avatar child job",
				slog.String("parent_job_id", parent.JobID),
				slog.String("persona", persona),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create avatar jobs",
			})
			return
		}
		children = append(children, child)
	}

	for _, job := range append([]domain.Job{parent}, children...) {
		body, err := json.Marshal(submitMessage{JobID: job.JobID})
		if err != nil {
			h.logger.Error("Failed to marshal submit message", slog.String("error", err.Error()))
			continue
		}
		if err := h.queue.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
			// The row exists with status pending; a recovery sweep with
			// include_pending can still rescue it if publishing keeps failing.
			h.logger.Error("Failed to queue job for submission",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
		}
	}

	resp := dto.CreateJobResponse{Job: toJobDTO(&parent)}
	for i := range children {
		resp.Children = append(resp.Children, toJobDTO(&children[i]))
	}

	c.JSON(http.StatusCreated, resp)
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// GetJobResult handles GET /api/v1/jobs/:job_id/result
// Returns the materialized result of a completed job
func (h *JobHandler) GetJobResult(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	result, err := h.results.GetByJobID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Result not found",
			})
			return
		}
		h.logger.Error("Failed to get result", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get result",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ResultDTO{
		JobID:         result.JobID,
		Payload:       result.Payload,
		Metadata:      json.RawMessage(result.Metadata),
		ProjectName:   result.ProjectName,
		UpstreamJobID: result.UpstreamJobID,
		APIVersion:    result.APIVersion,
		GeneratedAt:   result.GeneratedAt.Format(time.RFC3339),
	})
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := store.DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := store.JobFilter{
		UserID:   req.UserID,
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		cursor := &store.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		}
		nextCursor = cursor.Encode()
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// toJobDTO converts a domain job into its API representation.
func toJobDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:          job.JobID,
		ExecutionID:    job.ExecutionID,
		UserID:         job.UserID,
		JobType:        job.JobType,
		TargetApproach: job.TargetApproach,
		Status:         job.Status,
		Progress:       job.Progress,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ParentJobID.Valid {
		out.ParentJobID = job.ParentJobID.String
	}
	if job.AvatarPersonaName.Valid {
		out.AvatarPersonaName = job.AvatarPersonaName.String
	}
	if job.ErrorMessage.Valid {
		out.ErrorMessage = job.ErrorMessage.String
	}
	return out
}
