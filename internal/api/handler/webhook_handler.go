package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/contentpilot/jobs-be/internal/api/dto"
	"github.com/contentpilot/jobs-be/internal/domain"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

// WebhookHandler processes upstream job-status pushes. It advances job state
// out-of-band from polling, idempotently: duplicate or late deliveries for an
// already-terminal job are a successful no-op.
type WebhookHandler struct {
	logger       *slog.Logger
	jobs         JobStore
	upstream     ResultFetcher
	materializer Materializer
	secret       []byte
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:       deps.Logger,
		jobs:         deps.Jobs,
		upstream:     deps.Upstream,
		materializer: deps.Materializer,
		secret:       []byte(deps.WebhookSecret),
	}
}

// HandleJobStatus handles POST /webhooks/job-status
func (h *WebhookHandler) HandleJobStatus(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read request body",
		})
		return
	}

	if !h.verifySignature(body, c.GetHeader(SignatureHeader)) {
		// No state change and no hint about whether the job exists.
		h.logger.Warn("Webhook rejected: invalid signature",
			slog.String("ip", c.ClientIP()),
		)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid signature",
		})
		return
	}

	var payload dto.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid JSON payload",
		})
		return
	}

	if payload.JobID == "" || payload.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "jobId and status are required",
		})
		return
	}

	// The sender may address the job by internal id or upstream execution id.
	job, err := h.jobs.FindJob(c.Request.Context(), payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			h.logger.Warn("Webhook for unknown job",
				slog.String("job_id", payload.JobID),
			)
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to look up job for webhook", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up job",
		})
		return
	}

	if job.IsTerminal() {
		// Webhooks can be delivered more than once, or arrive after polling
		// already finished the job.
		h.logger.Info("Webhook for terminal job, no-op",
			slog.String("job_id", job.JobID),
			slog.String("status", job.Status),
		)
		c.JSON(http.StatusOK, gin.H{
			"status":  job.Status,
			"message": "Job already finalized",
		})
		return
	}

	switch strings.ToLower(payload.Status) {
	case domain.JobStatusCompleted:
		h.completeJob(c, job)

	case domain.JobStatusFailed:
		if err := h.jobs.MarkTerminal(c.Request.Context(), job.JobID, domain.JobStatusFailed, "upstream reported failure via webhook"); err != nil {
			h.logger.Error("Failed to finalize failed job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update job",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": domain.JobStatusFailed,
		})

	default:
		// The poller owns intermediate progress; webhooks only matter for
		// terminal transitions.
		h.logger.Info("Ignoring webhook with non-terminal status",
			slog.String("job_id", job.JobID),
			slog.String("status", payload.Status),
		)
		c.JSON(http.StatusOK, gin.H{
			"message": "Status ignored",
		})
	}
}

// completeJob fetches the upstream result, materializes it, then finalizes
// the job. A failed result fetch is a 500 (retryable by the sender) and must
// not fail the job: the upstream work succeeded, only our read of it failed.
func (h *WebhookHandler) completeJob(c *gin.Context, job *domain.Job) {
	executionID := job.ExecutionID
	if executionID == "" {
		executionID = job.JobID
	}

	raw, err := h.upstream.GetResult(c.Request.Context(), executionID)
	if err != nil {
		h.logger.Warn("Result fetch failed on webhook completion, leaving job for retry",
			slog.String("job_id", job.JobID),
			slog.String("execution_id", executionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch result, retry later",
		})
		return
	}

	if err := h.materializer.Materialize(c.Request.Context(), job.JobID, raw, executionID); err != nil {
		h.logger.Error("Materialization failed on webhook completion",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store result, retry later",
		})
		return
	}

	if err := h.jobs.MarkTerminal(c.Request.Context(), job.JobID, domain.JobStatusCompleted, ""); err != nil {
		h.logger.Error("Failed to finalize completed job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update job",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": domain.JobStatusCompleted,
	})
}

// verifySignature checks the hex HMAC-SHA256 of the raw body in constant
// time.
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if len(h.secret) == 0 || signature == "" {
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)

	return hmac.Equal(provided, mac.Sum(nil))
}
