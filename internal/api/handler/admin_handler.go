package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/contentpilot/jobs-be/internal/api/dto"
	"github.com/contentpilot/jobs-be/internal/engine"
)

// AdminHandler exposes the internal operational triggers: an on-demand poll
// cycle and the recovery sweep.
type AdminHandler struct {
	logger     *slog.Logger
	poller     PollRunner
	reconciler SweepRunner
	adminToken string
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(deps *Dependencies) *AdminHandler {
	return &AdminHandler{
		logger:     deps.Logger,
		poller:     deps.Poller,
		reconciler: deps.Reconciler,
		adminToken: deps.AdminToken,
	}
}

// TriggerPoll handles POST /internal/poll
// Runs one poll cycle and returns per-job outcomes plus aggregates.
func (h *AdminHandler) TriggerPoll(c *gin.Context) {
	summary, err := h.poller.RunCycle(c.Request.Context())
	if err != nil {
		h.logger.Error("On-demand poll cycle failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Poll cycle failed",
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// TriggerRecover handles POST /internal/recover
// Runs a recovery sweep over stuck jobs. When an admin token is configured,
// the request must carry it as a bearer token.
func (h *AdminHandler) TriggerRecover(c *gin.Context) {
	if h.adminToken != "" && !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid or missing admin token",
		})
		return
	}

	var req dto.RecoverRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	summary, err := h.reconciler.Sweep(c.Request.Context(), engine.SweepOptions{
		IncludePending: req.IncludePending,
		IncludeFailed:  req.IncludeFailed,
	})
	if err != nil {
		h.logger.Error("Recovery sweep failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Recovery sweep failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checked":         summary.Checked,
		"completed":       summary.Completed,
		"failed":          summary.Failed,
		"stillProcessing": summary.StillProcessing,
	})
}

func (h *AdminHandler) authorized(c *gin.Context) bool {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}
