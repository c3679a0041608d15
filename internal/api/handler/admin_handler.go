package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/media-pipeline/internal/api/dto"
	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// QueueStats handles GET /api/v1/queues/stats
func (h *AdminHandler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, dto.QueueStatsResponse{
		Queues: h.pipeline.Stats(c.Request.Context()),
	})
}

// PurgeQueues handles POST /api/v1/queues/purge?only_completed=true
func (h *AdminHandler) PurgeQueues(c *gin.Context) {
	onlyCompleted, err := strconv.ParseBool(c.DefaultQuery("only_completed", "true"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "only_completed must be a boolean",
		})
		return
	}

	report, err := h.pipeline.PurgeQueues(c.Request.Context(), onlyCompleted)
	if err != nil {
		h.logger.Error("Failed to purge queues", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to purge queues",
		})
		return
	}

	h.logger.Warn("Queues purged",
		slog.Bool("only_completed", onlyCompleted),
		slog.Any("purged", report.Purged),
	)
	c.JSON(http.StatusOK, dto.PurgeResponse{
		OnlyCompleted: onlyCompleted,
		Purged:        report.Purged,
	})
}

// ListDeadLetters handles GET /api/v1/dead-letters
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}

	letters, err := h.pipeline.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list dead letters", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list dead letters",
		})
		return
	}
	if letters == nil {
		letters = []domain.DeadLetter{}
	}

	c.JSON(http.StatusOK, dto.DeadLettersResponse{DeadLetters: letters})
}

// ListPending handles GET /api/v1/pending
func (h *AdminHandler) ListPending(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	notifications, err := h.pending.List(ctx, limit)
	if err != nil {
		h.logger.Error("Failed to list pending notifications", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list pending notifications",
		})
		return
	}
	total, err := h.pending.Count(ctx)
	if err != nil {
		h.logger.Error("Failed to count pending notifications", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count pending notifications",
		})
		return
	}
	if notifications == nil {
		notifications = []*domain.PendingNotification{}
	}

	c.JSON(http.StatusOK, dto.PendingResponse{
		Notifications: notifications,
		Total:         total,
	})
}

func (h *AdminHandler) limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultPageSize, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be a positive integer",
		})
		return 0, false
	}
	return pageSize(n), true
}
