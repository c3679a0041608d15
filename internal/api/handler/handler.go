package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/media-pipeline/internal/delivery"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// DefaultMaxUploadBytes caps request bodies when no limit is configured
	DefaultMaxUploadBytes int64 = 32 << 20
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Pipeline       *pipeline.Pipeline
	Ledger         *ledger.Ledger
	Pending        delivery.PendingStore
	Health         func(ctx context.Context) map[string]error
	MaxUploadBytes int64
	ServiceName    string
}

// JobHandler accepts new media jobs
type JobHandler struct {
	logger         *slog.Logger
	pipeline       *pipeline.Pipeline
	maxUploadBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	limit := deps.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	return &JobHandler{
		logger:         deps.Logger,
		pipeline:       deps.Pipeline,
		maxUploadBytes: limit,
	}
}

// TransactionHandler exposes the ledger read side
type TransactionHandler struct {
	logger *slog.Logger
	ledger *ledger.Ledger
}

// NewTransactionHandler creates a new TransactionHandler instance
func NewTransactionHandler(deps *Dependencies) *TransactionHandler {
	return &TransactionHandler{
		logger: deps.Logger,
		ledger: deps.Ledger,
	}
}

// AdminHandler serves queue maintenance and failure inspection
type AdminHandler struct {
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
	pending  delivery.PendingStore
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(deps *Dependencies) *AdminHandler {
	return &AdminHandler{
		logger:   deps.Logger,
		pipeline: deps.Pipeline,
		pending:  deps.Pending,
	}
}

// Health reports 200 when every dependency check passes and 503 otherwise
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		if deps.Health != nil {
			for name, err := range deps.Health(c.Request.Context()) {
				if err != nil {
					healthy = false
					checks[name] = err.Error()
					continue
				}
				checks[name] = "ok"
			}
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": deps.ServiceName,
			"checks":  checks,
		})
	}
}

// pageSize clamps a requested page size into [1, maxPageSize]
func pageSize(requested int) int {
	if requested <= 0 {
		return defaultPageSize
	}
	if requested > maxPageSize {
		return maxPageSize
	}
	return requested
}
