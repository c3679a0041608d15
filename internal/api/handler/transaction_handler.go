package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/media-pipeline/internal/api/dto"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
)

var knownStatuses = map[ledger.Status]bool{
	ledger.StatusCreated:           true,
	ledger.StatusProcessing:        true,
	ledger.StatusResponseGenerated: true,
	ledger.StatusDelivered:         true,
	ledger.StatusDeliveryFailed:    true,
	ledger.StatusRecovering:        true,
	ledger.StatusProcessingFailed:  true,
	ledger.StatusPermanentFailure:  true,
}

// GetTransaction handles GET /api/v1/transactions/:id
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id is required",
		})
		return
	}

	tx, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "transaction not found",
			})
			return
		}
		h.logger.Error("Failed to get transaction",
			slog.String("transaction_id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get transaction",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewTransactionDTO(tx))
}

// ListTransactions handles GET /api/v1/transactions, newest first with
// keyset pagination.
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	var req dto.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	status := ledger.Status(req.Status)
	if status != "" && !knownStatuses[status] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown status " + req.Status,
		})
		return
	}

	cursor, err := DecodeTransactionCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	size := pageSize(req.PageSize)

	// one extra row tells us whether another page exists
	txs, err := h.ledger.List(c.Request.Context(), ledger.ListFilter{
		Status:   status,
		ChatID:   req.ChatID,
		PageSize: size + 1,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list transactions", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list transactions",
		})
		return
	}

	hasMore := len(txs) > size
	if hasMore {
		txs = txs[:size]
	}

	out := make([]dto.TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = dto.NewTransactionDTO(tx)
	}

	var nextCursor string
	if hasMore {
		last := txs[len(txs)-1]
		nextCursor = EncodeTransactionCursor(&ledger.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListTransactionsResponse{
		Transactions: out,
		NextCursor:   nextCursor,
	})
}
