package dto

import (
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
)

// CreateJobRequest is accepted as JSON (base64 data) or as a multipart form
// with the media in a "file" part.
type CreateJobRequest struct {
	Data        []byte `json:"data" form:"-"`
	MIMEType    string `json:"mime_type" form:"mime_type"`
	ChatID      string `json:"chat_id" form:"chat_id" binding:"required"`
	SenderID    string `json:"sender_id" form:"sender_id" binding:"required"`
	MessageID   string `json:"message_id" form:"message_id"`
	SenderName  string `json:"sender_name" form:"sender_name"`
	Instruction string `json:"instruction" form:"instruction"`
	Excerpt     string `json:"excerpt" form:"excerpt"`
	ChatType    string `json:"chat_type" form:"chat_type"`
}

// ToEnqueue maps the request onto a pipeline enqueue request
func (r CreateJobRequest) ToEnqueue() pipeline.EnqueueRequest {
	return pipeline.EnqueueRequest{
		Media: domain.MediaRef{
			Data:     r.Data,
			MIMEType: r.MIMEType,
		},
		Context: domain.JobContext{
			ChatID:      r.ChatID,
			MessageID:   r.MessageID,
			SenderID:    r.SenderID,
			SenderName:  r.SenderName,
			Instruction: r.Instruction,
			Excerpt:     r.Excerpt,
			ChatType:    r.ChatType,
		},
	}
}

type CreateJobResponse struct {
	JobID         string `json:"job_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Queue         string `json:"queue"`
	MediaType     string `json:"media_type"`
}

type ListTransactionsRequest struct {
	ChatID   string `form:"chat_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListTransactionsResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor,omitempty"`
}

type HistoryEntryDTO struct {
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

type TransactionDTO struct {
	ID                string               `json:"id"`
	ExternalMessageID string               `json:"external_message_id"`
	ChatID            string               `json:"chat_id"`
	SenderID          string               `json:"sender_id"`
	Status            string               `json:"status"`
	History           []HistoryEntryDTO    `json:"history"`
	Response          *string              `json:"response,omitempty"`
	RecoveryData      *ledger.RecoveryData `json:"recovery_data,omitempty"`
	CreatedAt         string               `json:"created_at"`
	UpdatedAt         string               `json:"updated_at"`
}

// NewTransactionDTO converts a ledger record for the wire
func NewTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	history := make([]HistoryEntryDTO, len(tx.History))
	for i, h := range tx.History {
		history[i] = HistoryEntryDTO{
			Timestamp: h.Timestamp.Format(time.RFC3339),
			Status:    string(h.Status),
			Detail:    h.Detail,
		}
	}

	return TransactionDTO{
		ID:                tx.ID,
		ExternalMessageID: tx.ExternalMessageID,
		ChatID:            tx.ChatID,
		SenderID:          tx.SenderID,
		Status:            string(tx.Status),
		History:           history,
		Response:          tx.Response,
		RecoveryData:      tx.RecoveryData,
		CreatedAt:         tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         tx.UpdatedAt.Format(time.RFC3339),
	}
}

type DeadLettersResponse struct {
	DeadLetters []domain.DeadLetter `json:"dead_letters"`
}

type PendingResponse struct {
	Notifications []*domain.PendingNotification `json:"notifications"`
	Total         int                           `json:"total"`
}

type QueueStatsResponse struct {
	Queues []pipeline.QueueStats `json:"queues"`
}

type PurgeResponse struct {
	OnlyCompleted bool           `json:"only_completed"`
	Purged        map[string]int `json:"purged"`
}
