package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a transaction lifecycle state
type Status string

const (
	StatusCreated           Status = "created"
	StatusProcessing        Status = "processing"
	StatusResponseGenerated Status = "response_generated"
	StatusDelivered         Status = "delivered"
	StatusDeliveryFailed    Status = "delivery_failed"
	StatusRecovering        Status = "recovering"
	StatusProcessingFailed  Status = "processing_failed"
	StatusPermanentFailure  Status = "permanent_failure"
)

// IncompleteStatuses are replayed by the recovery sweep when a response and
// recovery data are present. Recovering is included so a crash during a
// recovery attempt is replayed on the next start.
var IncompleteStatuses = []Status{
	StatusProcessing,
	StatusResponseGenerated,
	StatusDeliveryFailed,
	StatusRecovering,
}

// TerminalStatuses are eligible for the retention purge
var TerminalStatuses = []Status{
	StatusDelivered,
	StatusProcessingFailed,
	StatusPermanentFailure,
}

// Terminal reports whether s is a terminal status
func (s Status) Terminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// HistoryEntry is one append-only lifecycle record
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
}

// RecoveryData is the minimum needed to redeliver without the original
// request handle. Only RecipientID and ChatID are required.
type RecoveryData struct {
	RecipientID     string `json:"recipient_id"`
	ChatID          string `json:"chat_id"`
	QuotedMessageID string `json:"quoted_message_id,omitempty"`
	SenderName      string `json:"sender_name,omitempty"`
	Excerpt         string `json:"excerpt,omitempty"`
	MediaType       string `json:"media_type,omitempty"`
}

// Transaction tracks one inbound request end to end
type Transaction struct {
	ID                string         `json:"id"`
	ExternalMessageID string         `json:"external_message_id"`
	ChatID            string         `json:"chat_id"`
	SenderID          string         `json:"sender_id"`
	Status            Status         `json:"status"`
	History           []HistoryEntry `json:"history"`
	Response          *string        `json:"response,omitempty"`
	RecoveryData      *RecoveryData  `json:"recovery_data,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Recoverable reports whether the transaction can be replayed after a crash
func (t *Transaction) Recoverable() bool {
	return t.Response != nil && t.RecoveryData != nil
}

// RequestMeta describes an inbound request at intake
type RequestMeta struct {
	ExternalMessageID string
	ChatID            string
	SenderID          string
}

// ListFilter narrows a transaction listing; Cursor pages by (created_at, id) descending
type ListFilter struct {
	Status   Status
	ChatID   string
	PageSize int
	Cursor   *Cursor
}

// Cursor is a keyset pagination position
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Store is the persistence collaborator. Every mutation is a single-record
// read-then-write.
type Store interface {
	Insert(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
	Delete(ctx context.Context, id string) error
	FindByStatus(ctx context.Context, statuses []Status) ([]*Transaction, error)
	FindOlderThan(ctx context.Context, cutoff time.Time, statuses []Status) ([]*Transaction, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []Status) (int, error)
	List(ctx context.Context, filter ListFilter) ([]*Transaction, error)
	Count(ctx context.Context, statuses []Status) (int, error)
}

// NewID returns a tx_<unixms>_<random> identifier
func NewID(now time.Time) string {
	random := uuid.New().String()
	return fmt.Sprintf("tx_%d_%s", now.UnixMilli(), random[:8])
}
