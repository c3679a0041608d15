package domain

import "time"

// PendingNotification holds a response that no delivery strategy could send.
// A periodic sweep retries it until it is delivered or ages out.
type PendingNotification struct {
	ID            string     `json:"id" db:"id"`
	TransactionID string     `json:"transaction_id,omitempty" db:"transaction_id"`
	RecipientID   string     `json:"recipient_id" db:"recipient_id"`
	ChatID        string     `json:"chat_id" db:"chat_id"`
	Response      string     `json:"response" db:"response"`
	Attempts      int        `json:"attempts" db:"attempts"`
	LastError     string     `json:"last_error,omitempty" db:"last_error"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// PendingNotificationID derives a stable id so a transaction has at most
// one pending notification.
func PendingNotificationID(transactionID string) string {
	return "pn_" + transactionID
}
