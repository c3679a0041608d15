package chat

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cuongbtq/media-pipeline/internal/delivery"
)

// LogMessenger writes outbound messages to the log instead of a chat
// network. It backs local runs without a broker.
type LogMessenger struct {
	*Directory

	logger *slog.Logger
}

var (
	_ delivery.Messenger     = (*LogMessenger)(nil)
	_ delivery.ContactLookup = (*LogMessenger)(nil)
)

// NewLogMessenger creates a log-only messenger
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	return &LogMessenger{Directory: NewDirectory(), logger: logger}
}

// IsConnected is always true
func (m *LogMessenger) IsConnected() bool {
	return true
}

// SendText logs the message and returns a fresh id
func (m *LogMessenger) SendText(_ context.Context, recipientID, text string, opts delivery.SendOptions) (string, error) {
	id := uuid.NewString()
	m.logger.Info("Outbound message",
		slog.String("message_id", id),
		slog.String("recipient_id", recipientID),
		slog.String("quoted_id", opts.QuotedID),
		slog.String("text", text),
	)
	return id, nil
}
