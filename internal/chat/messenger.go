// Package chat bridges delivery to the chat network adapter. Outbound
// messages are published to an AMQP exchange the adapter consumes.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/media-pipeline/internal/delivery"
)

const (
	DefaultExchange   = "chat.outbound"
	DefaultRoutingKey = "chat.outbound.text"

	KindText  = "text"
	KindReply = "reply"
)

// Publisher is the subset of the RabbitMQ client the messenger needs
type Publisher interface {
	DeclareExchange(name, kind string) error
	PublishWithRetry(ctx context.Context, exchange, routingKey string, body []byte, contentType string) error
	IsConnected() bool
}

// Config holds outbound exchange settings
type Config struct {
	Exchange   string
	RoutingKey string
}

// Outbound is the message envelope the chat adapter consumes
type Outbound struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	RecipientID string    `json:"recipient_id"`
	ChatID      string    `json:"chat_id,omitempty"`
	Text        string    `json:"text"`
	QuotedID    string    `json:"quoted_id,omitempty"`
	ReplyTo     string    `json:"reply_to,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// Messenger publishes outbound chat messages
type Messenger struct {
	*Directory

	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

var (
	_ delivery.Messenger     = (*Messenger)(nil)
	_ delivery.ContactLookup = (*Messenger)(nil)
)

// NewMessenger creates a messenger on top of publisher
func NewMessenger(publisher Publisher, cfg Config, logger *slog.Logger) *Messenger {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultRoutingKey
	}
	return &Messenger{
		Directory: NewDirectory(),
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Setup declares the outbound exchange
func (m *Messenger) Setup() error {
	if err := m.publisher.DeclareExchange(m.cfg.Exchange, "topic"); err != nil {
		return fmt.Errorf("failed to declare outbound exchange: %w", err)
	}
	m.logger.Info("Outbound chat exchange ready", slog.String("exchange", m.cfg.Exchange))
	return nil
}

// IsConnected reports whether the broker session is up
func (m *Messenger) IsConnected() bool {
	return m.publisher.IsConnected()
}

// SendText publishes a text message, optionally quoting an earlier message
func (m *Messenger) SendText(ctx context.Context, recipientID, text string, opts delivery.SendOptions) (string, error) {
	return m.publish(ctx, Outbound{
		Kind:        KindText,
		RecipientID: recipientID,
		Text:        text,
		QuotedID:    opts.QuotedID,
	})
}

// HandleFor returns a handle that replies natively to messageID, or nil when
// there is no message to reply to.
func (m *Messenger) HandleFor(chatID, messageID string) delivery.MessageHandle {
	if messageID == "" {
		return nil
	}
	return &replyHandle{messenger: m, chatID: chatID, messageID: messageID}
}

func (m *Messenger) publish(ctx context.Context, msg Outbound) (string, error) {
	if msg.RecipientID == "" {
		return "", fmt.Errorf("outbound message has no recipient")
	}
	if !m.publisher.IsConnected() {
		return "", delivery.ErrNotConnected
	}

	msg.ID = uuid.NewString()
	msg.SentAt = m.now().UTC()

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outbound message: %w", err)
	}

	if err := m.publisher.PublishWithRetry(ctx, m.cfg.Exchange, m.cfg.RoutingKey, body, "application/json"); err != nil {
		return "", fmt.Errorf("failed to publish outbound message: %w", err)
	}

	m.logger.Debug("Outbound message published",
		slog.String("message_id", msg.ID),
		slog.String("kind", msg.Kind),
		slog.String("recipient_id", msg.RecipientID),
	)
	return msg.ID, nil
}

type replyHandle struct {
	messenger *Messenger
	chatID    string
	messageID string
}

func (h *replyHandle) Reply(ctx context.Context, text string) (string, error) {
	return h.messenger.publish(ctx, Outbound{
		Kind:        KindReply,
		RecipientID: h.chatID,
		ChatID:      h.chatID,
		Text:        text,
		ReplyTo:     h.messageID,
	})
}
