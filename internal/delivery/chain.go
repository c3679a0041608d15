// Package delivery sends responses back to the chat network through an
// ordered chain of strategies and parks undeliverable ones for later.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/metrics"
)

// Strategy names a delivery attempt, in the order they are tried
type Strategy string

const (
	StrategyDirectReply   Strategy = "direct_reply"
	StrategyQuoteByID     Strategy = "quote_by_id"
	StrategyReconstructed Strategy = "reconstructed_context"
	StrategyPlain         Strategy = "plain_send"
)

// ErrNotConnected is returned when the chat network session is down
var ErrNotConnected = errors.New("chat network not connected")

// SendOptions modify an outbound message
type SendOptions struct {
	QuotedID string
}

// Messenger is the chat network's outbound surface
type Messenger interface {
	SendText(ctx context.Context, recipientID, text string, opts SendOptions) (string, error)
	IsConnected() bool
}

// MessageHandle is the live inbound message, when the requester is still
// reachable through it.
type MessageHandle interface {
	Reply(ctx context.Context, text string) (string, error)
}

// Contact is a chat participant as the chat network knows them
type Contact struct {
	ID   string
	Name string
}

// ContactLookup is implemented by messengers that can resolve display names
type ContactLookup interface {
	GetContact(ctx context.Context, id string) (Contact, error)
}

// Snapshot is the context needed to rebuild a reply banner. SenderID is
// used to look the name up when SenderName is empty.
type Snapshot struct {
	SenderID   string
	SenderName string
	Excerpt    string
	MediaType  string
}

// Target identifies where a response goes
type Target struct {
	RecipientID string
	ChatID      string
	QuotedID    string
	Snapshot    *Snapshot
}

// Request is one response to deliver
type Request struct {
	Handle        MessageHandle
	Target        Target
	Text          string
	TransactionID string
	// Recovery leaves ledger status changes to the caller
	Recovery bool
}

// Result reports how a response was delivered
type Result struct {
	Delivered bool
	Strategy  Strategy
	MessageID string
	Pending   bool
	Err       error
}

// Ledger is the subset of the transaction ledger the chain updates
type Ledger interface {
	MarkDelivered(ctx context.Context, id string) error
	RecordDeliveryFailure(ctx context.Context, id, reason string) *ledger.DeliveryFailure
}

// PendingStore persists undeliverable responses
type PendingStore interface {
	Save(ctx context.Context, n *domain.PendingNotification) error
	List(ctx context.Context, limit int) ([]*domain.PendingNotification, error)
	Delete(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, at time.Time, lastError string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// Chain tries each strategy in order and stops at the first success
type Chain struct {
	messenger Messenger
	ledger    Ledger
	pending   PendingStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewChain creates a delivery chain. ledger may be nil.
func NewChain(messenger Messenger, l Ledger, pending PendingStore, logger *slog.Logger) *Chain {
	return &Chain{
		messenger: messenger,
		ledger:    l,
		pending:   pending,
		logger:    logger,
		now:       time.Now,
	}
}

type attempt struct {
	strategy Strategy
	send     func(ctx context.Context) (string, error)
}

// Deliver sends req.Text, falling back through direct reply, quote by id,
// a reconstructed context banner and a plain send. When all of them fail
// the response is stored as a pending notification.
func (c *Chain) Deliver(ctx context.Context, req Request) Result {
	var errs []error

	for _, a := range c.plan(req) {
		id, err := c.try(ctx, a)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.strategy, err))
			continue
		}

		if a.strategy == StrategyPlain {
			c.logger.Warn("Delivered as plain message, accessibility degradation: requester may not see what it answers",
				slog.String("chat_id", req.Target.ChatID),
				slog.String("transaction_id", req.TransactionID),
			)
		}

		c.confirm(ctx, req)
		return Result{Delivered: true, Strategy: a.strategy, MessageID: id}
	}

	cause := errors.Join(errs...)
	reason := fmt.Sprintf("all delivery strategies failed: %v", cause)

	c.logger.Error("All delivery strategies failed",
		slog.String("chat_id", req.Target.ChatID),
		slog.String("transaction_id", req.TransactionID),
		slog.Any("error", cause),
	)

	result := Result{Err: fmt.Errorf("%w: %v", domain.ErrDeliveryExhausted, cause)}
	if err := c.park(ctx, req, reason); err != nil {
		c.logger.Error("Failed to store pending notification, response lost",
			slog.String("chat_id", req.Target.ChatID),
			slog.String("transaction_id", req.TransactionID),
			slog.Any("error", err),
		)
	} else {
		result.Pending = true
	}

	if req.TransactionID != "" && !req.Recovery && c.ledger != nil {
		c.ledger.RecordDeliveryFailure(ctx, req.TransactionID, reason)
	}
	return result
}

func (c *Chain) plan(req Request) []attempt {
	var plan []attempt
	t := req.Target

	if req.Handle != nil {
		plan = append(plan, attempt{StrategyDirectReply, func(ctx context.Context) (string, error) {
			return req.Handle.Reply(ctx, req.Text)
		}})
	}

	if t.RecipientID == "" {
		return plan
	}

	if t.QuotedID != "" {
		plan = append(plan, attempt{StrategyQuoteByID, func(ctx context.Context) (string, error) {
			return c.send(ctx, t.RecipientID, req.Text, SendOptions{QuotedID: t.QuotedID})
		}})
	}

	if t.Snapshot != nil {
		plan = append(plan, attempt{StrategyReconstructed, func(ctx context.Context) (string, error) {
			return c.send(ctx, t.RecipientID, Banner(c.resolveSender(ctx, *t.Snapshot))+req.Text, SendOptions{})
		}})
	}

	plan = append(plan, attempt{StrategyPlain, func(ctx context.Context) (string, error) {
		return c.send(ctx, t.RecipientID, req.Text, SendOptions{})
	}})
	return plan
}

// resolveSender fills in a missing sender name from the chat network
func (c *Chain) resolveSender(ctx context.Context, s Snapshot) Snapshot {
	if s.SenderName != "" || s.SenderID == "" {
		return s
	}
	lookup, ok := c.messenger.(ContactLookup)
	if !ok {
		return s
	}
	contact, err := lookup.GetContact(ctx, s.SenderID)
	if err != nil {
		c.logger.Debug("Sender name unavailable for context banner",
			slog.String("sender_id", s.SenderID),
			slog.Any("error", err),
		)
		return s
	}
	s.SenderName = contact.Name
	return s
}

func (c *Chain) try(ctx context.Context, a attempt) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
			c.logger.Warn("Delivery strategy failed, trying next",
				slog.String("strategy", string(a.strategy)),
				slog.Any("error", err),
			)
		}
		metrics.DeliveryAttempts.WithLabelValues(string(a.strategy), outcome).Inc()
	}()
	return a.send(ctx)
}

func (c *Chain) send(ctx context.Context, recipientID, text string, opts SendOptions) (string, error) {
	if c.messenger == nil || !c.messenger.IsConnected() {
		return "", ErrNotConnected
	}
	return c.messenger.SendText(ctx, recipientID, text, opts)
}

func (c *Chain) confirm(ctx context.Context, req Request) {
	if req.TransactionID == "" {
		return
	}

	if c.pending != nil {
		err := c.pending.Delete(ctx, domain.PendingNotificationID(req.TransactionID))
		if err != nil && !errors.Is(err, domain.ErrPendingNotFound) {
			c.logger.Warn("Failed to clear pending notification",
				slog.String("transaction_id", req.TransactionID),
				slog.Any("error", err),
			)
		}
	}

	if req.Recovery || c.ledger == nil {
		return
	}
	if err := c.ledger.MarkDelivered(ctx, req.TransactionID); err != nil {
		c.logger.Error("Response delivered but ledger not updated",
			slog.String("transaction_id", req.TransactionID),
			slog.Any("error", err),
		)
	}
}

func (c *Chain) park(ctx context.Context, req Request, reason string) error {
	if c.pending == nil {
		return errors.New("no pending notification store")
	}
	if req.Target.RecipientID == "" {
		return errors.New("no recipient to notify later")
	}

	id := "pn_" + uuid.NewString()
	if req.TransactionID != "" {
		id = domain.PendingNotificationID(req.TransactionID)
	}

	n := &domain.PendingNotification{
		ID:            id,
		TransactionID: req.TransactionID,
		RecipientID:   req.Target.RecipientID,
		ChatID:        req.Target.ChatID,
		Response:      req.Text,
		LastError:     truncate(reason, 500),
		CreatedAt:     c.now(),
	}
	if err := c.pending.Save(ctx, n); err != nil {
		return fmt.Errorf("failed to save pending notification: %w", err)
	}

	c.logger.Info("Response parked as pending notification",
		slog.String("notification_id", n.ID),
		slog.String("chat_id", n.ChatID),
	)
	return nil
}
