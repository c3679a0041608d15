// Package ledger records the lifecycle of every request so a generated
// response is never silently lost, and replays unanswered work after a crash.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

const (
	DefaultRetentionDays = 7
	DefaultRecoveryGrace = 5 * time.Second
	DefaultSweepInterval = 24 * time.Hour
)

// Config holds ledger configuration
type Config struct {
	RetentionDays int
	RecoveryGrace time.Duration
	SweepInterval time.Duration
}

// Option customizes a Ledger
type Option func(*Ledger)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is the transaction ledger service
type Ledger struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	recovers []RecoverHandler
}

// New creates a ledger on top of store
func New(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Ledger {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.RecoveryGrace < 0 {
		cfg.RecoveryGrace = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	l := &Ledger{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create records a new transaction and returns its id
func (l *Ledger) Create(ctx context.Context, meta RequestMeta) (string, error) {
	now := l.now()
	tx := &Transaction{
		ID:                NewID(now),
		ExternalMessageID: meta.ExternalMessageID,
		ChatID:            meta.ChatID,
		SenderID:          meta.SenderID,
		Status:            StatusCreated,
		History:           []HistoryEntry{{Timestamp: now, Status: StatusCreated}},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := l.store.Insert(ctx, tx); err != nil {
		l.logger.Error("Failed to create transaction",
			slog.String("chat_id", meta.ChatID),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	l.logger.Debug("Transaction created",
		slog.String("transaction_id", tx.ID),
		slog.String("chat_id", tx.ChatID),
	)
	return tx.ID, nil
}

// Get returns a transaction by id
func (l *Ledger) Get(ctx context.Context, id string) (*Transaction, error) {
	return l.store.Get(ctx, id)
}

// List returns a page of transactions
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]*Transaction, error) {
	return l.store.List(ctx, filter)
}

// AttachRecoveryData stores what is needed to redeliver without the original request
func (l *Ledger) AttachRecoveryData(ctx context.Context, id string, data RecoveryData) error {
	if data.RecipientID == "" || data.ChatID == "" {
		return domain.NewValidationError("recovery data requires recipient and chat id")
	}
	return l.update(ctx, id, "", "recovery data attached", func(tx *Transaction) error {
		d := data
		tx.RecoveryData = &d
		return nil
	})
}

// MarkProcessing records that a pipeline stage started work
func (l *Ledger) MarkProcessing(ctx context.Context, id string) error {
	return l.update(ctx, id, StatusProcessing, "", nil)
}

// AttachResponse stores the generated response
func (l *Ledger) AttachResponse(ctx context.Context, id, text string) error {
	return l.update(ctx, id, StatusResponseGenerated, fmt.Sprintf("response length %d", len(text)), func(tx *Transaction) error {
		t := text
		tx.Response = &t
		return nil
	})
}

// MarkRecovering records that a replay attempt is starting
func (l *Ledger) MarkRecovering(ctx context.Context, id string) error {
	return l.update(ctx, id, StatusRecovering, "", nil)
}

// MarkDelivered confirms delivery. Delivered transactions are not retained.
func (l *Ledger) MarkDelivered(ctx context.Context, id string) error {
	tx, err := l.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", id, err)
	}
	if tx.Response == nil {
		return fmt.Errorf("cannot mark %s delivered: %w", id, ErrResponseMissing)
	}

	if err := l.store.Delete(ctx, id); err != nil {
		l.logger.Error("Failed to remove delivered transaction",
			slog.String("transaction_id", id),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to remove delivered transaction: %w", err)
	}

	l.logger.Info("Transaction delivered",
		slog.String("transaction_id", id),
		slog.Duration("age", l.now().Sub(tx.CreatedAt)),
	)
	return nil
}

// RecordDeliveryFailure records a failed delivery. It never panics or
// propagates store errors; it always returns a typed failure.
func (l *Ledger) RecordDeliveryFailure(ctx context.Context, id, reason string) *DeliveryFailure {
	failure := &DeliveryFailure{TransactionID: id, Reason: reason}

	if err := l.update(ctx, id, StatusDeliveryFailed, reason, nil); err != nil {
		failure.RecordErr = err
	}

	l.logger.Warn("Delivery failure recorded",
		slog.String("transaction_id", id),
		slog.String("reason", reason),
		slog.Bool("persisted", failure.RecordErr == nil),
	)
	return failure
}

// RecordProcessingFailure records a terminal pipeline failure
func (l *Ledger) RecordProcessingFailure(ctx context.Context, id, reason string) error {
	return l.update(ctx, id, StatusProcessingFailed, reason, nil)
}

// FindIncomplete returns transactions that have a response and recovery
// data but no confirmed delivery.
func (l *Ledger) FindIncomplete(ctx context.Context) ([]*Transaction, error) {
	txs, err := l.store.FindByStatus(ctx, IncompleteStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to find incomplete transactions: %w", err)
	}

	out := txs[:0]
	for _, tx := range txs {
		if tx.Recoverable() {
			out = append(out, tx)
		}
	}
	return out, nil
}

// PurgeOlderThan deletes transactions created more than days ago. With
// terminalOnly set, only terminal records are removed.
func (l *Ledger) PurgeOlderThan(ctx context.Context, days int, terminalOnly bool) (int, error) {
	cutoff := l.now().AddDate(0, 0, -days)

	var statuses []Status
	if terminalOnly {
		statuses = TerminalStatuses
	}

	n, err := l.store.DeleteOlderThan(ctx, cutoff, statuses)
	if err != nil {
		return 0, fmt.Errorf("failed to purge transactions: %w", err)
	}

	if n > 0 {
		l.logger.Info("Purged old transactions",
			slog.Int("count", n),
			slog.Int("older_than_days", days),
			slog.Bool("terminal_only", terminalOnly),
		)
	}
	return n, nil
}

// ExpireStale moves non-terminal transactions older than days to
// permanent failure.
func (l *Ledger) ExpireStale(ctx context.Context, days int) (int, error) {
	cutoff := l.now().AddDate(0, 0, -days)

	open := []Status{StatusCreated, StatusProcessing, StatusResponseGenerated, StatusDeliveryFailed, StatusRecovering}

	txs, err := l.store.FindOlderThan(ctx, cutoff, open)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale transactions: %w", err)
	}

	expired := 0
	for _, tx := range txs {
		detail := fmt.Sprintf("no delivery within %d days", days)
		if err := l.update(ctx, tx.ID, StatusPermanentFailure, detail, nil); err != nil {
			l.logger.Error("Failed to expire transaction",
				slog.String("transaction_id", tx.ID),
				slog.Any("error", err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}

// Sweep runs one retention pass: purge old terminal records, then expire
// stale open ones so they are kept for one more window.
func (l *Ledger) Sweep(ctx context.Context) error {
	if _, err := l.PurgeOlderThan(ctx, l.cfg.RetentionDays, true); err != nil {
		return err
	}
	if _, err := l.ExpireStale(ctx, l.cfg.RetentionDays); err != nil {
		return err
	}
	return nil
}

// RunRetentionSweep runs Sweep on the configured interval until ctx ends
func (l *Ledger) RunRetentionSweep(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	l.logger.Info("Ledger retention sweep started",
		slog.Duration("interval", l.cfg.SweepInterval),
		slog.Int("retention_days", l.cfg.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Ledger retention sweep stopped")
			return
		case <-ticker.C:
			if err := l.Sweep(ctx); err != nil {
				l.logger.Error("Ledger retention sweep failed", slog.Any("error", err))
			}
		}
	}
}

// update is the single-record read-then-write used by every mutation.
// An empty status leaves the status unchanged but still records history.
func (l *Ledger) update(ctx context.Context, id string, status Status, detail string, fn func(*Transaction) error) error {
	tx, err := l.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}
		return fmt.Errorf("failed to load transaction %s: %w", id, err)
	}

	if fn != nil {
		if err := fn(tx); err != nil {
			return err
		}
	}

	now := l.now()
	if status != "" {
		tx.Status = status
	}
	tx.History = append(tx.History, HistoryEntry{
		Timestamp: now,
		Status:    tx.Status,
		Detail:    truncate(detail, 500),
	})
	tx.UpdatedAt = now

	if err := l.store.Update(ctx, tx); err != nil {
		l.logger.Error("Failed to update transaction",
			slog.String("transaction_id", id),
			slog.String("status", string(tx.Status)),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to update transaction %s: %w", id, err)
	}

	l.logger.Debug("Transaction updated",
		slog.String("transaction_id", id),
		slog.String("status", string(tx.Status)),
	)
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
