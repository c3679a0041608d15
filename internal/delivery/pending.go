package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/metrics"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepBatch    = 50
)

// SweepConfig holds pending notification sweep configuration
type SweepConfig struct {
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
}

// SweepReport summarizes one sweep
type SweepReport struct {
	Delivered int
	Failed    int
	Pruned    int
}

// Sweeper retries pending notifications with a plain send
type Sweeper struct {
	messenger Messenger
	pending   PendingStore
	ledger    Ledger
	cfg       SweepConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a pending notification sweeper. ledger may be nil.
func NewSweeper(messenger Messenger, pending PendingStore, l Ledger, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatch
	}
	return &Sweeper{
		messenger: messenger,
		pending:   pending,
		ledger:    l,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Sweep prunes expired notifications and retries the rest once
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	pruned, err := s.pending.DeleteOlderThan(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		return report, fmt.Errorf("failed to prune pending notifications: %w", err)
	}
	report.Pruned = pruned

	items, err := s.pending.List(ctx, s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list pending notifications: %w", err)
	}

	for _, n := range items {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if s.retry(ctx, n) {
			report.Delivered++
		} else {
			report.Failed++
		}
	}

	if count, err := s.pending.Count(ctx); err == nil {
		metrics.PendingNotifications.Set(float64(count))
	}

	if report.Delivered+report.Failed+report.Pruned > 0 {
		s.logger.Info("Pending notification sweep complete",
			slog.Int("delivered", report.Delivered),
			slog.Int("failed", report.Failed),
			slog.Int("pruned", report.Pruned),
		)
	}
	return report, nil
}

func (s *Sweeper) retry(ctx context.Context, n *domain.PendingNotification) bool {
	var err error
	if s.messenger == nil || !s.messenger.IsConnected() {
		err = ErrNotConnected
	} else {
		_, err = s.messenger.SendText(ctx, n.RecipientID, n.Response, SendOptions{})
	}

	if err != nil {
		metrics.DeliveryAttempts.WithLabelValues("pending_sweep", "failure").Inc()
		if recErr := s.pending.RecordAttempt(ctx, n.ID, s.now(), truncate(err.Error(), 500)); recErr != nil {
			s.logger.Error("Failed to record pending notification attempt",
				slog.String("notification_id", n.ID),
				slog.Any("error", recErr),
			)
		}
		return false
	}

	metrics.DeliveryAttempts.WithLabelValues("pending_sweep", "success").Inc()
	if err := s.pending.Delete(ctx, n.ID); err != nil && !errors.Is(err, domain.ErrPendingNotFound) {
		s.logger.Error("Pending notification sent but not removed",
			slog.String("notification_id", n.ID),
			slog.Any("error", err),
		)
	}

	if n.TransactionID != "" && s.ledger != nil {
		if err := s.ledger.MarkDelivered(ctx, n.TransactionID); err != nil && !errors.Is(err, domain.ErrTransactionNotFound) {
			s.logger.Warn("Pending notification sent but ledger not updated",
				slog.String("transaction_id", n.TransactionID),
				slog.Any("error", err),
			)
		}
	}
	return true
}

// Run sweeps on the configured interval until ctx ends
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Pending notification sweep started", slog.Duration("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Pending notification sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Pending notification sweep failed", slog.Any("error", err))
			}
		}
	}
}
