package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RecoveryEvent carries everything needed to redeliver a response using
// only persisted data.
type RecoveryEvent struct {
	TransactionID string
	RecipientID   string
	ChatID        string
	Response      string
	Data          RecoveryData
}

// RecoverHandler attempts redelivery of one recovered transaction
type RecoverHandler func(ctx context.Context, event RecoveryEvent) error

// RecoveryReport summarizes one recovery sweep
type RecoveryReport struct {
	Found     int
	Delivered int
	Failed    int

	// Unrecoverable counts responses that had no recovery data and were
	// moved to permanent failure
	Unrecoverable int
}

// OnRecover registers a handler invoked once per recovered transaction
func (l *Ledger) OnRecover(h RecoverHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recovers = append(l.recovers, h)
}

// Recover waits for the grace delay and replays every incomplete
// transaction. Each one is marked recovering before the attempt and
// delivered or delivery-failed afterward.
func (l *Ledger) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	if l.cfg.RecoveryGrace > 0 {
		t := time.NewTimer(l.cfg.RecoveryGrace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return report, ctx.Err()
		}
	}

	l.mu.RLock()
	handlers := append([]RecoverHandler(nil), l.recovers...)
	l.mu.RUnlock()

	txs, err := l.store.FindByStatus(ctx, IncompleteStatuses)
	if err != nil {
		return report, fmt.Errorf("failed to find incomplete transactions: %w", err)
	}

	events := make([]RecoveryEvent, 0, len(txs))
	for _, tx := range txs {
		event, err := newRecoveryEvent(tx)
		switch {
		case errors.Is(err, ErrRecoveryDataMissing):
			l.abandon(ctx, tx.ID, err)
			report.Unrecoverable++
		case err != nil:
			// no response yet; the pipeline still owns it
		default:
			events = append(events, event)
		}
	}
	report.Found = len(events)

	l.logger.Info("Recovering incomplete transactions",
		slog.Int("count", len(events)),
		slog.Int("unrecoverable", report.Unrecoverable),
	)

	if len(handlers) == 0 && len(events) > 0 {
		l.logger.Warn("No recovery handler registered, leaving transactions untouched")
		return report, nil
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if err := l.MarkRecovering(ctx, event.TransactionID); err != nil {
			l.logger.Error("Failed to mark transaction recovering",
				slog.String("transaction_id", event.TransactionID),
				slog.Any("error", err),
			)
			report.Failed++
			continue
		}

		if err := l.dispatch(ctx, handlers, event); err != nil {
			l.RecordDeliveryFailure(ctx, event.TransactionID, fmt.Sprintf("recovery delivery failed: %v", err))
			report.Failed++
			continue
		}

		if err := l.MarkDelivered(ctx, event.TransactionID); err != nil {
			l.logger.Error("Recovered transaction delivered but not confirmed",
				slog.String("transaction_id", event.TransactionID),
				slog.Any("error", err),
			)
		}
		report.Delivered++
	}

	l.logger.Info("Recovery sweep complete",
		slog.Int("found", report.Found),
		slog.Int("delivered", report.Delivered),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// newRecoveryEvent builds the replay event for tx from persisted data only
func newRecoveryEvent(tx *Transaction) (RecoveryEvent, error) {
	if tx.Response == nil {
		return RecoveryEvent{}, ErrResponseMissing
	}
	if tx.RecoveryData == nil {
		return RecoveryEvent{}, ErrRecoveryDataMissing
	}
	return RecoveryEvent{
		TransactionID: tx.ID,
		RecipientID:   tx.RecoveryData.RecipientID,
		ChatID:        tx.RecoveryData.ChatID,
		Response:      *tx.Response,
		Data:          *tx.RecoveryData,
	}, nil
}

// abandon closes a transaction that can never be replayed
func (l *Ledger) abandon(ctx context.Context, id string, cause error) {
	if err := l.update(ctx, id, StatusPermanentFailure, cause.Error(), nil); err != nil {
		l.logger.Error("Failed to close unrecoverable transaction",
			slog.String("transaction_id", id),
			slog.Any("error", err),
		)
		return
	}
	l.logger.Warn("Transaction cannot be replayed",
		slog.String("transaction_id", id),
		slog.Any("error", cause),
	)
}

func (l *Ledger) dispatch(ctx context.Context, handlers []RecoverHandler, event RecoveryEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery handler panicked: %v", r)
		}
	}()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
