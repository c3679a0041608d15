package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// PendingStore persists pending notifications
type PendingStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPendingStore creates a new PendingStore
func NewPendingStore(db *sqlx.DB, logger *slog.Logger) *PendingStore {
	return &PendingStore{db: db, logger: logger}
}

// Save inserts a notification or refreshes the response of an existing one
func (s *PendingStore) Save(ctx context.Context, n *domain.PendingNotification) error {
	query := `
		INSERT INTO pending_notifications (id, transaction_id, recipient_id, chat_id, response, attempts, last_error, created_at)
		VALUES (:id, :transaction_id, :recipient_id, :chat_id, :response, 0, :last_error, :created_at)
		ON CONFLICT (id) DO UPDATE
		SET response = EXCLUDED.response,
		    recipient_id = EXCLUDED.recipient_id,
		    last_error = EXCLUDED.last_error
	`
	if _, err := s.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("failed to save pending notification: %w", err)
	}
	return nil
}

// List returns the oldest notifications first
func (s *PendingStore) List(ctx context.Context, limit int) ([]*domain.PendingNotification, error) {
	query := `
		SELECT id, transaction_id, recipient_id, chat_id, response, attempts, last_error, last_attempt_at, created_at
		FROM pending_notifications
		ORDER BY created_at
		LIMIT $1
	`
	if limit <= 0 {
		limit = 100
	}

	var out []*domain.PendingNotification
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	return out, nil
}

func (s *PendingStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pending notification: %w", err)
	}
	return requireRow(result, domain.ErrPendingNotFound)
}

func (s *PendingStore) RecordAttempt(ctx context.Context, id string, at time.Time, lastError string) error {
	query := `
		UPDATE pending_notifications
		SET attempts = attempts + 1,
		    last_attempt_at = $2,
		    last_error = $3
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, at, lastError)
	if err != nil {
		return fmt.Errorf("failed to record pending notification attempt: %w", err)
	}
	return requireRow(result, domain.ErrPendingNotFound)
}

func (s *PendingStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune pending notifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PendingStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pending_notifications`); err != nil {
		return 0, fmt.Errorf("failed to count pending notifications: %w", err)
	}
	return n, nil
}

// DeadLetterStore persists dead-letter records
type DeadLetterStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewDeadLetterStore creates a new DeadLetterStore
func NewDeadLetterStore(db *sqlx.DB, logger *slog.Logger) *DeadLetterStore {
	return &DeadLetterStore{db: db, logger: logger}
}

func (s *DeadLetterStore) Save(ctx context.Context, dl domain.DeadLetter) error {
	query := `
		INSERT INTO dead_letters (id, queue, stage, job_id, error, context, created_at)
		VALUES (:id, :queue, :stage, :job_id, :error, :context, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, dl); err != nil {
		s.logger.Error("Failed to store dead letter",
			slog.String("job_id", dl.JobID),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to store dead letter: %w", err)
	}
	return nil
}

func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, queue, stage, job_id, error, context, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1
	`
	var out []domain.DeadLetter
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return out, nil
}
