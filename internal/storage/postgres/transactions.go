// Package postgres implements the ledger, pending notification and
// dead-letter stores on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
)

const transactionColumns = `id, external_message_id, chat_id, sender_id, status, history, response, recovery_data, created_at, updated_at`

type transactionRow struct {
	ID                string         `db:"id"`
	ExternalMessageID string         `db:"external_message_id"`
	ChatID            string         `db:"chat_id"`
	SenderID          string         `db:"sender_id"`
	Status            string         `db:"status"`
	History           string         `db:"history"`
	Response          sql.NullString `db:"response"`
	RecoveryData      sql.NullString `db:"recovery_data"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func toRow(tx *ledger.Transaction) (*transactionRow, error) {
	history, err := json.Marshal(tx.History)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}

	row := &transactionRow{
		ID:                tx.ID,
		ExternalMessageID: tx.ExternalMessageID,
		ChatID:            tx.ChatID,
		SenderID:          tx.SenderID,
		Status:            string(tx.Status),
		History:           string(history),
		CreatedAt:         tx.CreatedAt,
		UpdatedAt:         tx.UpdatedAt,
	}
	if tx.Response != nil {
		row.Response = sql.NullString{String: *tx.Response, Valid: true}
	}
	if tx.RecoveryData != nil {
		data, err := json.Marshal(tx.RecoveryData)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recovery data: %w", err)
		}
		// JSONB columns take text; lib/pq would send []byte as bytea
		row.RecoveryData = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func (r *transactionRow) toTransaction() (*ledger.Transaction, error) {
	tx := &ledger.Transaction{
		ID:                r.ID,
		ExternalMessageID: r.ExternalMessageID,
		ChatID:            r.ChatID,
		SenderID:          r.SenderID,
		Status:            ledger.Status(r.Status),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.History != "" {
		if err := json.Unmarshal([]byte(r.History), &tx.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if r.Response.Valid {
		s := r.Response.String
		tx.Response = &s
	}
	if r.RecoveryData.Valid {
		var data ledger.RecoveryData
		if err := json.Unmarshal([]byte(r.RecoveryData.String), &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recovery data: %w", err)
		}
		tx.RecoveryData = &data
	}
	return tx, nil
}

// TransactionStore implements ledger.Store
type TransactionStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ ledger.Store = (*TransactionStore)(nil)

// NewTransactionStore creates a new TransactionStore
func NewTransactionStore(db *sqlx.DB, logger *slog.Logger) *TransactionStore {
	return &TransactionStore{db: db, logger: logger}
}

func (s *TransactionStore) Insert(ctx context.Context, tx *ledger.Transaction) error {
	row, err := toRow(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (:id, :external_message_id, :chat_id, :sender_id, :status, :history, :response, :recovery_data, :created_at, :updated_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *TransactionStore) Get(ctx context.Context, id string) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	var row transactionRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return row.toTransaction()
}

func (s *TransactionStore) Update(ctx context.Context, tx *ledger.Transaction) error {
	row, err := toRow(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions
		SET status = :status,
		    history = :history,
		    response = :response,
		    recovery_data = :recovery_data,
		    updated_at = :updated_at
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireRow(result, domain.ErrTransactionNotFound)
}

func (s *TransactionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireRow(result, domain.ErrTransactionNotFound)
}

func (s *TransactionStore) FindByStatus(ctx context.Context, statuses []ledger.Status) ([]*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE status = ANY($1) ORDER BY created_at`
	return s.selectRows(ctx, query, pq.Array(statusStrings(statuses)))
}

func (s *TransactionStore) FindOlderThan(ctx context.Context, cutoff time.Time, statuses []ledger.Status) ([]*ledger.Transaction, error) {
	if len(statuses) == 0 {
		query := `SELECT ` + transactionColumns + ` FROM transactions WHERE created_at < $1 ORDER BY created_at`
		return s.selectRows(ctx, query, cutoff)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE created_at < $1 AND status = ANY($2) ORDER BY created_at`
	return s.selectRows(ctx, query, cutoff, pq.Array(statusStrings(statuses)))
}

func (s *TransactionStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []ledger.Status) (int, error) {
	var (
		result sql.Result
		err    error
	)
	if len(statuses) == 0 {
		result, err = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE created_at < $1`, cutoff)
	} else {
		result, err = s.db.ExecContext(ctx,
			`DELETE FROM transactions WHERE created_at < $1 AND status = ANY($2)`,
			cutoff, pq.Array(statusStrings(statuses)),
		)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// List pages newest first by (created_at, id)
func (s *TransactionStore) List(ctx context.Context, f ledger.ListFilter) ([]*ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.ChatID != "" {
		add("chat_id = $%d", f.ChatID)
	}
	if f.Cursor != nil {
		args = append(args, f.Cursor.CreatedAt, f.Cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.PageSize > 0 {
		args = append(args, f.PageSize)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	return s.selectRows(ctx, query, args...)
}

func (s *TransactionStore) Count(ctx context.Context, statuses []ledger.Status) (int, error) {
	var n int
	var err error
	if len(statuses) == 0 {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM transactions`)
	} else {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM transactions WHERE status = ANY($1)`, pq.Array(statusStrings(statuses)))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (s *TransactionStore) selectRows(ctx context.Context, query string, args ...any) ([]*ledger.Transaction, error) {
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select transactions: %w", err)
	}

	out := make([]*ledger.Transaction, 0, len(rows))
	for i := range rows {
		tx, err := rows[i].toTransaction()
		if err != nil {
			s.logger.Error("Skipping unreadable transaction",
				slog.String("transaction_id", rows[i].ID),
				slog.Any("error", err),
			)
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func statusStrings(statuses []ledger.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
