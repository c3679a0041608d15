package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
)

// openTestDB connects to TEST_DATABASE_URL or skips. The schema must exist.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL integration test")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTransactionRowRoundTrip(t *testing.T) {
	resp := "A dog."
	tx := &ledger.Transaction{
		ID:           "tx_1_abcdef01",
		ChatID:       "chat-1",
		Status:       ledger.StatusResponseGenerated,
		History:      []ledger.HistoryEntry{{Timestamp: time.Unix(100, 0).UTC(), Status: ledger.StatusCreated}},
		Response:     &resp,
		RecoveryData: &ledger.RecoveryData{RecipientID: "u1", ChatID: "chat-1", QuotedMessageID: "m1"},
	}

	row, err := toRow(tx)
	require.NoError(t, err)
	assert.True(t, row.Response.Valid)
	assert.True(t, row.RecoveryData.Valid)
	assert.Contains(t, row.History, `"status":"created"`)

	back, err := row.toTransaction()
	require.NoError(t, err)
	assert.Equal(t, tx.History, back.History)
	assert.Equal(t, *tx.RecoveryData, *back.RecoveryData)
	require.NotNil(t, back.Response)
	assert.Equal(t, resp, *back.Response)
}

func TestTransactionRowNullables(t *testing.T) {
	row, err := toRow(&ledger.Transaction{ID: "tx_2", Status: ledger.StatusCreated})
	require.NoError(t, err)
	assert.False(t, row.Response.Valid)
	assert.False(t, row.RecoveryData.Valid)

	back, err := row.toTransaction()
	require.NoError(t, err)
	assert.Nil(t, back.Response)
	assert.Nil(t, back.RecoveryData)
}

func TestTransactionStore_Integration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewTransactionStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))

	now := time.Now().UTC().Truncate(time.Millisecond)
	tx := &ledger.Transaction{
		ID:        ledger.NewID(now),
		ChatID:    "chat-it",
		Status:    ledger.StatusCreated,
		History:   []ledger.HistoryEntry{{Timestamp: now, Status: ledger.StatusCreated}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Insert(ctx, tx))
	t.Cleanup(func() { _ = store.Delete(ctx, tx.ID) })

	resp := "done"
	tx.Response = &resp
	tx.Status = ledger.StatusResponseGenerated
	require.NoError(t, store.Update(ctx, tx))

	found, err := store.FindByStatus(ctx, []ledger.Status{ledger.StatusResponseGenerated})
	require.NoError(t, err)

	var ids []string
	for _, f := range found {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, tx.ID)

	require.NoError(t, store.Delete(ctx, tx.ID))
	_, err = store.Get(ctx, tx.ID)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}
