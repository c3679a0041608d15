package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
)

func TestTransactionStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewTransactionStore()
	now := time.Now()

	tx := &ledger.Transaction{ID: "tx_1", ChatID: "c1", Status: ledger.StatusCreated, CreatedAt: now}
	require.NoError(t, s.Insert(ctx, tx))
	assert.Error(t, s.Insert(ctx, tx), "duplicate insert must fail")

	got, err := s.Get(ctx, "tx_1")
	require.NoError(t, err)
	got.Status = ledger.StatusProcessing

	stored, _ := s.Get(ctx, "tx_1")
	assert.Equal(t, ledger.StatusCreated, stored.Status, "returned values must be copies")

	require.NoError(t, s.Update(ctx, got))
	stored, _ = s.Get(ctx, "tx_1")
	assert.Equal(t, ledger.StatusProcessing, stored.Status)

	require.NoError(t, s.Delete(ctx, "tx_1"))
	_, err = s.Get(ctx, "tx_1")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	assert.ErrorIs(t, s.Update(ctx, got), domain.ErrTransactionNotFound)
}

func TestTransactionStore_ListPaginates(t *testing.T) {
	ctx := context.Background()
	s := NewTransactionStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"tx_a", "tx_b", "tx_c", "tx_d"} {
		require.NoError(t, s.Insert(ctx, &ledger.Transaction{
			ID: id, ChatID: "c1", Status: ledger.StatusCreated,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := s.List(ctx, ledger.ListFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "tx_d", page[0].ID)
	assert.Equal(t, "tx_c", page[1].ID)

	last := page[1]
	page, err = s.List(ctx, ledger.ListFilter{PageSize: 2, Cursor: &ledger.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "tx_b", page[0].ID)
	assert.Equal(t, "tx_a", page[1].ID)
}

func TestPendingStore_SaveKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewPendingStore()
	created := time.Now().Add(-time.Hour)

	require.NoError(t, s.Save(ctx, &domain.PendingNotification{ID: "pn_tx1", Response: "a", CreatedAt: created}))
	require.NoError(t, s.RecordAttempt(ctx, "pn_tx1", time.Now(), "offline"))
	require.NoError(t, s.Save(ctx, &domain.PendingNotification{ID: "pn_tx1", Response: "b", CreatedAt: time.Now()}))

	items, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, "b", items[0].Response)
	assert.True(t, items[0].CreatedAt.Equal(created))

	assert.ErrorIs(t, s.Delete(ctx, "missing"), domain.ErrPendingNotFound)
}

func TestDeadLetterStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewDeadLetterStore()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, s.Save(ctx, domain.DeadLetter{ID: id}))
	}

	out, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "3", out[0].ID)
	assert.Equal(t, "2", out[1].ID)
}
