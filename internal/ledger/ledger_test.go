package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/storage/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *memory.TransactionStore, *clock) {
	t.Helper()
	store := memory.NewTransactionStore()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := ledger.New(store, ledger.Config{RetentionDays: 7}, slog.New(slog.NewTextHandler(io.Discard, nil)), ledger.WithClock(clk.Now))
	return l, store, clk
}

func meta() ledger.RequestMeta {
	return ledger.RequestMeta{ExternalMessageID: "m1", ChatID: "chat-1", SenderID: "user-1"}
}

func recovery() ledger.RecoveryData {
	return ledger.RecoveryData{RecipientID: "user-1", ChatID: "chat-1"}
}

func TestLedger_CreateAssignsID(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Create(ctx, meta())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^tx_\d+_[0-9a-f]{8}$`), id)

	tx, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCreated, tx.Status)
	require.Len(t, tx.History, 1)
	assert.Equal(t, ledger.StatusCreated, tx.History[0].Status)
}

func TestLedger_HappyPathRemovesRecord(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Create(ctx, meta())
	require.NoError(t, err)
	require.NoError(t, l.AttachRecoveryData(ctx, id, recovery()))
	require.NoError(t, l.MarkProcessing(ctx, id))
	require.NoError(t, l.AttachResponse(ctx, id, "A cat."))

	tx, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusResponseGenerated, tx.Status)
	require.NotNil(t, tx.Response)
	assert.Equal(t, "A cat.", *tx.Response)

	var statuses []ledger.Status
	for _, h := range tx.History {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []ledger.Status{
		ledger.StatusCreated, ledger.StatusCreated, ledger.StatusProcessing, ledger.StatusResponseGenerated,
	}, statuses)

	require.NoError(t, l.MarkDelivered(ctx, id))
	_, err = l.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestLedger_MarkDeliveredRequiresResponse(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	id, _ := l.Create(ctx, meta())
	err := l.MarkDelivered(ctx, id)
	assert.ErrorIs(t, err, ledger.ErrResponseMissing)

	_, err = l.Get(ctx, id)
	assert.NoError(t, err, "record must survive a rejected delivery confirmation")
}

func TestLedger_AttachRecoveryDataValidates(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	id, _ := l.Create(ctx, meta())
	err := l.AttachRecoveryData(ctx, id, ledger.RecoveryData{ChatID: "chat-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_RecordDeliveryFailureIsTyped(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	id, _ := l.Create(ctx, meta())
	failure := l.RecordDeliveryFailure(ctx, id, "offline")
	require.NotNil(t, failure)
	assert.NoError(t, failure.RecordErr)

	tx, _ := l.Get(ctx, id)
	assert.Equal(t, ledger.StatusDeliveryFailed, tx.Status)

	missing := l.RecordDeliveryFailure(ctx, "tx_missing", "offline")
	require.NotNil(t, missing)
	assert.ErrorIs(t, missing.RecordErr, domain.ErrTransactionNotFound)
}

func TestLedger_FindIncomplete(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	withResponse, _ := l.Create(ctx, meta())
	require.NoError(t, l.AttachRecoveryData(ctx, withResponse, recovery()))
	require.NoError(t, l.AttachResponse(ctx, withResponse, "hi"))

	noRecovery, _ := l.Create(ctx, meta())
	require.NoError(t, l.AttachResponse(ctx, noRecovery, "hi"))

	noResponse, _ := l.Create(ctx, meta())
	require.NoError(t, l.AttachRecoveryData(ctx, noResponse, recovery()))
	require.NoError(t, l.MarkProcessing(ctx, noResponse))

	failed, _ := l.Create(ctx, meta())
	require.NoError(t, l.AttachRecoveryData(ctx, failed, recovery()))
	require.NoError(t, l.AttachResponse(ctx, failed, "hi"))
	l.RecordDeliveryFailure(ctx, failed, "offline")

	txs, err := l.FindIncomplete(ctx)
	require.NoError(t, err)

	var ids []string
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	assert.ElementsMatch(t, []string{withResponse, failed}, ids)
}

func TestLedger_PurgeAndExpire(t *testing.T) {
	l, store, clk := newTestLedger(t)
	ctx := context.Background()

	old, _ := l.Create(ctx, meta())
	require.NoError(t, l.RecordProcessingFailure(ctx, old, "analysis failed"))
	stale, _ := l.Create(ctx, meta())
	require.NoError(t, l.MarkProcessing(ctx, stale))

	clk.Advance(8 * 24 * time.Hour)
	fresh, _ := l.Create(ctx, meta())

	require.NoError(t, l.Sweep(ctx))

	_, err := l.Get(ctx, old)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound, "old terminal record purged")

	tx, err := l.Get(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPermanentFailure, tx.Status, "stale open record expired, not deleted")

	_, err = l.Get(ctx, fresh)
	assert.NoError(t, err)

	n, err := l.PurgeOlderThan(ctx, 7, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, _ := store.Count(ctx, nil)
	assert.Equal(t, 1, count)
}

func TestLedger_RecoverReplaysEachOnce(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		id, _ := l.Create(ctx, meta())
		require.NoError(t, l.AttachRecoveryData(ctx, id, recovery()))
		require.NoError(t, l.AttachResponse(ctx, id, "answer"))
		ids = append(ids, id)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	l.OnRecover(func(ctx context.Context, ev ledger.RecoveryEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen[ev.TransactionID]++

		tx, err := l.Get(ctx, ev.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusRecovering, tx.Status, "marked recovering before the attempt")
		assert.Equal(t, "user-1", ev.RecipientID)
		assert.Equal(t, "chat-1", ev.ChatID)
		assert.Equal(t, "answer", ev.Response)

		if ev.TransactionID == ids[1] {
			return errors.New("still offline")
		}
		return nil
	})

	report, err := l.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.RecoveryReport{Found: 2, Delivered: 1, Failed: 1}, report)
	assert.Equal(t, map[string]int{ids[0]: 1, ids[1]: 1}, seen)

	_, err = l.Get(ctx, ids[0])
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	tx, err := l.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDeliveryFailed, tx.Status)
}

func TestLedger_RecoverWithoutHandlerLeavesRecords(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	id, _ := l.Create(ctx, meta())
	require.NoError(t, l.AttachRecoveryData(ctx, id, recovery()))
	require.NoError(t, l.AttachResponse(ctx, id, "answer"))

	report, err := l.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)

	tx, _ := l.Get(ctx, id)
	assert.Equal(t, ledger.StatusResponseGenerated, tx.Status)
}

func TestLedger_RecoverHonorsGraceCancellation(t *testing.T) {
	store := memory.NewTransactionStore()
	l := ledger.New(store, ledger.Config{RecoveryGrace: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Recover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLedger_RecoverClosesResponsesWithoutRecoveryData(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	stranded, _ := l.Create(ctx, meta())
	require.NoError(t, l.AttachResponse(ctx, stranded, "answer"))

	replayable, _ := l.Create(ctx, meta())
	require.NoError(t, l.AttachRecoveryData(ctx, replayable, recovery()))
	require.NoError(t, l.AttachResponse(ctx, replayable, "answer"))

	var seen []string
	l.OnRecover(func(_ context.Context, ev ledger.RecoveryEvent) error {
		seen = append(seen, ev.TransactionID)
		return nil
	})

	report, err := l.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.RecoveryReport{Found: 1, Delivered: 1, Unrecoverable: 1}, report)
	assert.Equal(t, []string{replayable}, seen)

	tx, err := l.Get(ctx, stranded)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPermanentFailure, tx.Status)
	last := tx.History[len(tx.History)-1]
	assert.Equal(t, ledger.ErrRecoveryDataMissing.Error(), last.Detail)
}
