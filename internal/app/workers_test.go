package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/media-pipeline/internal/config"
	"github.com/cuongbtq/media-pipeline/internal/delivery"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/queue/memqueue"
	"github.com/cuongbtq/media-pipeline/internal/storage/memory"
)

type sent struct {
	recipient string
	text      string
	opts      delivery.SendOptions
	reply     bool
}

type fakeMessenger struct {
	mu        sync.Mutex
	connected bool
	handles   bool
	sent      []sent
}

func (m *fakeMessenger) SendText(_ context.Context, recipient, text string, opts delivery.SendOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", delivery.ErrNotConnected
	}
	m.sent = append(m.sent, sent{recipient: recipient, text: text, opts: opts})
	return "out-1", nil
}

func (m *fakeMessenger) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

type fakeHandle struct {
	m *fakeMessenger
}

func (h fakeHandle) Reply(_ context.Context, text string) (string, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.m.sent = append(h.m.sent, sent{text: text, reply: true})
	return "reply-1", nil
}

// resolvingMessenger also answers through native reply handles
type resolvingMessenger struct {
	*fakeMessenger
}

func (m resolvingMessenger) HandleFor(_, messageID string) delivery.MessageHandle {
	if messageID == "" {
		return nil
	}
	return fakeHandle{m: m.fakeMessenger}
}

func newTestRuntime(t *testing.T, messenger delivery.Messenger) *Runtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()

	stores := Stores{
		Transactions: memory.NewTransactionStore(),
		Pending:      memory.NewPendingStore(),
		DeadLetters:  memory.NewDeadLetterStore(),
	}
	l := ledger.New(stores.Transactions, ledger.Config{}, logger)

	q := memqueue.New(0, logger)
	t.Cleanup(func() { _ = q.Close() })

	p, err := pipeline.New(pipeline.Deps{Backend: q, Ledger: l, DeadLetters: stores.DeadLetters}, cfg.PipelineConfig(), logger)
	require.NoError(t, err)

	r := &Runtime{
		Config:    &cfg,
		Logger:    logger,
		Stores:    stores,
		Backend:   q,
		Pipeline:  p,
		Ledger:    l,
		Messenger: messenger,
		Health:    map[string]HealthCheck{},
	}
	r.wireDelivery()
	return r
}

func openTransaction(t *testing.T, r *Runtime, response string) string {
	t.Helper()
	ctx := context.Background()

	id, err := r.Ledger.Create(ctx, ledger.RequestMeta{ExternalMessageID: "msg-1", ChatID: "chat-1", SenderID: "user-1"})
	require.NoError(t, err)
	require.NoError(t, r.Ledger.AttachRecoveryData(ctx, id, ledger.RecoveryData{
		RecipientID:     "chat-1",
		ChatID:          "chat-1",
		QuotedMessageID: "msg-1",
		SenderName:      "Ana",
		MediaType:       "image",
	}))
	require.NoError(t, r.Ledger.MarkProcessing(ctx, id))
	if response != "" {
		require.NoError(t, r.Ledger.AttachResponse(ctx, id, response))
	}
	return id
}

func resultEvent(txID string, failed bool) pipeline.ResultEvent {
	return pipeline.ResultEvent{
		JobID:         "job-1",
		TransactionID: txID,
		MediaType:     domain.MediaImage,
		Context:       domain.JobContext{ChatID: "chat-1", SenderID: "user-1", MessageID: "msg-1", SenderName: "Ana"},
		Result:        domain.JobResult{Response: "A cat.", Failed: failed},
	}
}

func TestDeliverResult_QuotesAndClosesTransaction(t *testing.T) {
	m := &fakeMessenger{connected: true}
	r := newTestRuntime(t, m)
	txID := openTransaction(t, r, "A cat.")

	require.NoError(t, r.deliverResult(context.Background(), resultEvent(txID, false)))

	require.Len(t, m.sent, 1)
	assert.Equal(t, "msg-1", m.sent[0].opts.QuotedID)
	assert.Equal(t, "chat-1", m.sent[0].recipient)

	_, err := r.Ledger.Get(context.Background(), txID)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound, "delivered transactions are removed")
}

func TestDeliverResult_PrefersNativeReply(t *testing.T) {
	m := &fakeMessenger{connected: true}
	r := newTestRuntime(t, resolvingMessenger{m})
	txID := openTransaction(t, r, "A cat.")

	require.NoError(t, r.deliverResult(context.Background(), resultEvent(txID, false)))

	require.Len(t, m.sent, 1)
	assert.True(t, m.sent[0].reply)
}

func TestDeliverResult_FailureNoticeLeavesLedgerAlone(t *testing.T) {
	m := &fakeMessenger{connected: true}
	r := newTestRuntime(t, m)
	ctx := context.Background()

	txID := openTransaction(t, r, "")
	require.NoError(t, r.Ledger.RecordProcessingFailure(ctx, txID, "blocked"))

	require.NoError(t, r.deliverResult(ctx, resultEvent(txID, true)))
	require.Len(t, m.sent, 1)

	tx, err := r.Ledger.Get(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProcessingFailed, tx.Status)
}

func TestDeliverResult_ParksWhenChatIsDown(t *testing.T) {
	m := &fakeMessenger{connected: false}
	r := newTestRuntime(t, m)
	ctx := context.Background()
	txID := openTransaction(t, r, "A cat.")

	require.NoError(t, r.deliverResult(ctx, resultEvent(txID, false)), "parked replies are not retried by the pipeline")

	pending, err := r.Stores.Pending.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.PendingNotificationID(txID), pending[0].ID)

	tx, err := r.Ledger.Get(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDeliveryFailed, tx.Status)
}

func TestRecovery_RedeliversThroughChain(t *testing.T) {
	m := &fakeMessenger{connected: true}
	r := newTestRuntime(t, m)
	ctx := context.Background()
	txID := openTransaction(t, r, "A cat.")

	report, err := r.Ledger.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Delivered)

	require.Len(t, m.sent, 1)
	assert.Equal(t, "msg-1", m.sent[0].opts.QuotedID)

	_, err = r.Ledger.Get(ctx, txID)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestRecovery_FailureIsRecorded(t *testing.T) {
	m := &fakeMessenger{connected: false}
	r := newTestRuntime(t, m)
	ctx := context.Background()
	txID := openTransaction(t, r, "A cat.")

	report, err := r.Ledger.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	tx, err := r.Ledger.Get(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDeliveryFailed, tx.Status)
}

func TestStartWorkers_RequiresWorkerRuntime(t *testing.T) {
	r := &Runtime{}
	assert.Error(t, r.StartWorkers(context.Background()))
}

func TestCheckHealth(t *testing.T) {
	r := &Runtime{Health: map[string]HealthCheck{
		"ok":   func(context.Context) error { return nil },
		"down": func(context.Context) error { return errors.New("refused") },
	}}

	res := r.CheckHealth(context.Background())
	assert.NoError(t, res["ok"])
	assert.EqualError(t, res["down"], "refused")
}
