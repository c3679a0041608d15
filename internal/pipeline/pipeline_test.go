package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/media-pipeline/internal/cache"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/gateway"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/queue/memqueue"
	"github.com/cuongbtq/media-pipeline/internal/storage/memory"
)

type fakeProvider struct {
	mu        sync.Mutex
	generate  func(call int) (string, error)
	statuses  []domain.FileState
	uploads   int
	generates int
	polls     int
	deleted   []string
}

func (f *fakeProvider) Generate(_ context.Context, _ domain.MediaRef, _ string) (string, error) {
	f.mu.Lock()
	f.generates++
	call := f.generates
	f.mu.Unlock()
	if f.generate == nil {
		return "A cat on a mat.", nil
	}
	return f.generate(call)
}

func (f *fakeProvider) UploadFile(_ context.Context, m domain.MediaRef) (domain.MediaRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	out := m.WithoutPayload()
	// every upload gets a fresh provider file
	out.FileName = fmt.Sprintf("files/f%d", f.uploads)
	out.FileURI = "https://provider/" + out.FileName
	return out, nil
}

func (f *fakeProvider) FileStatus(_ context.Context, _ string) (domain.FileState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.statuses) == 0 {
		return domain.FileActive, nil
	}
	s := f.statuses[0]
	f.statuses = f.statuses[1:]
	return s, nil
}

func (f *fakeProvider) DeleteFile(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeProvider) ModelConfig() cache.ModelConfig {
	return cache.ModelConfig{Model: "test-model"}
}

func (f *fakeProvider) counts() (uploads, generates, polls int, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.generates, f.polls, append([]string(nil), f.deleted...)
}

type harness struct {
	p           *pipeline.Pipeline
	provider    *fakeProvider
	queue       *memqueue.Queue
	ledger      *ledger.Ledger
	deadLetters *memory.DeadLetterStore
	results     chan pipeline.ResultEvent
	cancel      context.CancelFunc
}

func fastStage(concurrency int) pipeline.StageConfig {
	return pipeline.StageConfig{
		Concurrency: concurrency,
		MaxRetries:  3,
		RetryDelay:  5 * time.Millisecond,
		Timeout:     5 * time.Second,
	}
}

func testConfig() pipeline.Config {
	return pipeline.Config{
		ImageUpload:   fastStage(2),
		ImageAnalysis: fastStage(2),
		ImageHandoff:  fastStage(2),
		VideoUpload:   fastStage(2),
		VideoPoll:     fastStage(2),
		VideoAnalysis: fastStage(2),
		VideoHandoff:  fastStage(2),
		Poll: pipeline.PollConfig{
			BaseDelay:   time.Millisecond,
			MaxDelay:    4 * time.Millisecond,
			MaxAttempts: 10,
			MaxElapsed:  time.Hour,
			MinAttempts: 5,
		},
		InlineLimitBytes: 1024,
	}
}

func newHarness(t *testing.T, provider *fakeProvider, mutate func(*pipeline.Config)) *harness {
	t.Helper()
	return newHarnessWithBacklog(t, provider, mutate, nil)
}

// newHarnessWithBacklog lets backlog publish jobs before the workers start
func newHarnessWithBacklog(t *testing.T, provider *fakeProvider, mutate func(*pipeline.Config), backlog func(q *memqueue.Queue)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	gw := gateway.New(gateway.Config{
		Breaker:     gateway.BreakerConfig{FailureThreshold: 100, Cooldown: time.Minute},
		Limiter:     gateway.LimiterConfig{MaxConcurrent: 20, MinSpacing: time.Microsecond},
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	}, cache.New(cache.Config{}), logger)

	q := memqueue.New(0, logger)
	l := ledger.New(memory.NewTransactionStore(), ledger.Config{}, logger)
	dls := memory.NewDeadLetterStore()

	p, err := pipeline.New(pipeline.Deps{
		Backend:     q,
		Gateway:     gw,
		Provider:    provider,
		Ledger:      l,
		DeadLetters: dls,
	}, cfg, logger)
	require.NoError(t, err)

	h := &harness{
		p:           p,
		provider:    provider,
		queue:       q,
		ledger:      l,
		deadLetters: dls,
		results:     make(chan pipeline.ResultEvent, 16),
	}
	p.OnResult(func(_ context.Context, ev pipeline.ResultEvent) error {
		h.results <- ev
		return nil
	})

	if backlog != nil {
		backlog(q)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	require.NoError(t, p.Start(ctx))

	t.Cleanup(func() {
		cancel()
		p.Wait()
		q.Close()
	})
	return h
}

func (h *harness) awaitResult(t *testing.T) pipeline.ResultEvent {
	t.Helper()
	select {
	case ev := <-h.results:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job result")
		return pipeline.ResultEvent{}
	}
}

func imageRequest() pipeline.EnqueueRequest {
	return pipeline.EnqueueRequest{
		Media:   domain.MediaRef{Data: []byte("png-bytes"), MIMEType: "image/png"},
		Context: domain.JobContext{ChatID: "chat-1", SenderID: "user-1", MessageID: "msg-1", Instruction: "what is this?"},
	}
}

func videoRequest() pipeline.EnqueueRequest {
	return pipeline.EnqueueRequest{
		Media:   domain.MediaRef{Data: []byte("mp4-bytes"), MIMEType: "video/mp4"},
		Context: domain.JobContext{ChatID: "chat-1", SenderID: "user-1"},
	}
}

func TestPipeline_ImageHappyPath(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, nil)
	ctx := context.Background()

	ref, err := h.p.EnqueueImageJob(ctx, imageRequest())
	require.NoError(t, err)
	assert.Equal(t, "image.upload", ref.Queue)
	require.NotEmpty(t, ref.TransactionID)

	ev := h.awaitResult(t)
	assert.Equal(t, ref.JobID, ev.JobID)
	assert.False(t, ev.Result.Failed)
	assert.Equal(t, "A cat on a mat.", ev.Result.Response)
	assert.Equal(t, "msg-1", ev.Context.MessageID)

	uploads, generates, _, _ := h.provider.counts()
	assert.Zero(t, uploads, "small images stay inline")
	assert.Equal(t, 1, generates)

	tx, err := h.ledger.Get(ctx, ref.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusResponseGenerated, tx.Status)
	require.NotNil(t, tx.RecoveryData)
	assert.Equal(t, "msg-1", tx.RecoveryData.QuotedMessageID)
}

func TestPipeline_LargeImageIsUploaded(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, func(c *pipeline.Config) { c.InlineLimitBytes = 4 })

	_, err := h.p.EnqueueImageJob(context.Background(), imageRequest())
	require.NoError(t, err)

	ev := h.awaitResult(t)
	assert.False(t, ev.Result.Failed)

	uploads, _, _, deleted := h.provider.counts()
	assert.Equal(t, 1, uploads)
	assert.Empty(t, deleted, "only video files are cleaned up")
}

func TestPipeline_IdenticalUploadsShareCachedResponse(t *testing.T) {
	tests := []struct {
		name    string
		enqueue func(p *pipeline.Pipeline) (pipeline.JobRef, error)
	}{
		{
			name: "large image",
			enqueue: func(p *pipeline.Pipeline) (pipeline.JobRef, error) {
				return p.EnqueueImageJob(context.Background(), imageRequest())
			},
		},
		{
			name: "video",
			enqueue: func(p *pipeline.Pipeline) (pipeline.JobRef, error) {
				return p.EnqueueVideoJob(context.Background(), videoRequest())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeProvider{}, func(c *pipeline.Config) { c.InlineLimitBytes = 4 })

			for i := 0; i < 2; i++ {
				_, err := tt.enqueue(h.p)
				require.NoError(t, err)
				ev := h.awaitResult(t)
				assert.Equal(t, "A cat on a mat.", ev.Result.Response)
			}

			uploads, generates, _, _ := h.provider.counts()
			assert.Equal(t, 2, uploads, "each request uploads its own copy")
			assert.Equal(t, 1, generates, "second request is served from cache")
		})
	}
}

func TestPipeline_VideoFinishesWithinPollBudget(t *testing.T) {
	statuses := make([]domain.FileState, 0, 10)
	for i := 0; i < 9; i++ {
		statuses = append(statuses, domain.FileProcessing)
	}
	statuses = append(statuses, domain.FileActive)

	h := newHarness(t, &fakeProvider{statuses: statuses}, nil)

	_, err := h.p.EnqueueVideoJob(context.Background(), videoRequest())
	require.NoError(t, err)

	ev := h.awaitResult(t)
	assert.False(t, ev.Result.Failed)
	assert.Equal(t, "A cat on a mat.", ev.Result.Response)

	uploads, generates, polls, deleted := h.provider.counts()
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 1, generates)
	assert.Equal(t, 10, polls)
	assert.Equal(t, []string{"files/f1"}, deleted)
}

func TestPipeline_VideoNeverFinishesIsDeadLettered(t *testing.T) {
	statuses := make([]domain.FileState, 11)
	for i := range statuses {
		statuses[i] = domain.FileProcessing
	}
	h := newHarness(t, &fakeProvider{statuses: statuses}, nil)
	ctx := context.Background()

	ref, err := h.p.EnqueueVideoJob(ctx, videoRequest())
	require.NoError(t, err)

	ev := h.awaitResult(t)
	assert.True(t, ev.Result.Failed)
	assert.Contains(t, ev.Result.Reason, domain.ErrMaxProcessingTime.Error())
	assert.Contains(t, ev.Result.Response, "took too long")

	_, generates, polls, deleted := h.provider.counts()
	assert.Zero(t, generates)
	assert.Equal(t, 11, polls)
	assert.Equal(t, []string{"files/f1"}, deleted)

	letters, err := h.p.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, domain.StagePoll, letters[0].Stage)
	assert.Equal(t, "video.poll", letters[0].Queue)
	assert.Equal(t, ref.JobID, letters[0].JobID)
	assert.NotContains(t, letters[0].Context, "mp4-bytes")

	tx, err := h.ledger.Get(ctx, ref.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProcessingFailed, tx.Status)
}

func TestPipeline_TransientFailuresExhaustRetries(t *testing.T) {
	provider := &fakeProvider{generate: func(int) (string, error) {
		return "", domain.NewTransientError("generate", errors.New("503"))
	}}
	h := newHarness(t, provider, nil)

	_, err := h.p.EnqueueImageJob(context.Background(), imageRequest())
	require.NoError(t, err)

	ev := h.awaitResult(t)
	assert.True(t, ev.Result.Failed)
	assert.Contains(t, ev.Result.Reason, domain.ErrPipelineExhausted.Error())

	_, generates, _, _ := provider.counts()
	assert.Equal(t, 8, generates, "4 job attempts x 2 gateway attempts")

	letters, err := h.p.ListDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, domain.StageAnalysis, letters[0].Stage)
}

func TestPipeline_RecoversAfterTransientFailure(t *testing.T) {
	provider := &fakeProvider{generate: func(call int) (string, error) {
		if call <= 2 {
			return "", domain.NewTransientError("generate", errors.New("timeout"))
		}
		return "Recovered.", nil
	}}
	h := newHarness(t, provider, nil)

	_, err := h.p.EnqueueImageJob(context.Background(), imageRequest())
	require.NoError(t, err)

	ev := h.awaitResult(t)
	assert.False(t, ev.Result.Failed)
	assert.Equal(t, "Recovered.", ev.Result.Response)

	letters, _ := h.p.ListDeadLetters(context.Background(), 10)
	assert.Empty(t, letters)
}

func TestPipeline_ContentBlockedNotifiesWithoutDeadLetter(t *testing.T) {
	provider := &fakeProvider{generate: func(int) (string, error) {
		return "", domain.ErrContentBlocked
	}}
	h := newHarness(t, provider, nil)

	_, err := h.p.EnqueueImageJob(context.Background(), imageRequest())
	require.NoError(t, err)

	ev := h.awaitResult(t)
	assert.True(t, ev.Result.Failed)
	assert.Contains(t, ev.Result.Response, "safety")

	_, generates, _, _ := provider.counts()
	assert.Equal(t, 1, generates, "blocked content is never retried")

	letters, _ := h.p.ListDeadLetters(context.Background(), 10)
	assert.Empty(t, letters)
}

func TestPipeline_EnqueueValidation(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		enqueue func(pipeline.EnqueueRequest) (pipeline.JobRef, error)
		req     pipeline.EnqueueRequest
	}{
		{
			name:    "missing chat id",
			enqueue: func(r pipeline.EnqueueRequest) (pipeline.JobRef, error) { return h.p.EnqueueImageJob(ctx, r) },
			req: pipeline.EnqueueRequest{
				Media:   domain.MediaRef{Data: []byte("x"), MIMEType: "image/png"},
				Context: domain.JobContext{SenderID: "u"},
			},
		},
		{
			name:    "no media",
			enqueue: func(r pipeline.EnqueueRequest) (pipeline.JobRef, error) { return h.p.EnqueueImageJob(ctx, r) },
			req: pipeline.EnqueueRequest{
				Media:   domain.MediaRef{MIMEType: "image/png"},
				Context: domain.JobContext{ChatID: "c", SenderID: "u"},
			},
		},
		{
			name:    "video mime on image job",
			enqueue: func(r pipeline.EnqueueRequest) (pipeline.JobRef, error) { return h.p.EnqueueImageJob(ctx, r) },
			req:     videoRequest(),
		},
		{
			name:    "image mime on video job",
			enqueue: func(r pipeline.EnqueueRequest) (pipeline.JobRef, error) { return h.p.EnqueueVideoJob(ctx, r) },
			req:     imageRequest(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.enqueue(tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestPipeline_LegacyPayloadRedirectedToUpload(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, nil)

	legacy := domain.Job{
		ID:      "legacy-1",
		Media:   domain.MediaRef{Data: []byte("png-bytes"), MIMEType: "image/png"},
		Context: domain.JobContext{ChatID: "chat-1", SenderID: "user-1"},
	}
	body, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, h.queue.Publish(context.Background(), "image-processing", body, 0))

	ev := h.awaitResult(t)
	assert.Equal(t, "legacy-1", ev.JobID)
	assert.Equal(t, domain.MediaImage, ev.MediaType)
	assert.False(t, ev.Result.Failed)
}

func TestPipeline_ResultHandlerErrorIsRetried(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, nil)

	var calls atomic.Int32
	h.p.OnResult(func(context.Context, pipeline.ResultEvent) error {
		if calls.Add(1) == 1 {
			return errors.New("chat adapter offline")
		}
		return nil
	})

	_, err := h.p.EnqueueImageJob(context.Background(), imageRequest())
	require.NoError(t, err)

	first := h.awaitResult(t)
	second := h.awaitResult(t)
	assert.Equal(t, first.JobID, second.JobID, "handoff retried as a whole")
	assert.Equal(t, int32(2), calls.Load())
}

func TestPipeline_EventsAndStats(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, nil)

	var mu sync.Mutex
	kinds := map[pipeline.EventKind]int{}
	h.p.OnEvent(func(ev pipeline.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds[ev.Kind]++
	})

	_, err := h.p.EnqueueImageJob(context.Background(), imageRequest())
	require.NoError(t, err)
	h.awaitResult(t)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return kinds[pipeline.EventCompleted] == 3
	}, 2*time.Second, 10*time.Millisecond)

	stats := h.p.Stats(context.Background())
	byQueue := map[string]pipeline.QueueStats{}
	for _, s := range stats {
		byQueue[s.Queue] = s
	}
	assert.Equal(t, 1, byQueue["image.upload"].Completed)
	assert.Equal(t, 1, byQueue["image.analysis"].Completed)
	assert.Equal(t, 1, byQueue["image-processing"].Completed)
	assert.Contains(t, byQueue, "video.poll")

	_, err = h.p.PurgeQueues(context.Background(), true)
	require.NoError(t, err)
	for _, s := range h.p.Stats(context.Background()) {
		assert.Zero(t, s.Completed, s.Queue)
	}
}

func TestPipeline_PurgeQueuesDropsWaitingJobs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := memqueue.New(0, logger)
	gw := gateway.New(gateway.Config{}, nil, logger)

	p, err := pipeline.New(pipeline.Deps{Backend: q, Gateway: gw, Provider: &fakeProvider{}}, testConfig(), logger)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.EnqueueImageJob(ctx, imageRequest())
	require.NoError(t, err)
	_, err = p.EnqueueVideoJob(ctx, videoRequest())
	require.NoError(t, err)

	report, err := p.PurgeQueues(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged["image.upload"])
	assert.Equal(t, 1, report.Purged["video.upload"])

	for _, s := range p.Stats(ctx) {
		assert.Zero(t, s.Waiting, s.Queue)
	}
}

func TestPipeline_StartSweepsStuckJobs(t *testing.T) {
	backlogJob := func(id string, enqueuedAt time.Time) []byte {
		body, err := json.Marshal(domain.Job{
			ID:         id,
			MediaType:  domain.MediaImage,
			Stage:      domain.StageUpload,
			Media:      domain.MediaRef{Data: []byte("png"), MIMEType: "image/png"},
			Context:    domain.JobContext{ChatID: "chat-1", SenderID: "user-1"},
			EnqueuedAt: enqueuedAt,
		})
		require.NoError(t, err)
		return body
	}

	h := newHarnessWithBacklog(t, &fakeProvider{},
		func(c *pipeline.Config) { c.StaleAfter = time.Hour },
		func(q *memqueue.Queue) {
			ctx := context.Background()
			require.NoError(t, q.Publish(ctx, "image.upload", backlogJob("stale-1", time.Now().Add(-2*time.Hour)), 0))
			require.NoError(t, q.Publish(ctx, "image.upload", []byte("{not json"), 0))
			require.NoError(t, q.Publish(ctx, "image.upload", backlogJob("fresh-1", time.Now()), 0))
		})

	results := map[string]pipeline.ResultEvent{}
	for i := 0; i < 2; i++ {
		ev := h.awaitResult(t)
		results[ev.JobID] = ev
	}

	require.Contains(t, results, "fresh-1")
	assert.False(t, results["fresh-1"].Result.Failed, "fresh job is kept and processed")

	require.Contains(t, results, "stale-1")
	assert.True(t, results["stale-1"].Result.Failed, "requester hears about the cleared job")
	assert.Contains(t, results["stale-1"].Result.Reason, domain.ErrStaleJob.Error())

	dls, err := h.deadLetters.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dls, 2)
	jobIDs := []string{dls[0].JobID, dls[1].JobID}
	assert.ElementsMatch(t, []string{"stale-1", "unparseable"}, jobIDs)
	for _, dl := range dls {
		assert.Equal(t, domain.StageUpload, dl.Stage)
	}

	_, generates, _, _ := h.provider.counts()
	assert.Equal(t, 1, generates, "stale job never reaches the provider")
}
