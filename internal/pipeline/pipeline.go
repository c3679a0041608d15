// Package pipeline runs media jobs through durable per-stage queues:
// upload, provider-side polling for video, analysis, and handoff to delivery.
// Every stage has its own concurrency, retries and timeout, and every
// exhausted failure ends in a dead letter and a friendly reply.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cuongbtq/media-pipeline/internal/cache"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/gateway"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/metrics"
)

// Provider is the AI provider surface the stages call through the gateway
type Provider interface {
	Generate(ctx context.Context, media domain.MediaRef, prompt string) (string, error)
	UploadFile(ctx context.Context, media domain.MediaRef) (domain.MediaRef, error)
	FileStatus(ctx context.Context, name string) (domain.FileState, error)
	DeleteFile(ctx context.Context, name string) error
	ModelConfig() cache.ModelConfig
}

// Ledger is the subset of the transaction ledger the pipeline writes
type Ledger interface {
	Create(ctx context.Context, meta ledger.RequestMeta) (string, error)
	AttachRecoveryData(ctx context.Context, id string, data ledger.RecoveryData) error
	MarkProcessing(ctx context.Context, id string) error
	AttachResponse(ctx context.Context, id, text string) error
	RecordProcessingFailure(ctx context.Context, id, reason string) error
}

// DeadLetterStore persists dead-letter records
type DeadLetterStore interface {
	Save(ctx context.Context, dl domain.DeadLetter) error
	List(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

// ResultEvent is handed to result handlers from the handoff stage
type ResultEvent struct {
	JobID         string
	TransactionID string
	MediaType     domain.MediaType
	Context       domain.JobContext
	Result        domain.JobResult
}

// ResultHandler delivers a finished job's result
type ResultHandler func(ctx context.Context, ev ResultEvent) error

// EnqueueRequest is a new media job
type EnqueueRequest struct {
	Media   domain.MediaRef
	Context domain.JobContext
}

// JobRef identifies an enqueued job
type JobRef struct {
	JobID         string `json:"job_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Queue         string `json:"queue"`
}

// Deps are the pipeline's collaborators. Ledger and DeadLetters may be nil.
// A producer-only pipeline (enqueue and admin operations) needs no Gateway
// or Provider; Start requires both.
type Deps struct {
	Backend     Backend
	Gateway     *gateway.Gateway
	Provider    Provider
	Ledger      Ledger
	DeadLetters DeadLetterStore
}

// Pipeline owns the stage queues and their workers
type Pipeline struct {
	backend     Backend
	gateway     *gateway.Gateway
	provider    Provider
	ledger      Ledger
	deadLetters DeadLetterStore
	prompts     *PromptBuilder
	validate    *validator.Validate
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	handlers  []ResultHandler
	listeners []EventListener

	stats *statsRegistry
	wg    sync.WaitGroup
}

// New creates a pipeline
func New(deps Deps, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if deps.Backend == nil {
		return nil, errors.New("pipeline requires a queue backend")
	}
	prompts, err := NewPromptBuilder(cfg.Prompts)
	if err != nil {
		return nil, err
	}
	if cfg.InlineLimitBytes <= 0 {
		cfg.InlineLimitBytes = DefaultInlineLimitBytes
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultContextLimit
	}

	return &Pipeline{
		backend:     deps.Backend,
		gateway:     deps.Gateway,
		provider:    deps.Provider,
		ledger:      deps.Ledger,
		deadLetters: deps.DeadLetters,
		prompts:     prompts,
		validate:    validator.New(),
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepContext,
		stats:       newStatsRegistry(),
	}, nil
}

// OnResult registers a handler for finished jobs, successful or not
func (p *Pipeline) OnResult(h ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// OnEvent registers a lifecycle event listener
func (p *Pipeline) OnEvent(l EventListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// EnqueueImageJob validates and enqueues an image job
func (p *Pipeline) EnqueueImageJob(ctx context.Context, req EnqueueRequest) (JobRef, error) {
	return p.enqueue(ctx, domain.MediaImage, req)
}

// EnqueueVideoJob validates and enqueues a video job
func (p *Pipeline) EnqueueVideoJob(ctx context.Context, req EnqueueRequest) (JobRef, error) {
	return p.enqueue(ctx, domain.MediaVideo, req)
}

func (p *Pipeline) enqueue(ctx context.Context, media domain.MediaType, req EnqueueRequest) (JobRef, error) {
	now := p.now()
	job := domain.Job{
		ID:         uuid.NewString(),
		MediaType:  media,
		Stage:      domain.StageUpload,
		Media:      req.Media,
		Context:    req.Context,
		EnqueuedAt: now,
	}

	if err := p.validateJob(job); err != nil {
		p.logger.Warn("Rejected invalid job",
			slog.String("media_type", string(media)),
			slog.String("chat_id", req.Context.ChatID),
			slog.Any("error", err),
		)
		return JobRef{}, err
	}

	job.ContentHash = cache.MediaFingerprint(job.Media.Data, job.Media.Path)
	job.TransactionID = p.openTransaction(ctx, job)

	queue := domain.QueueName(media, domain.StageUpload)
	if err := p.publish(ctx, queue, job, 0); err != nil {
		if job.TransactionID != "" && p.ledger != nil {
			_ = p.ledger.RecordProcessingFailure(ctx, job.TransactionID, "enqueue failed: "+err.Error())
		}
		return JobRef{}, fmt.Errorf("failed to enqueue %s job: %w", media, err)
	}

	p.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("transaction_id", job.TransactionID),
		slog.String("queue", queue),
		slog.String("chat_id", job.Context.ChatID),
	)

	return JobRef{JobID: job.ID, TransactionID: job.TransactionID, Queue: queue}, nil
}

func (p *Pipeline) validateJob(job domain.Job) error {
	if err := p.validate.Struct(job); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return domain.NewValidationError("invalid job: %s", strings.Join(fields, ", "))
		}
		return domain.NewValidationError("invalid job: %v", err)
	}

	if !strings.HasPrefix(job.Media.MIMEType, string(job.MediaType)+"/") {
		return domain.NewValidationError("mime type %q does not match %s job", job.Media.MIMEType, job.MediaType)
	}
	return nil
}

// openTransaction records the request in the ledger. Ledger failures are
// logged and never block processing.
func (p *Pipeline) openTransaction(ctx context.Context, job domain.Job) string {
	if p.ledger == nil {
		return ""
	}

	id, err := p.ledger.Create(ctx, ledger.RequestMeta{
		ExternalMessageID: job.Context.MessageID,
		ChatID:            job.Context.ChatID,
		SenderID:          job.Context.SenderID,
	})
	if err != nil {
		p.logger.Error("Failed to open transaction, continuing without ledger",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return ""
	}

	err = p.ledger.AttachRecoveryData(ctx, id, ledger.RecoveryData{
		RecipientID:     job.Context.ChatID,
		ChatID:          job.Context.ChatID,
		QuotedMessageID: job.Context.MessageID,
		SenderName:      job.Context.SenderName,
		Excerpt:         job.Context.Excerpt,
		MediaType:       string(job.MediaType),
	})
	if err != nil {
		p.logger.Error("Failed to attach recovery data",
			slog.String("transaction_id", id),
			slog.Any("error", err),
		)
	}
	return id
}

func (p *Pipeline) publish(ctx context.Context, queue string, job domain.Job, delay time.Duration) error {
	if delay > 0 {
		job.NotBefore = p.now().Add(delay)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return p.backend.Publish(ctx, queue, body, delay)
}

// Queues lists every stage queue name
func (p *Pipeline) Queues() []string {
	rs := routes()
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.queue)
	}
	return out
}

// Stats returns per-queue counters and waiting depth
func (p *Pipeline) Stats(ctx context.Context) []QueueStats {
	stats := p.stats.snapshot(p.Queues())
	for i := range stats {
		depth, err := p.backend.Depth(ctx, stats[i].Queue)
		if err != nil {
			p.logger.Warn("Failed to read queue depth",
				slog.String("queue", stats[i].Queue),
				slog.Any("error", err),
			)
			continue
		}
		stats[i].Waiting = depth
	}
	return stats
}

// PurgeReport summarizes a purge
type PurgeReport struct {
	Purged map[string]int `json:"purged"`
}

// PurgeQueues clears finished-job counters. Unless onlyCompleted is set it
// also drops every waiting job.
func (p *Pipeline) PurgeQueues(ctx context.Context, onlyCompleted bool) (PurgeReport, error) {
	report := PurgeReport{Purged: map[string]int{}}
	p.stats.reset(!onlyCompleted)

	if onlyCompleted {
		p.logger.Info("Cleared completed job counters")
		return report, nil
	}

	for _, q := range p.Queues() {
		n, err := p.backend.Purge(ctx, q)
		if err != nil {
			return report, fmt.Errorf("failed to purge %s: %w", q, err)
		}
		report.Purged[q] = n
		if n > 0 {
			p.logger.Warn("Purged waiting jobs", slog.String("queue", q), slog.Int("count", n))
		}
	}
	return report, nil
}

// ListDeadLetters returns the most recent dead letters
func (p *Pipeline) ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if p.deadLetters == nil {
		return nil, nil
	}
	return p.deadLetters.List(ctx, limit)
}

func (p *Pipeline) emit(ev Event) {
	p.stats.record(ev)
	metrics.PipelineEvents.WithLabelValues(ev.Queue, string(ev.Kind)).Inc()
	if ev.Kind == EventCompleted || ev.Kind == EventFailed {
		metrics.JobDuration.WithLabelValues(ev.Queue).Observe(ev.Duration.Seconds())
	}

	p.mu.RLock()
	listeners := p.listeners
	p.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
