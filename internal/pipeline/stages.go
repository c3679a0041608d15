package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cuongbtq/media-pipeline/internal/cache"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/gateway"
	"github.com/cuongbtq/media-pipeline/internal/metrics"
)

// advance builds the step that moves job to the stage after the current one
func (p *Pipeline) advance(job domain.Job) *step {
	nextStage := domain.NextStage(job.MediaType, job.Stage)
	next := job.Advance(nextStage, p.now())
	return &step{queue: domain.QueueName(job.MediaType, nextStage), job: next}
}

// upload keeps small images inline and uploads everything else
func (p *Pipeline) upload(ctx context.Context, job domain.Job) (*step, error) {
	if job.Media.Uploaded() {
		return p.advance(job), nil
	}

	if len(job.Media.Data) == 0 && job.Media.Path == "" {
		return nil, domain.NewValidationError("job %s has no media", job.ID)
	}
	if job.ContentHash == "" {
		job.ContentHash = cache.MediaFingerprint(job.Media.Data, job.Media.Path)
	}

	if job.MediaType == domain.MediaImage && len(job.Media.Data) > 0 && len(job.Media.Data) <= p.cfg.InlineLimitBytes {
		p.logger.Debug("Image kept inline",
			slog.String("job_id", job.ID),
			slog.Int("size_bytes", len(job.Media.Data)),
		)
		return p.advance(job), nil
	}

	ref, err := gateway.Execute(ctx, p.gateway, gateway.OpUpload, p.gateway.LongTimeout(),
		func(ctx context.Context) (domain.MediaRef, error) {
			return p.provider.UploadFile(ctx, job.Media)
		})
	if err != nil {
		return nil, err
	}

	job.Media = ref
	s := p.advance(job)
	if job.MediaType == domain.MediaVideo {
		s.job.PollAttempt = 0
		s.job.PollStartedAt = p.now()
	}
	p.emit(Event{Kind: EventProgress, Queue: domain.QueueName(job.MediaType, job.Stage), JobID: job.ID, Progress: "uploaded " + ref.FileName})
	return s, nil
}

// poll waits for provider-side processing of an uploaded video, re-enqueuing
// itself with exponential backoff while the file is still processing.
func (p *Pipeline) poll(ctx context.Context, job domain.Job) (*step, error) {
	if job.Media.FileName == "" {
		return nil, domain.NewValidationError("job %s has no provider file to poll", job.ID)
	}

	state, err := gateway.Execute(ctx, p.gateway, gateway.OpPollStatus, 0,
		func(ctx context.Context) (domain.FileState, error) {
			return p.provider.FileStatus(ctx, job.Media.FileName)
		})
	if err != nil {
		return nil, err
	}

	switch state {
	case domain.FileActive:
		p.logger.Info("Provider finished processing file",
			slog.String("job_id", job.ID),
			slog.String("file_name", job.Media.FileName),
			slog.Int("poll_attempts", job.PollAttempt+1),
		)
		return p.advance(job), nil
	case domain.FileFailed:
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderFileFailed, job.Media.FileName)
	}

	pc := p.cfg.Poll
	if job.PollStartedAt.IsZero() {
		job.PollStartedAt = p.now()
	}
	elapsed := p.now().Sub(job.PollStartedAt)

	if job.PollAttempt >= pc.MaxAttempts || (elapsed > pc.MaxElapsed && job.PollAttempt >= pc.MinAttempts) {
		return nil, fmt.Errorf("%w: %s still processing after %d checks over %s",
			domain.ErrMaxProcessingTime, job.Media.FileName, job.PollAttempt+1, elapsed.Round(time.Millisecond))
	}

	delay := pc.Delay(job.PollAttempt)
	job.PollAttempt++
	p.emit(Event{
		Kind:     EventProgress,
		Queue:    domain.QueueName(job.MediaType, job.Stage),
		JobID:    job.ID,
		Progress: fmt.Sprintf("processing, check %d", job.PollAttempt),
	})

	return &step{queue: domain.QueueName(job.MediaType, job.Stage), job: job, delay: delay}, nil
}

// analyze generates the response through the cached gateway path
func (p *Pipeline) analyze(ctx context.Context, job domain.Job) (*step, error) {
	if job.TransactionID != "" && p.ledger != nil {
		if err := p.ledger.MarkProcessing(ctx, job.TransactionID); err != nil {
			p.logger.Warn("Failed to mark transaction processing",
				slog.String("transaction_id", job.TransactionID),
				slog.Any("error", err),
			)
		}
	}

	prompt, err := p.prompts.Build(job)
	if err != nil {
		return nil, err
	}

	// provider file URIs change on every upload, so uploaded media is keyed
	// by the fingerprint taken at intake
	mediaHash := job.ContentHash
	if mediaHash == "" {
		identity := job.Media.Path
		if identity == "" {
			identity = job.Media.FileURI
		}
		mediaHash = cache.MediaFingerprint(job.Media.Data, identity)
	}
	key := cache.KeyFor(mediaHash, prompt, p.provider.ModelConfig())

	timeout := p.gateway.DefaultTimeout()
	if job.MediaType == domain.MediaVideo {
		timeout = p.gateway.LongTimeout()
	}

	text, err := p.gateway.GenerateCached(ctx, key, timeout, func(ctx context.Context) (string, error) {
		return p.provider.Generate(ctx, job.Media, prompt)
	})
	if err != nil {
		return nil, err
	}

	if job.TransactionID != "" && p.ledger != nil {
		if err := p.ledger.AttachResponse(ctx, job.TransactionID, text); err != nil {
			p.logger.Error("Failed to attach response to transaction",
				slog.String("transaction_id", job.TransactionID),
				slog.Any("error", err),
			)
		}
	}

	p.cleanup(ctx, job)

	s := p.advance(job)
	s.job.Media = s.job.Media.WithoutPayload()
	s.job.Result = &domain.JobResult{Response: text}
	return s, nil
}

// handoff passes the result to the registered handlers. Legacy payloads that
// still carry raw media and no result are redirected into the upload stage.
func (p *Pipeline) handoff(ctx context.Context, job domain.Job) (*step, error) {
	if job.Result == nil {
		if len(job.Media.Data) > 0 || job.Media.Path != "" || job.Media.Uploaded() {
			p.logger.Info("Redirecting legacy payload into the upload stage",
				slog.String("job_id", job.ID),
				slog.String("media_type", string(job.MediaType)),
			)
			next := job.Advance(domain.StageUpload, p.now())
			if next.ID == "" {
				next.ID = uuid.NewString()
			}
			return &step{queue: domain.QueueName(job.MediaType, domain.StageUpload), job: next}, nil
		}
		return nil, domain.NewValidationError("handoff job %s has neither result nor media", job.ID)
	}

	p.mu.RLock()
	handlers := p.handlers
	p.mu.RUnlock()

	if len(handlers) == 0 {
		return nil, domain.NewTransientError("handoff", errors.New("no result handler registered"))
	}

	ev := ResultEvent{
		JobID:         job.ID,
		TransactionID: job.TransactionID,
		MediaType:     job.MediaType,
		Context:       job.Context,
		Result:        *job.Result,
	}
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return nil, domain.NewTransientError("handoff", err)
		}
	}
	return nil, nil
}

// fail handles a terminal stage failure: dead-letter it unless the provider
// refused the content, clean up provider files, record the failure and send
// the requester a friendly notice through the handoff stage.
func (p *Pipeline) fail(ctx context.Context, r route, job domain.Job, cause error) {
	p.logger.Error("Job failed permanently",
		slog.String("queue", r.queue),
		slog.String("job_id", job.ID),
		slog.String("transaction_id", job.TransactionID),
		slog.Any("error", cause),
	)

	if !errors.Is(cause, domain.ErrContentBlocked) {
		p.deadLetter(ctx, r, job, cause, p.jobContext(job))
	}

	if r.stage == domain.StageHandoff {
		return
	}

	p.cleanup(ctx, job)

	if job.TransactionID != "" && p.ledger != nil {
		if err := p.ledger.RecordProcessingFailure(ctx, job.TransactionID, cause.Error()); err != nil {
			p.logger.Warn("Failed to record processing failure",
				slog.String("transaction_id", job.TransactionID),
				slog.Any("error", err),
			)
		}
	}

	notice := job.Advance(domain.StageHandoff, p.now())
	notice.Media = notice.Media.WithoutPayload()
	notice.Result = &domain.JobResult{
		Response: friendlyMessage(job.MediaType, cause),
		Failed:   true,
		Reason:   truncate(cause.Error(), 500),
	}
	queue := domain.QueueName(job.MediaType, domain.StageHandoff)
	if err := p.publish(ctx, queue, notice, 0); err != nil {
		p.logger.Error("Failed to publish failure notice",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}

// cleanup deletes the provider-side copy of a video, best effort
func (p *Pipeline) cleanup(ctx context.Context, job domain.Job) {
	if job.MediaType != domain.MediaVideo || job.Media.FileName == "" {
		return
	}

	_, err := gateway.Execute(ctx, p.gateway, gateway.OpDeleteFile, 0, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.provider.DeleteFile(ctx, job.Media.FileName)
	})
	if err != nil {
		p.logger.Warn("Failed to delete provider file",
			slog.String("job_id", job.ID),
			slog.String("file_name", job.Media.FileName),
			slog.Any("error", err),
		)
		return
	}
	p.logger.Debug("Provider file deleted", slog.String("file_name", job.Media.FileName))
}

func (p *Pipeline) deadLetter(ctx context.Context, r route, job domain.Job, cause error, snapshot string) {
	dl := domain.DeadLetter{
		ID:        uuid.NewString(),
		Queue:     r.queue,
		Stage:     r.stage,
		JobID:     job.ID,
		Error:     truncate(cause.Error(), 1000),
		Context:   snapshot,
		CreatedAt: p.now(),
	}
	metrics.DeadLetters.WithLabelValues(string(r.stage)).Inc()

	if p.deadLetters != nil {
		if err := p.deadLetters.Save(ctx, dl); err != nil {
			p.logger.Error("Failed to store dead letter",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}

	body, err := json.Marshal(dl)
	if err == nil {
		err = p.backend.Publish(ctx, domain.DeadLetterQueue, body, 0)
	}
	if err != nil {
		p.logger.Error("Failed to publish dead letter",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	p.logger.Warn("Job dead-lettered",
		slog.String("queue", r.queue),
		slog.String("job_id", job.ID),
		slog.String("error", dl.Error),
	)
}

// jobContext renders the job without its media payload, truncated
func (p *Pipeline) jobContext(job domain.Job) string {
	job.Media = job.Media.WithoutPayload()
	data, err := json.Marshal(job)
	if err != nil {
		return ""
	}
	return truncate(string(data), p.cfg.ContextLimit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) && len(s) > 0 {
		s = s[:len(s)-1]
	}
	return s + "…"
}
