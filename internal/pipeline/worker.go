package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// Start declares the stage queues, sweeps stuck jobs out of them and spawns
// the worker pool of every stage. It returns once all
// consumers are running; workers stop when ctx ends.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.gateway == nil || p.provider == nil {
		return errors.New("pipeline workers require a gateway and a provider")
	}

	p.warnShortStages()

	queues := append(p.Queues(), domain.DeadLetterQueue)
	if err := p.backend.DeclareQueues(ctx, queues); err != nil {
		return fmt.Errorf("failed to declare queues: %w", err)
	}

	// unacked deliveries of a dead process are requeued by the broker itself
	report, err := p.sweepQueues(ctx)
	if err != nil {
		p.logger.Error("Startup sweep failed", slog.Any("error", err))
	}
	p.logger.Info("Startup sweep finished",
		slog.Int("requeued", report.Requeued),
		slog.Int("cleared", report.Cleared),
	)
	for _, s := range p.Stats(ctx) {
		if s.Waiting > 0 {
			p.logger.Info("Jobs waiting at startup",
				slog.String("queue", s.Queue),
				slog.Int("waiting", s.Waiting),
			)
		}
	}

	for _, r := range routes() {
		sc := p.cfg.Stage(r.media, r.stage)
		deliveries, err := p.backend.Consume(ctx, r.queue, "media-pipeline-"+r.queue, sc.Concurrency)
		if err != nil {
			return fmt.Errorf("failed to consume %s: %w", r.queue, err)
		}
		p.spawnWorkerPool(ctx, r, sc, deliveries)
	}

	p.logger.Info("Pipeline started", slog.Int("queues", len(routes())))
	return nil
}

// warnShortStages logs stages whose timeout would cut the gateway off before
// its retries are used up
func (p *Pipeline) warnShortStages() {
	for _, r := range routes() {
		budget := p.stageBudget(r)
		sc := p.cfg.Stage(r.media, r.stage)
		if budget > 0 && sc.Timeout < budget {
			p.logger.Warn("Stage timeout is shorter than the gateway retry budget",
				slog.String("queue", r.queue),
				slog.Duration("timeout", sc.Timeout),
				slog.Duration("gateway_budget", budget),
			)
		}
	}
}

// stageBudget is the worst-case gateway time of one run of a stage handler
func (p *Pipeline) stageBudget(r route) time.Duration {
	g := p.gateway
	switch r.stage {
	case domain.StageUpload:
		return g.Budget(g.LongTimeout())
	case domain.StagePoll:
		return g.Budget(0)
	case domain.StageAnalysis:
		if r.media == domain.MediaVideo {
			return g.Budget(g.LongTimeout()) + g.Budget(0)
		}
		return g.Budget(0)
	}
	return 0
}

// Wait blocks until every worker has stopped
func (p *Pipeline) Wait() {
	p.wg.Wait()
	p.logger.Info("Pipeline workers stopped")
}

// spawnWorkerPool spawns one goroutine per unit of stage concurrency
func (p *Pipeline) spawnWorkerPool(ctx context.Context, r route, sc StageConfig, deliveries <-chan Delivery) {
	for i := 0; i < sc.Concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, r, sc, deliveries, i)
	}

	p.logger.Debug("Worker pool spawned",
		slog.String("queue", r.queue),
		slog.Int("worker_count", sc.Concurrency),
	)
}

func (p *Pipeline) workerLoop(ctx context.Context, r route, sc StageConfig, deliveries <-chan Delivery, workerNum int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			p.processDelivery(ctx, r, sc, d)

			if err := p.sleep(ctx, sc.JobPause); err != nil {
				return
			}
		}
	}
}

// processDelivery runs one job and settles its delivery. A job is acked only
// after its successor, retry or failure notice has been published.
func (p *Pipeline) processDelivery(ctx context.Context, r route, sc StageConfig, d Delivery) {
	var job domain.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		p.logger.Error("Failed to parse job JSON",
			slog.String("queue", r.queue),
			slog.Any("error", err),
		)
		p.deadLetter(ctx, r, domain.Job{ID: "unparseable"}, domain.NewValidationError("malformed job: %v", err), truncate(string(d.Body), p.cfg.ContextLimit))
		p.settle(r, d, true)
		return
	}
	if job.MediaType == "" {
		job.MediaType = r.media
	}
	if job.Stage == "" {
		job.Stage = r.stage
	}

	if d.Redelivered {
		p.emit(Event{Kind: EventStalled, Queue: r.queue, JobID: job.ID, Attempt: job.Attempt})
		p.logger.Warn("Job redelivered after stall",
			slog.String("queue", r.queue),
			slog.String("job_id", job.ID),
		)
	}

	p.emit(Event{Kind: EventActive, Queue: r.queue, JobID: job.ID, Attempt: job.Attempt})
	start := p.now()

	next, err := p.runStage(ctx, r, sc, job)
	elapsed := p.now().Sub(start)

	if err != nil && ctx.Err() != nil {
		// shutting down; the broker hands the job to the next worker
		p.emit(Event{Kind: EventFailed, Queue: r.queue, JobID: job.ID, Duration: elapsed, Err: ctx.Err(), Retrying: true})
		p.settle(r, d, false)
		return
	}

	if err == nil {
		if next != nil {
			if pubErr := p.publish(ctx, next.queue, next.job, next.delay); pubErr != nil {
				p.logger.Error("Failed to publish next stage, requeueing",
					slog.String("job_id", job.ID),
					slog.String("queue", next.queue),
					slog.Any("error", pubErr),
				)
				p.emit(Event{Kind: EventFailed, Queue: r.queue, JobID: job.ID, Duration: elapsed, Err: pubErr, Retrying: true})
				p.settle(r, d, false)
				return
			}
		}

		p.emit(Event{Kind: EventCompleted, Queue: r.queue, JobID: job.ID, Attempt: job.Attempt, Duration: elapsed})
		p.logger.Info("Job stage completed",
			slog.String("queue", r.queue),
			slog.String("job_id", job.ID),
			slog.Duration("duration", elapsed),
		)
		p.settle(r, d, true)
		return
	}

	if domain.IsRetryable(err) && job.Attempt < sc.MaxRetries {
		retry := job
		retry.Attempt++
		p.emit(Event{Kind: EventFailed, Queue: r.queue, JobID: job.ID, Attempt: job.Attempt, Duration: elapsed, Err: err, Retrying: true})
		p.logger.Warn("Job stage failed, retrying...",
			slog.String("queue", r.queue),
			slog.String("job_id", job.ID),
			slog.Int("attempt", retry.Attempt),
			slog.Int("max_retries", sc.MaxRetries),
			slog.Duration("retry_after", sc.RetryDelay),
			slog.Any("error", err),
		)
		if pubErr := p.publish(ctx, r.queue, retry, sc.RetryDelay); pubErr != nil {
			p.logger.Error("Failed to schedule retry, requeueing",
				slog.String("job_id", job.ID),
				slog.Any("error", pubErr),
			)
			p.settle(r, d, false)
			return
		}
		p.settle(r, d, true)
		return
	}

	if domain.IsRetryable(err) {
		err = fmt.Errorf("%w after %d attempts: %w", domain.ErrPipelineExhausted, job.Attempt+1, err)
	}

	p.emit(Event{Kind: EventFailed, Queue: r.queue, JobID: job.ID, Attempt: job.Attempt, Duration: elapsed, Err: err})
	p.fail(ctx, r, job, err)
	p.settle(r, d, true)
}

type step struct {
	queue string
	job   domain.Job
	delay time.Duration
}

// runStage executes the stage handler under the stage timeout, converting
// panics and timeouts into errors.
func (p *Pipeline) runStage(ctx context.Context, r route, sc StageConfig, job domain.Job) (next *step, err error) {
	stageCtx, cancel := context.WithTimeout(ctx, sc.Timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			next = nil
			err = fmt.Errorf("stage %s panicked: %v", r.queue, rec)
			p.logger.Error("Recovered panic in stage handler",
				slog.String("queue", r.queue),
				slog.String("job_id", job.ID),
				slog.Any("panic", rec),
			)
		}
	}()

	switch r.stage {
	case domain.StageUpload:
		next, err = p.upload(stageCtx, job)
	case domain.StagePoll:
		next, err = p.poll(stageCtx, job)
	case domain.StageAnalysis:
		next, err = p.analyze(stageCtx, job)
	case domain.StageHandoff:
		next, err = p.handoff(stageCtx, job)
	default:
		err = domain.NewValidationError("unknown stage %q", r.stage)
	}

	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !domain.IsTransient(err) {
		err = domain.NewTransientError(string(r.stage), fmt.Errorf("stage timed out after %s: %w", sc.Timeout, err))
	}
	return next, err
}

func (p *Pipeline) settle(r route, d Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack()
	} else {
		err = d.Nack(true)
	}
	if err != nil {
		p.logger.Error("Failed to settle delivery",
			slog.String("queue", r.queue),
			slog.Bool("ack", ack),
			slog.Any("error", err),
		)
	}
}
