package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// SweepReport summarizes the startup sweep
type SweepReport struct {
	Requeued int
	Cleared  int
}

// sweepQueues visits every waiting job once before the workers start.
// Unparseable jobs and jobs that waited longer than StaleAfter are cleared:
// dead-lettered, with a failure notice to the requester. The rest go back
// to the tail of their queue.
func (p *Pipeline) sweepQueues(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	for _, r := range routes() {
		depth, err := p.backend.Depth(ctx, r.queue)
		if err != nil {
			return report, fmt.Errorf("failed to inspect %s: %w", r.queue, err)
		}

		for i := 0; i < depth; i++ {
			d, ok, err := p.backend.Get(ctx, r.queue)
			if err != nil {
				return report, fmt.Errorf("failed to sweep %s: %w", r.queue, err)
			}
			if !ok {
				break
			}
			if p.sweepOne(ctx, r, d) {
				report.Cleared++
			} else {
				report.Requeued++
			}
		}
	}
	return report, nil
}

// sweepOne settles one swept delivery and reports whether it was cleared
func (p *Pipeline) sweepOne(ctx context.Context, r route, d Delivery) bool {
	var job domain.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		p.deadLetter(ctx, r, domain.Job{ID: "unparseable"}, domain.NewValidationError("malformed job: %v", err), truncate(string(d.Body), p.cfg.ContextLimit))
		p.settle(r, d, true)
		return true
	}
	if job.MediaType == "" {
		job.MediaType = r.media
	}
	if job.Stage == "" {
		job.Stage = r.stage
	}

	age := p.now().Sub(job.EnqueuedAt)
	if p.cfg.StaleAfter > 0 && !job.EnqueuedAt.IsZero() && age > p.cfg.StaleAfter {
		p.emit(Event{Kind: EventStalled, Queue: r.queue, JobID: job.ID, Attempt: job.Attempt})
		p.fail(ctx, r, job, fmt.Errorf("%w: waited %s in %s", domain.ErrStaleJob, age.Round(time.Second), r.queue))
		p.settle(r, d, true)
		return true
	}

	if err := p.backend.Publish(ctx, r.queue, d.Body, 0); err != nil {
		p.logger.Error("Failed to requeue swept job",
			slog.String("queue", r.queue),
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		p.settle(r, d, false)
		return false
	}
	p.settle(r, d, true)
	return false
}
