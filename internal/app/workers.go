package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-pipeline/internal/delivery"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
)

// handleResolver is implemented by messengers that can reply natively
type handleResolver interface {
	HandleFor(chatID, messageID string) delivery.MessageHandle
}

// contactRecorder is implemented by messengers that learn display names
type contactRecorder interface {
	Remember(id, name string)
}

func (r *Runtime) wireDelivery() {
	logger := r.Logger.With(slog.String("component", "delivery"))

	r.Chain = delivery.NewChain(r.Messenger, r.Ledger, r.Stores.Pending, logger)
	r.Sweeper = delivery.NewSweeper(r.Messenger, r.Stores.Pending, r.Ledger, r.Config.SweepConfig(), logger)

	r.Pipeline.OnResult(r.deliverResult)
	r.Ledger.OnRecover(r.deliverRecovered)
}

// deliverResult sends a finished job's reply through the strategy chain.
// Undeliverable replies are parked, so the handoff stage never retries them.
func (r *Runtime) deliverResult(ctx context.Context, ev pipeline.ResultEvent) error {
	if cr, ok := r.Messenger.(contactRecorder); ok {
		cr.Remember(ev.Context.SenderID, ev.Context.SenderName)
	}

	txID := ev.TransactionID
	if ev.Result.Failed {
		// the ledger already holds processing_failed; nothing to mark delivered
		txID = ""
	}

	req := delivery.Request{
		Target: delivery.Target{
			RecipientID: ev.Context.ChatID,
			ChatID:      ev.Context.ChatID,
			QuotedID:    ev.Context.MessageID,
			Snapshot: &delivery.Snapshot{
				SenderID:   ev.Context.SenderID,
				SenderName: ev.Context.SenderName,
				Excerpt:    ev.Context.Excerpt,
				MediaType:  string(ev.MediaType),
			},
		},
		Text:          ev.Result.Response,
		TransactionID: txID,
	}
	if hr, ok := r.Messenger.(handleResolver); ok {
		req.Handle = hr.HandleFor(ev.Context.ChatID, ev.Context.MessageID)
	}

	res := r.Chain.Deliver(ctx, req)
	if res.Delivered {
		r.Logger.Info("Response delivered",
			slog.String("job_id", ev.JobID),
			slog.String("transaction_id", ev.TransactionID),
			slog.String("strategy", string(res.Strategy)),
			slog.Bool("failure_notice", ev.Result.Failed),
		)
		return nil
	}
	if !res.Pending {
		// nothing saved it; let the handoff stage retry
		return res.Err
	}
	return nil
}

// deliverRecovered replays a reply found in the ledger after a restart. The
// ledger records the outcome itself.
func (r *Runtime) deliverRecovered(ctx context.Context, ev ledger.RecoveryEvent) error {
	target := delivery.Target{
		RecipientID: ev.RecipientID,
		ChatID:      ev.ChatID,
		QuotedID:    ev.Data.QuotedMessageID,
	}
	if ev.Data.SenderName != "" || ev.Data.Excerpt != "" || ev.Data.MediaType != "" {
		target.Snapshot = &delivery.Snapshot{
			SenderName: ev.Data.SenderName,
			Excerpt:    ev.Data.Excerpt,
			MediaType:  ev.Data.MediaType,
		}
	}

	res := r.Chain.Deliver(ctx, delivery.Request{
		Target:        target,
		Text:          ev.Response,
		TransactionID: ev.TransactionID,
		Recovery:      true,
	})
	if !res.Delivered {
		return res.Err
	}
	return nil
}

// StartWorkers starts the stage workers and the background sweeps. It
// returns once the workers are consuming; call Wait after ctx ends.
func (r *Runtime) StartWorkers(ctx context.Context) error {
	if r.Chain == nil {
		return errors.New("runtime was opened without workers")
	}

	if err := r.Pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		report, err := r.Ledger.Recover(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.Logger.Error("Startup recovery failed", slog.Any("error", err))
			return
		}
		r.Logger.Info("Startup recovery finished",
			slog.Int("found", report.Found),
			slog.Int("delivered", report.Delivered),
			slog.Int("failed", report.Failed),
			slog.Int("unrecoverable", report.Unrecoverable),
		)
	}()
	go func() {
		defer r.wg.Done()
		r.Sweeper.Run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.Ledger.RunRetentionSweep(ctx)
	}()

	return nil
}

// Wait blocks until workers and sweeps have stopped
func (r *Runtime) Wait() {
	r.Pipeline.Wait()
	r.wg.Wait()
}
