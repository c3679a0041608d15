// Package app wires the configured backends, stores and services into a
// runtime shared by the API and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/media-pipeline/internal/cache"
	"github.com/cuongbtq/media-pipeline/internal/chat"
	"github.com/cuongbtq/media-pipeline/internal/config"
	"github.com/cuongbtq/media-pipeline/internal/delivery"
	"github.com/cuongbtq/media-pipeline/internal/gateway"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/provider/gemini"
	"github.com/cuongbtq/media-pipeline/internal/queue/amqpqueue"
	"github.com/cuongbtq/media-pipeline/internal/queue/memqueue"
	"github.com/cuongbtq/media-pipeline/internal/storage/memory"
	"github.com/cuongbtq/media-pipeline/internal/storage/postgres"
	"github.com/cuongbtq/media-pipeline/shared/postgresql"
	"github.com/cuongbtq/media-pipeline/shared/rabbitmq"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Stores groups the document store collections
type Stores struct {
	Transactions ledger.Store
	Pending      delivery.PendingStore
	DeadLetters  pipeline.DeadLetterStore
}

// Runtime holds the wired services. Worker-side fields (Gateway, Chain,
// Sweeper) are nil unless the runtime was opened with workers enabled.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Stores    Stores
	Backend   pipeline.Backend
	Pipeline  *pipeline.Pipeline
	Ledger    *ledger.Ledger
	Messenger delivery.Messenger
	Gateway   *gateway.Gateway
	Chain     *delivery.Chain
	Sweeper   *delivery.Sweeper
	Health    map[string]HealthCheck

	closers []func() error
	wg      sync.WaitGroup
}

// Options select which side of the system the runtime hosts
type Options struct {
	// Workers enables the provider client, stage workers and delivery
	Workers bool
}

// Open connects the configured backends and builds every service
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Runtime, error) {
	r := &Runtime{
		Config: cfg,
		Logger: logger,
		Health: make(map[string]HealthCheck),
	}

	if err := r.openStorage(ctx); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.openQueue(opts.Workers); err != nil {
		r.Close()
		return nil, err
	}

	r.Ledger = ledger.New(r.Stores.Transactions, cfg.LedgerConfig(), logger.With(slog.String("component", "ledger")))

	deps := pipeline.Deps{
		Backend:     r.Backend,
		Ledger:      r.Ledger,
		DeadLetters: r.Stores.DeadLetters,
	}

	if opts.Workers {
		provider, err := gemini.NewClient(ctx, cfg.ProviderConfig(), logger.With(slog.String("component", "provider")))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create provider client: %w", err)
		}
		r.Gateway = gateway.New(cfg.GatewayConfig(), cache.New(cfg.CacheConfig()), logger.With(slog.String("component", "gateway")))
		deps.Gateway = r.Gateway
		deps.Provider = provider
	}

	p, err := pipeline.New(deps, cfg.PipelineConfig(), logger.With(slog.String("component", "pipeline")))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	r.Pipeline = p

	if opts.Workers {
		r.wireDelivery()
	}
	return r, nil
}

func (r *Runtime) openStorage(ctx context.Context) error {
	switch r.Config.Storage.Backend {
	case config.BackendMemory:
		r.Logger.Warn("Using in-memory storage, records are lost on restart")
		r.Stores = Stores{
			Transactions: memory.NewTransactionStore(),
			Pending:      memory.NewPendingStore(),
			DeadLetters:  memory.NewDeadLetterStore(),
		}
		return nil
	case config.BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", r.Config.Storage.Backend)
	}

	client, err := postgresql.NewClient(r.Config.PostgresConfig(), r.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}
	r.closers = append(r.closers, client.Close)
	r.Health["postgres"] = client.HealthCheck

	if r.Config.Database.EnsureSchema {
		if err := client.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	db := client.GetDB()
	r.Stores = Stores{
		Transactions: postgres.NewTransactionStore(db, r.Logger),
		Pending:      postgres.NewPendingStore(db, r.Logger),
		DeadLetters:  postgres.NewDeadLetterStore(db, r.Logger),
	}
	return nil
}

func (r *Runtime) openQueue(workers bool) error {
	switch r.Config.Queue.Backend {
	case config.BackendMemory:
		q := memqueue.New(r.Config.Queue.MemoryCapacity, r.Logger.With(slog.String("component", "memqueue")))
		r.closers = append(r.closers, q.Close)
		r.Backend = q
		r.Messenger = chat.NewLogMessenger(r.Logger.With(slog.String("component", "chat")))
		return nil
	case config.BackendRabbitMQ:
	default:
		return fmt.Errorf("unknown queue backend %q", r.Config.Queue.Backend)
	}

	client, err := rabbitmq.NewClient(r.Config.RabbitMQClientConfig(), r.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ client: %w", err)
	}
	r.closers = append(r.closers, client.Close)
	r.Health["rabbitmq"] = func(context.Context) error {
		if !client.IsConnected() {
			return errors.New("not connected to RabbitMQ")
		}
		return nil
	}

	r.Backend = amqpqueue.New(client, r.Logger.With(slog.String("component", "amqpqueue")))

	if workers {
		m := chat.NewMessenger(client, r.Config.ChatConfig(), r.Logger.With(slog.String("component", "chat")))
		if err := m.Setup(); err != nil {
			return err
		}
		r.Messenger = m
	}
	return nil
}

// Close releases every connection, newest first
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.Logger.Error("Failed to close resource", slog.Any("error", err))
		}
	}
	r.closers = nil
}

// CheckHealth runs every registered health check
func (r *Runtime) CheckHealth(ctx context.Context) map[string]error {
	out := make(map[string]error, len(r.Health))
	for name, check := range r.Health {
		out[name] = check(ctx)
	}
	return out
}
