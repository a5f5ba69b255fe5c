package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/flashtrade/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// DefaultMaxConcurrentTrades bounds in-flight ExecuteTrade activities per
// worker. Trades on one ledger contend for the shared reserve, so more
// concurrency mostly buys lock conflicts and retries.
const DefaultMaxConcurrentTrades = 10

// WorkerConfig contains configuration for the trade worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// MaxConcurrentTrades defaults to DefaultMaxConcurrentTrades.
	MaxConcurrentTrades int

	Runner    TradeRunner
	Store     StoreInterface
	Publisher PublisherInterface // optional
	Metrics   *metrics.Metrics   // optional
	Logger    *slog.Logger
}

// Worker runs ExecuteTradeWorkflow and its activities on one task queue.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// registry is the part of worker.Worker that registration needs; the
// workflow test environment satisfies it too.
type registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// registerTrade registers the trade workflow and the activities it calls.
// Activity names are the method names the workflow invokes through a.
func registerTrade(r registry, acts *Activities) {
	r.RegisterWorkflow(ExecuteTradeWorkflow)
	r.RegisterActivity(acts.ExecuteTrade)
	r.RegisterActivity(acts.RecordExecution)
	r.RegisterActivity(acts.PublishEvents)
}

func workerOptions(cfg WorkerConfig) worker.Options {
	n := cfg.MaxConcurrentTrades
	if n <= 0 {
		n = DefaultMaxConcurrentTrades
	}
	return worker.Options{
		MaxConcurrentActivityExecutionSize:     n,
		MaxConcurrentWorkflowTaskExecutionSize: n,
	}
}

// NewWorker dials Temporal and registers the trade workflow.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Runner == nil || cfg.Store == nil {
		return nil, fmt.Errorf("worker requires a trade runner and a store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "temporal_worker", "task_queue", cfg.TaskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHost,
		Namespace: cfg.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	opts := workerOptions(cfg)
	w := worker.New(c, cfg.TaskQueue, opts)
	registerTrade(w, NewActivities(cfg.Runner, cfg.Store, cfg.Publisher, cfg.Metrics, logger))

	logger.Info("trade worker ready",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"max_concurrent_trades", opts.MaxConcurrentActivityExecutionSize,
		"publishes_events", cfg.Publisher != nil,
	)
	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Start blocks until Stop is called or the process is interrupted.
func (w *Worker) Start() error {
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped")
	return nil
}

// Stop stops the worker and closes its client.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
}
