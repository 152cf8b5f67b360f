package tx

import (
	"context"
	"log/slog"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// DispatcherWorker ticks a Dispatcher for one tenant on a fixed interval
// until ctx is cancelled.
type DispatcherWorker struct {
	Dispatcher *Dispatcher
	Tenant     envelope.TenantID
	Interval   time.Duration
	Logger     *slog.Logger
}

// Run blocks until ctx is cancelled, calling Dispatcher.Tick once per
// interval. A tick error is logged, not fatal: the next tick tries again.
func (w *DispatcherWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			if err := w.Dispatcher.Tick(ctx, w.Tenant, now); err != nil {
				w.Logger.Error("outbox dispatcher tick failed", "tenant", w.Tenant, "error", err)
			}
		}
	}
}

// MaintenanceWorker periodically purges dead-letter rows older than Retain.
// It does not touch outbox leases.
type MaintenanceWorker struct {
	DeadStore DeadStore
	Tenant    envelope.TenantID
	Retain    time.Duration
	Interval  time.Duration
	Logger    *slog.Logger
}

// Run blocks until ctx is cancelled, purging dead letters older than
// Retain once per Interval.
func (w *MaintenanceWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-w.Retain).UnixMilli()
			if err := w.DeadStore.PurgeOlderThan(ctx, w.Tenant, cutoff); err != nil {
				w.Logger.Error("dead-letter purge failed", "tenant", w.Tenant, "error", err)
			}
		}
	}
}

// SagaWorker ticks every non-terminal saga instance for one tenant on a
// fixed interval; callers supply the id list via Lister since SagaStore
// has no native "list pending" method (the relational and in-memory
// implementations differ too much to share one query shape here).
type SagaWorker struct {
	Orchestrator *SagaOrchestrator
	Lister       func(ctx context.Context) ([]ID, error)
	Interval     time.Duration
	Logger       *slog.Logger
}

// Run blocks until ctx is cancelled, ticking every saga instance Lister
// returns once per interval.
func (w *SagaWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := w.Lister(ctx)
			if err != nil {
				w.Logger.Error("saga list failed", "error", err)
				continue
			}
			for _, id := range ids {
				if err := w.Orchestrator.Tick(ctx, id); err != nil {
					w.Logger.Error("saga tick failed", "saga_id", id, "error", err)
				}
			}
		}
	}
}

// RuntimeHandles groups the goroutines one tenant's worker set spawns so
// callers can start and stop them together.
type RuntimeHandles struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// SpawnRuntime starts the dispatcher, maintenance, and saga workers (any
// of which may be nil to opt out) in their own goroutines under a child
// context, returning a handle whose Stop blocks until all three exit.
func SpawnRuntime(ctx context.Context, dispatcher *DispatcherWorker, maintenance *MaintenanceWorker, saga *SagaWorker) *RuntimeHandles {
	childCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	var running int
	if dispatcher != nil {
		running++
	}
	if maintenance != nil {
		running++
	}
	if saga != nil {
		running++
	}

	exited := make(chan struct{}, running)
	if dispatcher != nil {
		go func() {
			dispatcher.Run(childCtx)
			exited <- struct{}{}
		}()
	}
	if maintenance != nil {
		go func() {
			maintenance.Run(childCtx)
			exited <- struct{}{}
		}()
	}
	if saga != nil {
		go func() {
			saga.Run(childCtx)
			exited <- struct{}{}
		}()
	}

	go func() {
		for i := 0; i < running; i++ {
			<-exited
		}
		close(done)
	}()

	return &RuntimeHandles{cancel: cancel, done: done}
}

// Stop cancels every spawned worker and blocks until they have all
// returned.
func (h *RuntimeHandles) Stop() {
	h.cancel()
	<-h.done
}
