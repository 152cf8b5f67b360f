package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wisbric/agentcore/internal/config"
	"github.com/wisbric/agentcore/internal/platform"
	"github.com/wisbric/agentcore/internal/telemetry"
	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/tx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if len(cfg.WorkerTenants) == 0 {
		return fmt.Errorf("AGENTCORE_WORKER_TENANTS must list at least one tenant")
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	transport, err := buildTransport(cfg)
	if err != nil {
		return fmt.Errorf("building outbox transport: %w", err)
	}

	dispatchTick, err := time.ParseDuration(cfg.DispatchTickInterval)
	if err != nil {
		return fmt.Errorf("parsing dispatch tick interval: %w", err)
	}
	maintenanceTick, err := time.ParseDuration(cfg.MaintenanceTickInterval)
	if err != nil {
		return fmt.Errorf("parsing maintenance tick interval: %w", err)
	}
	deadLetterRetention, err := time.ParseDuration(cfg.DeadLetterRetention)
	if err != nil {
		return fmt.Errorf("parsing dead letter retention: %w", err)
	}
	sagaTick, err := time.ParseDuration(cfg.SagaTickInterval)
	if err != nil {
		return fmt.Errorf("parsing saga tick interval: %w", err)
	}

	outboxStore := tx.NewPgOutboxStore(db)
	deadStore := tx.NewPgDeadStore(db)
	sagaStore := tx.NewPgSagaStore(db)
	metrics := tx.PrometheusMetrics{}

	var qosCfg tx.BudgetConfig
	if cfg.QoSMaxInflight > 0 {
		maxInflight := cfg.QoSMaxInflight
		qosCfg.MaxInflight = &maxInflight
	}
	budgetGuard := tx.BuildBudgetGuard(qosCfg)

	orchestrator := &tx.SagaOrchestrator{
		Store:       sagaStore,
		Participant: tx.NewHTTPSagaParticipant(),
		Metrics:     metrics,
	}

	var handles []*tx.RuntimeHandles

	for _, tenantName := range cfg.WorkerTenants {
		tenant := envelope.TenantID(tenantName)

		dispatcherWorker := &tx.DispatcherWorker{
			Dispatcher: &tx.Dispatcher{
				Transport:   transport,
				Store:       outboxStore,
				WorkerID:    fmt.Sprintf("agentcore-worker:%s", tenant),
				MaxAttempts: cfg.DispatchMaxAttempts,
				LeaseMs:     cfg.DispatchLeaseMs,
				Batch:       cfg.DispatchBatch,
				Backoff:     tx.DefaultRetryPolicy(),
				DeadStore:   deadStore,
				Metrics:     metrics,
				QoS:         budgetGuard,
			},
			Tenant:   tenant,
			Interval: dispatchTick,
			Logger:   logger,
		}

		maintenanceWorker := &tx.MaintenanceWorker{
			DeadStore: deadStore,
			Tenant:    tenant,
			Retain:    deadLetterRetention,
			Interval:  maintenanceTick,
			Logger:    logger,
		}

		sagaWorker := &tx.SagaWorker{
			Orchestrator: orchestrator,
			Lister: func(ctx context.Context) ([]tx.ID, error) {
				return sagaStore.ListNonTerminal(ctx, tenant)
			},
			Interval: sagaTick,
			Logger:   logger,
		}

		handles = append(handles, tx.SpawnRuntime(ctx, dispatcherWorker, maintenanceWorker, sagaWorker))
	}

	logger.Info("agentcore-worker running", "tenants", cfg.WorkerTenants)

	<-ctx.Done()
	logger.Info("agentcore-worker shutting down")
	for _, h := range handles {
		h.Stop()
	}
	return nil
}

// buildTransport picks the outbox transport from whichever of Slack or
// Mattermost has credentials configured; a deployment with neither set
// still runs (sagas still tick) but every outbox delivery attempt fails, so
// messages are retried with backoff and dead-letter once
// DispatchMaxAttempts is reached.
func buildTransport(cfg *config.Config) (tx.OutboxTransport, error) {
	switch {
	case cfg.SlackBotToken != "":
		return tx.NewSlackTransport(cfg.SlackBotToken, cfg.SlackDefaultChannel), nil
	case cfg.MattermostURL != "" && cfg.MattermostBotToken != "":
		return tx.NewMattermostTransport(cfg.MattermostURL, cfg.MattermostBotToken, cfg.MattermostDefaultChannelID), nil
	default:
		return noopTransport{}, nil
	}
}

// noopTransport rejects every message, so an unconfigured deployment
// dead-letters outbox messages instead of silently dropping them.
type noopTransport struct{}

func (noopTransport) Send(_ context.Context, _ tx.OutboxMessage) error {
	return fmt.Errorf("tx: no outbox transport configured (set SLACK_BOT_TOKEN or MATTERMOST_URL/MATTERMOST_BOT_TOKEN)")
}
