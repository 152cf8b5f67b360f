package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/agentcore/internal/config"
	"github.com/wisbric/agentcore/internal/httpserver"
	"github.com/wisbric/agentcore/internal/platform"
	"github.com/wisbric/agentcore/internal/telemetry"
	"github.com/wisbric/agentcore/pkg/authz"
	"github.com/wisbric/agentcore/pkg/configsnap"
	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
	"github.com/wisbric/agentcore/pkg/interceptor"
	"github.com/wisbric/agentcore/pkg/sandbox"
	"github.com/wisbric/agentcore/pkg/tools"
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
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}

	configSwitch, err := buildConfigSwitch(cfg)
	if err != nil {
		return fmt.Errorf("building config snapshot: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(interceptor.All()...)
	for _, c := range authz.All() {
		metricsReg.MustRegister(c)
	}
	for _, c := range tools.All() {
		metricsReg.MustRegister(c)
	}
	for _, c := range sandbox.All() {
		metricsReg.MustRegister(c)
	}

	facade, err := buildAuthzFacade(ctx, cfg, db, rdb, logger)
	if err != nil {
		return fmt.Errorf("building authorization facade: %w", err)
	}

	registry := tools.NewInMemoryRegistry()
	if err := seedDemoTools(ctx, registry); err != nil {
		return fmt.Errorf("seeding demo tool manifests: %w", err)
	}

	preflight := tools.NewPreflightService(registry, tools.AllowAllAuth{}).
		WithConfigProvider(switchConfigProvider{sw: configSwitch})
	invoker := tools.NewInvoker(tools.NewInvokerConfig(tools.DefaultSandboxWithExecutors()))

	chain, err := buildChain(cfg, configSwitch, facade, logger)
	if err != nil {
		return fmt.Errorf("building interceptor chain: %w", err)
	}
	gateway := &interceptor.Gateway{Chain: chain, Handler: toolInvokeHandler(preflight, invoker)}

	server := httpserver.NewServer(httpserver.ServerConfig{CORSAllowedOrigins: cfg.CORSAllowedOrigins}, logger, db, rdb, metricsReg)
	interceptor.Mount(server.APIRouter, "/tools/invoke", gateway)

	httpSrv := &http.Server{Addr: cfg.ListenAddr(), Handler: server}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agentcore-api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("agentcore-api shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildConfigSwitch seeds a configsnap.SnapshotSwitch from the loaded
// environment config, giving the interceptor chain and tool preflight a
// shared, atomically-swappable fingerprint to stamp onto requests.
func buildConfigSwitch(cfg *config.Config) (*configsnap.SnapshotSwitch, error) {
	snap, err := configsnap.New(configsnap.Map{
		"concurrency_limit":  cfg.ConcurrencyLimit,
		"resilience_timeout": cfg.ResilienceTimeout,
		"idempotency_ttl_ms": cfg.IdempotencyTTLMs,
		"quota_window_secs":  cfg.QuotaWindowSeconds,
	}, time.Now().UnixMilli(), nil)
	if err != nil {
		return nil, err
	}
	return configsnap.NewSwitch(snap), nil
}

// switchConfigProvider adapts a configsnap.SnapshotSwitch to the tools
// package's narrower ConfigProvider interface.
type switchConfigProvider struct {
	sw *configsnap.SnapshotSwitch
}

func (p switchConfigProvider) Current(_ context.Context) tools.ConfigFingerprint {
	version, checksum := p.sw.Fingerprint()
	return tools.ConfigFingerprint{Version: &version, Hash: &checksum}
}

// buildAuthzFacade wires the Facade's six collaborators: a bearer/API-key
// authenticator chain, a static attribute provider, the role-based
// authorizer, consent verification, Redis-backed quota metering, and a
// Redis-backed decision cache.
func buildAuthzFacade(ctx context.Context, cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (*authz.Facade, error) {
	var authenticators []authz.Authenticator

	if cfg.OIDCIssuerURL != "" {
		oidcAuth, err := authz.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("constructing OIDC authenticator: %w", err)
		}
		authenticators = append(authenticators, oidcAuth)
	}

	apiKeyStore := authz.NewPgAPIKeyStore(db)
	authenticators = append(authenticators, &authz.APIKeyAuthenticator{Store: apiKeyStore, Logger: logger})

	return &authz.Facade{
		Authenticator: &authz.ChainAuthenticator{Authenticators: authenticators},
		AttrProvider:  &authz.StaticAttributeProvider{Attrs: authz.AttributeMap{}},
		Authorizer:    defaultRoleAuthorizer(),
		Consent:       authz.NewDefaultConsentVerifier(),
		Quota:         authz.NewRedisQuotaStore(rdb, cfg.QuotaWindowSeconds),
		Cache:         authz.NewRedisDecisionCache(rdb),
		Logger:        logger,
	}, nil
}

// defaultRoleAuthorizer declares the baseline role/permission table: an
// "admin" role with blanket access, and an "operator" role scoped to tool
// invocation only.
func defaultRoleAuthorizer() *authz.RoleAuthorizer {
	return &authz.RoleAuthorizer{
		Roles: map[string][]authz.RolePermission{
			"admin": {
				{Resource: "*", Action: "*"},
			},
			"operator": {
				{Resource: "urn:tool:*", Action: string(envelope.ActionInvoke)},
			},
		},
	}
}

// buildChain assembles the full request/response pipeline behind the
// single demo tool-invocation route.
func buildChain(cfg *config.Config, configSwitch *configsnap.SnapshotSwitch, facade *authz.Facade, logger *slog.Logger) (*interceptor.Chain, error) {
	resilienceTimeout, err := time.ParseDuration(cfg.ResilienceTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing resilience timeout: %w", err)
	}
	resilienceBackoff, err := time.ParseDuration(cfg.ResilienceBackoff)
	if err != nil {
		return nil, fmt.Errorf("parsing resilience backoff: %w", err)
	}

	policy := interceptor.RoutePolicy{
		Rules: []interceptor.RouteRule{
			{
				Match: interceptor.MatchCond{Method: http.MethodPost, Path: "/api/v1/tools/invoke"},
				Binding: interceptor.RouteBindingSpec{
					Resource:      "urn:tool:invoke",
					Action:        envelope.ActionInvoke,
					AttrsFromBody: []string{"tool_id"},
					RequestSchema: []interceptor.FieldRule{
						{Name: "tool_id", Required: true, Rule: "required"},
					},
				},
			},
		},
	}

	idempotencyLayer := &interceptor.IdempotencyLayer{
		Store: interceptor.NewMemoryIdempotencyStore(cfg.IdempotencyTTLMs),
		TTLMs: cfg.IdempotencyTTLMs,
	}

	return &interceptor.Chain{
		RequestStages: []interceptor.Stage{
			interceptor.ContextInitStage{Config: configSwitch},
			interceptor.IdempotencyStage{Layer: idempotencyLayer},
			interceptor.RoutePolicyStage{Policy: policy},
			interceptor.SchemaGuardStage{},
			interceptor.AuthnMapStage{Authenticator: facade.Authenticator},
			interceptor.AuthzQuotaStage{Facade: facade},
		},
		ResponseStages: []interceptor.ResponseStage{
			interceptor.SchemaGuardStage{},
			interceptor.ObligationsStage{},
			interceptor.ResponseStampStage{},
		},
		Resilience: interceptor.ResiliencePolicy{
			Timeout:    resilienceTimeout,
			MaxRetries: cfg.ResilienceRetries,
			RetryDelay: resilienceBackoff,
		},
		Limiter:        interceptor.NewConcurrencyLimiter(cfg.ConcurrencyLimit),
		ErrorResponder: interceptor.DefaultErrorResponder{Logger: logger},
		Idempotency:    idempotencyLayer,
		MaxBodyBytes:   cfg.MaxResponseCacheKB * 1024,
	}, nil
}

// toolInvokeRequest is the wire shape the demo invoke route accepts,
// carrying the target tool by id in the body rather than as a path
// parameter since RoutePolicy has no path-capture model.
type toolInvokeRequest struct {
	ToolID         string         `json:"tool_id"`
	Args           map[string]any `json:"args"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
}

// toolInvokeHandler is the business-logic Handler behind the interceptor
// chain: decode the call, run preflight, and on allow run the invoker.
// Authentication and authorization have already happened by the time this
// runs; tools.AllowAllAuth{} is deliberate since the facade is the sole
// gate (see tools.AllowAllAuth's own doc comment).
func toolInvokeHandler(preflight *tools.PreflightService, invoker *tools.Invoker) interceptor.Handler {
	return func(ctx context.Context, ic *interceptor.Context) ([]byte, error) {
		var body toolInvokeRequest
		if len(ic.RequestBody) > 0 {
			if err := json.Unmarshal(ic.RequestBody, &body); err != nil {
				return nil, errs.New(errs.SchemaValidationFailed).WithDevMessage("decoding request body: " + err.Error())
			}
		}

		var subject envelope.Subject
		if ic.Subject != nil {
			subject = *ic.Subject
		}

		call := tools.ToolCall{
			ToolID:         tools.ToolID(body.ToolID),
			CallID:         ic.Seed.CorrelationID,
			Actor:          subject,
			Tenant:         ic.TenantHeader,
			Origin:         tools.OriginApi,
			Args:           body.Args,
			IdempotencyKey: coalesceIdempotencyKey(ic.IdempotencyKey, body.IdempotencyKey),
		}

		output, err := preflight.Preflight(ctx, call)
		if err != nil {
			return nil, err
		}
		if !output.Allow {
			return nil, errs.New(output.ErrorCode).WithDevMessage(output.Reason)
		}

		result, err := invoker.Invoke(ctx, tools.InvokeRequest{Plan: *output.Plan, Call: call})
		if err != nil {
			return nil, err
		}

		return json.Marshal(result)
	}
}

// coalesceIdempotencyKey prefers the chain-derived key (the namespaced
// key the Idempotency request stage built from the Idempotency-Key
// header) over one embedded in the body, falling back to the body's when
// the header was not set.
func coalesceIdempotencyKey(chainKey *string, bodyKey *string) *string {
	if chainKey != nil {
		return chainKey
	}
	return bodyKey
}

// seedDemoTools registers the reference tool manifests this binary ships
// enabled out of the box, grounded on pkg/tools' own echoManifest test
// fixture (tools_test.go) generalized into a real net.http GET tool.
func seedDemoTools(ctx context.Context, registry *tools.InMemoryRegistry) error {
	manifest := tools.ToolManifest{
		ID:          "net.http.get",
		Version:     "1.0.0",
		DisplayName: "HTTP GET",
		Description: "Performs an HTTP GET request against an allow-listed host.",
		Tags:        []string{"net", "http"},
		InputSchema: []tools.FieldRule{
			{Name: "url", Required: true, Rule: "required,url"},
		},
		Scopes: []envelope.Scope{{Resource: "net.http", Action: "read"}},
		Capabilities: []tools.CapabilityDecl{
			{Domain: "net.http", Action: "get", Resource: "example.com"},
		},
		SideEffect:  sandbox.SideEffectNetwork,
		SafetyClass: sandbox.SafetyLow,
		Consent:     tools.ConsentPolicy{Required: false},
		Limits:      tools.DefaultLimits(),
		Idempotency: tools.IdempoKeyed,
		Concurrency: tools.ConcurrencyParallel,
	}
	if err := registry.Register(ctx, manifest); err != nil {
		return err
	}
	return registry.SetState(ctx, manifest.ID, tools.ToolEnabled)
}
