package tools

import (
	"context"
	"testing"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/sandbox"
)

func echoManifest() ToolManifest {
	return ToolManifest{
		ID:          "net.echo.get",
		Version:     "1.0.0",
		DisplayName: "HTTP Echo",
		Description: "Echoes back the method and URL of a GET request.",
		InputSchema: []FieldRule{
			{Name: "url", Required: true, Rule: "required,url"},
		},
		Scopes: []envelope.Scope{{Resource: "net.echo", Action: "read"}},
		Capabilities: []CapabilityDecl{
			{Domain: "net.http", Action: "get", Resource: "example.com"},
		},
		SideEffect:  sandbox.SideEffectNetwork,
		SafetyClass: sandbox.SafetyLow,
		Consent:     ConsentPolicy{Required: false},
		Limits:      DefaultLimits(),
		Idempotency: IdempoKeyed,
		Concurrency: ConcurrencySerial,
	}
}

func newTestCall(idempotencyKey *string) ToolCall {
	return ToolCall{
		ToolID: "net.echo.get",
		CallID: "call-1",
		Actor:  envelope.Subject{Tenant: "tenant-a", SubjectID: "user-1"},
		Tenant: "tenant-a",
		Origin: OriginApi,
		Args: map[string]any{
			"url": "https://example.com/ping",
		},
		IdempotencyKey: idempotencyKey,
	}
}

func TestRegisterPreflightInvokeFlow(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryRegistry()
	if err := registry.Register(ctx, echoManifest()); err != nil {
		t.Fatalf("register: %v", err)
	}

	preflight := NewPreflightService(registry, AllowAllAuth{})

	key := "idem-key-1"
	call := newTestCall(&key)

	output, err := preflight.Preflight(ctx, call)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if !output.Allow {
		t.Fatalf("expected preflight to allow, got reason=%q code=%q", output.Reason, output.ErrorCode)
	}
	if output.Plan == nil {
		t.Fatal("expected a plan on allow")
	}
	if output.Plan.Spec.Manifest.DisplayName != "HTTP Echo" {
		t.Fatalf("expected display name HTTP Echo, got %q", output.Plan.Spec.Manifest.DisplayName)
	}
	if len(output.Plan.PlannedOps) != 1 {
		t.Fatalf("expected 1 planned op, got %d", len(output.Plan.PlannedOps))
	}

	sandboxManager := DefaultSandboxWithExecutors()
	invoker := NewInvoker(NewInvokerConfig(sandboxManager))

	result, err := invoker.Invoke(ctx, InvokeRequest{Plan: *output.Plan, Call: call})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != InvokeOk {
		t.Fatalf("expected ok status, got %s (code=%v)", result.Status, result.ErrorCode)
	}
	out, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %T", result.Output)
	}
	if out["method"] != "GET" {
		t.Fatalf("expected echoed method GET, got %v", out["method"])
	}
	if out["url"] != "https://example.com/ping" {
		t.Fatalf("expected echoed url, got %v", out["url"])
	}

	second, err := preflight.Preflight(ctx, call)
	if err != nil {
		t.Fatalf("second preflight: %v", err)
	}
	if !second.Allow {
		t.Fatalf("expected second preflight to allow, got reason=%q", second.Reason)
	}

	cached, err := invoker.Invoke(ctx, InvokeRequest{Plan: *second.Plan, Call: call})
	if err != nil {
		t.Fatalf("cached invoke: %v", err)
	}
	if cached.Status != InvokeOk {
		t.Fatalf("expected cached result status ok, got %s", cached.Status)
	}
}

func TestPreflightDeniesWithoutIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryRegistry()
	if err := registry.Register(ctx, echoManifest()); err != nil {
		t.Fatalf("register: %v", err)
	}
	preflight := NewPreflightService(registry, AllowAllAuth{})

	call := newTestCall(nil)
	output, err := preflight.Preflight(ctx, call)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if output.Allow {
		t.Fatal("expected preflight to deny a keyed-idempotency tool with no key")
	}
}

func TestPreflightDeniesWhenNotVisibleToLlm(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryRegistry()
	manifest := echoManifest()
	if err := registry.Register(ctx, manifest); err != nil {
		t.Fatalf("register: %v", err)
	}
	visible := false
	if err := registry.UpdatePolicy(ctx, manifest.ID, nil, &visible); err != nil {
		t.Fatalf("update policy: %v", err)
	}

	preflight := NewPreflightService(registry, AllowAllAuth{})
	key := "idem-key-2"
	call := newTestCall(&key)
	call.Origin = OriginLlm

	output, err := preflight.Preflight(ctx, call)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if output.Allow {
		t.Fatal("expected preflight to deny an LLM-origin call against a non-visible tool")
	}
}

func TestManifestValidateRejectsLowSafetyWriteSideEffect(t *testing.T) {
	manifest := echoManifest()
	manifest.SafetyClass = sandbox.SafetyLow
	manifest.SideEffect = sandbox.SideEffectWrite
	if err := manifest.Validate(); err == nil {
		t.Fatal("expected validation to reject Low safety with Write side effect")
	}
}

func TestManifestValidateRequiresConsentAtHighSafety(t *testing.T) {
	manifest := echoManifest()
	manifest.SafetyClass = sandbox.SafetyHigh
	manifest.Consent.Required = false
	if err := manifest.Validate(); err == nil {
		t.Fatal("expected validation to reject High safety without required consent")
	}
}

func TestRegistryListFiltersBySafetyAndText(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryRegistry()
	if err := registry.Register(ctx, echoManifest()); err != nil {
		t.Fatalf("register: %v", err)
	}

	ceiling := sandbox.SafetyMedium
	results := registry.List(ctx, "tenant-a", ListFilter{SafetyLE: &ceiling, Text: "Echo"})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	empty := registry.List(ctx, "tenant-a", ListFilter{Text: "nonexistent"})
	if len(empty) != 0 {
		t.Fatalf("expected 0 results for unmatched text filter, got %d", len(empty))
	}
}

func TestGetUint64HandlesFloatAndRejectsNegative(t *testing.T) {
	args := map[string]any{"offset": float64(42), "bad": float64(-1)}
	if v := getUint64(args, "offset"); v == nil || *v != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
	if v := getUint64(args, "bad"); v != nil {
		t.Fatalf("expected nil for negative value, got %v", v)
	}
	if v := getUint64(args, "missing"); v != nil {
		t.Fatalf("expected nil for missing key, got %v", v)
	}
}
