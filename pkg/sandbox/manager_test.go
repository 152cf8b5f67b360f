package sandbox

import (
	"context"
	"testing"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
)

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func testGrant() Grant {
	return Grant{
		Tenant:    "tenant-A",
		SubjectID: "subject-1",
		ToolName:  "fetcher",
		CallID:    "call-1",
		Capabilities: []Capability{
			{Kind: CapNetHttp, Host: "example.com", Scheme: "https", Methods: []string{"GET"}},
		},
		ExpiresAt:           0,
		Budget:              Budget{BytesIn: 1024, BytesOut: 2048, Calls: 1},
		DecisionFingerprint: "fp",
	}
}

func testManifest() ToolManifest {
	return ToolManifest{
		Name:    "fetcher",
		Version: "1.0.0",
		Capabilities: []Capability{
			{Kind: CapNetHttp, Host: "example.com", Scheme: "https", Methods: []string{"GET"}},
		},
		Safety:      SafetyMedium,
		SideEffects: []SideEffect{SideEffectNetwork},
		Limits:      &Limits{MaxBytesIn: u64(4096), MaxBytesOut: u64(4096)},
		Whitelists:  &Whitelists{Domains: []string{"example.com"}, Methods: []string{"GET"}},
		TimeoutMs:   u64(10_000),
	}
}

func testPolicy() PolicyConfig {
	return PolicyConfig{
		Capabilities: []Capability{
			{Kind: CapNetHttp, Host: "example.com", Scheme: "https", Methods: []string{"GET"}},
		},
		SafetyClass: SafetyHigh,
		SideEffects: []SideEffect{SideEffectNetwork},
		Whitelists:  &Whitelists{Domains: []string{"example.com"}, Methods: []string{"GET"}},
		Mappings:    &Mappings{RootFS: str("/sandbox"), TmpDir: str("/sandbox/tmp")},
		TimeoutMs:   u64(15_000),
	}
}

func TestBuildProfileIntersection(t *testing.T) {
	profile, err := DefaultProfileBuilder{}.Build(context.Background(), testGrant(), testManifest(), testPolicy())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(profile.Capabilities) != 1 {
		t.Fatalf("expected 1 capability, got %d", len(profile.Capabilities))
	}
	if profile.Safety != SafetyHigh {
		t.Fatalf("expected safety to take the max (High), got %v", profile.Safety)
	}
	found := false
	for _, e := range profile.SideEffects {
		if e == SideEffectNetwork {
			found = true
		}
	}
	if !found {
		t.Fatal("expected Network side effect present")
	}
	if profile.TimeoutMs > 10_000 {
		t.Fatalf("expected min timeout <= 10000, got %d", profile.TimeoutMs)
	}
	if profile.ProfileHash == "" {
		t.Fatal("expected non-empty profile hash")
	}
}

func TestGuardBlocksDisallowedDomain(t *testing.T) {
	profile, err := DefaultProfileBuilder{}.Build(context.Background(), testGrant(), testManifest(), testPolicy())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	guard := DefaultPolicyGuard{}
	err = guard.Validate(context.Background(), profile, Capability{Kind: CapNetHttp, Host: "malicious.com", Scheme: "https", Methods: []string{"GET"}})
	if err == nil {
		t.Fatal("expected validate to fail for a capability not in the profile")
	}
}

type recordingMeter struct {
	reserved, committed, rolledBack []Budget
}

func (m *recordingMeter) Reserve(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, request Budget) error {
	m.reserved = append(m.reserved, request)
	return nil
}
func (m *recordingMeter) Commit(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, used Budget) {
	m.committed = append(m.committed, used)
}
func (m *recordingMeter) Rollback(ctx context.Context, tenant envelope.TenantID, subject envelope.SubjectID, used Budget) {
	m.rolledBack = append(m.rolledBack, used)
}

type testNetExecutor struct{}

func (testNetExecutor) Kind() CapabilityKind { return CapNetHttp }

func (testNetExecutor) Execute(ctx context.Context, ectx ExecCtx, op ExecOp) (ExecResult, error) {
	if op.Kind != OpNetHttp {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("unsupported op")
	}
	return ExecSuccess(
		map[string]any{"method": op.Method, "url": op.URL},
		ExecUsage{Calls: 1},
		[]SideEffectRecord{{Kind: SideEffectNetwork, Meta: map[string]any{"method": "GET", "url": op.URL, "policy_hash": ectx.Profile.PolicyHash}}},
	), nil
}

func TestSandboxExecutesWithEvidence(t *testing.T) {
	meter := &recordingMeter{}
	manager := NewManager(DefaultProfileBuilder{}, DefaultPolicyGuard{}, meter).
		WithExecutor(CapNetHttp, testNetExecutor{})

	req := ExecuteRequest{
		Grant:    testGrant(),
		Manifest: testManifest(),
		Policy:   testPolicy(),
		Op: ExecOp{
			Kind:   OpNetHttp,
			Method: "GET",
			URL:    "https://example.com/path",
		},
		EnvelopeID: "env-1",
	}

	outcome, err := manager.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !outcome.Result.Ok {
		t.Fatalf("expected ok result, got %+v", outcome.Result)
	}
	if outcome.Begin.Begin.ToolName != "fetcher" {
		t.Fatalf("expected tool_name fetcher, got %s", outcome.Begin.Begin.ToolName)
	}
	if outcome.End.End.Status != EvidenceOk {
		t.Fatalf("expected Ok status, got %s", outcome.End.End.Status)
	}
	if outcome.End.End.OutputsDigest == nil {
		t.Fatal("expected outputs digest to be set")
	}
	if len(meter.reserved) == 0 {
		t.Fatal("expected a budget reservation")
	}
	if len(meter.committed) == 0 {
		t.Fatal("expected a budget commit")
	}
}
