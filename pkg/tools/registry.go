package tools

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
	"github.com/wisbric/agentcore/pkg/sandbox"
)

// ToolState is a registered tool's lifecycle state.
type ToolState string

const (
	ToolRegistered ToolState = "registered"
	ToolEnabled    ToolState = "enabled"
	ToolPaused     ToolState = "paused"
	ToolDeprecated ToolState = "deprecated"
)

// RegistryRecord is the full stored record for one tool, including
// bookkeeping the registry owns (state, policy hash, config fingerprint)
// on top of the caller-supplied manifest.
type RegistryRecord struct {
	Manifest      ToolManifest
	State         ToolState
	CreatedAt     int64
	UpdatedAt     int64
	PolicyHash    string
	VisibleToLlm  bool
	ConfigVersion *string
	ConfigHash    *string
}

// AvailableSpec is the read-only projection of a RegistryRecord returned by
// Get/List: everything preflight needs, with enablement already resolved.
type AvailableSpec struct {
	Manifest      ToolManifest
	PolicyHash    string
	Enabled       bool
	VisibleToLlm  bool
	SafetyClass   sandbox.SafetyClass
	SideEffect    sandbox.SideEffect
	ConfigVersion *string
	ConfigHash    *string
}

// ListFilter narrows ToolRegistry.List to tools matching every set
// predicate; zero-valued fields impose no constraint.
type ListFilter struct {
	Tags         []string
	SafetyLE     *sandbox.SafetyClass
	SideEffectIn []sandbox.SideEffect
	Text         string
	VisibleOnly  bool
}

// ToolRegistry owns the set of registered tools and their lifecycle state.
type ToolRegistry interface {
	Register(ctx context.Context, manifest ToolManifest) error
	Update(ctx context.Context, manifest ToolManifest) error
	SetState(ctx context.Context, id ToolID, state ToolState) error
	UpdatePolicy(ctx context.Context, id ToolID, policyHash *string, visibleToLlm *bool) error
	UpdateConfigFingerprint(ctx context.Context, id ToolID, version, hash *string) error
	Get(ctx context.Context, id ToolID, tenant envelope.TenantID) (AvailableSpec, bool)
	List(ctx context.Context, tenant envelope.TenantID, filter ListFilter) []AvailableSpec
}

// InMemoryRegistry is a process-local ToolRegistry backed by a RWMutex-
// guarded map, suitable for a single-node deployment or tests.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	records map[ToolID]*RegistryRecord
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{records: make(map[ToolID]*RegistryRecord)}
}

func (r *InMemoryRegistry) convert(record *RegistryRecord) AvailableSpec {
	return AvailableSpec{
		Manifest:      record.Manifest,
		PolicyHash:    record.PolicyHash,
		Enabled:       record.State == ToolEnabled,
		VisibleToLlm:  record.VisibleToLlm && record.State == ToolEnabled && !record.Manifest.Deprecated,
		SafetyClass:   record.Manifest.SafetyClass,
		SideEffect:    record.Manifest.SideEffect,
		ConfigVersion: record.ConfigVersion,
		ConfigHash:    record.ConfigHash,
	}
}

func (r *InMemoryRegistry) Register(ctx context.Context, manifest ToolManifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[manifest.ID]; exists {
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("tool already exists")
	}
	now := time.Now().UnixMilli()
	r.records[manifest.ID] = &RegistryRecord{
		Manifest:     manifest,
		State:        ToolEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
		PolicyHash:   "policy:default",
		VisibleToLlm: true,
	}
	return nil
}

func (r *InMemoryRegistry) Update(ctx context.Context, manifest ToolManifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[manifest.ID]
	if !ok {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("tool not registered")
	}
	record.Manifest = manifest
	record.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *InMemoryRegistry) SetState(ctx context.Context, id ToolID, state ToolState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("tool not registered")
	}
	record.State = state
	record.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *InMemoryRegistry) UpdatePolicy(ctx context.Context, id ToolID, policyHash *string, visibleToLlm *bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("tool not registered")
	}
	if policyHash != nil {
		record.PolicyHash = *policyHash
	}
	if visibleToLlm != nil {
		record.VisibleToLlm = *visibleToLlm
	}
	record.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *InMemoryRegistry) UpdateConfigFingerprint(ctx context.Context, id ToolID, version, hash *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return errs.New(errs.PolicyDenyTool).WithDevMessage("tool not registered")
	}
	record.ConfigVersion = version
	record.ConfigHash = hash
	record.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *InMemoryRegistry) Get(ctx context.Context, id ToolID, tenant envelope.TenantID) (AvailableSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	if !ok {
		return AvailableSpec{}, false
	}
	return r.convert(record), true
}

func (r *InMemoryRegistry) List(ctx context.Context, tenant envelope.TenantID, filter ListFilter) []AvailableSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AvailableSpec, 0, len(r.records))
	for _, record := range r.records {
		spec := r.convert(record)
		if !spec.Enabled {
			continue
		}
		if filter.VisibleOnly && !spec.VisibleToLlm {
			continue
		}
		if filter.SafetyLE != nil && spec.SafetyClass > *filter.SafetyLE {
			continue
		}
		if len(filter.SideEffectIn) > 0 && !containsSideEffect(filter.SideEffectIn, spec.SideEffect) {
			continue
		}
		if filter.Text != "" &&
			!strings.Contains(spec.Manifest.DisplayName, filter.Text) &&
			!strings.Contains(spec.Manifest.Description, filter.Text) {
			continue
		}
		if len(filter.Tags) > 0 && !allTagsPresent(filter.Tags, spec.Manifest.Tags) {
			continue
		}
		out = append(out, spec)
	}
	return out
}

func containsSideEffect(set []sandbox.SideEffect, v sandbox.SideEffect) bool {
	for _, e := range set {
		if e == v {
			return true
		}
	}
	return false
}

func allTagsPresent(required, have []string) bool {
	for _, tag := range required {
		found := false
		for _, h := range have {
			if h == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
