// Package tools implements the Tool Preflight/Invoker: manifest-driven
// registration, a ten-step preflight gate that fuses a sandbox Profile
// before anything runs, and an invoker that executes the planned
// operations, applies obligations, and persists idempotent results.
package tools

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wisbric/agentcore/pkg/envelope"
	"github.com/wisbric/agentcore/pkg/errs"
	"github.com/wisbric/agentcore/pkg/sandbox"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ToolID identifies a tool as "<group>.<pkg>.<name>".
type ToolID string

func (id ToolID) String() string { return string(id) }

// Validate enforces the id's character set and dotted-path shape.
func (id ToolID) Validate() error {
	s := string(id)
	if s == "" {
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("tool id must not be empty")
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '.' || c == '-' || c == '_') {
			return errs.New(errs.SchemaValidationFailed).WithDevMessage("tool id must contain only [a-zA-Z0-9._-]")
		}
	}
	if strings.Count(s, ".") < 2 {
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("tool id must follow <group>.<pkg>.<name>")
	}
	return nil
}

// IdempoKind declares whether a tool requires a caller-supplied idempotency
// key before it may be invoked.
type IdempoKind string

const (
	IdempoKeyed IdempoKind = "keyed"
	IdempoNone  IdempoKind = "none"
)

// ConcurrencyKind declares whether a tool's invocations for one
// (tool, tenant) pair must be serialized.
type ConcurrencyKind string

const (
	ConcurrencySerial   ConcurrencyKind = "serial"
	ConcurrencyParallel ConcurrencyKind = "parallel"
)

// ConsentPolicy declares whether invoking this tool requires a verified
// Consent on the call, and bounds on that consent's scope and lifetime.
type ConsentPolicy struct {
	Required  bool
	MaxTTLMs  *uint64
	ScopeHint []envelope.Scope
}

// Limits are the static resource ceilings declared by the manifest; unlike
// sandbox.Limits these are mandatory, not optional.
type Limits struct {
	TimeoutMs      uint64
	MaxBytesIn     uint64
	MaxBytesOut    uint64
	MaxFiles       uint64
	MaxDepth       uint32
	MaxConcurrency uint32
}

// DefaultLimits mirrors the manifest's conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		TimeoutMs:      30_000,
		MaxBytesIn:     2 * 1024 * 1024,
		MaxBytesOut:    2 * 1024 * 1024,
		MaxFiles:       8,
		MaxDepth:       4,
		MaxConcurrency: 1,
	}
}

// CapabilityDecl is one (domain, action, resource) capability a tool
// declares it needs; mapping.go turns these into sandbox.Capability and
// sandbox.ExecOp values.
type CapabilityDecl struct {
	Domain   string
	Action   string
	Resource string
	Attrs    map[string]any
}

// CompatMatrix records which LLM models and platform versions a tool is
// known to work with; advisory only, never enforced by preflight.
type CompatMatrix struct {
	LlmModelsAllow []string
	PlatformMin    *string
	Notes          *string
}

// FieldRule is one field's validation rule within an input/output schema,
// applied with validator.Var against the decoded JSON value at that key.
// This replaces a full JSON-Schema document with the struct-tag validation
// vocabulary the rest of the codebase already uses for request bodies.
type FieldRule struct {
	Name     string
	Required bool
	Rule     string // validator/v10 tag syntax, e.g. "min=1,max=256"
}

// ToolManifest is the static, versioned declaration of one tool: its
// schema, capabilities, safety classification, and limits.
type ToolManifest struct {
	ID          ToolID
	Version     string
	DisplayName string
	Description string
	Tags        []string

	InputSchema  []FieldRule
	OutputSchema []FieldRule

	Scopes       []envelope.Scope
	Capabilities []CapabilityDecl
	SideEffect   sandbox.SideEffect
	SafetyClass  sandbox.SafetyClass
	Consent      ConsentPolicy

	Limits      Limits
	Idempotency IdempoKind
	Concurrency ConcurrencyKind

	Metadata   map[string]any
	Compat     CompatMatrix
	Deprecated bool
}

// Validate enforces the manifest invariants: a well-formed id, the
// safety/side-effect/consent consistency rules, a non-empty capability
// set, and capability/scope alignment for filesystem writes.
func (m ToolManifest) Validate() error {
	if err := m.ID.Validate(); err != nil {
		return err
	}
	if m.SafetyClass == sandbox.SafetyLow &&
		(m.SideEffect == sandbox.SideEffectWrite || m.SideEffect == sandbox.SideEffectProcess) {
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("write/process side effect requires safety>=Medium")
	}
	if m.SafetyClass == sandbox.SafetyHigh && !m.Consent.Required {
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("safety=High tools must require consent")
	}
	if len(m.Capabilities) == 0 {
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("capabilities must not be empty")
	}
	if err := m.validateCapabilityScopeAlignment(); err != nil {
		return err
	}
	return nil
}

func (m ToolManifest) validateCapabilityScopeAlignment() error {
	hasFsWrite := false
	hasFsDomain := false
	for _, c := range m.Capabilities {
		if c.Domain == "fs" {
			hasFsDomain = true
			if strings.Contains(c.Action, "write") {
				hasFsWrite = true
			}
		}
	}
	if hasFsDomain && hasFsWrite {
		hasWriteScope := false
		for _, s := range m.Scopes {
			if s.Action == "write" {
				hasWriteScope = true
				break
			}
		}
		if !hasWriteScope {
			return errs.New(errs.SchemaValidationFailed).WithDevMessage("fs write capability requires write scope")
		}
	}
	return nil
}

// validateFields runs each FieldRule against args using validator.Var,
// returning a schema error describing every failing or missing field.
func validateFields(schema []FieldRule, args map[string]any) error {
	var problems []string
	for _, field := range schema {
		value, present := args[field.Name]
		if !present {
			if field.Required {
				problems = append(problems, fmt.Sprintf("%s: required", field.Name))
			}
			continue
		}
		if field.Rule == "" {
			continue
		}
		if err := validate.Var(value, field.Rule); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", field.Name, err.Error()))
		}
	}
	if len(problems) > 0 {
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("field validation failed: " + strings.Join(problems, "; "))
	}
	return nil
}
