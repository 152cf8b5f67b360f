package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/wisbric/agentcore/pkg/errs"
)

// ProfileBuilder fuses a Grant, ToolManifest, and PolicyConfig into a single
// executable Profile.
type ProfileBuilder interface {
	Build(ctx context.Context, grant Grant, manifest ToolManifest, policy PolicyConfig) (Profile, error)
}

// DefaultProfileBuilder implements the fusion rules: capabilities intersect,
// safety takes the max, side effects union, limits take the min, whitelists
// intersect (empty side means "unconstrained"), mappings prefer policy over
// manifest, and timeout takes the min across manifest/policy/default.
type DefaultProfileBuilder struct{}

func (DefaultProfileBuilder) Build(ctx context.Context, grant Grant, manifest ToolManifest, policy PolicyConfig) (Profile, error) {
	caps := intersectCapabilities(grant.Capabilities, manifest.Capabilities, policy.Capabilities)
	if len(caps) == 0 {
		return Profile{}, errs.New(errs.AuthForbidden).WithDevMessage("capability set is empty after intersection")
	}

	safety := manifest.Safety
	if policy.SafetyClass > safety {
		safety = policy.SafetyClass
	}

	sideEffects := unionSideEffects(manifest.SideEffects, policy.SideEffects)
	limits := mergeLimits(manifest.Limits, policy.Limits, &grant.Budget)
	whitelists := mergeWhitelists(manifest.Whitelists, policy.Whitelists)
	mappings := mergeMappings(manifest.Mappings, policy.Mappings)
	timeoutMs := minTimeout(manifest.TimeoutMs, policy.TimeoutMs, policy.DefaultTimeoutMs)

	policyHash := policy.PolicyHash
	if policyHash == "" {
		policyHash = computePolicyHash(policy)
	}
	configHash := policy.ConfigHash
	if configHash == "" {
		configHash = policyHash
	}

	profile := Profile{
		Tenant:        grant.Tenant,
		SubjectID:     grant.SubjectID,
		ToolName:      manifest.Name,
		CallID:        grant.CallID,
		Capabilities:  caps,
		Safety:        safety,
		SideEffects:   sideEffects,
		Limits:        limits,
		Whitelists:    whitelists,
		Mappings:      mappings,
		TimeoutMs:     timeoutMs,
		PolicyHash:    policyHash,
		ConfigVersion: policy.ConfigVersion,
		ConfigHash:    configHash,
	}
	profile.ProfileHash = profile.Hash()
	return profile, nil
}

func intersectCapabilities(grant, manifest, policy []Capability) []Capability {
	manifestSet := make(map[string]struct{}, len(manifest))
	for _, c := range manifest {
		manifestSet[capKey(c)] = struct{}{}
	}
	policySet := manifestSet
	if len(policy) > 0 {
		policySet = make(map[string]struct{}, len(policy))
		for _, c := range policy {
			policySet[capKey(c)] = struct{}{}
		}
	}
	out := make([]Capability, 0, len(grant))
	for _, c := range grant {
		k := capKey(c)
		if _, ok := manifestSet[k]; !ok {
			continue
		}
		if _, ok := policySet[k]; !ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

func unionSideEffects(a, b []SideEffect) []SideEffect {
	set := make(map[SideEffect]struct{}, len(a)+len(b))
	for _, e := range a {
		set[e] = struct{}{}
	}
	for _, e := range b {
		set[e] = struct{}{}
	}
	out := make([]SideEffect, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return sideEffectOrder[out[i]] < sideEffectOrder[out[j]] })
	return out
}

func minU64Ptr(a, b *uint64) *uint64 {
	switch {
	case a != nil && b != nil:
		if *a < *b {
			return a
		}
		return b
	case a != nil:
		return a
	default:
		return b
	}
}

func minU32Ptr(a, b *uint32) *uint32 {
	switch {
	case a != nil && b != nil:
		if *a < *b {
			return a
		}
		return b
	case a != nil:
		return a
	default:
		return b
	}
}

func mergeLimits(manifest, policy *Limits, budget *Budget) Limits {
	var maxBytesIn, maxBytesOut, maxFiles *uint64
	var maxConcurrency *uint32
	var maxDepth32 *uint32

	if manifest != nil {
		maxBytesIn = manifest.MaxBytesIn
		maxBytesOut = manifest.MaxBytesOut
		maxFiles = manifest.MaxFiles
		maxDepth32 = manifest.MaxDepth
		maxConcurrency = manifest.MaxConcurrency
	}
	if policy != nil {
		maxBytesIn = minU64Ptr(maxBytesIn, policy.MaxBytesIn)
		maxBytesOut = minU64Ptr(maxBytesOut, policy.MaxBytesOut)
		maxFiles = minU64Ptr(maxFiles, policy.MaxFiles)
		maxDepth32 = minU32Ptr(maxDepth32, policy.MaxDepth)
		maxConcurrency = minU32Ptr(maxConcurrency, policy.MaxConcurrency)
	}

	if budget != nil {
		if budget.BytesIn > 0 {
			v := budget.BytesIn
			if maxBytesIn != nil && *maxBytesIn < v {
				v = *maxBytesIn
			}
			maxBytesIn = &v
		}
		if budget.BytesOut > 0 {
			v := budget.BytesOut
			if maxBytesOut != nil && *maxBytesOut < v {
				v = *maxBytesOut
			}
			maxBytesOut = &v
		}
		if budget.FileCount > 0 {
			v := budget.FileCount
			if maxFiles != nil && *maxFiles < v {
				v = *maxFiles
			}
			maxFiles = &v
		}
	}

	return Limits{
		MaxBytesIn:     maxBytesIn,
		MaxBytesOut:    maxBytesOut,
		MaxFiles:       maxFiles,
		MaxDepth:       maxDepth32,
		MaxConcurrency: maxConcurrency,
	}
}

func intersectStrList(a, b []string) []string {
	if len(a) == 0 {
		return append([]string(nil), b...)
	}
	if len(b) == 0 {
		return append([]string(nil), a...)
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func mergeWhitelists(manifest, policy *Whitelists) Whitelists {
	switch {
	case manifest != nil && policy != nil:
		return Whitelists{
			Domains:   intersectStrList(manifest.Domains, policy.Domains),
			Paths:     intersectStrList(manifest.Paths, policy.Paths),
			Tools:     intersectStrList(manifest.Tools, policy.Tools),
			MimeAllow: intersectStrList(manifest.MimeAllow, policy.MimeAllow),
			Methods:   intersectStrList(manifest.Methods, policy.Methods),
		}
	case manifest != nil:
		return *manifest
	case policy != nil:
		return *policy
	default:
		return Whitelists{}
	}
}

func mergeMappings(manifest, policy *Mappings) Mappings {
	var m Mappings
	if policy != nil && policy.RootFS != nil {
		m.RootFS = policy.RootFS
	} else if manifest != nil {
		m.RootFS = manifest.RootFS
	}
	if policy != nil && policy.TmpDir != nil {
		m.TmpDir = policy.TmpDir
	} else if manifest != nil {
		m.TmpDir = manifest.TmpDir
	}
	return m
}

func minTimeout(manifest, policy, defaultTimeout *uint64) uint64 {
	const fallback uint64 = 30_000
	best := &fallback
	first := true
	for _, v := range []*uint64{manifest, policy, defaultTimeout} {
		if v == nil {
			continue
		}
		if first || *v < *best {
			best = v
			first = false
		}
	}
	return *best
}

func computePolicyHash(policy PolicyConfig) string {
	b, err := json.Marshal(policy)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
