// Package authz implements the Authorization Facade: authentication,
// attribute enrichment, policy decision, consent verification, quota
// metering, and decision caching, composed behind one Authorize call.
package authz

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/wisbric/agentcore/pkg/envelope"
)

// ObligationKind is the post-decision transform a Decision may require.
type ObligationKind string

const (
	ObligationMask      ObligationKind = "mask"
	ObligationRedact    ObligationKind = "redact"
	ObligationWatermark ObligationKind = "watermark"
)

// Obligation is a kind-tagged post-decision transform, applied by the
// interceptor chain's response Obligations stage.
type Obligation struct {
	Kind   ObligationKind
	Params map[string]any
}

// Decision is the authorization verdict produced by an Authorizer.
type Decision struct {
	Allow       bool
	Reason      string
	Obligations []Obligation
	Evidence    map[string]any
	CacheTTLMs  int64 // 0 means "do not cache"
}

// Deny builds a non-allow Decision with a reason.
func Deny(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// AllowDefault builds a minimal allow Decision with no caching.
func AllowDefault() Decision {
	return Decision{Allow: true}
}

// AttributeMap is a JSON-object-shaped bag of attributes, deep-mergeable
// and deterministically hashable.
type AttributeMap map[string]any

// MergeJSON performs a right-biased deep merge: nested objects are merged
// recursively, a null on the right preserves the left, and any other
// scalar on the right overwrites the left.
func MergeJSON(left, right AttributeMap) AttributeMap {
	out := make(AttributeMap, len(left))
	for k, v := range left {
		out[k] = v
	}
	for k, rv := range right {
		if rv == nil {
			if _, exists := out[k]; exists {
				continue // null on RHS preserves LHS
			}
			out[k] = nil
			continue
		}
		lv, exists := out[k]
		lMap, lOk := lv.(map[string]any)
		rMap, rOk := rv.(map[string]any)
		if exists && lOk && rOk {
			out[k] = map[string]any(MergeJSON(AttributeMap(lMap), AttributeMap(rMap)))
			continue
		}
		out[k] = rv
	}
	return out
}

// HashAttrs computes a deterministic 64-bit hash over the canonical
// (sorted-key) JSON serialization of attrs, so that two semantically
// equal maps with different key orderings hash equally.
func HashAttrs(attrs AttributeMap) uint64 {
	canon, _ := canonicalJSON(attrs)
	sum := sha256.Sum256(canon)
	return binary.BigEndian.Uint64(sum[:8])
}

// canonicalJSON serializes v with map keys sorted at every level so the
// byte output is stable regardless of Go map iteration order.
func canonicalJSON(v any) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(jsonOrderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, jsonKV{Key: k, Value: normalize(val[k])})
		}
		return ordered
	case AttributeMap:
		return normalize(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return val
	}
}

// jsonKV/jsonOrderedMap implement MarshalJSON to emit a sorted-key object
// without relying on Go's (unordered) native map marshaling.
type jsonKV struct {
	Key   string
	Value any
}

type jsonOrderedMap []jsonKV

func (m jsonOrderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, kv := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		valBytes, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// DecisionKey is the cache key for one authorization lookup.
type DecisionKey struct {
	Tenant    envelope.TenantID
	SubjectID envelope.SubjectID
	Resource  envelope.ResourceURN
	Action    envelope.Action
	AttrsHash uint64
}

// QuotaKey identifies a per-(tenant, subject, resource, action) budget.
type QuotaKey struct {
	Tenant    envelope.TenantID
	SubjectID envelope.SubjectID
	Resource  envelope.ResourceURN
	Action    envelope.Action
}

// AuthzRequest is the input to Authorizer.Decide.
type AuthzRequest struct {
	Subject  envelope.Subject
	Resource envelope.ResourceURN
	Action   envelope.Action
	Attrs    AttributeMap
}
