// Package configsnap implements the Configuration Snapshot: an immutable,
// versioned, checksummed view over a config map, and an atomically
// swappable SnapshotSwitch that callers read on every request so a config
// reload never tears a running request's view of the world.
package configsnap

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ReloadClass tags how a config key may change across a reload.
type ReloadClass string

const (
	ReloadBootOnly       ReloadClass = "boot_only"
	ReloadHotReloadSafe  ReloadClass = "hot_reload_safe"
	ReloadHotReloadRisky ReloadClass = "hot_reload_risky"
)

// Metadata is the versioning and provenance envelope carried alongside a
// Snapshot's data.
type Metadata struct {
	Version        string
	Checksum       string
	IssuedAtMs     int64
	ReloadSummary  map[string]ReloadClass
}

// Map is the config data shape: an arbitrarily nested JSON-object tree.
type Map map[string]any

// Snapshot is an immutable view over one loaded configuration generation.
// It is produced by a loader and never mutated in place; a reload produces
// a new Snapshot that a SnapshotSwitch swaps in atomically.
type Snapshot struct {
	data     Map
	metadata Metadata
}

// New builds a Snapshot, computing its version and checksum from the
// canonical (sorted-key) JSON serialization of data. issuedAtMs is the
// caller-supplied "now" so construction stays a pure function of its
// inputs.
func New(data Map, issuedAtMs int64, reloadSummary map[string]ReloadClass) (Snapshot, error) {
	canon, err := canonicalJSON(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("configsnap: canonicalizing data: %w", err)
	}
	sum := sha256.Sum256(canon)
	return Snapshot{
		data: data,
		metadata: Metadata{
			Version:       fmt.Sprintf("v%d", issuedAtMs),
			Checksum:      base64.StdEncoding.EncodeToString(sum[:]),
			IssuedAtMs:    issuedAtMs,
			ReloadSummary: reloadSummary,
		},
	}, nil
}

func (s Snapshot) Metadata() Metadata { return s.metadata }
func (s Snapshot) Checksum() string   { return s.metadata.Checksum }
func (s Snapshot) Version() string    { return s.metadata.Version }

// Get resolves a dot-separated key path ("a.b.c") against the snapshot's
// data tree, returning false if any segment is missing or not an object.
func (s Snapshot) Get(path string) (any, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, false
	}
	var cursor any = map[string]any(s.data)
	for _, seg := range segments {
		obj, ok := cursor.(map[string]any)
		if !ok {
			return nil, false
		}
		cursor, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cursor, true
}

// Keys returns every dot-separated key path reachable in the snapshot,
// including intermediate object keys, in lexical order.
func (s Snapshot) Keys() []string {
	var keys []string
	collectKeys("", map[string]any(s.data), &keys)
	sort.Strings(keys)
	return keys
}

func collectKeys(prefix string, m map[string]any, out *[]string) {
	for k, v := range m {
		next := k
		if prefix != "" {
			next = prefix + "." + k
		}
		*out = append(*out, next)
		if child, ok := v.(map[string]any); ok {
			collectKeys(next, child, out)
		}
	}
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, ".") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// canonicalJSON serializes v with every map's keys sorted, so the
// checksum is stable regardless of Go's unordered map iteration.
func canonicalJSON(v Map) ([]byte, error) {
	return json.Marshal(normalize(map[string]any(v)))
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, kv{k, normalize(val[k])})
		}
		return ordered
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

type kv struct {
	Key   string
	Value any
}

type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, pair := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		valBytes, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')
		buf = append(buf, valBytes...)
	}
	return append(buf, '}'), nil
}
