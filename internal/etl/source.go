package etl

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source reads submissions from an external system.
// Implementations live in etl/sources/, one file per source type.
//
// Pattern: Airbyte connector protocol (spec → discover → read).

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// String returns cfg[key] when it is a string.
func (c SourceConfig) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Int returns cfg[key] as an int, accepting JSON and YAML number shapes.
func (c SourceConfig) Int(key string, def int) int {
	switch n := c[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// ConfigField describes a single configuration input for a source.
// The CLI and MCP tools print it so callers know what to pass.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // "string" | "select" | "textarea" | "password" | "file"
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"` // for "select" type
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceSpec describes a source type: its label and config fields.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// SourceField is one top-level key observed by Discover.
type SourceField struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// SourceSchema is what Discover found in a sample of the source.
type SourceSchema struct {
	Fields []SourceField `json:"fields"`
}

// Source is the interface every submission source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Discover samples the source and returns the top-level keys it found.
	Discover(ctx context.Context, cfg SourceConfig) (*SourceSchema, error)

	// Read streams records from the source into a channel.
	// The channel is closed when all records have been read or ctx is cancelled.
	// Errors are sent on the error channel (buffered size 1).
	Read(ctx context.Context, cfg SourceConfig) (<-chan Record, <-chan error)
}

// InferSchema collects the top-level keys of records in first-seen order.
// The kind of a key is the first non-null kind observed.
func InferSchema(records []Record) *SourceSchema {
	idx := map[string]int{}
	schema := &SourceSchema{}
	for _, r := range records {
		r.Data.Range(func(k string, v Value) bool {
			i, ok := idx[k]
			if !ok {
				idx[k] = len(schema.Fields)
				schema.Fields = append(schema.Fields, SourceField{Name: k, Kind: v.Kind()})
				return true
			}
			if schema.Fields[i].Kind == KindNull {
				schema.Fields[i].Kind = v.Kind()
			}
			return true
		})
	}
	return schema
}

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type.
// Called from init() in each source implementation file.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources, sorted by type.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}
