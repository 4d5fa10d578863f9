package etl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ── Transformer ────────────────────────────────────────────
// Transformers modify records in-flight between source and processor.
// They are composable: each takes a record, returns a (possibly modified)
// record and a boolean indicating whether to keep it.
//
// Pattern: Benthos processor chain.

// Transformer processes a single record.
// Returns (transformed record, keep). If keep is false, the record is dropped.
type Transformer interface {
	Transform(Record) (Record, bool)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Record) (Record, bool)

func (f TransformerFunc) Transform(r Record) (Record, bool) { return f(r) }

// TransformConfig is a declarative transform definition (stored as JSON).
type TransformConfig struct {
	Type   string         `json:"type" yaml:"type"` // "filter" | "rename" | "select" | "dedupe" | "limit" | "sort" | "type_cast" | "compute"
	Config map[string]any `json:"config" yaml:"config"`
}

// lookup finds a field by literal key, then by descending group objects.
func lookup(obj *Object, path string) (Value, bool) {
	if v, ok := obj.Get(path); ok {
		return v, true
	}
	head, rest, found := strings.Cut(path, "/")
	if !found {
		return Value{}, false
	}
	v, ok := obj.Get(head)
	if !ok || v.Kind() != KindObject {
		return Value{}, false
	}
	return lookup(v.Object(), rest)
}

// ── Built-in Transforms ────────────────────────────────────

// FilterTransform drops records where the given field does not match the value.
type FilterTransform struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains" | "exists"
	Value any
}

func (t *FilterTransform) Transform(r Record) (Record, bool) {
	v, ok := lookup(r.Data, t.Field)
	if !ok || v.Kind() != KindScalar {
		return r, t.Op == "neq"
	}
	want := FormatScalar(t.Value)
	switch t.Op {
	case "eq":
		return r, v.String() == want
	case "neq":
		return r, v.String() != want
	case "contains":
		return r, strings.Contains(v.String(), want)
	case "gt":
		return r, toFloat(v.Interface()) > toFloat(t.Value)
	case "lt":
		return r, toFloat(v.Interface()) < toFloat(t.Value)
	default:
		return r, true
	}
}

// RenameTransform renames top-level keys in place, keeping their position.
type RenameTransform struct {
	Mapping map[string]string // oldName → newName
}

func (t *RenameTransform) Transform(r Record) (Record, bool) {
	out := NewObject()
	r.Data.Range(func(k string, v Value) bool {
		if n, ok := t.Mapping[k]; ok && n != "" {
			k = n
		}
		out.Set(k, v)
		return true
	})
	return Record{Data: out}, true
}

// SelectTransform keeps only the specified top-level keys, in record order.
type SelectTransform struct {
	Fields []string
}

func (t *SelectTransform) Transform(r Record) (Record, bool) {
	out := NewObject()
	r.Data.Range(func(k string, v Value) bool {
		if contains(t.Fields, k) {
			out.Set(k, v)
		}
		return true
	})
	return Record{Data: out}, true
}

// DedupeTransform drops records with duplicate values for the given key.
// Records without the key are kept.
type DedupeTransform struct {
	Key  string
	seen map[string]bool
}

func NewDedupeTransform(key string) *DedupeTransform {
	return &DedupeTransform{Key: key, seen: make(map[string]bool)}
}

func (t *DedupeTransform) Transform(r Record) (Record, bool) {
	v, ok := lookup(r.Data, t.Key)
	if !ok || v.Kind() != KindScalar {
		return r, true
	}
	s := v.String()
	if t.seen[s] {
		return r, false
	}
	t.seen[s] = true
	return r, true
}

// ComputeTransform adds or overwrites top-level fields using simple expressions.
// Expression format: {field_name} references.
type ComputeTransform struct {
	Columns []ComputeColumn
}

type ComputeColumn struct {
	Name       string
	Expression string
}

func (t *ComputeTransform) Transform(r Record) (Record, bool) {
	out := r.Clone()
	for _, col := range t.Columns {
		if col.Name == "" || col.Expression == "" {
			continue
		}
		out.Data.Set(col.Name, Scalar(evaluateExpr(r.Data, col.Expression)))
	}
	return out, true
}

// evaluateExpr resolves {field} references against scalar fields.
func evaluateExpr(data *Object, expr string) string {
	resolved := expr
	data.Range(func(k string, v Value) bool {
		placeholder := "{" + k + "}"
		if v.Kind() == KindScalar && strings.Contains(resolved, placeholder) {
			resolved = strings.ReplaceAll(resolved, placeholder, v.String())
		}
		return true
	})
	return resolved
}

// SortTransform sorts all collected records by a field.
// NOTE: This is a batch transform; it is applied by the engine once every
// record has been read, not per record.
type SortTransform struct {
	Field     string
	Direction string // "asc" | "desc"
}

func (t *SortTransform) Transform(r Record) (Record, bool) {
	return r, true
}

// LimitTransform caps the number of records.
type LimitTransform struct {
	Count int
	seen  int
}

func NewLimitTransform(count int) *LimitTransform {
	return &LimitTransform{Count: count}
}

func (t *LimitTransform) Transform(r Record) (Record, bool) {
	t.seen++
	return r, t.seen <= t.Count
}

// TypeCastTransform converts a top-level scalar to a target type.
type TypeCastTransform struct {
	Field    string
	CastType string // "number" | "string" | "bool"
}

func (t *TypeCastTransform) Transform(r Record) (Record, bool) {
	v, ok := r.Data.Get(t.Field)
	if !ok || v.Kind() != KindScalar {
		return r, true
	}
	out := r.Clone()
	switch t.CastType {
	case "number":
		out.Data.Set(t.Field, Scalar(toFloat(v.Interface())))
	case "string":
		out.Data.Set(t.Field, Scalar(v.String()))
	case "bool":
		out.Data.Set(t.Field, Scalar(toBool(v.Interface())))
	}
	return out, true
}

// SelectMultipleTransform runs the select_multiple expander as a chain step.
type SelectMultipleTransform struct {
	Options map[string][]string
}

func (t *SelectMultipleTransform) Transform(r Record) (Record, bool) {
	return ExpandSelectMultiples(r, t.Options), true
}

// GPSTransform runs the gps expander as a chain step.
type GPSTransform struct {
	Fields []string
	Report AnomalyFunc
}

func (t *GPSTransform) Transform(r Record) (Record, bool) {
	return expandGPS(r, t.Fields, t.Report), true
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "1"
	default:
		return toFloat(v) != 0
	}
}

// ── Batch Transforms ──────────────────────────────────────

// ApplyBatchSort sorts records if a SortTransform exists in the chain.
func ApplyBatchSort(records []Record, ts []Transformer) []Record {
	for _, t := range ts {
		if st, ok := t.(*SortTransform); ok && st.Field != "" {
			sorted := make([]Record, len(records))
			copy(sorted, records)
			sortRecords(sorted, st.Field, st.Direction)
			return sorted
		}
	}
	return records
}

// HasBatchSort reports whether ts needs every record before emitting any.
func HasBatchSort(ts []Transformer) bool {
	for _, t := range ts {
		if st, ok := t.(*SortTransform); ok && st.Field != "" {
			return true
		}
	}
	return false
}

func sortRecords(records []Record, field, direction string) {
	dir := 1
	if direction == "desc" {
		dir = -1
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, _ := lookup(records[i].Data, field)
		b, _ := lookup(records[j].Data, field)
		return compareValues(a.Interface(), b.Interface())*dir < 0
	})
}

func compareValues(a, b any) int {
	fa, aOk := toFloatSafe(a)
	fb, bOk := toFloatSafe(b)
	if aOk && bOk {
		if fa < fb {
			return -1
		}
		if fa > fb {
			return 1
		}
		return 0
	}
	return strings.Compare(FormatScalar(a), FormatScalar(b))
}

func toFloatSafe(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ── Helpers ────────────────────────────────────────────────

// ApplyTransformers runs a chain of transformers on a record.
func ApplyTransformers(r Record, ts []Transformer) (Record, bool) {
	for _, t := range ts {
		var keep bool
		r, keep = t.Transform(r)
		if !keep {
			return r, false
		}
	}
	return r, true
}

// BuildTransformers converts declarative TransformConfig into Transformer instances.
// Dedupe is always applied last if a key is specified.
func BuildTransformers(configs []TransformConfig, dedupeKey string) []Transformer {
	var ts []Transformer

	for _, tc := range configs {
		switch tc.Type {
		case "filter":
			field, _ := tc.Config["field"].(string)
			op, _ := tc.Config["op"].(string)
			if field != "" && op != "" {
				ts = append(ts, &FilterTransform{Field: field, Op: op, Value: tc.Config["value"]})
			}

		case "rename":
			if mapping, ok := tc.Config["mapping"].(map[string]any); ok {
				m := make(map[string]string, len(mapping))
				for k, v := range mapping {
					m[k] = fmt.Sprint(v)
				}
				ts = append(ts, &RenameTransform{Mapping: m})
			}

		case "select":
			if fields, ok := tc.Config["fields"].([]any); ok {
				var ff []string
				for _, f := range fields {
					ff = append(ff, fmt.Sprint(f))
				}
				ts = append(ts, &SelectTransform{Fields: ff})
			}

		case "compute":
			if columns, ok := tc.Config["columns"].([]any); ok {
				var cols []ComputeColumn
				for _, c := range columns {
					if cm, ok := c.(map[string]any); ok {
						name, _ := cm["name"].(string)
						expr, _ := cm["expression"].(string)
						if name != "" && expr != "" {
							cols = append(cols, ComputeColumn{Name: name, Expression: expr})
						}
					}
				}
				if len(cols) > 0 {
					ts = append(ts, &ComputeTransform{Columns: cols})
				}
			}

		case "sort":
			field, _ := tc.Config["field"].(string)
			direction, _ := tc.Config["direction"].(string)
			if direction == "" {
				direction = "asc"
			}
			if field != "" {
				ts = append(ts, &SortTransform{Field: field, Direction: direction})
			}

		case "limit":
			if count := toFloat(tc.Config["count"]); count > 0 {
				ts = append(ts, NewLimitTransform(int(count)))
			}

		case "type_cast":
			field, _ := tc.Config["field"].(string)
			castType, _ := tc.Config["castType"].(string)
			if field != "" && castType != "" {
				ts = append(ts, &TypeCastTransform{Field: field, CastType: castType})
			}
		}
	}

	if dedupeKey != "" {
		ts = append(ts, NewDedupeTransform(dedupeKey))
	}

	return ts
}

func toFloat(v any) float64 {
	f, _ := toFloatSafe(v)
	return f
}
