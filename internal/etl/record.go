package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// All sources emit Records, the processor consumes them and hands rows to drivers.
//
// A submission is a nested document: a key may hold a scalar, a group object or
// a list of repeat instances, and the same key may change shape between
// submissions. Value is an explicit tagged variant so every consumer has to say
// what it does with each shape.

// Kind is the variant tag of a Value. The zero Value is Null.
type Kind uint8

const (
	KindNull Kind = iota
	KindScalar
	KindObject
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one node of a record: Null | Scalar | Object | List.
type Value struct {
	kind   Kind
	scalar any
	object *Object
	list   []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Scalar wraps a string, number, bool or time.
func Scalar(v any) Value {
	if v == nil {
		return Value{}
	}
	return Value{kind: KindScalar, scalar: v}
}

// ObjectValue wraps a group object.
func ObjectValue(o *Object) Value {
	if o == nil {
		return Value{}
	}
	return Value{kind: KindObject, object: o}
}

// List wraps an ordered sequence, normally repeat instances.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Interface() any { return v.scalar }
func (v Value) Object() *Object { return v.object }
func (v Value) Items() []Value { return v.list }
func (v Value) String() string { return FormatScalar(v.scalar) }
func (v Value) IsRepeat() bool { return v.kind == KindList && allObjects(v.list) }
func (v Value) IsScalarList() bool {
	return v.kind == KindList && len(v.list) > 0 && !allObjects(v.list)
}

// Text returns the scalar as a string when it is one.
func (v Value) Text() (string, bool) {
	if v.kind != KindScalar {
		return "", false
	}
	s, ok := v.scalar.(string)
	return s, ok
}

func allObjects(items []Value) bool {
	for _, it := range items {
		if it.kind != KindObject {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Scalars are immutable and shared.
func (v Value) Clone() Value {
	switch v.kind {
	case KindObject:
		return ObjectValue(v.object.Clone())
	case KindList:
		items := make([]Value, len(v.list))
		for i, it := range v.list {
			items[i] = it.Clone()
		}
		return List(items...)
	default:
		return v
	}
}

// MarshalJSON renders the value back to JSON preserving key order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindObject:
		return v.object.MarshalJSON()
	case KindList:
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.scalar)
	}
}

// UnmarshalJSON decodes any JSON value. Objects keep their key order and
// numbers keep their textual form as json.Number.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty json value")
	}
	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case '{':
		o := NewObject()
		if err := o.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = ObjectValue(o)
		return nil
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = List(items...)
		return nil
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var s any
		if err := dec.Decode(&s); err != nil {
			return err
		}
		*v = Scalar(s)
		return nil
	}
}

// FromAny converts plain Go values (as produced by encoding/json or yaml into
// interface{}) into a Value. Plain maps have no order, so their keys are sorted.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Object:
		return ObjectValue(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		o := NewObject()
		for _, k := range keys {
			o.Set(k, FromAny(t[k]))
		}
		return ObjectValue(o)
	case []map[string]any:
		items := make([]Value, len(t))
		for i, m := range t {
			items[i] = FromAny(m)
		}
		return List(items...)
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromAny(it)
		}
		return List(items...)
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = Scalar(s)
		}
		return List(items...)
	default:
		return Scalar(t)
	}
}

// FormatScalar renders a scalar for tabular output. nil renders empty.
func FormatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// ── Object ─────────────────────────────────────────────────

// Object is an insertion-ordered mapping from key to Value.
// A nil *Object behaves as an empty object for reads.
type Object struct {
	m *orderedmap.OrderedMap[string, Value]
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{m: orderedmap.New[string, Value]()}
}

func (o *Object) init() {
	if o.m == nil {
		o.m = orderedmap.New[string, Value]()
	}
}

// Set adds or replaces key. New keys go to the end.
func (o *Object) Set(key string, v Value) *Object {
	o.init()
	o.m.Set(key, v)
	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil || o.m == nil {
		return Value{}, false
	}
	return o.m.Get(key)
}

// Delete removes key if present.
func (o *Object) Delete(key string) {
	if o == nil || o.m == nil {
		return
	}
	o.m.Delete(key)
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil || o.m == nil {
		return 0
	}
	return o.m.Len()
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, o.Len())
	o.Range(func(k string, _ Value) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Range calls fn for each pair in order until fn returns false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	if o == nil || o.m == nil {
		return
	}
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	out := NewObject()
	o.Range(func(k string, v Value) bool {
		out.Set(k, v.Clone())
		return true
	})
	return out
}

func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil || o.m == nil {
		return []byte("{}"), nil
	}
	return o.m.MarshalJSON()
}

func (o *Object) UnmarshalJSON(data []byte) error {
	o.m = orderedmap.New[string, Value]()
	return o.m.UnmarshalJSON(data)
}

// ── Record ─────────────────────────────────────────────────

// Record is a single submission flowing through the pipeline.
type Record struct {
	Data *Object `json:"data"`
}

// NewRecord wraps an object; nil yields an empty record.
func NewRecord(o *Object) Record {
	if o == nil {
		o = NewObject()
	}
	return Record{Data: o}
}

// ParseRecord decodes one JSON object into a Record, preserving key order.
func ParseRecord(data []byte) (Record, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Record{}, fmt.Errorf("parse record: %w", err)
	}
	if v.Kind() != KindObject {
		return Record{}, fmt.Errorf("parse record: expected object, got %s", v.Kind())
	}
	return Record{Data: v.Object()}, nil
}

// Get returns the top-level value for key.
func (r Record) Get(key string) (Value, bool) { return r.Data.Get(key) }

// Clone returns a deep copy of the record.
func (r Record) Clone() Record { return Record{Data: r.Data.Clone()} }

// MarshalJSON renders the submission document itself.
func (r Record) MarshalJSON() ([]byte, error) { return r.Data.MarshalJSON() }

// MarshalText renders the kind by name in JSON output.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
