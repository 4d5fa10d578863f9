package etl

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ── Wide Flattener ─────────────────────────────────────────
// One row per record. Every repeat segment of a column path carries the
// 1-based occurrence of its instance: kids/kids_details[2]/kids_name.

// occurrence is one level of the repeat trail, outermost first.
type occurrence struct {
	path  string
	index int
}

// WideFlattener flattens records into single rows and records every column it
// produces in a shared ColumnSet.
type WideFlattener struct {
	layout  *Layout
	columns *ColumnSet

	// Report receives dropped fields. It may be nil.
	Report AnomalyFunc
}

// NewWideFlattener returns a flattener. A nil layout keeps every key; a nil
// column set gets a fresh one.
func NewWideFlattener(layout *Layout, columns *ColumnSet) *WideFlattener {
	if columns == nil {
		columns = NewColumnSet()
	}
	return &WideFlattener{layout: layout, columns: columns}
}

// Columns returns the column set fed by this flattener.
func (f *WideFlattener) Columns() *ColumnSet { return f.columns }

// Flatten returns the row for rec and the columns it introduced to the set.
func (f *WideFlattener) Flatten(rec Record) (Row, []string) {
	row := Row{}
	var keys []string
	f.walk(rec.Data, "", nil, row, &keys)
	return row, f.columns.Add(keys...)
}

func (f *WideFlattener) walk(obj *Object, prefix string, trail []occurrence, row Row, keys *[]string) {
	obj.Range(func(key string, v Value) bool {
		path := joinPath(prefix, key)
		switch v.Kind() {
		case KindNull:
		case KindScalar:
			f.set(path, trail, v.Interface(), row, keys)
		case KindObject:
			f.walk(v.Object(), path, trail, row, keys)
		case KindList:
			items := v.Items()
			switch {
			case len(items) == 0:
			case path == FieldNotes:
				f.set(path, trail, joinNotes(items), row, keys)
			case hasObject(items):
				// Instances keep their list position; other entries leave a gap.
				for i, it := range items {
					if it.Kind() != KindObject {
						f.Report.report(KindUnknownFieldDropped, path)
						continue
					}
					next := append(trail[:len(trail):len(trail)], occurrence{path: path, index: i + 1})
					f.walk(it.Object(), path, next, row, keys)
				}
			case allScalars(items):
				f.set(path, trail, joinScalars(items, ","), row, keys)
			default:
				f.Report.report(KindUnknownFieldDropped, path)
			}
		}
		return true
	})
}

func (f *WideFlattener) set(path string, trail []occurrence, v any, row Row, keys *[]string) {
	if f.layout != nil && !f.layout.HasField(path) && !contains(wideMeta, path) {
		if !f.layout.Known(path) {
			f.Report.report(KindUnknownFieldDropped, path)
		}
		return
	}
	col := indexedPath(path, trail)
	if _, dup := row[col]; !dup {
		*keys = append(*keys, col)
	}
	row[col] = v
}

// indexedPath rewrites every repeat prefix of path with its occurrence index.
func indexedPath(path string, trail []occurrence) string {
	if len(trail) == 0 {
		return path
	}
	var b strings.Builder
	consumed := 0
	for _, occ := range trail {
		if len(occ.path) < consumed || !strings.HasPrefix(path, occ.path) {
			break
		}
		b.WriteString(path[consumed:len(occ.path)])
		b.WriteString("[" + strconv.Itoa(occ.index) + "]")
		consumed = len(occ.path)
	}
	b.WriteString(path[consumed:])
	return b.String()
}

func hasObject(items []Value) bool {
	for _, it := range items {
		if it.Kind() == KindObject {
			return true
		}
	}
	return false
}

func joinNotes(items []Value) string {
	notes := make([]string, 0, len(items))
	for _, it := range items {
		switch it.Kind() {
		case KindObject:
			if n, ok := it.Object().Get("note"); ok && !n.IsNull() {
				notes = append(notes, n.String())
			}
		case KindScalar:
			notes = append(notes, it.String())
		}
	}
	return strings.Join(notes, "\r\n")
}

// ── ColumnSet ──────────────────────────────────────────────

// ColumnSet is the union of wide columns seen during a run, in first-seen
// order. It is safe for concurrent use.
type ColumnSet struct {
	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

// NewColumnSet returns an empty set.
func NewColumnSet() *ColumnSet {
	return &ColumnSet{seen: map[string]struct{}{}}
}

// Add unions cols into the set and returns those that were not present.
func (c *ColumnSet) Add(cols ...string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []string
	for _, col := range cols {
		if _, ok := c.seen[col]; ok {
			continue
		}
		c.seen[col] = struct{}{}
		c.order = append(c.order, col)
		added = append(added, col)
	}
	return added
}

// Contains reports whether col has been seen.
func (c *ColumnSet) Contains(col string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[col]
	return ok
}

// Len returns the number of columns.
func (c *ColumnSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Columns returns the columns in first-seen order.
func (c *ColumnSet) Columns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Header orders the columns for output: form document order first, instance
// by instance inside repeats, then submission metadata, then anything else in
// first-seen order. With a nil layout it returns first-seen order.
func (c *ColumnSet) Header(layout *Layout) []string {
	cols := c.Columns()
	if layout == nil {
		return cols
	}
	keys := make(map[string][]int, len(cols))
	for _, col := range cols {
		keys[col] = headerKey(col, layout)
	}
	sort.SliceStable(cols, func(i, j int) bool {
		return lessKey(keys[cols[i]], keys[cols[j]])
	})
	return cols
}

// headerKey is (repeat position, occurrence)* followed by the field position.
func headerKey(col string, layout *Layout) []int {
	plain, levels := deindex(col)
	var key []int
	for _, lv := range levels {
		p, ok := layout.Position(lv.path)
		if !ok {
			break
		}
		key = append(key, p, lv.index)
	}
	if p, ok := layout.Position(plain); ok {
		return append(key, p)
	}
	base := len(layout.position)
	for i, m := range wideMeta {
		if plain == m {
			return []int{base + i}
		}
	}
	return []int{base + len(wideMeta)}
}

func lessKey(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// deindex strips [n] markers from a wide column, returning the plain path and
// the repeat trail they encoded.
func deindex(col string) (string, []occurrence) {
	if !strings.Contains(col, "[") {
		return col, nil
	}
	segs := strings.Split(col, "/")
	var levels []occurrence
	for i, seg := range segs {
		open := strings.LastIndex(seg, "[")
		if open < 0 || !strings.HasSuffix(seg, "]") {
			continue
		}
		n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
		if err != nil {
			continue
		}
		segs[i] = seg[:open]
		levels = append(levels, occurrence{path: strings.Join(segs[:i+1], "/"), index: n})
	}
	return strings.Join(segs, "/"), levels
}

// DeindexColumn returns the form path of a wide column.
func DeindexColumn(col string) string {
	plain, _ := deindex(col)
	return plain
}
