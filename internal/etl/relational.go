package etl

import (
	"strings"
	"sync"
)

// RelationalFlattener turns records into one row per section instance, linked
// by _index / _parent_index / _parent_table_name.
//
// Counters live for the whole run: one for top-level records and one per
// repeat section. Flatten holds a mutex for the duration of a record so
// concurrent callers still see monotonically increasing indices per section.
type RelationalFlattener struct {
	layout *Layout
	tables map[string]string

	// Report receives dropped fields. It may be nil.
	Report AnomalyFunc

	mu       sync.Mutex
	top      int
	counters map[string]int
}

// NewRelationalFlattener returns a flattener for layout. tables maps section
// names to issued identifiers and is used for _parent_table_name.
func NewRelationalFlattener(layout *Layout, tables map[string]string) *RelationalFlattener {
	return &RelationalFlattener{layout: layout, tables: tables, counters: map[string]int{}}
}

type pendingRepeat struct {
	section *Section
	items   []Value
}

// Flatten returns the rows of rec grouped by section name. The root section
// always gets exactly one row; repeat sections get one row per instance, parent
// rows before their children.
func (f *RelationalFlattener) Flatten(rec Record) (map[string][]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	root := f.layout.Root()
	meta := Row{}
	for _, k := range submissionMeta {
		if v, ok := rec.Get(k); ok && v.Kind() == KindScalar {
			meta[k] = v.Interface()
		}
	}

	out := make(map[string][]Row)
	f.top++
	f.emit(rec.Data, root, f.top, -1, "", meta, out)
	return out, nil
}

func (f *RelationalFlattener) emit(obj *Object, sec *Section, index, parentIndex int, parentTable string, meta Row, out map[string][]Row) {
	row := make(Row, len(sec.Fields)+len(ExtraFields))
	for k, v := range meta {
		row[k] = v
	}
	prefix := ""
	if sec.Repeat {
		prefix = sec.Name
	}
	var children []pendingRepeat
	f.collect(obj, prefix, sec, row, &children)

	row[FieldIndex] = index
	row[FieldParentIndex] = parentIndex
	row[FieldParentTableName] = parentTable
	out[sec.Name] = append(out[sec.Name], row)

	table := f.tableFor(sec)
	for _, c := range children {
		for _, it := range c.items {
			if it.Kind() != KindObject {
				f.Report.report(KindUnknownFieldDropped, c.section.Name)
				continue
			}
			f.counters[c.section.Name]++
			f.emit(it.Object(), c.section, f.counters[c.section.Name], index, table, meta, out)
		}
	}
}

// collect copies the fields of sec found in obj into row, descending into
// groups and queuing repeat instances for later.
func (f *RelationalFlattener) collect(obj *Object, prefix string, sec *Section, row Row, children *[]pendingRepeat) {
	obj.Range(func(key string, v Value) bool {
		path := joinPath(prefix, key)
		switch v.Kind() {
		case KindNull:
		case KindScalar:
			f.copyScalar(path, v.Interface(), sec, row)
		case KindObject:
			f.collect(v.Object(), path, sec, row, children)
		case KindList:
			if child, ok := f.layout.Section(path); ok && child.Repeat {
				if child.Parent == sec.Name {
					*children = append(*children, pendingRepeat{section: child, items: v.Items()})
				}
				return true
			}
			if len(v.Items()) == 0 {
				return true
			}
			if v.IsScalarList() && allScalars(v.Items()) {
				f.copyScalar(path, joinScalars(v.Items(), ","), sec, row)
				return true
			}
			f.Report.report(KindUnknownFieldDropped, path)
		}
		return true
	})
}

func (f *RelationalFlattener) copyScalar(path string, v any, sec *Section, row Row) {
	if owner, ok := f.layout.SectionOf(path); ok {
		if owner == sec.Name {
			row[path] = v
		}
		return
	}
	if isExtraField(path) {
		row[path] = v
		return
	}
	if !f.layout.Known(path) {
		f.Report.report(KindUnknownFieldDropped, path)
	}
}

func (f *RelationalFlattener) tableFor(sec *Section) string {
	if id, ok := f.tables[sec.Name]; ok {
		return id
	}
	return sec.Table
}

func allScalars(items []Value) bool {
	for _, it := range items {
		if it.Kind() == KindObject || it.Kind() == KindList {
			return false
		}
	}
	return true
}

func joinScalars(items []Value, sep string) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.IsNull() {
			continue
		}
		parts = append(parts, it.String())
	}
	return strings.Join(parts, sep)
}
