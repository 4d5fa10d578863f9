package etl

import (
	"strings"

	"surveyflat/internal/domain"
)

// ── Layout ─────────────────────────────────────────────────
// The Layout is the column plan derived once from a form tree: one Section for
// the root plus one per repeat, each with its ordered fields. It is read-only
// after BuildLayout returns and safe to share between goroutines.

// Extra fields appended to every section.
const (
	FieldID              = "_id"
	FieldUUID            = "_uuid"
	FieldSubmissionTime  = "_submission_time"
	FieldIndex           = "_index"
	FieldParentTableName = "_parent_table_name"
	FieldParentIndex     = "_parent_index"

	// Submission metadata lists kept by the wide export.
	FieldTags  = "_tags"
	FieldNotes = "_notes"
)

// ExtraFields is the fixed suffix of every section's columns.
var ExtraFields = []string{
	FieldID, FieldUUID, FieldSubmissionTime,
	FieldIndex, FieldParentTableName, FieldParentIndex,
}

// submissionMeta are the extra fields copied from the top-level record into child rows.
var submissionMeta = []string{FieldID, FieldUUID, FieldSubmissionTime}

// wideMeta are the non-schema keys the wide export keeps.
var wideMeta = []string{FieldID, FieldUUID, FieldSubmissionTime, FieldTags, FieldNotes}

var gpsParts = []string{"latitude", "longitude", "altitude", "precision"}

func isExtraField(path string) bool { return contains(ExtraFields, path) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Field is one column of a section.
type Field struct {
	Path   string           `json:"path"`
	Title  string           `json:"title"`
	Type   domain.FieldType `json:"type,omitempty"`
	Source string           `json:"source,omitempty"` // leaf this column was expanded from
}

// Section is the column layout of one output table.
type Section struct {
	Name   string  `json:"name"`             // repeat path, or the survey name for the root
	Parent string  `json:"parent,omitempty"` // owning section, empty for the root
	Table  string  `json:"table"`            // desired identifier before validation
	Repeat bool    `json:"repeat"`
	Fields []Field `json:"fields"`
}

// Columns returns the field paths followed by the extra fields.
func (s *Section) Columns() []string {
	cols := make([]string, 0, len(s.Fields)+len(ExtraFields))
	for _, f := range s.Fields {
		cols = append(cols, f.Path)
	}
	return append(cols, ExtraFields...)
}

// Headers returns display titles aligned with Columns.
func (s *Section) Headers() []string {
	hs := make([]string, 0, len(s.Fields)+len(ExtraFields))
	for _, f := range s.Fields {
		t := f.Title
		if t == "" {
			t = f.Path
		}
		hs = append(hs, t)
	}
	return append(hs, ExtraFields...)
}

// Layout is the ordered list of sections for a form.
type Layout struct {
	Survey   string     `json:"survey"`
	Sections []*Section `json:"sections"`

	byName          map[string]*Section
	fieldSection    map[string]string // field path → section name
	hidden          map[string]string // known leaves that produce no column
	position        map[string]int    // document order of fields and repeats
	selectMultiples map[string][]string
	selectOrder     []string
	gps             []string
}

// LayoutOption configures BuildLayout.
type LayoutOption func(*layoutOptions)

type layoutOptions struct {
	splitSelectMultiples bool
	keepOriginal         bool
}

// WithSplitSelectMultiples controls whether select_multiple questions become one
// boolean column per choice (default) or stay a single space-separated column.
func WithSplitSelectMultiples(split bool) LayoutOption {
	return func(o *layoutOptions) { o.splitSelectMultiples = split }
}

// WithKeepOriginalSelectMultiple keeps the combined column next to the split ones.
func WithKeepOriginalSelectMultiple(keep bool) LayoutOption {
	return func(o *layoutOptions) { o.keepOriginal = keep }
}

// BuildLayout walks the form tree depth-first in document order.
// Groups flatten into the enclosing section; each repeat opens a new one.
func BuildLayout(root *domain.Node, opts ...LayoutOption) (*Layout, error) {
	o := layoutOptions{splitSelectMultiples: true}
	for _, opt := range opts {
		opt(&o)
	}
	if root == nil {
		return nil, schemaError("", "form has no root node")
	}
	if root.Kind == domain.NodeLeaf {
		return nil, schemaError(root.Path, "root node must be a group")
	}
	survey := root.Name
	if survey == "" {
		survey = "data"
	}

	l := &Layout{
		Survey:          survey,
		byName:          map[string]*Section{},
		fieldSection:    map[string]string{},
		hidden:          map[string]string{},
		position:        map[string]int{},
		selectMultiples: map[string][]string{},
	}
	w := &walker{layout: l, opts: o, seen: map[string]bool{}}
	rootSec := l.addSection(&Section{Name: survey, Table: survey})
	if err := w.walk(root, rootSec, ""); err != nil {
		return nil, err
	}
	l.assignTables()
	return l, nil
}

type walker struct {
	layout *Layout
	opts   layoutOptions
	seen   map[string]bool
}

func (w *walker) walk(n *domain.Node, sec *Section, parentPath string) error {
	for _, child := range n.Children {
		if child == nil {
			continue
		}
		if child.Path == "" {
			return schemaError(child.Name, "%s node has no path", child.Kind)
		}
		if parentPath != "" && !strings.HasPrefix(child.Path, parentPath+"/") {
			return schemaError(child.Path, "path is not under its parent %q", parentPath)
		}
		if w.seen[child.Path] {
			return schemaError(child.Path, "duplicate node path")
		}
		w.seen[child.Path] = true

		switch child.Kind {
		case domain.NodeGroup:
			if err := w.walk(child, sec, child.Path); err != nil {
				return err
			}
		case domain.NodeRepeat:
			if _, taken := w.layout.byName[child.Path]; taken || child.Path == w.layout.Survey {
				return schemaError(child.Path, "repeat collides with an existing section")
			}
			w.layout.position[child.Path] = len(w.layout.position)
			rs := w.layout.addSection(&Section{Name: child.Path, Parent: sec.Name, Repeat: true})
			if err := w.walk(child, rs, child.Path); err != nil {
				return err
			}
		case domain.NodeLeaf, "":
			if err := w.leaf(child, sec); err != nil {
				return err
			}
		default:
			return schemaError(child.Path, "unknown node kind %q", child.Kind)
		}
	}
	return nil
}

func (w *walker) leaf(n *domain.Node, sec *Section) error {
	if isExtraField(n.Path) {
		return schemaError(n.Path, "field collides with a reserved column")
	}
	title := n.Label()
	switch n.Type {
	case domain.FieldSelectMultiple:
		opts := make([]string, 0, len(n.Choices))
		for _, c := range n.Choices {
			opts = append(opts, n.Path+"/"+c.Name)
		}
		if !w.opts.splitSelectMultiples || len(opts) == 0 {
			return w.add(sec, Field{Path: n.Path, Title: title, Type: n.Type})
		}
		w.layout.selectMultiples[n.Path] = opts
		w.layout.selectOrder = append(w.layout.selectOrder, n.Path)
		if w.opts.keepOriginal {
			if err := w.add(sec, Field{Path: n.Path, Title: title, Type: n.Type}); err != nil {
				return err
			}
		} else {
			w.layout.hidden[n.Path] = sec.Name
		}
		for _, c := range n.Choices {
			label := c.Label
			if label == "" {
				label = c.Name
			}
			f := Field{Path: n.Path + "/" + c.Name, Title: title + "/" + label, Type: domain.FieldSelectMultiple, Source: n.Path}
			if err := w.add(sec, f); err != nil {
				return err
			}
		}
		return nil
	case domain.FieldGPS:
		w.layout.gps = append(w.layout.gps, n.Path)
		if err := w.add(sec, Field{Path: n.Path, Title: title, Type: n.Type}); err != nil {
			return err
		}
		for _, part := range gpsParts {
			p := GPSSubfield(n.Path, part)
			if err := w.add(sec, Field{Path: p, Title: p, Type: domain.FieldDecimal, Source: n.Path}); err != nil {
				return err
			}
		}
		return nil
	default:
		return w.add(sec, Field{Path: n.Path, Title: title, Type: n.Type})
	}
}

func (w *walker) add(sec *Section, f Field) error {
	if _, dup := w.layout.fieldSection[f.Path]; dup {
		return schemaError(f.Path, "column declared twice")
	}
	if f.Source != "" && w.seen[f.Path] {
		return schemaError(f.Path, "expanded column collides with a form node")
	}
	w.layout.fieldSection[f.Path] = sec.Name
	w.layout.position[f.Path] = len(w.layout.position)
	sec.Fields = append(sec.Fields, f)
	return nil
}

func (l *Layout) addSection(s *Section) *Section {
	l.Sections = append(l.Sections, s)
	l.byName[s.Name] = s
	return s
}

// assignTables names each repeat section after its last path segment, falling
// back to the whole path joined with "_" when two sections share that segment.
func (l *Layout) assignTables() {
	counts := map[string]int{l.Survey: 1}
	for _, s := range l.Sections[1:] {
		counts[lastSegment(s.Name)]++
	}
	for _, s := range l.Sections[1:] {
		s.Table = lastSegment(s.Name)
		if counts[s.Table] > 1 {
			s.Table = strings.ReplaceAll(s.Name, "/", "_")
		}
	}
}

// Root returns the section of top-level fields.
func (l *Layout) Root() *Section { return l.Sections[0] }

// Section looks up a section by name.
func (l *Layout) Section(name string) (*Section, bool) {
	s, ok := l.byName[name]
	return s, ok
}

// SectionOf returns the section owning a column path.
func (l *Layout) SectionOf(path string) (string, bool) {
	s, ok := l.fieldSection[path]
	return s, ok
}

// HasField reports whether path is a column of any section.
func (l *Layout) HasField(path string) bool {
	_, ok := l.fieldSection[path]
	return ok
}

// Known reports whether path belongs to the form, including leaves that were
// split into other columns.
func (l *Layout) Known(path string) bool {
	if l.HasField(path) {
		return true
	}
	_, ok := l.hidden[path]
	return ok
}

// Position returns the document-order index of a column or repeat path.
func (l *Layout) Position(path string) (int, bool) {
	p, ok := l.position[path]
	return p, ok
}

// Fields returns every column of every section in document order.
func (l *Layout) Fields() []Field {
	var all []Field
	for _, s := range l.Sections {
		all = append(all, s.Fields...)
	}
	// sections are emitted pre-order, so re-sort by position
	sortFieldsByPosition(all, l.position)
	return all
}

// SelectMultiples maps each split select_multiple path to its option paths.
// Empty when select_multiples are not split.
func (l *Layout) SelectMultiples() map[string][]string {
	out := make(map[string][]string, len(l.selectMultiples))
	for k, v := range l.selectMultiples {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// GPSFields lists the gps question paths in document order.
func (l *Layout) GPSFields() []string {
	return append([]string(nil), l.gps...)
}

// GPSSubfield names one part of a gps value: "grp/gps" → "grp/_gps_latitude".
func GPSSubfield(path, part string) string {
	dir, base := splitLast(path)
	name := "_" + base + "_" + part
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func splitLast(path string) (dir, base string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func lastSegment(path string) string {
	_, base := splitLast(path)
	return base
}

// joinPath resolves a record key against the path of the object holding it.
// Keys may already be full paths or bare names.
func joinPath(prefix, key string) string {
	if prefix == "" || strings.HasPrefix(key, prefix+"/") {
		return key
	}
	return prefix + "/" + key
}

func sortFieldsByPosition(fs []Field, pos map[string]int) {
	// insertion sort; input is already mostly ordered
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && pos[fs[j-1].Path] > pos[fs[j].Path]; j-- {
			fs[j-1], fs[j] = fs[j], fs[j-1]
		}
	}
}
