package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflat/internal/domain"
)

func leaf(path string, typ domain.FieldType, choices ...string) *domain.Node {
	n := &domain.Node{Kind: domain.NodeLeaf, Name: lastSegment(path), Path: path, Type: typ}
	for _, c := range choices {
		n.Choices = append(n.Choices, domain.Choice{Name: c})
	}
	return n
}

func group(path string, children ...*domain.Node) *domain.Node {
	return &domain.Node{Kind: domain.NodeGroup, Name: lastSegment(path), Path: path, Children: children}
}

func repeat(path string, children ...*domain.Node) *domain.Node {
	return &domain.Node{Kind: domain.NodeRepeat, Name: lastSegment(path), Path: path, Children: children}
}

// householdForm has top-level questions, a group, a repeat nested two levels
// deep inside a group, and a second repeat with a select_multiple.
func householdForm() *domain.Node {
	return &domain.Node{
		Kind: domain.NodeGroup,
		Name: "household",
		Children: []*domain.Node{
			leaf("name", domain.FieldText),
			leaf("age", domain.FieldInteger),
			leaf("web_browsers", domain.FieldSelectMultiple, "firefox", "chrome", "ie", "safari"),
			leaf("gps", domain.FieldGPS),
			group("info", leaf("info/city", domain.FieldText)),
			group("kids",
				leaf("kids/has_kids", domain.FieldSelectOne, "1", "0"),
				repeat("kids/kids_details",
					leaf("kids/kids_details/kids_name", domain.FieldText),
					leaf("kids/kids_details/kids_age", domain.FieldInteger),
					repeat("kids/kids_details/kids_immunization",
						leaf("kids/kids_details/kids_immunization/immunization_info", domain.FieldText),
					),
				),
			),
			repeat("browser_use",
				leaf("browser_use/year", domain.FieldInteger),
				leaf("browser_use/browsers", domain.FieldSelectMultiple, "firefox", "safari", "ie", "chrome"),
			),
		},
	}
}

func mustLayout(t *testing.T, opts ...LayoutOption) *Layout {
	t.Helper()
	l, err := BuildLayout(householdForm(), opts...)
	require.NoError(t, err)
	return l
}

func sectionNames(l *Layout) []string {
	var names []string
	for _, s := range l.Sections {
		names = append(names, s.Name)
	}
	return names
}

func fieldPaths(s *Section) []string {
	var paths []string
	for _, f := range s.Fields {
		paths = append(paths, f.Path)
	}
	return paths
}

func TestBuildLayoutSections(t *testing.T) {
	l := mustLayout(t)

	assert.Equal(t, "household", l.Survey)
	assert.Equal(t, []string{
		"household",
		"kids/kids_details",
		"kids/kids_details/kids_immunization",
		"browser_use",
	}, sectionNames(l))

	root := l.Root()
	assert.False(t, root.Repeat)
	assert.Equal(t, "household", root.Table)
	assert.Equal(t, []string{
		"name", "age",
		"web_browsers/firefox", "web_browsers/chrome", "web_browsers/ie", "web_browsers/safari",
		"gps", "_gps_latitude", "_gps_longitude", "_gps_altitude", "_gps_precision",
		"info/city", "kids/has_kids",
	}, fieldPaths(root))

	kids, ok := l.Section("kids/kids_details")
	require.True(t, ok)
	assert.Equal(t, "household", kids.Parent)
	assert.Equal(t, "kids_details", kids.Table)
	assert.Equal(t, []string{"kids/kids_details/kids_name", "kids/kids_details/kids_age"}, fieldPaths(kids))

	imm, ok := l.Section("kids/kids_details/kids_immunization")
	require.True(t, ok)
	assert.Equal(t, "kids/kids_details", imm.Parent)
	assert.Equal(t, "kids_immunization", imm.Table)

	bu, ok := l.Section("browser_use")
	require.True(t, ok)
	assert.Equal(t, []string{
		"browser_use/year",
		"browser_use/browsers/firefox", "browser_use/browsers/safari",
		"browser_use/browsers/ie", "browser_use/browsers/chrome",
	}, fieldPaths(bu))
}

func TestBuildLayoutDeterministic(t *testing.T) {
	a := mustLayout(t)
	b := mustLayout(t)
	assert.Equal(t, a.Sections, b.Sections)
	assert.Equal(t, a.Fields(), b.Fields())
}

func TestSectionColumnsEndWithExtraFields(t *testing.T) {
	l := mustLayout(t)
	for _, s := range l.Sections {
		cols := s.Columns()
		require.GreaterOrEqual(t, len(cols), len(ExtraFields))
		assert.Equal(t, ExtraFields, cols[len(cols)-len(ExtraFields):], s.Name)
		assert.Len(t, s.Headers(), len(cols))
	}
}

func TestLayoutExpanderInputs(t *testing.T) {
	l := mustLayout(t)

	assert.Equal(t, map[string][]string{
		"web_browsers": {"web_browsers/firefox", "web_browsers/chrome", "web_browsers/ie", "web_browsers/safari"},
		"browser_use/browsers": {
			"browser_use/browsers/firefox", "browser_use/browsers/safari",
			"browser_use/browsers/ie", "browser_use/browsers/chrome",
		},
	}, l.SelectMultiples())
	assert.Equal(t, []string{"gps"}, l.GPSFields())

	assert.True(t, l.Known("web_browsers"))
	assert.False(t, l.HasField("web_browsers"))
}

func TestBuildLayoutSelectMultipleOptions(t *testing.T) {
	t.Run("unsplit", func(t *testing.T) {
		l := mustLayout(t, WithSplitSelectMultiples(false))
		assert.Contains(t, fieldPaths(l.Root()), "web_browsers")
		assert.NotContains(t, fieldPaths(l.Root()), "web_browsers/firefox")
		assert.Empty(t, l.SelectMultiples())
	})
	t.Run("keep original", func(t *testing.T) {
		l := mustLayout(t, WithKeepOriginalSelectMultiple(true))
		paths := fieldPaths(l.Root())
		assert.Equal(t, []string{"name", "age", "web_browsers", "web_browsers/firefox"}, paths[:4])
	})
}

func TestBuildLayoutGPSInGroup(t *testing.T) {
	form := &domain.Node{Kind: domain.NodeGroup, Name: "grouped_gps", Children: []*domain.Node{
		group("gps_group", leaf("gps_group/gps", domain.FieldGPS)),
	}}
	l, err := BuildLayout(form)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"gps_group/gps",
		"gps_group/_gps_latitude",
		"gps_group/_gps_longitude",
		"gps_group/_gps_altitude",
		"gps_group/_gps_precision",
	}, fieldPaths(l.Root()))
}

func TestBuildLayoutTableNameCollision(t *testing.T) {
	form := &domain.Node{Kind: domain.NodeGroup, Name: "survey", Children: []*domain.Node{
		group("a", repeat("a/items", leaf("a/items/x", domain.FieldText))),
		group("b", repeat("b/items", leaf("b/items/y", domain.FieldText))),
		repeat("other", leaf("other/z", domain.FieldText)),
	}}
	l, err := BuildLayout(form)
	require.NoError(t, err)

	tables := map[string]string{}
	for _, s := range l.Sections {
		tables[s.Name] = s.Table
	}
	assert.Equal(t, map[string]string{
		"survey":  "survey",
		"a/items": "a_items",
		"b/items": "b_items",
		"other":   "other",
	}, tables)
}

func TestBuildLayoutSchemaInconsistency(t *testing.T) {
	tests := []struct {
		name string
		form *domain.Node
	}{
		{"nil root", nil},
		{"leaf root", leaf("x", domain.FieldText)},
		{"duplicate path", &domain.Node{Kind: domain.NodeGroup, Name: "s", Children: []*domain.Node{
			leaf("a", domain.FieldText), leaf("a", domain.FieldInteger),
		}}},
		{"path outside parent", &domain.Node{Kind: domain.NodeGroup, Name: "s", Children: []*domain.Node{
			group("g", leaf("other/a", domain.FieldText)),
		}}},
		{"repeat without path", &domain.Node{Kind: domain.NodeGroup, Name: "s", Children: []*domain.Node{
			{Kind: domain.NodeRepeat, Name: "r"},
		}}},
		{"reserved column", &domain.Node{Kind: domain.NodeGroup, Name: "s", Children: []*domain.Node{
			leaf("_index", domain.FieldInteger),
		}}},
		{"gps subfield collides with question", &domain.Node{Kind: domain.NodeGroup, Name: "s", Children: []*domain.Node{
			leaf("_gps_latitude", domain.FieldDecimal), leaf("gps", domain.FieldGPS),
		}}},
		{"repeat named like survey", &domain.Node{Kind: domain.NodeGroup, Name: "s", Children: []*domain.Node{
			repeat("s", leaf("s/a", domain.FieldText)),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildLayout(tt.form)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaInconsistency)
			assert.Equal(t, KindSchemaInconsistency, KindOf(err))
		})
	}
}

func TestGPSSubfield(t *testing.T) {
	assert.Equal(t, "_gps_latitude", GPSSubfield("gps", "latitude"))
	assert.Equal(t, "gps_group/_gps_precision", GPSSubfield("gps_group/gps", "precision"))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "a", joinPath("", "a"))
	assert.Equal(t, "r/a", joinPath("r", "a"))
	assert.Equal(t, "r/a", joinPath("r", "r/a"))
	assert.Equal(t, "r/rx", joinPath("r", "rx"))
}
