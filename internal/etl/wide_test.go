package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWideFlattenIndexesRepeats(t *testing.T) {
	f := NewWideFlattener(nil, nil)
	row, added := f.Flatten(mustRecord(t, `{
		"name": "Adam",
		"kids/kids_details": [
			{"kids/kids_details/kids_name": "Abel",
			 "kids/kids_details/kids_immunization": [
				{"kids/kids_details/kids_immunization/immunization_info": "polio"},
				{"kids/kids_details/kids_immunization/immunization_info": "measles"}
			 ]},
			{"kids/kids_details/kids_name": "Cain"}
		]
	}`))

	assert.Equal(t, Row{
		"name":                                "Adam",
		"kids/kids_details[1]/kids_name":      "Abel",
		"kids/kids_details[1]/kids_immunization[1]/immunization_info": "polio",
		"kids/kids_details[1]/kids_immunization[2]/immunization_info": "measles",
		"kids/kids_details[2]/kids_name":      "Cain",
	}, row)
	assert.Equal(t, []string{
		"name",
		"kids/kids_details[1]/kids_name",
		"kids/kids_details[1]/kids_immunization[1]/immunization_info",
		"kids/kids_details[1]/kids_immunization[2]/immunization_info",
		"kids/kids_details[2]/kids_name",
	}, added)
}

func TestWideFlattenGroupRepeatShortNames(t *testing.T) {
	f := NewWideFlattener(nil, nil)
	row, _ := f.Flatten(mustRecord(t, `{"group":[{"field":"a"},{"field":"b"}]}`))
	assert.Equal(t, Row{"group[1]/field": "a", "group[2]/field": "b"}, row)
}

func TestWideFlattenMetaLists(t *testing.T) {
	f := NewWideFlattener(mustLayout(t), nil)
	row, _ := f.Flatten(mustRecord(t, `{
		"name": "x",
		"_tags": ["urgent", "reviewed"],
		"_notes": [{"note": "first"}, {"note": "second"}],
		"_attachments": []
	}`))
	assert.Equal(t, "urgent,reviewed", row[FieldTags])
	assert.Equal(t, "first\r\nsecond", row[FieldNotes])
	assert.NotContains(t, row, "_attachments")
}

func TestWideFlattenFiltersByLayout(t *testing.T) {
	var dropped []string
	f := NewWideFlattener(mustLayout(t), nil)
	f.Report = func(a Anomaly) { dropped = append(dropped, a.Path) }

	row, _ := f.Flatten(mustRecord(t, `{
		"_id": 1,
		"name": "x",
		"web_browsers": "ie",
		"_status": "submitted_via_web",
		"browser_use": [{"browser_use/year": "2010", "browser_use/color": "red"}]
	}`))
	assert.Equal(t, Row{"_id": row["_id"], "name": "x", "browser_use[1]/year": "2010"}, row)
	assert.Equal(t, []string{"_status", "browser_use/color"}, dropped)
}

func TestWideColumnSupersetIsUnion(t *testing.T) {
	cs := NewColumnSet()
	f := NewWideFlattener(nil, cs)

	recs := []string{
		`{"a":"1","r":[{"x":"1"}]}`,
		`{"a":"2","r":[{"x":"1"},{"x":"2"},{"x":"3"}]}`,
		`{"b":"3"}`,
	}
	union := map[string]bool{}
	for _, js := range recs {
		row, _ := f.Flatten(mustRecord(t, js))
		for k := range row {
			union[k] = true
		}
	}
	var want []string
	for k := range union {
		want = append(want, k)
	}
	assert.ElementsMatch(t, want, cs.Columns())
	assert.Equal(t, []string{"a", "r[1]/x", "r[2]/x", "r[3]/x", "b"}, cs.Columns())

	_, added := f.Flatten(mustRecord(t, `{"a":"4","r":[{"x":"1"},{"x":"2"},{"x":"3"},{"x":"4"}]}`))
	assert.Equal(t, []string{"r[4]/x"}, added)
}

func TestColumnSetHeaderOrder(t *testing.T) {
	l := mustLayout(t)
	cs := NewColumnSet()
	cs.Add(
		"_id",
		"browser_use[2]/year",
		"kids/kids_details[2]/kids_name",
		"name",
		"kids/kids_details[1]/kids_age",
		"kids/kids_details[1]/kids_name",
		"browser_use[1]/year",
		"mystery",
		"age",
	)
	assert.Equal(t, []string{
		"name",
		"age",
		"kids/kids_details[1]/kids_name",
		"kids/kids_details[1]/kids_age",
		"kids/kids_details[2]/kids_name",
		"browser_use[1]/year",
		"browser_use[2]/year",
		"_id",
		"mystery",
	}, cs.Header(l))
	assert.Equal(t, "browser_use[2]/year", cs.Header(nil)[1])
}

func TestDeindexColumn(t *testing.T) {
	assert.Equal(t, "kids/kids_details/kids_immunization/immunization_info",
		DeindexColumn("kids/kids_details[1]/kids_immunization[2]/immunization_info"))
	assert.Equal(t, "name", DeindexColumn("name"))
}

func TestWideProcessorRunsExpanders(t *testing.T) {
	p, err := NewProcessor(mustLayout(t), ModeWide, nil)
	require.NoError(t, err)
	res, err := p.Process(mustRecord(t, `{
		"gps": "1 2",
		"browser_use": [{"browser_use/browsers": "safari"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "1", res.Row["_gps_latitude"])
	assert.Equal(t, "", res.Row["_gps_altitude"])
	assert.Equal(t, true, res.Row["browser_use[1]/browsers/safari"])
	assert.Equal(t, false, res.Row["browser_use[1]/browsers/ie"])
	assert.Contains(t, res.NewColumns, "browser_use[1]/browsers/chrome")
	assert.Equal(t, "household", p.Table("household"))
}

func TestWideFlattenKeepsInstancesAroundBadEntries(t *testing.T) {
	const js = `{
		"name": "A",
		"kids/kids_details": [
			{"kids/kids_details/kids_name": "a"},
			null,
			{"kids/kids_details/kids_name": "b"}
		]
	}`
	var dropped []Anomaly
	f := NewWideFlattener(mustLayout(t), nil)
	f.Report = func(a Anomaly) { dropped = append(dropped, a) }

	row, _ := f.Flatten(mustRecord(t, js))
	assert.Equal(t, Row{
		"name":                           "A",
		"kids/kids_details[1]/kids_name": "a",
		"kids/kids_details[3]/kids_name": "b",
	}, row)
	assert.Equal(t, []Anomaly{{Kind: KindUnknownFieldDropped, Path: "kids/kids_details"}}, dropped)

	rel := relationalProcessor(t, nil)
	res, err := rel.Process(mustRecord(t, js))
	require.NoError(t, err)
	assert.Len(t, res.Sections["kids/kids_details"], 2)
}
