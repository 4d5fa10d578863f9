package etl

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const householdRecord = `{
	"_id": 17,
	"_uuid": "c0ffee",
	"_submission_time": "2013-02-18T15:54:01",
	"name": "Adam",
	"age": "80",
	"web_browsers": "chrome ie",
	"gps": "-1.2627557 36.7926442 0.0 30.0",
	"info/city": "Nairobi",
	"kids/has_kids": "1",
	"kids/kids_details": [
		{
			"kids/kids_details/kids_name": "Abel",
			"kids/kids_details/kids_age": "50",
			"kids/kids_details/kids_immunization": [
				{"kids/kids_details/kids_immunization/immunization_info": "polio"},
				{"kids/kids_details/kids_immunization/immunization_info": "measles"}
			]
		},
		{
			"kids/kids_details/kids_name": "Cain",
			"kids/kids_details/kids_age": "76"
		}
	],
	"_xform_id_string": "household"
}`

func relationalProcessor(t *testing.T, report AnomalyFunc) *Processor {
	t.Helper()
	p, err := NewProcessor(mustLayout(t), ModeRelational, nil, WithAnomalies(report))
	require.NoError(t, err)
	return p
}

func TestRelationalRowsAndLinks(t *testing.T) {
	var dropped []string
	p := relationalProcessor(t, func(a Anomaly) {
		if a.Kind == KindUnknownFieldDropped {
			dropped = append(dropped, a.Path)
		}
	})

	res, err := p.Process(mustRecord(t, householdRecord))
	require.NoError(t, err)

	roots := res.Sections["household"]
	require.Len(t, roots, 1)
	root := roots[0]
	assert.Equal(t, 1, root[FieldIndex])
	assert.Equal(t, -1, root[FieldParentIndex])
	assert.Equal(t, "", root[FieldParentTableName])
	assert.Equal(t, "Adam", root["name"])
	assert.Equal(t, true, root["web_browsers/chrome"])
	assert.Equal(t, false, root["web_browsers/firefox"])
	assert.Equal(t, "-1.2627557", root["_gps_latitude"])
	assert.Equal(t, "Nairobi", root["info/city"])
	assert.NotContains(t, root, "kids/kids_details/kids_name")
	assert.NotContains(t, root, "web_browsers")

	kids := res.Sections["kids/kids_details"]
	require.Len(t, kids, 2)
	for i, kid := range kids {
		assert.Equal(t, i+1, kid[FieldIndex])
		assert.Equal(t, root[FieldIndex], kid[FieldParentIndex])
		assert.Equal(t, "household", kid[FieldParentTableName])
		assert.Equal(t, "c0ffee", kid[FieldUUID])
	}
	assert.Equal(t, "Abel", kids[0]["kids/kids_details/kids_name"])
	assert.Equal(t, "Cain", kids[1]["kids/kids_details/kids_name"])

	imm := res.Sections["kids/kids_details/kids_immunization"]
	require.Len(t, imm, 2)
	for _, row := range imm {
		assert.Equal(t, kids[0][FieldIndex], row[FieldParentIndex])
		assert.Equal(t, "kids_details", row[FieldParentTableName])
	}
	assert.Equal(t, "measles", imm[1]["kids/kids_details/kids_immunization/immunization_info"])

	assert.NotContains(t, res.Sections, "browser_use")
	assert.Equal(t, []string{"_xform_id_string"}, dropped)
}

func TestRelationalCountersSpanRecords(t *testing.T) {
	p := relationalProcessor(t, nil)

	first, err := p.Process(mustRecord(t, `{"name":"a","browser_use":[{"browser_use/year":"2010"},{"browser_use/year":"2011"}]}`))
	require.NoError(t, err)
	second, err := p.Process(mustRecord(t, `{"name":"b","browser_use":[{"browser_use/year":"2012"}]}`))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Sections["household"][0][FieldIndex])
	assert.Equal(t, 2, second.Sections["household"][0][FieldIndex])

	bu := second.Sections["browser_use"]
	require.Len(t, bu, 1)
	assert.Equal(t, 3, bu[0][FieldIndex])
	assert.Equal(t, 2, bu[0][FieldParentIndex])
}

func TestRelationalEngineKeysWin(t *testing.T) {
	p := relationalProcessor(t, nil)
	res, err := p.Process(mustRecord(t, `{"_index": 99, "_parent_index": 5, "name": "x"}`))
	require.NoError(t, err)
	row := res.Sections["household"][0]
	assert.Equal(t, 1, row[FieldIndex])
	assert.Equal(t, -1, row[FieldParentIndex])
}

func TestRelationalBareGroupKeys(t *testing.T) {
	p := relationalProcessor(t, nil)
	res, err := p.Process(mustRecord(t, `{
		"info": {"city": "Kisumu"},
		"kids": {"has_kids": "1", "kids_details": [{"kids_name": "Seth"}]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Kisumu", res.Sections["household"][0]["info/city"])
	assert.Equal(t, "1", res.Sections["household"][0]["kids/has_kids"])
	require.Len(t, res.Sections["kids/kids_details"], 1)
	assert.Equal(t, "Seth", res.Sections["kids/kids_details"][0]["kids/kids_details/kids_name"])
}

// Rows can be rejoined into the original nesting by parent table and index.
func TestRelationalRejoin(t *testing.T) {
	p := relationalProcessor(t, nil)
	res, err := p.Process(mustRecord(t, householdRecord))
	require.NoError(t, err)

	type key struct {
		table string
		index any
	}
	children := map[key][]Row{}
	for _, sec := range []string{"kids/kids_details", "kids/kids_details/kids_immunization"} {
		for _, row := range res.Sections[sec] {
			k := key{row[FieldParentTableName].(string), row[FieldParentIndex]}
			children[k] = append(children[k], row)
		}
	}

	root := res.Sections["household"][0]
	kids := children[key{p.Table("household"), root[FieldIndex]}]
	require.Len(t, kids, 2)
	assert.Len(t, children[key{p.Table("kids/kids_details"), kids[0][FieldIndex]}], 2)
	assert.Empty(t, children[key{p.Table("kids/kids_details"), kids[1][FieldIndex]}])
}

func TestRelationalConcurrentIndicesUnique(t *testing.T) {
	p := relationalProcessor(t, nil)
	rec := mustRecord(t, `{"name":"x","browser_use":[{"browser_use/year":"1"},{"browser_use/year":"2"}]}`)

	var (
		mu   sync.Mutex
		seen = map[any]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Process(rec)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, row := range res.Sections["browser_use"] {
				assert.False(t, seen[row[FieldIndex]])
				seen[row[FieldIndex]] = true
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 40)
}
