package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterTransform(t *testing.T) {
	rec := mustRecord(t, `{"age":"23","info":{"city":"Nairobi"}}`)
	tests := []struct {
		f    FilterTransform
		keep bool
	}{
		{FilterTransform{Field: "age", Op: "eq", Value: "23"}, true},
		{FilterTransform{Field: "age", Op: "gt", Value: 30}, false},
		{FilterTransform{Field: "age", Op: "lt", Value: 30.0}, true},
		{FilterTransform{Field: "info/city", Op: "contains", Value: "airo"}, true},
		{FilterTransform{Field: "missing", Op: "eq", Value: "x"}, false},
		{FilterTransform{Field: "missing", Op: "neq", Value: "x"}, true},
	}
	for _, tt := range tests {
		_, keep := tt.f.Transform(rec)
		assert.Equal(t, tt.keep, keep, "%+v", tt.f)
	}
}

func TestRenameKeepsPosition(t *testing.T) {
	rec := mustRecord(t, `{"a":1,"b":2,"c":3}`)
	out, keep := (&RenameTransform{Mapping: map[string]string{"b": "beta"}}).Transform(rec)
	require.True(t, keep)
	assert.Equal(t, []string{"a", "beta", "c"}, out.Data.Keys())
	assert.Equal(t, []string{"a", "b", "c"}, rec.Data.Keys())
}

func TestSelectAndCompute(t *testing.T) {
	rec := mustRecord(t, `{"first":"Ada","last":"Lovelace","age":"36"}`)
	out, _ := (&SelectTransform{Fields: []string{"last", "first"}}).Transform(rec)
	assert.Equal(t, []string{"first", "last"}, out.Data.Keys())

	out, _ = (&ComputeTransform{Columns: []ComputeColumn{{Name: "full", Expression: "{first} {last}"}}}).Transform(rec)
	full, _ := out.Get("full")
	assert.Equal(t, "Ada Lovelace", full.String())
	_, had := rec.Get("full")
	assert.False(t, had)
}

func TestBuildTransformersChain(t *testing.T) {
	ts := BuildTransformers([]TransformConfig{
		{Type: "filter", Config: map[string]any{"field": "keep", "op": "eq", "value": "yes"}},
		{Type: "limit", Config: map[string]any{"count": float64(2)}},
		{Type: "sort", Config: map[string]any{"field": "n", "direction": "desc"}},
		{Type: "unknown"},
	}, "_uuid")
	require.Len(t, ts, 4)
	assert.IsType(t, &DedupeTransform{}, ts[3])
	assert.True(t, HasBatchSort(ts))

	var kept []Record
	for _, js := range []string{
		`{"_uuid":"a","keep":"yes","n":1}`,
		`{"_uuid":"b","keep":"no","n":2}`,
		`{"_uuid":"a","keep":"yes","n":3}`,
		`{"_uuid":"c","keep":"yes","n":4}`,
		`{"_uuid":"d","keep":"yes","n":5}`,
	} {
		if out, keep := ApplyTransformers(mustRecord(t, js), ts); keep {
			kept = append(kept, out)
		}
	}
	// limit counts the duplicate before dedupe drops it
	require.Len(t, kept, 1)
	u, _ := kept[0].Get("_uuid")
	assert.Equal(t, "a", u.String())
}

func TestApplyBatchSort(t *testing.T) {
	recs := []Record{
		mustRecord(t, `{"n":"10"}`),
		mustRecord(t, `{"n":2}`),
		mustRecord(t, `{"n":"7"}`),
	}
	sorted := ApplyBatchSort(recs, []Transformer{&SortTransform{Field: "n", Direction: "asc"}})
	var got []string
	for _, r := range sorted {
		v, _ := r.Get("n")
		got = append(got, v.String())
	}
	assert.Equal(t, []string{"2", "7", "10"}, got)
}

func TestExpanderTransforms(t *testing.T) {
	l := mustLayout(t)
	ts := []Transformer{
		&SelectMultipleTransform{Options: l.SelectMultiples()},
		&GPSTransform{Fields: l.GPSFields()},
	}
	out, keep := ApplyTransformers(mustRecord(t, `{"web_browsers":"ie","gps":"1 2 3 4"}`), ts)
	require.True(t, keep)
	ie, _ := out.Get("web_browsers/ie")
	assert.Equal(t, true, ie.Interface())
	prec, _ := out.Get("_gps_precision")
	assert.Equal(t, "4", prec.String())
}

func TestTypeCast(t *testing.T) {
	rec := mustRecord(t, `{"n":"4.5","b":"yes"}`)
	out, _ := (&TypeCastTransform{Field: "n", CastType: "number"}).Transform(rec)
	n, _ := out.Get("n")
	assert.Equal(t, 4.5, n.Interface())
	out, _ = (&TypeCastTransform{Field: "b", CastType: "bool"}).Transform(out)
	b, _ := out.Get("b")
	assert.Equal(t, true, b.Interface())
}
