package etl

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordKeepsKeyOrder(t *testing.T) {
	rec := mustRecord(t, `{"z":1,"a":{"y":true,"b":null},"m":[{"k":"v"},"s"]}`)
	assert.Equal(t, []string{"z", "a", "m"}, rec.Data.Keys())

	a, ok := rec.Get("a")
	require.True(t, ok)
	assert.Equal(t, KindObject, a.Kind())
	assert.Equal(t, []string{"y", "b"}, a.Object().Keys())
	b, _ := a.Object().Get("b")
	assert.True(t, b.IsNull())

	m, _ := rec.Get("m")
	assert.Equal(t, KindList, m.Kind())
	assert.False(t, m.IsRepeat())
	assert.True(t, m.IsScalarList())

	z, _ := rec.Get("z")
	assert.Equal(t, json.Number("1"), z.Interface())
	assert.Equal(t, "1", z.String())

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"z":1,"a":{"y":true,"b":null},"m":[{"k":"v"},"s"]}`, string(out))
	assert.Regexp(t, `^\{\s*"z"`, string(out))
}

func TestParseRecordRejectsNonObject(t *testing.T) {
	_, err := ParseRecord([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = ParseRecord([]byte(`{`))
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	rec := mustRecord(t, `{"r":[{"x":"1"}],"g":{"y":"2"}}`)
	c := rec.Clone()

	r, _ := c.Get("r")
	r.Items()[0].Object().Set("x", Scalar("changed"))
	g, _ := c.Get("g")
	g.Object().Delete("y")

	orig, _ := rec.Get("r")
	x, _ := orig.Items()[0].Object().Get("x")
	assert.Equal(t, "1", x.String())
	og, _ := rec.Get("g")
	assert.Equal(t, 1, og.Object().Len())
}

func TestFromAny(t *testing.T) {
	v := FromAny(map[string]any{
		"b":    "x",
		"a":    []any{map[string]any{"k": 1}},
		"none": nil,
	})
	require.Equal(t, KindObject, v.Kind())
	assert.Equal(t, []string{"a", "b", "none"}, v.Object().Keys())
	a, _ := v.Object().Get("a")
	assert.True(t, a.IsRepeat())
	n, _ := v.Object().Get("none")
	assert.True(t, n.IsNull())
}

func TestFormatScalar(t *testing.T) {
	ts := time.Date(2013, 2, 18, 15, 54, 1, 0, time.UTC)
	assert.Equal(t, "", FormatScalar(nil))
	assert.Equal(t, "true", FormatScalar(true))
	assert.Equal(t, "2.5", FormatScalar(2.5))
	assert.Equal(t, "42", FormatScalar(int64(42)))
	assert.Equal(t, "2013-02-18T15:54:01Z", FormatScalar(ts))
}

func TestNilObjectReads(t *testing.T) {
	var o *Object
	assert.Equal(t, 0, o.Len())
	assert.Empty(t, o.Keys())
	_, ok := o.Get("x")
	assert.False(t, ok)
	out, err := o.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}
