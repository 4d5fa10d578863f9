package etl

import (
	"strconv"
	"strings"
)

// ── Field Expanders ────────────────────────────────────────
// Both expanders return a new record; the input is left untouched. Derived keys
// are inserted right after the key they come from, and the original key stays.
// Keys are matched either literally or by their path resolved against the
// enclosing groups and repeats.

// ExpandSelectMultiples adds one boolean key per option for every
// select_multiple answer found in rec. options maps a field path to its option
// list; options may be bare choice names or full option paths.
func ExpandSelectMultiples(rec Record, options map[string][]string) Record {
	if len(options) == 0 {
		return rec.Clone()
	}
	return Record{Data: expandObject(rec.Data, "", func(out *Object, key, path string, v Value) {
		opts, ok := options[key]
		if !ok {
			opts, ok = options[path]
		}
		if !ok {
			return
		}
		s, ok := v.Text()
		if !ok {
			return
		}
		selected := make(map[string]bool)
		for _, tok := range strings.Fields(s) {
			selected[tok] = true
		}
		for _, o := range opts {
			choice := lastSegment(o)
			out.Set(key+"/"+choice, Scalar(selected[choice]))
		}
	})}
}

// ExpandGPS splits each gps answer into latitude, longitude, altitude and
// precision siblings named _<field>_<part>.
func ExpandGPS(rec Record, fields []string) Record {
	return expandGPS(rec, fields, nil)
}

func expandGPS(rec Record, fields []string, report AnomalyFunc) Record {
	if len(fields) == 0 {
		return rec.Clone()
	}
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	return Record{Data: expandObject(rec.Data, "", func(out *Object, key, path string, v Value) {
		if !want[key] && !want[path] {
			return
		}
		s, ok := v.Text()
		if !ok {
			return
		}
		parts, ok := ParseGPS(s)
		if !ok {
			report.report(KindMalformedCompositeValue, path)
		}
		for i, part := range gpsParts {
			out.Set(GPSSubfield(key, part), Scalar(parts[i]))
		}
	})}
}

// ParseGPS splits "lat lon [alt [precision]]" into four strings. Missing
// trailing parts are empty. A value with no tokens or more than four tokens
// yields four empty strings and false. A non-numeric token leaves its own part
// empty, keeps the others and also yields false.
func ParseGPS(s string) ([4]string, bool) {
	var parts [4]string
	toks := strings.Fields(s)
	if len(toks) == 0 || len(toks) > 4 {
		return parts, false
	}
	ok := true
	for i, t := range toks {
		if _, err := strconv.ParseFloat(t, 64); err != nil {
			ok = false
			continue
		}
		parts[i] = t
	}
	return parts, ok
}

// expandFunc may add derived keys to out right after key has been copied.
type expandFunc func(out *Object, key, path string, v Value)

func expandObject(obj *Object, prefix string, fn expandFunc) *Object {
	out := NewObject()
	obj.Range(func(key string, v Value) bool {
		path := joinPath(prefix, key)
		switch v.Kind() {
		case KindObject:
			out.Set(key, ObjectValue(expandObject(v.Object(), path, fn)))
		case KindList:
			items := make([]Value, len(v.Items()))
			for i, it := range v.Items() {
				if it.Kind() == KindObject {
					items[i] = ObjectValue(expandObject(it.Object(), path, fn))
				} else {
					items[i] = it.Clone()
				}
			}
			out.Set(key, List(items...))
		default:
			out.Set(key, v)
			fn(out, key, path, v)
		}
		return true
	})
	return out
}
