package lvmeta

import (
	"machinerun.io/lvmeta/textfmt"
)

// fields reads typed values out of one block, remembering which keys were
// consumed so the rest can be kept as passthrough.
type fields struct {
	where string
	m     *textfmt.Map
	used  map[string]bool
	err   error
}

func newFields(where string, m *textfmt.Map) *fields {
	return &fields{where: where, m: m, used: map[string]bool{}}
}

func (f *fields) fail(format string, args ...interface{}) {
	if f.err == nil {
		f.err = invalidf("%s: "+format, append([]interface{}{f.where}, args...)...)
	}
}

func (f *fields) entry(key string, required bool) (textfmt.Entry, bool) {
	f.used[key] = true

	e, ok := f.m.Get(key)
	if !ok && required {
		f.fail("missing %q", key)
	}

	return e, ok
}

func (f *fields) str(key string, required bool) string {
	e, ok := f.entry(key, required)
	if !ok {
		return ""
	}

	s, ok := e.AsString()
	if !ok {
		f.fail("%q is a %s, not a string", key, e.Kind())
	}

	return s
}

func (f *fields) num(key string, required bool) uint64 {
	e, ok := f.entry(key, required)
	if !ok {
		return 0
	}

	n, ok := e.AsNumber()
	if !ok {
		f.fail("%q is a %s, not a number", key, e.Kind())
		return 0
	}

	if n < 0 {
		f.fail("%q is negative (%d)", key, n)
		return 0
	}

	return uint64(n)
}

func (f *fields) strs(key string) []string {
	e, ok := f.entry(key, false)
	if !ok {
		return []string{}
	}

	list, ok := e.AsList()
	if !ok {
		f.fail("%q is a %s, not a list", key, e.Kind())
		return nil
	}

	out := make([]string, 0, len(list))

	for _, item := range list {
		s, ok := item.AsString()
		if !ok {
			f.fail("%q holds a %s, expected strings", key, item.Kind())
			return nil
		}

		out = append(out, s)
	}

	return out
}

func (f *fields) nested(key string, required bool) *textfmt.Map {
	e, ok := f.entry(key, required)
	if !ok {
		return textfmt.NewMap()
	}

	m, ok := e.AsMap()
	if !ok {
		f.fail("%q is a %s, not a section", key, e.Kind())
		return textfmt.NewMap()
	}

	return m
}

// extra returns the keys that were never read, or nil when there are none.
func (f *fields) extra() *textfmt.Map {
	var out *textfmt.Map

	_ = f.m.Each(func(key string, value textfmt.Entry) error {
		if f.used[key] {
			return nil
		}

		if out == nil {
			out = textfmt.NewMap()
		}

		out.Set(key, value)

		return nil
	})

	return out
}

func number(n uint64) textfmt.Entry {
	return textfmt.Number(int64(n))
}

func appendExtra(m, extra *textfmt.Map) {
	_ = extra.Each(func(key string, value textfmt.Entry) error {
		if !m.Has(key) {
			m.Set(key, value)
		}

		return nil
	})
}
