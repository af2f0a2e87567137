package textfmt

import (
	"strconv"
	"strings"
)

// Encode renders m in the canonical text form: one assignment per line,
// nested blocks indented with tabs, keys in insertion order. Decode of the
// result yields a Map equal to m.
func Encode(m *Map) []byte {
	return appendMap(nil, m, 0)
}

func indent(buf []byte, depth int) []byte {
	for i := 0; i < depth; i++ {
		buf = append(buf, '\t')
	}

	return buf
}

func appendMap(buf []byte, m *Map, depth int) []byte {
	if m == nil {
		return buf
	}

	for _, it := range m.items {
		buf = indent(buf, depth)
		buf = appendKey(buf, it.key)

		if it.value.kind == KindMap {
			buf = append(buf, " {\n"...)
			buf = appendMap(buf, it.value.m, depth+1)
			buf = indent(buf, depth)
			buf = append(buf, "}\n"...)

			continue
		}

		buf = append(buf, " = "...)
		buf = appendValue(buf, it.value, depth)
		buf = append(buf, '\n')
	}

	return buf
}

func appendValue(buf []byte, e Entry, depth int) []byte {
	switch e.kind {
	case KindNumber:
		return strconv.AppendInt(buf, e.num, 10)
	case KindString:
		return append(buf, quote(e.str)...)
	case KindList:
		return appendList(buf, e.list, depth)
	case KindMap:
		buf = append(buf, "{\n"...)
		buf = appendMap(buf, e.m, depth+1)
		buf = indent(buf, depth)

		return append(buf, '}')
	}

	return buf
}

func appendList(buf []byte, list []Entry, depth int) []byte {
	buf = append(buf, '[')

	for i, e := range list {
		if i > 0 {
			buf = append(buf, ", "...)
		}

		buf = appendValue(buf, e, depth)
	}

	return append(buf, ']')
}

// appendKey writes key bare when it is a plain identifier and quoted
// otherwise.
func appendKey(buf []byte, key string) []byte {
	if key == "" {
		return append(buf, quote(key)...)
	}

	for i := 0; i < len(key); i++ {
		if !isIdent(key[i]) {
			return append(buf, quote(key)...)
		}
	}

	return append(buf, key...)
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string {
	return `"` + quoter.Replace(s) + `"`
}
