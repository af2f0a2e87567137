package textfmt

import (
	"fmt"
	"strconv"
	"strings"
)

type decoder struct {
	buf  []byte
	pos  int
	line int
	col  int
}

// Decode parses buf into a Map. The top level of the input is an implicit
// block without braces.
func Decode(buf []byte) (*Map, error) {
	d := &decoder{buf: buf, line: 1, col: 1}

	return d.block(0, 0)
}

func (d *decoder) fail(kind error, line, col int, format string, args ...interface{}) error {
	pe := &ParseError{Kind: kind, Line: line, Column: col}
	if format != "" {
		pe.Detail = fmt.Sprintf(format, args...)
	}

	return pe
}

func (d *decoder) peek() (byte, bool) {
	if d.pos >= len(d.buf) {
		return 0, false
	}

	return d.buf[d.pos], true
}

func (d *decoder) next() byte {
	c := d.buf[d.pos]
	d.pos++

	if c == '\n' {
		d.line++
		d.col = 1
	} else {
		d.col++
	}

	return c
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == 0
}

func isIdent(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '_' || c == '.' || c == '-' || c == '+'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// skip consumes whitespace and comments.
func (d *decoder) skip() {
	for {
		c, ok := d.peek()
		if !ok {
			return
		}

		switch {
		case isSpace(c):
			d.next()
		case c == '#':
			for {
				c, ok := d.peek()
				if !ok || c == '\n' {
					break
				}

				d.next()
			}
		default:
			return
		}
	}
}

// block parses assignments until the closing brace. A zero openLine means
// the implicit top level block, which ends at EOF instead.
func (d *decoder) block(openLine, openCol int) (*Map, error) {
	m := NewMap()

	for {
		d.skip()

		c, ok := d.peek()
		if !ok {
			if openLine != 0 {
				return nil, d.fail(ErrUnterminated, openLine, openCol, "block")
			}

			return m, nil
		}

		if c == '}' {
			if openLine == 0 {
				return nil, d.fail(ErrSyntax, d.line, d.col, "unexpected '}'")
			}

			d.next()

			return m, nil
		}

		line, col := d.line, d.col

		key, err := d.key()
		if err != nil {
			return nil, err
		}

		d.skip()

		c, ok = d.peek()
		if !ok {
			return nil, d.fail(ErrSyntax, d.line, d.col, "expected '=' or '{' after %q", key)
		}

		var value Entry

		switch c {
		case '=':
			d.next()
			d.skip()
			value, err = d.value()
		case '{':
			value, err = d.nested()
		default:
			return nil, d.fail(ErrSyntax, d.line, d.col, "expected '=' or '{' after %q, got %q", key, c)
		}

		if err != nil {
			return nil, err
		}

		if m.Has(key) {
			return nil, d.fail(ErrDuplicateKey, line, col, "%q", key)
		}

		m.Set(key, value)
	}
}

// key reads a bare identifier or a quoted string. Quoting carries keys with
// characters outside the identifier set, such as the '#' of LVM ids.
func (d *decoder) key() (string, error) {
	if c, _ := d.peek(); c != '"' {
		return d.ident()
	}

	e, err := d.str()
	if err != nil {
		return "", err
	}

	return e.str, nil
}

func (d *decoder) ident() (string, error) {
	start := d.pos

	for {
		c, ok := d.peek()
		if !ok || !isIdent(c) {
			break
		}

		d.next()
	}

	if start == d.pos {
		c, _ := d.peek()
		return "", d.fail(ErrSyntax, d.line, d.col, "expected identifier, got %q", c)
	}

	return string(d.buf[start:d.pos]), nil
}

func (d *decoder) nested() (Entry, error) {
	line, col := d.line, d.col
	d.next()

	m, err := d.block(line, col)
	if err != nil {
		return Entry{}, err
	}

	return Nested(m), nil
}

func (d *decoder) value() (Entry, error) {
	c, ok := d.peek()
	if !ok {
		return Entry{}, d.fail(ErrSyntax, d.line, d.col, "expected value, got end of input")
	}

	switch {
	case c == '"':
		return d.str()
	case c == '[':
		return d.list()
	case c == '{':
		return d.nested()
	case c == '-' || isDigit(c):
		return d.number()
	}

	return Entry{}, d.fail(ErrSyntax, d.line, d.col, "unexpected %q as value", c)
}

func (d *decoder) number() (Entry, error) {
	line, col := d.line, d.col
	start := d.pos

	for {
		c, ok := d.peek()
		if !ok || isSpace(c) || c == ',' || c == ']' || c == '}' || c == '#' {
			break
		}

		d.next()
	}

	lit := string(d.buf[start:d.pos])

	digits := strings.TrimPrefix(lit, "-")
	if digits == "" {
		return Entry{}, d.fail(ErrMalformedNumber, line, col, "%q", lit)
	}

	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return Entry{}, d.fail(ErrMalformedNumber, line, col, "%q", lit)
		}
	}

	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return Entry{}, d.fail(ErrNumericRange, line, col, "%s", lit)
		}

		return Entry{}, d.fail(ErrMalformedNumber, line, col, "%q", lit)
	}

	return Number(n), nil
}

func (d *decoder) str() (Entry, error) {
	line, col := d.line, d.col
	d.next()

	var sb strings.Builder

	for {
		c, ok := d.peek()
		if !ok {
			return Entry{}, d.fail(ErrUnterminated, line, col, "string")
		}

		d.next()

		switch c {
		case '"':
			return String(sb.String()), nil
		case '\\':
			if _, ok := d.peek(); !ok {
				return Entry{}, d.fail(ErrUnterminated, line, col, "string")
			}

			sb.WriteByte(d.next())
		default:
			sb.WriteByte(c)
		}
	}
}

func (d *decoder) list() (Entry, error) {
	line, col := d.line, d.col
	d.next()

	items := []Entry{}

	for {
		d.skip()

		c, ok := d.peek()
		if !ok {
			return Entry{}, d.fail(ErrUnterminated, line, col, "list")
		}

		if c == ']' {
			d.next()
			return Entry{kind: KindList, list: items}, nil
		}

		v, err := d.value()
		if err != nil {
			return Entry{}, err
		}

		items = append(items, v)

		d.skip()

		c, ok = d.peek()
		if !ok {
			return Entry{}, d.fail(ErrUnterminated, line, col, "list")
		}

		switch c {
		case ',':
			d.next()
		case ']':
		default:
			return Entry{}, d.fail(ErrSyntax, d.line, d.col, "expected ',' or ']' in list, got %q", c)
		}
	}
}
