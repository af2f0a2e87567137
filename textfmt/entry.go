// Package textfmt reads and writes the LVM2 text metadata format.
//
// The format is a tree of assignments. A value is a signed integer, a
// quoted string, a list of values or a nested block of assignments. The
// same grammar is used on disk inside metadata areas and on the wire to
// the metadata cache daemon.
package textfmt

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the variants an Entry can hold.
type Kind int

const (
	// KindNumber - a signed 64 bit integer.
	KindNumber Kind = iota

	// KindString - a UTF-8 string.
	KindString

	// KindList - an ordered list of entries.
	KindList

	// KindMap - a nested block of assignments.
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Entry is a single value in the metadata tree. The zero Entry is the
// number 0.
type Entry struct {
	kind Kind
	num  int64
	str  string
	list []Entry
	m    *Map
}

// Number returns an Entry holding n.
func Number(n int64) Entry {
	return Entry{kind: KindNumber, num: n}
}

// String returns an Entry holding s.
func String(s string) Entry {
	return Entry{kind: KindString, str: s}
}

// List returns an Entry holding the given items.
func List(items ...Entry) Entry {
	l := make([]Entry, len(items))
	copy(l, items)

	return Entry{kind: KindList, list: l}
}

// Strings returns a list Entry of string entries.
func Strings(items []string) Entry {
	l := make([]Entry, len(items))
	for i, s := range items {
		l[i] = String(s)
	}

	return Entry{kind: KindList, list: l}
}

// Nested returns an Entry holding the block m. A nil m is an empty block.
func Nested(m *Map) Entry {
	if m == nil {
		m = NewMap()
	}

	return Entry{kind: KindMap, m: m}
}

// Kind returns the variant held by e.
func (e Entry) Kind() Kind {
	return e.kind
}

// AsNumber returns the number held by e.
func (e Entry) AsNumber() (int64, bool) {
	return e.num, e.kind == KindNumber
}

// AsString returns the string held by e.
func (e Entry) AsString() (string, bool) {
	return e.str, e.kind == KindString
}

// AsList returns the items held by e.
func (e Entry) AsList() ([]Entry, bool) {
	return e.list, e.kind == KindList
}

// AsMap returns the block held by e.
func (e Entry) AsMap() (*Map, bool) {
	return e.m, e.kind == KindMap
}

// Equal reports whether e and o hold the same tree.
func (e Entry) Equal(o Entry) bool {
	if e.kind != o.kind {
		return false
	}

	switch e.kind {
	case KindNumber:
		return e.num == o.num
	case KindString:
		return e.str == o.str
	case KindList:
		if len(e.list) != len(o.list) {
			return false
		}

		for i := range e.list {
			if !e.list[i].Equal(o.list[i]) {
				return false
			}
		}

		return true
	case KindMap:
		return e.m.Equal(o.m)
	}

	return false
}

func (e Entry) String() string {
	switch e.kind {
	case KindNumber:
		return fmt.Sprintf("%d", e.num)
	case KindString:
		return quote(e.str)
	case KindList:
		return string(appendList(nil, e.list, 0))
	case KindMap:
		return "{" + string(Encode(e.m)) + "}"
	}

	return "<invalid>"
}

type item struct {
	key   string
	value Entry
}

// Map is an ordered block of assignments. Keys are unique and iteration
// follows insertion order.
type Map struct {
	items []item
	index map[string]int
}

// ErrKeyExists is returned by Add when the key is already present.
var ErrKeyExists = errors.New("key already exists")

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{index: map[string]int{}}
}

// Len returns the number of keys in m.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}

	return len(m.items)
}

// Keys returns the keys of m in order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}

	keys := make([]string, len(m.items))
	for i, it := range m.items {
		keys[i] = it.key
	}

	return keys
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}

	i, ok := m.index[key]
	if !ok {
		return Entry{}, false
	}

	return m.items[i].value, true
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key. An existing key keeps its position.
func (m *Map) Set(key string, value Entry) {
	if m.index == nil {
		m.index = map[string]int{}
	}

	if i, ok := m.index[key]; ok {
		m.items[i].value = value
		return
	}

	m.index[key] = len(m.items)
	m.items = append(m.items, item{key: key, value: value})
}

// Add stores value under key, failing if key is already present.
func (m *Map) Add(key string, value Entry) error {
	if m.Has(key) {
		return errors.Wrapf(ErrKeyExists, "%q", key)
	}

	m.Set(key, value)

	return nil
}

// Delete removes key from m.
func (m *Map) Delete(key string) {
	i, ok := m.index[key]
	if !ok {
		return
	}

	m.items = append(m.items[:i], m.items[i+1:]...)
	delete(m.index, key)

	for j := i; j < len(m.items); j++ {
		m.index[m.items[j].key] = j
	}
}

// Each calls fn for every key in order, stopping at the first error.
func (m *Map) Each(fn func(key string, value Entry) error) error {
	if m == nil {
		return nil
	}

	for _, it := range m.items {
		if err := fn(it.key, it.value); err != nil {
			return err
		}
	}

	return nil
}

// Number returns the number stored under key.
func (m *Map) Number(key string) (int64, bool) {
	e, ok := m.Get(key)
	if !ok {
		return 0, false
	}

	return e.AsNumber()
}

// String returns the string stored under key.
func (m *Map) String(key string) (string, bool) {
	e, ok := m.Get(key)
	if !ok {
		return "", false
	}

	return e.AsString()
}

// List returns the list stored under key.
func (m *Map) List(key string) ([]Entry, bool) {
	e, ok := m.Get(key)
	if !ok {
		return nil, false
	}

	return e.AsList()
}

// Nested returns the block stored under key.
func (m *Map) Nested(key string) (*Map, bool) {
	e, ok := m.Get(key)
	if !ok {
		return nil, false
	}

	return e.AsMap()
}

// Equal reports whether m and o hold the same keys, in the same order, with
// equal values.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}

	for i := 0; i < m.Len(); i++ {
		a, b := m.items[i], o.items[i]
		if a.key != b.key || !a.value.Equal(b.value) {
			return false
		}
	}

	return true
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	c := NewMap()

	if m == nil {
		return c
	}

	for _, it := range m.items {
		c.Set(it.key, it.value.clone())
	}

	return c
}

func (e Entry) clone() Entry {
	switch e.kind {
	case KindList:
		l := make([]Entry, len(e.list))
		for i := range e.list {
			l[i] = e.list[i].clone()
		}

		return Entry{kind: KindList, list: l}
	case KindMap:
		return Entry{kind: KindMap, m: e.m.Clone()}
	case KindNumber, KindString:
	}

	return e
}
