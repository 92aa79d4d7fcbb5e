package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Map is a journaled map. Values must be treated as immutable: replace a
// value with Set instead of mutating it in place.
type Map[K comparable, V any] struct {
	j *Journal
	m map[K]V
}

// NewMap creates a map tracked by j under name.
func NewMap[K comparable, V any](j *Journal, name string) *Map[K, V] {
	m := &Map[K, V]{j: j, m: make(map[K]V)}
	j.track(name, m)
	return m
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

func (m *Map[K, V]) Has(k K) bool {
	_, ok := m.m[k]
	return ok
}

func (m *Map[K, V]) Set(k K, v V) {
	old, existed := m.m[k]
	m.j.record(func() {
		if existed {
			m.m[k] = old
		} else {
			delete(m.m, k)
		}
	})
	m.m[k] = v
}

func (m *Map[K, V]) Delete(k K) {
	old, existed := m.m[k]
	if !existed {
		return
	}
	m.j.record(func() { m.m[k] = old })
	delete(m.m, k)
}

func (m *Map[K, V]) Len() int {
	return len(m.m)
}

// Range calls fn for every entry until fn returns false. Order is undefined.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.m {
		if !fn(k, v) {
			return
		}
	}
}

func (m *Map[K, V]) MarshalState() (json.RawMessage, error) {
	return json.Marshal(m.m)
}

func (m *Map[K, V]) UnmarshalState(raw json.RawMessage) error {
	fresh := make(map[K]V)
	if err := json.Unmarshal(raw, &fresh); err != nil {
		return err
	}
	m.m = fresh
	return nil
}

// Cell is a journaled single value.
type Cell[T any] struct {
	j *Journal
	v T
}

// NewCell creates a cell tracked by j under name.
func NewCell[T any](j *Journal, name string, initial T) *Cell[T] {
	c := &Cell[T]{j: j, v: initial}
	j.track(name, c)
	return c
}

func (c *Cell[T]) Get() T {
	return c.v
}

func (c *Cell[T]) Set(v T) {
	old := c.v
	c.j.record(func() { c.v = old })
	c.v = v
}

func (c *Cell[T]) MarshalState() (json.RawMessage, error) {
	return json.Marshal(c.v)
}

func (c *Cell[T]) UnmarshalState(raw json.RawMessage) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	c.v = v
	return nil
}

// Pair is a two-address map key that survives JSON export.
type Pair struct {
	A, B common.Address
}

func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.A.Hex() + ":" + p.B.Hex()), nil
}

func (p *Pair) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ":")
	if len(parts) != 2 {
		return fmt.Errorf("state: malformed pair key %q", text)
	}
	p.A = common.HexToAddress(parts[0])
	p.B = common.HexToAddress(parts[1])
	return nil
}

// Triple is a three-address map key that survives JSON export.
type Triple struct {
	A, B, C common.Address
}

func (t Triple) MarshalText() ([]byte, error) {
	return []byte(t.A.Hex() + ":" + t.B.Hex() + ":" + t.C.Hex()), nil
}

func (t *Triple) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ":")
	if len(parts) != 3 {
		return fmt.Errorf("state: malformed triple key %q", text)
	}
	t.A = common.HexToAddress(parts[0])
	t.B = common.HexToAddress(parts[1])
	t.C = common.HexToAddress(parts[2])
	return nil
}
