package agentflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Store is the shared state passed between nodes: a mapping from string
// keys to Values. All methods are safe for concurrent use. Iteration
// follows insertion order; overwriting a key keeps its original position.
type Store struct {
	mu   sync.RWMutex
	keys []string
	data map[string]Value
}

// Entry is a single key/value pair.
type Entry struct {
	Key   string
	Value Value
}

// Diff describes how a store differs from a base store: keys that were
// added or changed (in the store's insertion order) and keys that were
// removed (in the base's insertion order).
type Diff struct {
	Set     []Entry
	Removed []string
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.Set) == 0 && len(d.Removed) == 0
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]Value)}
}

// NewStoreFrom builds a store from plain Go data. Keys are inserted in
// sorted order so the result is deterministic.
func NewStoreFrom(m map[string]any) (*Store, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := NewStore()
	for _, k := range keys {
		v, err := ValueOf(m[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		s.setLocked(k, v)
	}
	return s, nil
}

// MustStore is like NewStoreFrom but panics on unsupported input.
func MustStore(m map[string]any) *Store {
	s, err := NewStoreFrom(m)
	if err != nil {
		panic(err)
	}
	return s
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Set stores v under key.
func (s *Store) Set(key string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, v)
}

// SetAny converts x with ValueOf and stores it under key.
func (s *Store) SetAny(key string, x any) error {
	v, err := ValueOf(x)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	s.Set(key, v)
	return nil
}

func (s *Store) setLocked(key string, v Value) {
	if s.data == nil {
		s.data = make(map[string]Value)
	}
	if _, exists := s.data[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.data[key] = v
}

// Remove deletes key and returns the value it held.
func (s *Store) Remove(key string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

func (s *Store) removeLocked(key string) (Value, bool) {
	prev, ok := s.data[key]
	if !ok {
		return Value{}, false
	}
	delete(s.data, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return prev, true
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Keys returns the keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	return keys
}

// Entries returns a copy of all entries in insertion order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, len(s.keys))
	for i, k := range s.keys {
		entries[i] = Entry{Key: k, Value: s.data[k]}
	}
	return entries
}

// Range calls fn for every entry in insertion order until fn returns
// false. fn runs on a snapshot, so it may modify the store.
func (s *Store) Range(fn func(key string, v Value) bool) {
	for _, e := range s.Entries() {
		if !fn(e.Key, e.Value) {
			return
		}
	}
}

// Clone returns an independent copy of the store.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := &Store{
		keys: make([]string, len(s.keys)),
		data: make(map[string]Value, len(s.data)),
	}
	copy(cp.keys, s.keys)
	for k, v := range s.data {
		cp.data[k] = v
	}
	return cp
}

// StoreFromValue builds a store from a map value, inserting keys in sorted
// order. Any other kind is stored under fallbackKey.
func StoreFromValue(v Value, fallbackKey string) *Store {
	s := NewStore()
	m, ok := v.AsMap()
	if !ok {
		s.setLocked(fallbackKey, v)
		return s
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.setLocked(k, m[k])
	}
	return s
}

// Value returns the store contents as a map value.
func (s *Store) Value() Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Map(s.data)
}

// Snapshot converts the store into plain Go data.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v.Any()
	}
	return out
}

// Equal reports whether both stores hold the same keys and values,
// ignoring order.
func (s *Store) Equal(other *Store) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	a, b := s.Entries(), other.Entries()
	if len(a) != len(b) {
		return false
	}
	for _, e := range a {
		v, ok := other.Get(e.Key)
		if !ok || !v.Equal(e.Value) {
			return false
		}
	}
	return true
}

// Diff computes the changes that turn base into s.
func (s *Store) Diff(base *Store) Diff {
	var d Diff
	for _, e := range s.Entries() {
		prev, ok := base.Get(e.Key)
		if !ok || !prev.Equal(e.Value) {
			d.Set = append(d.Set, e)
		}
	}
	for _, k := range base.Keys() {
		if !s.Has(k) {
			d.Removed = append(d.Removed, k)
		}
	}
	return d
}

// Apply replays a diff: every Set entry is written in order, then every
// removed key is deleted.
func (s *Store) Apply(d Diff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range d.Set {
		s.setLocked(e.Key, e.Value)
	}
	for _, k := range d.Removed {
		s.removeLocked(k)
	}
}

// Merge writes every entry of other into s in other's insertion order.
func (s *Store) Merge(other *Store) {
	s.Apply(Diff{Set: other.Entries()})
}

// GetString returns the string stored under key.
func (s *Store) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetNumber returns the number stored under key.
func (s *Store) GetNumber(key string) (float64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

// GetBool returns the boolean stored under key.
func (s *Store) GetBool(key string) (bool, bool) {
	v, ok := s.Get(key)
	if !ok {
		return false, false
	}
	return v.AsBool()
}

// GetList returns the list stored under key.
func (s *Store) GetList(key string) ([]Value, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	return v.AsList()
}

// GetMap returns the map stored under key.
func (s *Store) GetMap(key string) (map[string]Value, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	return v.AsMap()
}

// MarshalJSON encodes the store as a JSON object in insertion order.
func (s *Store) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		data, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", e.Key, err)
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the store contents with a decoded JSON object,
// preserving the document's key order.
func (s *Store) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("store must be a JSON object")
	}

	fresh := NewStore()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		fresh.setLocked(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys, s.data = fresh.keys, fresh.data
	return nil
}

func (s *Store) String() string {
	data, err := s.MarshalJSON()
	if err != nil {
		return "<store>"
	}
	return string(data)
}
