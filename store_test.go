package agentflow

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStoreGetSetRemove(t *testing.T) {
	s := NewStore()
	_, ok := s.Get("missing")
	assert.False(t, ok)

	s.Set("a", Int(1))
	v, ok := s.Get("a")
	require.True(t, ok)
	assert.True(t, v.Equal(Int(1)))

	prev, ok := s.Remove("a")
	require.True(t, ok)
	assert.True(t, prev.Equal(Int(1)))

	_, ok = s.Remove("a")
	assert.False(t, ok, "removing an absent key reports nothing")
	assert.Equal(t, 0, s.Len())
}

func TestStoreZeroValueIsUsable(t *testing.T) {
	var s Store
	s.Set("k", String("v"))
	got, ok := s.GetString("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestStoreKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	s.Set("c", Int(1))
	s.Set("a", Int(2))
	s.Set("b", Int(3))
	s.Set("a", Int(4))
	assert.Equal(t, []string{"c", "a", "b"}, s.Keys())

	s.Remove("c")
	s.Set("c", Int(5))
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"a":4,"b":3,"c":5}`, string(data))
}

func TestStoreCloneIsIndependent(t *testing.T) {
	s := MustStore(map[string]any{"a": 1})
	cp := s.Clone()
	cp.Set("a", Int(2))
	cp.Set("b", Int(3))

	v, _ := s.Get("a")
	assert.True(t, v.Equal(Int(1)))
	assert.False(t, s.Has("b"))
}

func TestStoreJSONPreservesDocumentOrder(t *testing.T) {
	var s Store
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":{"k":"v"},"m":[true]}`), &s))
	assert.Equal(t, []string{"z", "a", "m"}, s.Keys())

	m, ok := s.GetMap("a")
	require.True(t, ok)
	assert.True(t, m["k"].Equal(String("v")))

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &s))
}

func TestStoreDiffAndApply(t *testing.T) {
	base := MustStore(map[string]any{"keep": 1, "change": 2, "drop": 3})
	next := base.Clone()
	next.Set("change", Int(20))
	next.Remove("drop")
	next.Set("add", String("new"))

	d := next.Diff(base)
	assert.Equal(t, []string{"drop"}, d.Removed)
	require.Len(t, d.Set, 2)
	assert.Equal(t, "change", d.Set[0].Key)
	assert.Equal(t, "add", d.Set[1].Key)

	replay := base.Clone()
	replay.Apply(d)
	assert.True(t, replay.Equal(next))
	assert.True(t, next.Diff(next.Clone()).Empty())
}

func TestStoreConcurrentWriters(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%8)
			s.Set(key, Int(i))
			s.Get(key)
			s.Keys()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, s.Len())
}

func genValue() *rapid.Generator[Value] {
	return rapid.OneOf(
		rapid.Just(Null()),
		rapid.Map(rapid.Bool(), Bool),
		rapid.Map(rapid.IntRange(-100, 100), Int),
		rapid.Map(rapid.StringN(0, 6, -1), String),
	)
}

func TestStoreDiffApplyProperty(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "action"}
	rapid.Check(t, func(t *rapid.T) {
		base := NewStore()
		for _, k := range rapid.SliceOfDistinct(rapid.SampledFrom(keys), rapid.ID[string]).Draw(t, "base") {
			base.Set(k, genValue().Draw(t, "base-"+k))
		}

		next := base.Clone()
		ops := rapid.IntRange(0, 10).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			k := rapid.SampledFrom(keys).Draw(t, "key")
			if rapid.Bool().Draw(t, "remove") {
				next.Remove(k)
			} else {
				next.Set(k, genValue().Draw(t, "value"))
			}
		}

		replay := base.Clone()
		replay.Apply(next.Diff(base))
		if !replay.Equal(next) {
			t.Fatalf("replayed diff %s != %s", replay, next)
		}
	})
}
