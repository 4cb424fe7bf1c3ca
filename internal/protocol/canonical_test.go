package protocol

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeIntentParams(t *testing.T) {
	t.Run("key order independence", func(t *testing.T) {
		a := map[string]any{"item": "iron_pickaxe", "quantity": 1, "nested": map[string]any{"b": 2, "a": 1}}
		b := map[string]any{"nested": map[string]any{"a": 1, "b": 2}, "quantity": 1, "item": "iron_pickaxe"}

		sa, ok := CanonicalizeIntentParams(a)
		require.True(t, ok)
		sb, ok := CanonicalizeIntentParams(b)
		require.True(t, ok)
		assert.Equal(t, sa, sb)
	})

	t.Run("sorted keys", func(t *testing.T) {
		s, ok := CanonicalizeIntentParams(map[string]any{"z": 1, "a": 2})
		require.True(t, ok)
		assert.Equal(t, `{"a":2,"z":1}`, s)
	})

	t.Run("arrays preserve order", func(t *testing.T) {
		s, ok := CanonicalizeIntentParams(map[string]any{"steps": []any{"b", "a"}})
		require.True(t, ok)
		assert.Equal(t, `{"steps":["b","a"]}`, s)
	})

	t.Run("dropped array element becomes null", func(t *testing.T) {
		s, ok := CanonicalizeIntentParams([]any{"a", func() {}, "b"})
		require.True(t, ok)
		assert.Equal(t, `["a",null,"b"]`, s)
	})

	t.Run("dropped object value is omitted", func(t *testing.T) {
		s, ok := CanonicalizeIntentParams(map[string]any{"f": func() {}, "k": 1})
		require.True(t, ok)
		assert.Equal(t, `{"k":1}`, s)
	})

	t.Run("time serializes as UTC ISO string", func(t *testing.T) {
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s, ok := CanonicalizeIntentParams(map[string]any{"at": ts})
		require.True(t, ok)
		assert.Equal(t, `{"at":"2026-03-01T12:00:00Z"}`, s)
	})

	t.Run("big ints become strings", func(t *testing.T) {
		n := new(big.Int)
		n.SetString("123456789012345678901234567890", 10)
		s, ok := CanonicalizeIntentParams(map[string]any{"n": n})
		require.True(t, ok)
		assert.Equal(t, `{"n":"123456789012345678901234567890"}`, s)
	})

	t.Run("NaN is dropped", func(t *testing.T) {
		s, ok := CanonicalizeIntentParams(map[string]any{"x": math.NaN(), "y": 1})
		require.True(t, ok)
		assert.Equal(t, `{"y":1}`, s)
	})

	t.Run("circular structure is rejected", func(t *testing.T) {
		m := map[string]any{}
		m["self"] = m
		_, ok := CanonicalizeIntentParams(m)
		assert.False(t, ok)
	})

	t.Run("nil is null", func(t *testing.T) {
		s, ok := CanonicalizeIntentParams(nil)
		require.True(t, ok)
		assert.Equal(t, "null", s)
	})
}

func TestGoalKey(t *testing.T) {
	k1, ok := GoalKey("reach_iron_tools", map[string]any{"tier": "iron", "tools": []any{"pickaxe"}})
	require.True(t, ok)
	k2, ok := GoalKey("reach_iron_tools", map[string]any{"tools": []any{"pickaxe"}, "tier": "iron"})
	require.True(t, ok)
	assert.Equal(t, k1, k2)
	assert.Equal(t, `reach_iron_tools::{"tier":"iron","tools":["pickaxe"]}`, k1)

	m := map[string]any{}
	m["loop"] = m
	_, ok = GoalKey("g", m)
	assert.False(t, ok)
}
