package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness builds a fresh store and a way to move its clock forward.
type harness struct {
	store   Store
	advance func(time.Duration)
}

// runStoreContract checks the behaviour every backend must share.
func runStoreContract(t *testing.T, newHarness func(t *testing.T) harness) {
	ctx := context.Background()

	t.Run("set then get", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "draw:latest", "2024-01-01"))

		got, err := h.store.Get(ctx, "draw:latest")
		require.NoError(t, err)
		assert.Equal(t, "2024-01-01", got)
	})

	t.Run("get missing key", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.store.Get(ctx, "nonexistent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set overwrites", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "k", "one"))
		require.NoError(t, h.store.Set(ctx, "k", "two"))

		got, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", got)
	})

	t.Run("set with ttl expires", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetWithTTL(ctx, "session:9", "token", 1))

		got, err := h.store.Get(ctx, "session:9")
		require.NoError(t, err)
		assert.Equal(t, "token", got)

		h.advance(1100 * time.Millisecond)

		_, err = h.store.Get(ctx, "session:9")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set with non-positive ttl is rejected", func(t *testing.T) {
		h := newHarness(t)
		for _, ttl := range []int{0, -5} {
			err := h.store.SetWithTTL(ctx, "bad", "v", ttl)
			assert.Error(t, err, "ttl %d", ttl)
		}
		_, err := h.store.Get(ctx, "bad")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete and remove", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "a", "1"))
		require.NoError(t, h.store.Set(ctx, "b", "2"))

		require.NoError(t, h.store.Delete(ctx, "a"))
		require.NoError(t, h.store.Remove(ctx, "b"))
		// absent keys are a no-op
		require.NoError(t, h.store.Delete(ctx, "never-set"))

		for _, k := range []string{"a", "b", "never-set"} {
			_, err := h.store.Get(ctx, k)
			assert.ErrorIs(t, err, ErrNotFound, k)
		}
	})

	t.Run("increment", func(t *testing.T) {
		tests := []struct {
			name  string
			start *string
			delta int64
			want  int64
		}{
			{name: "absent key counts as zero", delta: 7, want: 7},
			{name: "existing value", start: strPtr("100"), delta: 5, want: 105},
			{name: "negative delta", start: strPtr("10"), delta: -15, want: -5},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t)
				if tt.start != nil {
					require.NoError(t, h.store.Set(ctx, "counter", *tt.start))
				}
				got, err := h.store.Increment(ctx, "counter", tt.delta)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("increment scenario", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "user:1:score", "100"))
		_, err := h.store.Increment(ctx, "user:1:score", 5)
		require.NoError(t, err)

		got, err := h.store.Get(ctx, "user:1:score")
		require.NoError(t, err)
		assert.Equal(t, "105", got)
	})

	t.Run("increment non-integer fails", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "name", "lotto"))
		_, err := h.store.Increment(ctx, "name", 1)
		assert.Error(t, err)
	})

	t.Run("get by prefix", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "ticket:1", "A"))
		require.NoError(t, h.store.Set(ctx, "ticket:2", "B"))
		require.NoError(t, h.store.Set(ctx, "other:1", "C"))

		got, err := h.store.GetByPrefix(ctx, "ticket:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "B"}, got)
	})

	t.Run("get by prefix without match is nil", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "other:1", "C"))

		got, err := h.store.GetByPrefix(ctx, "ticket:")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("del by prefix leaves other keys", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "ticket:1", "A"))
		require.NoError(t, h.store.SetHashSet(ctx, "ticket:set", "x"))
		require.NoError(t, h.store.Set(ctx, "other:1", "C"))

		require.NoError(t, h.store.DelByPrefix(ctx, "ticket:"))
		require.NoError(t, h.store.DelByPrefix(ctx, "nothing:"))

		_, err := h.store.Get(ctx, "ticket:1")
		assert.ErrorIs(t, err, ErrNotFound)
		members, err := h.store.GetHashSet(ctx, "ticket:set")
		require.NoError(t, err)
		assert.Empty(t, members)

		got, err := h.store.Get(ctx, "other:1")
		require.NoError(t, err)
		assert.Equal(t, "C", got)
	})

	t.Run("set collection", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetHashSet(ctx, "ips", "10.0.0.1"))
		require.NoError(t, h.store.SetHashSet(ctx, "ips", "10.0.0.2"))
		require.NoError(t, h.store.SetHashSet(ctx, "ips", "10.0.0.1"))

		members, err := h.store.GetHashSet(ctx, "ips")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, members)

		require.NoError(t, h.store.RemoveHashSet(ctx, "ips", "10.0.0.1"))
		require.NoError(t, h.store.RemoveHashSet(ctx, "ips", "not-a-member"))

		members, err = h.store.GetHashSet(ctx, "ips")
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.2"}, members)
	})

	t.Run("get missing set is empty", func(t *testing.T) {
		h := newHarness(t)
		members, err := h.store.GetHashSet(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("get set by prefix", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetHashSet(ctx, "ip:web", "1.1.1.1"))
		require.NoError(t, h.store.SetHashSet(ctx, "ip:web", "2.2.2.2"))
		require.NoError(t, h.store.SetHashSet(ctx, "ip:admin", "2.2.2.2"))
		require.NoError(t, h.store.SetHashSet(ctx, "ip:admin", "3.3.3.3"))
		require.NoError(t, h.store.SetHashSet(ctx, "blocked", "9.9.9.9"))

		got, err := h.store.GetSetByPrefix(ctx, "ip:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, got)

		none, err := h.store.GetSetByPrefix(ctx, "missing:")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("hash map scenario", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetHashMap(ctx, "draw:2024-01-01", "red", "A"))
		require.NoError(t, h.store.SetHashMap(ctx, "draw:2024-01-01", "blue", "B"))

		all, err := h.store.GetHashMaps(ctx, "draw:2024-01-01")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"red": "A", "blue": "B"}, all)

		got, err := h.store.GetHashMap(ctx, "draw:2024-01-01", "red")
		require.NoError(t, err)
		assert.Equal(t, "A", got)

		values, err := h.store.GetHashMapList(ctx, "draw:2024-01-01")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "B"}, values)
	})

	t.Run("hash field missing", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.store.GetHashMap(ctx, "draw:none", "red")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, h.store.SetHashMap(ctx, "draw:x", "red", "A"))
		_, err = h.store.GetHashMap(ctx, "draw:x", "green")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing hash lists are empty", func(t *testing.T) {
		h := newHarness(t)
		values, err := h.store.GetHashMapList(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, values)

		all, err := h.store.GetHashMaps(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("delete hash keys", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetHashMap(ctx, "lotto", "ssq", "1"))
		require.NoError(t, h.store.SetHashMap(ctx, "lotto", "dlt", "2"))
		require.NoError(t, h.store.SetHashMap(ctx, "lotto", "pl3", "3"))

		require.NoError(t, h.store.DeleteHashKeys(ctx, "lotto", "ssq", "pl3"))
		// guarded calls do nothing
		require.NoError(t, h.store.DeleteHashKeys(ctx, "lotto"))
		require.NoError(t, h.store.DeleteHashKeys(ctx, "  ", "dlt"))

		_, err := h.store.GetHashMap(ctx, "lotto", "ssq")
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := h.store.GetHashMaps(ctx, "lotto")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"dlt": "2"}, all)
	})

	t.Run("get hash keys by substring", func(t *testing.T) {
		h := newHarness(t)
		for _, f := range []string{"2024-01-01:ssq", "2024-01-02:ssq", "2024-01-01:dlt", "SSQ"} {
			require.NoError(t, h.store.SetHashMap(ctx, "results", f, "x"))
		}

		got, err := h.store.GetHashKeys(ctx, "results", "ssq")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"2024-01-01:ssq", "2024-01-02:ssq"}, got)

		got, err = h.store.GetHashKeys(ctx, "results", "nomatch")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("wrong type errors propagate", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetHashSet(ctx, "members", "a"))

		_, err := h.store.Get(ctx, "members")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNotFound))

		err = h.store.SetHashMap(ctx, "members", "f", "v")
		assert.Error(t, err)
	})
}

func strPtr(s string) *string { return &s }
