package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeedAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	data := `{
		"strings": [
			{"key": "draw:latest", "value": "2024-01-01"},
			{"key": "session:1", "value": "tok", "ttl": 60}
		],
		"sets": {"ip:web": ["1.1.1.1", "2.2.2.2"]},
		"hashes": {"draw:2024-01-01": {"red": "A", "blue": "B"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()
	require.NoError(t, seed.Apply(ctx, ms))

	got, err := ms.Get(ctx, "draw:latest")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", got)

	members, err := ms.GetHashSet(ctx, "ip:web")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.1.1.1", "2.2.2.2"}, members)

	all, err := ms.GetHashMaps(ctx, "draw:2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"red": "A", "blue": "B"}, all)

	ms.mu.Lock()
	hasTTL := !ms.data["session:1"].expiration.IsZero()
	ms.mu.Unlock()
	assert.True(t, hasTTL)
}

func TestLoadSeedEmptyPath(t *testing.T) {
	seed, err := LoadSeed("")
	require.NoError(t, err)
	assert.Empty(t, seed.Strings)
}

func TestLoadSeedBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := LoadSeed(path)
	assert.Error(t, err)
}

func TestSeedMissingKey(t *testing.T) {
	seed := &Seed{Strings: []SeedString{{Value: "orphan"}}}
	ms := NewMemoryStore()
	defer ms.Close()

	assert.Error(t, seed.Apply(context.Background(), ms))
}
