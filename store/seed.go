package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Seed is a development data set applied through the Store interface.
//
//	{
//	  "strings": [{"key": "draw:latest", "value": "2024-01-01", "ttl": 0}],
//	  "sets":    {"draw:numbers:2024-01-01": ["03", "17"]},
//	  "hashes":  {"draw:2024-01-01": {"red": "A", "blue": "B"}}
//	}
type Seed struct {
	Strings []SeedString                 `json:"strings"`
	Sets    map[string][]string          `json:"sets"`
	Hashes  map[string]map[string]string `json:"hashes"`
}

// SeedString is one string value. A positive TTL is applied with SetWithTTL.
type SeedString struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	TTL   int    `json:"ttl,omitempty"`
}

// LoadSeed reads a JSON seed file. An empty path yields an empty seed.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return &Seed{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("seed: decode %s: %w", path, err)
	}
	return &seed, nil
}

// Apply writes every entry of the seed into s.
func (sd *Seed) Apply(ctx context.Context, s Store) error {
	for _, e := range sd.Strings {
		if e.Key == "" {
			return fmt.Errorf("seed: string entry missing key")
		}
		var err error
		if e.TTL > 0 {
			err = s.SetWithTTL(ctx, e.Key, e.Value, e.TTL)
		} else {
			err = s.Set(ctx, e.Key, e.Value)
		}
		if err != nil {
			return fmt.Errorf("seed: set %s: %w", e.Key, err)
		}
	}
	for key, members := range sd.Sets {
		for _, m := range members {
			if err := s.SetHashSet(ctx, key, m); err != nil {
				return fmt.Errorf("seed: add %s to set %s: %w", m, key, err)
			}
		}
	}
	for key, fields := range sd.Hashes {
		for f, v := range fields {
			if err := s.SetHashMap(ctx, key, f, v); err != nil {
				return fmt.Errorf("seed: put %s.%s: %w", key, f, err)
			}
		}
	}
	return nil
}
