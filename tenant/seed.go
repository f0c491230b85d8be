package tenant

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// SeedFile is the on-disk layout of a tenants file:
//
//	tenants:
//	  - id: acme
//	    account_sid: AC...
//	    numbers: ["+15551234567"]
type SeedFile struct {
	Tenants []Config `yaml:"tenants"`
}

// ParseSeed decodes a tenants file and validates every entry.
func ParseSeed(data []byte) ([]Config, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tenants: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Tenants))
	for i := range f.Tenants {
		c := &f.Tenants[i]
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("tenants[%d]: %w", i, err)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("tenants[%d]: duplicate id %s", i, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return f.Tenants, nil
}

// Import loads a tenants file into the store and returns how many
// configurations were written.
func Import(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read tenants: %w", err)
	}
	cfgs, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}
	for i, c := range cfgs {
		if err := store.Put(ctx, c); err != nil {
			return i, fmt.Errorf("store tenant %s: %w", c.ID, err)
		}
	}
	return len(cfgs), nil
}
