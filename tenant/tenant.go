// Package tenant holds the per-project telephony configuration: provider
// credentials, owned numbers and the outbound application used by operator
// consoles. The store is read-only from the call-routing path.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no configuration exists for a tenant id.
var ErrNotFound = errors.New("tenant: not found")

// Config is the telephony configuration of one tenant.
type Config struct {
	ID         string   `msgpack:"id" yaml:"id"`
	Name       string   `msgpack:"name" yaml:"name"`
	AccountSID string   `msgpack:"account_sid" yaml:"account_sid"`
	AuthToken  string   `msgpack:"auth_token" yaml:"auth_token"`
	APIKeySID  string   `msgpack:"api_key_sid" yaml:"api_key_sid"`
	APISecret  string   `msgpack:"api_secret" yaml:"api_secret"`
	AppSID     string   `msgpack:"app_sid" yaml:"app_sid"`
	Numbers    []string `msgpack:"numbers" yaml:"numbers"`
}

// Validate checks the fields every code path relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("tenant: id is required")
	}
	if strings.ContainsRune(c.ID, keySeparator) {
		return fmt.Errorf("tenant %s: id must not contain %q", c.ID, keySeparator)
	}
	if c.AccountSID == "" {
		return fmt.Errorf("tenant %s: account_sid is required", c.ID)
	}
	return nil
}

// Store looks up tenant configurations.
type Store interface {
	// Get returns the configuration for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Config, error)

	// List returns every configuration ordered by tenant id.
	List(ctx context.Context) ([]Config, error)

	// Put creates or replaces a configuration.
	Put(ctx context.Context, cfg Config) error

	// Close releases resources held by the store.
	Close() error
}
