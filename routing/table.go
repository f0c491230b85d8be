// Package routing maps dialed numbers to the tenant that owns them.
package routing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callrelay/tenant"
)

// NormalizeNumber keeps only the digits of s and drops the leading country
// code from 11-digit numbers starting with 1, so "+1 (555) 123-4567" and
// "5551234567" compare equal.
func NormalizeNumber(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n := b.String()
	if len(n) == 11 && n[0] == '1' {
		return n[1:]
	}
	return n
}

// Table stores the reverse index from normalized number to tenant id.
type Table struct {
	store tenant.Store
	log   *logrus.Entry

	mu       sync.RWMutex
	byNumber map[string]string

	refreshMu sync.Mutex
}

// NewTable creates an empty table backed by store. Call Refresh to load it.
func NewTable(store tenant.Store, log *logrus.Entry) *Table {
	return &Table{
		store:    store,
		log:      log,
		byNumber: make(map[string]string),
	}
}

// Refresh rebuilds the index from the tenant store.
func (t *Table) Refresh(ctx context.Context) error {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	cfgs, err := t.store.List(ctx)
	if err != nil {
		return err
	}
	t.Set(cfgs)
	return nil
}

// Set replaces the index with the numbers owned by cfgs. Tenants are taken
// in the given order; the first tenant to claim a number keeps it.
func (t *Table) Set(cfgs []tenant.Config) {
	index := make(map[string]string)
	for _, c := range cfgs {
		for _, raw := range c.Numbers {
			n := NormalizeNumber(raw)
			if n == "" {
				continue
			}
			if owner, ok := index[n]; ok {
				if owner != c.ID {
					t.log.Warnf("number %s claimed by both %s and %s; keeping %s", n, owner, c.ID, owner)
				}
				continue
			}
			index[n] = c.ID
		}
	}

	t.mu.Lock()
	t.byNumber = index
	t.mu.Unlock()
	t.log.Debugf("routing table loaded: %d numbers from %d tenants", len(index), len(cfgs))
}

// Lookup returns the tenant owning number from the current index only.
func (t *Table) Lookup(number string) (string, bool) {
	n := NormalizeNumber(number)
	if n == "" {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byNumber[n]
	return id, ok
}

// Resolve returns the tenant owning number. A miss triggers one reload of
// the store so numbers added since the last refresh resolve immediately.
func (t *Table) Resolve(ctx context.Context, number string) (string, bool) {
	if id, ok := t.Lookup(number); ok {
		return id, true
	}
	if NormalizeNumber(number) == "" {
		return "", false
	}
	if err := t.Refresh(ctx); err != nil {
		t.log.Warnf("routing refresh on miss failed: %v", err)
		return "", false
	}
	return t.Lookup(number)
}

// Len returns the number of indexed numbers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byNumber)
}

// Run refreshes the table every interval until ctx is canceled.
func (t *Table) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				t.log.Warnf("routing refresh failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
