package tenant

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
tenants:
  - id: beta
    name: Beta Plumbing
    account_sid: AC0000000000000000000000000000beta
    auth_token: secret-b
    numbers: ["+15550000002"]
  - id: acme
    name: Acme Dental
    account_sid: AC0000000000000000000000000000acme
    auth_token: secret-a
    api_key_sid: SK0000000000000000000000000000acme
    api_secret: keysecret
    app_sid: AP0000000000000000000000000000acme
    numbers: ["+15551234567", "5559876543"]
`

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerPutGet(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	cfg := Config{ID: "acme", AccountSID: "AC1", Numbers: []string{"+15551234567"}}
	require.NoError(t, s.Put(ctx, cfg))

	got, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerListIsOrderedByID(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	for _, id := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, s.Put(ctx, Config{ID: id, AccountSID: "AC" + id}))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "mike", list[1].ID)
	assert.Equal(t, "zulu", list[2].ID)
}

func TestPutRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, NewMemoryStore().Put(ctx, Config{AccountSID: "AC1"}))
	assert.Error(t, NewMemoryStore().Put(ctx, Config{ID: "a:b", AccountSID: "AC1"}))
	assert.Error(t, openTestBadger(t).Put(ctx, Config{ID: "acme"}))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{ID: "acme", AccountSID: "AC1", Numbers: []string{"1"}})

	got, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	got.Numbers[0] = "mutated"

	again, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "1", again.Numbers[0])
}

func TestParseSeed(t *testing.T) {
	cfgs, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "beta", cfgs[0].ID)
	assert.Equal(t, "AP0000000000000000000000000000acme", cfgs[1].AppSID)
	assert.Equal(t, []string{"+15551234567", "5559876543"}, cfgs[1].Numbers)
}

func TestParseSeedRejectsDuplicates(t *testing.T) {
	_, err := ParseSeed([]byte(`
tenants:
  - id: acme
    account_sid: AC1
  - id: acme
    account_sid: AC2
`))
	assert.ErrorContains(t, err, "duplicate id acme")
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	s := openTestBadger(t)
	n, err := Import(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "acme", list[0].ID)
}
