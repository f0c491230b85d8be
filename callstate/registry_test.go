package callstate

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewRegistry(logrus.NewEntry(l), time.Minute)
}

func TestCanonicalID(t *testing.T) {
	pairs := []struct{ leg, parent, want string }{
		{"CA1", "", "CA1"},
		{"CA2", "CA1", "CA1"},
		{"CA1", "CA1", "CA1"},
		{"", "CA9", "CA9"},
	}
	for _, p := range pairs {
		assert.Equal(t, p.want, CanonicalID(p.leg, p.parent))
	}
}

func TestLifecycleTransitionsOnce(t *testing.T) {
	r := newTestRegistry()
	require.True(t, r.Create(Session{ID: "CA1", TenantID: "acme", From: "5550001111", To: "5551234567"}))
	require.False(t, r.Create(Session{ID: "CA1", TenantID: "acme"}))

	var seen []Status
	record := func(s Session) { seen = append(seen, s.Status) }

	assert.False(t, r.Upsert(Update{ID: "CA1", Status: Ringing}, record))
	assert.True(t, r.Upsert(Update{ID: "CA1", LegID: "CA2", Status: Active, AnsweredBy: "op1"}, record))
	assert.False(t, r.Upsert(Update{ID: "CA1", Status: Active, AnsweredBy: "op2"}, record))

	s, ok := r.Lookup("CA1")
	require.True(t, ok)
	assert.Equal(t, Active, s.Status)
	assert.Equal(t, "op1", s.AnsweredBy)
	assert.Contains(t, s.Legs, "CA2")

	assert.True(t, r.Upsert(Update{ID: "CA1", Status: Ended}, record))
	assert.False(t, r.Upsert(Update{ID: "CA1", Status: Ended}, record))
	assert.Equal(t, []Status{Active, Ended}, seen)
}

func TestEndedIsSticky(t *testing.T) {
	r := newTestRegistry()
	r.Create(Session{ID: "CA1", TenantID: "acme"})
	require.True(t, r.Upsert(Update{ID: "CA1", Status: Ended}, nil))

	assert.False(t, r.Upsert(Update{ID: "CA1", Status: Active, AnsweredBy: "op1"}, nil))
	s, ok := r.Lookup("CA1")
	require.True(t, ok)
	assert.Equal(t, Ended, s.Status)
	assert.Empty(t, s.AnsweredBy)
	assert.True(t, r.Ended("CA1"))
}

func TestEndedWinsFromRinging(t *testing.T) {
	r := newTestRegistry()
	r.Create(Session{ID: "CA1", TenantID: "acme"})
	assert.True(t, r.Upsert(Update{ID: "CA1", Status: Ended}, nil))
}

func TestClearTombstonesID(t *testing.T) {
	r := newTestRegistry()
	r.Create(Session{ID: "CA1", TenantID: "acme"})
	require.True(t, r.Upsert(Update{ID: "CA1", Status: Ended}, nil))
	r.Clear("CA1")

	_, ok := r.Lookup("CA1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	called := false
	assert.False(t, r.Upsert(Update{ID: "CA1", Status: Ended}, func(Session) { called = true }))
	assert.False(t, called)
	assert.False(t, r.Create(Session{ID: "CA1", TenantID: "acme"}))
	assert.Equal(t, 0, r.Len())
}

func TestTombstoneExpires(t *testing.T) {
	r := newTestRegistry()
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }

	r.Clear("CA1")
	assert.True(t, r.Ended("CA1"))

	now = now.Add(2 * time.Minute)
	assert.False(t, r.Ended("CA1"))
	assert.True(t, r.Create(Session{ID: "CA1", TenantID: "acme"}))
}

func TestUpsertUnknownCreates(t *testing.T) {
	r := newTestRegistry()
	assert.True(t, r.Upsert(Update{ID: "CA7", TenantID: "acme", Status: Active, AnsweredBy: "op1"}, nil))
	s, ok := r.Lookup("CA7")
	require.True(t, ok)
	assert.Equal(t, "acme", s.TenantID)
	assert.Equal(t, Active, s.Status)
}

func TestLookupReturnsCopy(t *testing.T) {
	r := newTestRegistry()
	r.Create(Session{ID: "CA1", TenantID: "acme"})
	s, _ := r.Lookup("CA1")
	s.Legs["CAx"] = struct{}{}
	s2, _ := r.Lookup("CA1")
	assert.NotContains(t, s2.Legs, "CAx")
}

func TestAddLeg(t *testing.T) {
	r := newTestRegistry()
	r.Create(Session{ID: "CA1", TenantID: "acme"})
	r.AddLeg("CA1", "CA2")
	r.AddLeg("missing", "CA3")
	s, _ := r.Lookup("CA1")
	assert.Len(t, s.Legs, 2)
	assert.Equal(t, 1, r.Len())
}

func TestLosingSiblingLegDoesNotEndCall(t *testing.T) {
	r := newTestRegistry()
	require.True(t, r.Create(Session{ID: "CA1", TenantID: "acme"}))
	require.True(t, r.Upsert(Update{ID: "CA1", LegID: "CA2", Status: Active, AnsweredBy: "op1"}, nil))

	assert.False(t, r.Upsert(Update{ID: "CA1", LegID: "CA3", Status: Ended, LegIdentity: "op2"}, nil))
	assert.False(t, r.Ended("CA1"))
	s, _ := r.Lookup("CA1")
	assert.Contains(t, s.Legs, "CA3")

	assert.True(t, r.Upsert(Update{ID: "CA1", LegID: "CA2", Status: Ended, LegIdentity: "op1"}, nil))
	assert.True(t, r.Ended("CA1"))
}

func TestSiblingRuleNeedsKnownIdentities(t *testing.T) {
	r := newTestRegistry()
	require.True(t, r.Create(Session{ID: "CA1"}))
	require.True(t, r.Upsert(Update{ID: "CA1", LegID: "CA2", Status: Active}, nil))

	// Without an answerer on record the terminal leg ends the call.
	assert.True(t, r.Upsert(Update{ID: "CA1", LegID: "CA3", Status: Ended, LegIdentity: "op2"}, nil))
}

func TestFailedLegWhileRingingKeepsOtherConsolesRinging(t *testing.T) {
	r := newTestRegistry()
	require.True(t, r.Create(Session{ID: "CA1", TenantID: "acme"}))
	r.AddLeg("CA1", "CA2")
	r.AddLeg("CA1", "CA3")

	assert.False(t, r.Upsert(Update{ID: "CA1", LegID: "CA3", Status: Ended, LegIdentity: "op2"}, nil))
	s, ok := r.Lookup("CA1")
	require.True(t, ok)
	assert.Equal(t, Ringing, s.Status)
	assert.Contains(t, s.Finished, "CA3")

	// A redelivery of the same leg's status changes nothing.
	assert.False(t, r.Upsert(Update{ID: "CA1", LegID: "CA3", Status: Ended, LegIdentity: "op2"}, nil))
	assert.True(t, r.Upsert(Update{ID: "CA1", LegID: "CA2", Status: Active, AnsweredBy: "op1"}, nil))
}

func TestLastRingingLegEndsCall(t *testing.T) {
	r := newTestRegistry()
	require.True(t, r.Create(Session{ID: "CA1", TenantID: "acme"}))
	r.AddLeg("CA1", "CA2")
	r.AddLeg("CA1", "CA3")

	assert.False(t, r.Upsert(Update{ID: "CA1", LegID: "CA3", Status: Ended, LegIdentity: "op2"}, nil))
	assert.True(t, r.Upsert(Update{ID: "CA1", LegID: "CA2", Status: Ended, LegIdentity: "op1"}, nil))
	assert.True(t, r.Ended("CA1"))
}

func TestParentLegEndsRingingCall(t *testing.T) {
	r := newTestRegistry()
	require.True(t, r.Create(Session{ID: "CA1", TenantID: "acme"}))
	r.AddLeg("CA1", "CA2")

	assert.True(t, r.Upsert(Update{ID: "CA1", LegID: "CA1", Status: Ended}, nil))
	assert.True(t, r.Ended("CA1"))
}

func TestOwner(t *testing.T) {
	r := newTestRegistry()
	require.True(t, r.Create(Session{ID: "CA1"}))
	r.AddLeg("CA1", "CA2")

	id, ok := r.Owner("CA2")
	require.True(t, ok)
	assert.Equal(t, "CA1", id)

	id, ok = r.Owner("CA1")
	require.True(t, ok)
	assert.Equal(t, "CA1", id)

	_, ok = r.Owner("CA9")
	assert.False(t, ok)
}
