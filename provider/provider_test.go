package provider

import (
	"context"
	"encoding/xml"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callrelay/tenant"
)

func TestDeclineDocument(t *testing.T) {
	body, err := Decline("Sorry, this number is not in service.", "alice").Render()
	require.NoError(t, err)

	doc := string(body)
	assert.True(t, strings.HasPrefix(doc, xml.Header))
	assert.Contains(t, doc, `<Say voice="alice">Sorry, this number is not in service.</Say>`)
	assert.Contains(t, doc, `<Hangup></Hangup>`)
	assert.NotContains(t, doc, "<Dial")
	assert.Less(t, strings.Index(doc, "<Say"), strings.Index(doc, "<Hangup"))
}

func TestRouteDocument(t *testing.T) {
	resp := Route(RouteParams{
		TenantID:       "acme",
		From:           "5550001111",
		To:             "5551234567",
		StreamURL:      "wss://relay.example.com/stream",
		StatusCallback: "https://relay.example.com/voice/status",
		Identities:     []string{"op1", "op2"},
		RingTimeout:    25 * time.Second,
	})
	body, err := resp.Render()
	require.NoError(t, err)

	var got Response
	require.NoError(t, xml.Unmarshal(body, &got))
	require.Len(t, got.Starts, 2)
	for i, side := range []struct{ direction, track string }{
		{DirectionCaller, TrackInbound},
		{DirectionCallee, TrackOutbound},
	} {
		st := got.Starts[i].Stream
		assert.Equal(t, "wss://relay.example.com/stream", st.URL)
		assert.Equal(t, side.track, st.Track)
		assert.Equal(t, side.direction, st.Name)
		assert.Contains(t, st.Parameters, Parameter{Name: ParamDirection, Value: side.direction})
		assert.Contains(t, st.Parameters, Parameter{Name: ParamTenantID, Value: "acme"})
		assert.Contains(t, st.Parameters, Parameter{Name: ParamFrom, Value: "5550001111"})
		assert.Contains(t, st.Parameters, Parameter{Name: ParamTo, Value: "5551234567"})
	}

	require.NotNil(t, got.Dial)
	assert.Equal(t, 25, got.Dial.Timeout)
	assert.Equal(t, "do-not-record", got.Dial.Record)
	require.Len(t, got.Dial.Clients, 2)
	for i, id := range []string{"op1", "op2"} {
		c := got.Dial.Clients[i]
		assert.Equal(t, id, c.Identity)
		assert.Equal(t, StatusCallbackEvents, c.StatusCallbackEvent)
		assert.Equal(t, "POST", c.StatusCallbackMethod)
		u, err := url.Parse(c.StatusCallback)
		require.NoError(t, err)
		assert.Equal(t, "/voice/status", u.Path)
		assert.Equal(t, "acme", u.Query().Get("tenant"))
	}
	assert.Nil(t, got.Hangup)

	doc := string(body)
	assert.Less(t, strings.Index(doc, "<Start>"), strings.Index(doc, "<Dial"))
}

func TestStreamDirection(t *testing.T) {
	assert.Equal(t, DirectionCallee, StreamDirection("callee", []string{"inbound"}))
	assert.Equal(t, DirectionCaller, StreamDirection("caller", nil))
	assert.Equal(t, DirectionCallee, StreamDirection("", []string{"outbound"}))
	assert.Equal(t, DirectionCaller, StreamDirection("", []string{"inbound"}))
	assert.Equal(t, DirectionCaller, StreamDirection("sideways", []string{"inbound", "outbound"}))
}

func TestRouteWithoutConsolesDialsNobody(t *testing.T) {
	body, err := Route(RouteParams{
		TenantID:    "acme",
		StreamURL:   "wss://relay.example.com/stream",
		RingTimeout: 20 * time.Second,
	}).Render()
	require.NoError(t, err)

	var got Response
	require.NoError(t, xml.Unmarshal(body, &got))
	require.NotNil(t, got.Dial)
	assert.Empty(t, got.Dial.Clients)
	assert.Equal(t, 20, got.Dial.Timeout)
}

func TestRouteRecording(t *testing.T) {
	resp := Route(RouteParams{TenantID: "acme", Record: true})
	assert.Equal(t, "record-from-answer-dual", resp.Dial.Record)
}

func TestIssueToken(t *testing.T) {
	cfg := &tenant.Config{
		ID:         "acme",
		AccountSID: "AC123",
		APIKeySID:  "SK456",
		APISecret:  "shh",
		AppSID:     "AP789",
	}
	now := time.Now()
	signed, err := IssueToken(cfg, "op1", time.Hour, now)
	require.NoError(t, err)

	claims := &AccessClaims{}
	tok, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return []byte("shh"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.Equal(t, "twilio-fpa;v=1", tok.Header["cty"])
	assert.Equal(t, "op1", claims.Grants.Identity)
	assert.True(t, claims.Grants.Voice.Incoming.Allow)
	require.NotNil(t, claims.Grants.Voice.Outgoing)
	assert.Equal(t, "AP789", claims.Grants.Voice.Outgoing.ApplicationSID)
	assert.Equal(t, "SK456", claims.Issuer)
	assert.Equal(t, "AC123", claims.Subject)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestIssueTokenNeedsAPIKey(t *testing.T) {
	_, err := IssueToken(&tenant.Config{ID: "acme", AccountSID: "AC1"}, "op1", time.Hour, time.Now())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []string{"completed", "canceled", "busy", "failed", "no-answer", "Completed"} {
		assert.Truef(t, IsTerminalStatus(s), "status %s", s)
	}
	for _, s := range []string{"queued", "initiated", "ringing", "in-progress", ""} {
		assert.Falsef(t, IsTerminalStatus(s), "status %s", s)
	}
	assert.True(t, Leg{Status: "busy"}.Terminal())
}

func TestClientIdentity(t *testing.T) {
	assert.Equal(t, "op1", ClientIdentity("client:op1"))
	assert.Equal(t, "", ClientIdentity("+15551234567"))
}

func TestTwilioDirectoryRequiresCredentials(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	store := tenant.NewMemoryStore(
		tenant.Config{ID: "bare", AccountSID: "AC1"},
		tenant.Config{ID: "acme", AccountSID: "AC2", AuthToken: "tok"},
	)
	dir := NewTwilioDirectory(store, logrus.NewEntry(l))
	ctx := context.Background()

	_, err := dir.Control(ctx, "bare")
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = dir.Control(ctx, "missing")
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	a, err := dir.Control(ctx, "acme")
	require.NoError(t, err)
	b, err := dir.Control(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, a, b)
}
