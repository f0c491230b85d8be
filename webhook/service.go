// Package webhook is the HTTP ingress for provider callbacks and console
// commands. It ties routing, call state, console presence and broadcasting
// together.
package webhook

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"callrelay/callstate"
	"callrelay/clients"
	"callrelay/event"
	"callrelay/mediastream"
	"callrelay/provider"
	"callrelay/tenant"
	"callrelay/transcribe"
)

// AnsweredBySource selects where the answering console identity comes from.
type AnsweredBySource string

const (
	// AnsweredByProvider derives the identity from the answered leg's
	// destination address ("client:<identity>").
	AnsweredByProvider AnsweredBySource = "provider"

	// AnsweredByClient leaves the identity to the console's answered
	// notification.
	AnsweredByClient AnsweredBySource = "client"
)

// ParseAnsweredBySource maps a setting value to a source, defaulting to
// AnsweredByProvider.
func ParseAnsweredBySource(s string) AnsweredBySource {
	if strings.EqualFold(strings.TrimSpace(s), string(AnsweredByClient)) {
		return AnsweredByClient
	}
	return AnsweredByProvider
}

// Resolver maps a dialed number to its tenant.
type Resolver interface {
	Resolve(ctx context.Context, number string) (string, bool)
}

// Roster lists connected consoles.
type Roster interface {
	ListConnected(tenantID string) []string
	Lookup(identity string) (clients.Binding, bool)
	Len() int
}

// Broadcaster fans an event out to a tenant's consoles.
type Broadcaster interface {
	Broadcast(tenantID string, ev event.Event) int
}

// Config holds the ingress settings.
type Config struct {
	// PublicURL is the externally reachable base URL of this service; status
	// callbacks are registered against it.
	PublicURL string

	// StreamURL is the websocket URL the provider streams call audio to.
	StreamURL string

	RingTimeout    time.Duration
	Record         bool
	DeclineMessage string
	DeclineVoice   string
	AnsweredBy     AnsweredBySource
	TokenTTL       time.Duration

	// ControlTimeout bounds the provider API calls of one decline command.
	ControlTimeout time.Duration
}

// Service implements the ingress operations.
type Service struct {
	cfg      Config
	routes   Resolver
	calls    *callstate.Registry
	consoles Roster
	events   Broadcaster
	tenants  tenant.Store
	control  provider.Directory
	log      *logrus.Entry
	now      func() time.Time
}

// Deps are the collaborators of a Service.
type Deps struct {
	Routes   Resolver
	Calls    *callstate.Registry
	Consoles Roster
	Events   Broadcaster
	Tenants  tenant.Store
	Control  provider.Directory
}

// NewService creates the ingress service.
func NewService(cfg Config, deps Deps, log *logrus.Entry) *Service {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 30 * time.Second
	}
	if cfg.DeclineMessage == "" {
		cfg.DeclineMessage = "We're sorry, this number is not in service. Goodbye."
	}
	if cfg.AnsweredBy == "" {
		cfg.AnsweredBy = AnsweredByProvider
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = 10 * time.Second
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Service{
		cfg:      cfg,
		routes:   deps.Routes,
		calls:    deps.Calls,
		consoles: deps.Consoles,
		events:   deps.Events,
		tenants:  deps.Tenants,
		control:  deps.Control,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) statusCallbackURL() string {
	return s.cfg.PublicURL + PathStatus
}

func lifecycle(k event.Kind, sess callstate.Session) event.Event {
	ev := event.New(k, sess.TenantID, sess.ID)
	ev.From = sess.From
	ev.To = sess.To
	ev.AnsweredBy = sess.AnsweredBy
	return ev
}

// activate moves a call to Active and announces the transition.
func (s *Service) activate(u callstate.Update) bool {
	u.Status = callstate.Active
	return s.calls.Upsert(u, func(sess callstate.Session) {
		s.events.Broadcast(sess.TenantID, lifecycle(event.CallActive, sess))
	})
}

// end moves a call to Ended, announces the transition and clears the
// session once it is ended.
func (s *Service) end(u callstate.Update) bool {
	u.Status = callstate.Ended
	defer func() {
		if s.calls.Ended(u.ID) {
			s.calls.Clear(u.ID)
		}
	}()
	return s.calls.Upsert(u, func(sess callstate.Session) {
		s.events.Broadcast(sess.TenantID, lifecycle(event.CallEnded, sess))
	})
}

// StreamStopped ends the call whose media stream stopped, unless it has
// already ended.
func (s *Service) StreamStopped(info mediastream.StartInfo) {
	if info.CallSID == "" {
		return
	}
	if s.end(callstate.Update{ID: info.CallSID, TenantID: info.TenantID}) {
		s.log.Infof("call %s ended with its media stream %s", info.CallSID, info.StreamID)
	}
}

// Transcript announces a transcribed block of call audio.
func (s *Service) Transcript(b transcribe.Block, text string) {
	if b.TenantID == "" {
		return
	}
	ev := event.New(event.Transcript, b.TenantID, b.CallSID)
	ev.Direction = b.Direction
	ev.Text = text
	s.events.Broadcast(b.TenantID, ev)
}
