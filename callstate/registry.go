// Package callstate keeps the lifecycle of in-flight calls keyed by their
// canonical id. Provider signals arrive at least once and possibly out of
// order, so every operation is idempotent and Ended is terminal.
package callstate

import (
	"maps"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the lifecycle stage of a call. Values are ordered.
type Status int

const (
	Ringing Status = iota + 1
	Active
	Ended
)

func (s Status) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// CanonicalID keys a call across all of its legs: the parent leg when there
// is one, otherwise the leg itself.
func CanonicalID(legID, parentLegID string) string {
	if parentLegID != "" {
		return parentLegID
	}
	return legID
}

// Session is the state of one logical call.
type Session struct {
	ID         string
	TenantID   string
	From       string
	To         string
	Status     Status
	AnsweredBy string
	Legs       map[string]struct{}

	// Finished holds child legs that ended without ending the call.
	Finished map[string]struct{}

	CreatedAt time.Time
	UpdatedAt  time.Time
}

func (s *Session) clone() Session {
	c := *s
	c.Legs = maps.Clone(s.Legs)
	c.Finished = maps.Clone(s.Finished)
	return c
}

// Update is a requested state change for a call.
type Update struct {
	ID         string
	LegID      string
	TenantID   string
	Status     Status
	AnsweredBy string

	// LegIdentity is the console a child leg rang, when known. A terminal
	// update from such a leg only retires that leg when another console
	// answered the call, or while the call still rings on other legs.
	LegIdentity string
}

// DefaultTombstoneTTL is how long a cleared call keeps rejecting late signals.
const DefaultTombstoneTTL = 10 * time.Minute

// Registry holds every live call session.
type Registry struct {
	log          *logrus.Entry
	tombstoneTTL time.Duration
	now          func() time.Time

	mu         sync.Mutex
	sessions   map[string]*Session
	tombstones map[string]time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logrus.Entry, tombstoneTTL time.Duration) *Registry {
	if tombstoneTTL <= 0 {
		tombstoneTTL = DefaultTombstoneTTL
	}
	return &Registry{
		log:          log,
		tombstoneTTL: tombstoneTTL,
		now:          time.Now,
		sessions:     make(map[string]*Session),
		tombstones:   make(map[string]time.Time),
	}
}

// Create records a new Ringing session. It returns false when the call is
// already known or was recently cleared.
func (r *Registry) Create(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		r.log.Debugf("call %s already tracked", s.ID)
		return false
	}
	if r.tombstonedLocked(s.ID) {
		r.log.Warnf("call %s: inbound signal after call ended, ignoring", s.ID)
		return false
	}
	now := r.now()
	sess := &Session{
		ID:        s.ID,
		TenantID:  s.TenantID,
		From:      s.From,
		To:        s.To,
		Status:    Ringing,
		Legs:      map[string]struct{}{s.ID: {}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for leg := range s.Legs {
		sess.Legs[leg] = struct{}{}
	}
	r.sessions[s.ID] = sess
	return true
}

// Upsert applies u. Status only moves forward and Ended always wins; an
// update against an ended or cleared call is dropped. When the update is an
// actual transition, onTransition (if non-nil) runs with the new state while
// the registry lock is held, which keeps notifications for one call in the
// order the transitions happened. Upsert reports whether it transitioned.
func (r *Registry) Upsert(u Update, onTransition func(Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tombstonedLocked(u.ID) {
		r.log.Infof("call %s: %s after call ended (duplicate or late delivery)", u.ID, u.Status)
		return false
	}

	now := r.now()
	sess, ok := r.sessions[u.ID]
	if !ok {
		sess = &Session{ID: u.ID, TenantID: u.TenantID, Legs: map[string]struct{}{u.ID: {}}, CreatedAt: now}
		r.sessions[u.ID] = sess
		r.log.Debugf("call %s: first seen with %s", u.ID, u.Status)
	}
	if u.LegID != "" {
		sess.Legs[u.LegID] = struct{}{}
	}
	if sess.TenantID == "" {
		sess.TenantID = u.TenantID
	}

	switch {
	case sess.Status == Ended:
		r.log.Infof("call %s: %s after ended, ignoring", u.ID, u.Status)
		return false
	case r.retireLocked(sess, u):
		r.log.Debugf("call %s: leg %s (%s) finished while %s", u.ID, u.LegID, u.LegIdentity, sess.Status)
		return false
	case u.Status <= sess.Status:
		r.log.Debugf("call %s: stale %s while %s", u.ID, u.Status, sess.Status)
		return false
	}

	sess.Status = u.Status
	sess.UpdatedAt = now
	if u.AnsweredBy != "" && sess.AnsweredBy == "" {
		sess.AnsweredBy = u.AnsweredBy
	}
	if onTransition != nil {
		onTransition(sess.clone())
	}
	return true
}

// retireLocked reports whether the terminal update u only finishes one
// console's leg of sess, and marks that leg finished if so.
func (r *Registry) retireLocked(sess *Session, u Update) bool {
	if u.Status != Ended || u.LegID == "" || u.LegID == u.ID || u.LegIdentity == "" {
		return false
	}
	switch sess.Status {
	case Active:
		if sess.AnsweredBy == "" || u.LegIdentity == sess.AnsweredBy {
			return false
		}
	case Ringing:
		if !outstanding(sess, u.LegID) {
			return false
		}
	default:
		return false
	}
	if sess.Finished == nil {
		sess.Finished = make(map[string]struct{})
	}
	sess.Finished[u.LegID] = struct{}{}
	return true
}

// outstanding reports whether a child leg other than except is still live.
func outstanding(sess *Session, except string) bool {
	for leg := range sess.Legs {
		if leg == sess.ID || leg == except {
			continue
		}
		if _, done := sess.Finished[leg]; !done {
			return true
		}
	}
	return false
}

// AddLeg records legID as belonging to the call id.
func (r *Registry) AddLeg(id, legID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.Legs[legID] = struct{}{}
	}
}

// Owner returns the id of the live call legID belongs to.
func (r *Registry) Owner(legID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[legID]; ok {
		return legID, true
	}
	for id, sess := range r.sessions {
		if _, ok := sess.Legs[legID]; ok {
			return id, true
		}
	}
	return "", false
}

// Lookup returns a copy of the session for id.
func (r *Registry) Lookup(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Clear removes the session for id and remembers the id as finished so
// late signals for it are ignored.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	r.tombstones[id] = r.now().Add(r.tombstoneTTL)
	r.pruneLocked()
}

// Ended reports whether id is ended or was cleared.
func (r *Registry) Ended(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tombstonedLocked(id) {
		return true
	}
	sess, ok := r.sessions[id]
	return ok && sess.Status == Ended
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) tombstonedLocked(id string) bool {
	exp, ok := r.tombstones[id]
	if !ok {
		return false
	}
	if r.now().After(exp) {
		delete(r.tombstones, id)
		return false
	}
	return true
}

func (r *Registry) pruneLocked() {
	now := r.now()
	for id, exp := range r.tombstones {
		if now.After(exp) {
			delete(r.tombstones, id)
		}
	}
}
