// Package clients tracks the operator consoles connected for each tenant and
// reaps consoles that stop answering heartbeats.
package clients

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callrelay/event"
)

// DefaultMaxMissed is how many consecutive unanswered pings close a console.
const DefaultMaxMissed = 2

// Conn is a live console connection.
type Conn interface {
	// Send queues ev for delivery. Events sent on one Conn are delivered in order.
	Send(ev event.Event) error

	// Ping asks the console to acknowledge liveness.
	Ping() error

	// Close terminates the connection.
	Close() error
}

// Binding is a snapshot of one registered console.
type Binding struct {
	Identity      string
	TenantID      string
	Conn          Conn
	Alive         bool
	LastHeartbeat time.Time
}

type entry struct {
	tenantID string
	conn     Conn
	missed   int
	lastAck  time.Time
}

// Registry maps tenants to connected operator identities. One mutex guards
// the whole map so every read sees a consistent snapshot.
type Registry struct {
	log       *logrus.Entry
	maxMissed int
	now       func() time.Time

	mu         sync.Mutex
	byIdentity map[string]*entry
	byTenant   map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logrus.Entry, maxMissed int) *Registry {
	if maxMissed <= 0 {
		maxMissed = DefaultMaxMissed
	}
	return &Registry{
		log:        log,
		maxMissed:  maxMissed,
		now:        time.Now,
		byIdentity: make(map[string]*entry),
		byTenant:   make(map[string][]string),
	}
}

// Register binds identity to tenantID over conn, dropping any earlier
// binding of the same identity first.
func (r *Registry) Register(tenantID, identity string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byIdentity[identity]; ok {
		r.removeLocked(identity, prev.tenantID)
		if prev.tenantID != tenantID {
			r.log.Infof("identity %s moved from tenant %s to %s", identity, prev.tenantID, tenantID)
		} else if prev.conn != conn {
			r.log.Infof("identity %s reconnected under tenant %s", identity, tenantID)
		}
	}
	r.byIdentity[identity] = &entry{tenantID: tenantID, conn: conn, lastAck: r.now()}
	r.byTenant[tenantID] = append(r.byTenant[tenantID], identity)
	r.log.Debugf("registered %s under tenant %s", identity, tenantID)
}

// Unregister removes identity. It reports whether a binding existed.
func (r *Registry) Unregister(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byIdentity[identity]
	if !ok {
		return false
	}
	r.removeLocked(identity, e.tenantID)
	return true
}

// Release removes identity only while it is still bound to conn, so a
// superseded connection closing late does not drop the newer binding.
func (r *Registry) Release(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byIdentity[identity]
	if !ok || e.conn != conn {
		return false
	}
	r.removeLocked(identity, e.tenantID)
	return true
}

// removeLocked drops identity from both indexes; caller must hold mu.
func (r *Registry) removeLocked(identity, tenantID string) {
	delete(r.byIdentity, identity)
	ids := r.byTenant[tenantID]
	if i := slices.Index(ids, identity); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	}
	if len(ids) == 0 {
		delete(r.byTenant, tenantID)
	} else {
		r.byTenant[tenantID] = ids
	}
}

// ListConnected returns the identities bound to tenantID in registration order.
func (r *Registry) ListConnected(tenantID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.byTenant[tenantID])
}

// Connections returns the bindings of tenantID in registration order.
func (r *Registry) Connections(tenantID string) []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byTenant[tenantID]
	out := make([]Binding, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.bindingLocked(id, r.byIdentity[id]))
	}
	return out
}

// Lookup returns the binding for identity.
func (r *Registry) Lookup(identity string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byIdentity[identity]
	if !ok {
		return Binding{}, false
	}
	return r.bindingLocked(identity, e), true
}

func (r *Registry) bindingLocked(identity string, e *entry) Binding {
	return Binding{
		Identity:      identity,
		TenantID:      e.tenantID,
		Conn:          e.conn,
		Alive:         e.missed < r.maxMissed,
		LastHeartbeat: e.lastAck,
	}
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byIdentity)
}

// Ack records a heartbeat acknowledgement from identity.
func (r *Registry) Ack(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byIdentity[identity]; ok {
		e.missed = 0
		e.lastAck = r.now()
	}
}

// Sweep runs one liveness round: consoles that left maxMissed pings
// unanswered are closed and unregistered, the rest are pinged again.
// It returns the identities that were reaped.
func (r *Registry) Sweep() []string {
	type target struct {
		identity string
		conn     Conn
	}
	var reap, ping []target

	r.mu.Lock()
	for id, e := range r.byIdentity {
		if e.missed >= r.maxMissed {
			reap = append(reap, target{id, e.conn})
			r.removeLocked(id, e.tenantID)
			continue
		}
		e.missed++
		ping = append(ping, target{id, e.conn})
	}
	r.mu.Unlock()

	reaped := make([]string, 0, len(reap))
	for _, t := range reap {
		r.log.Warnf("console %s missed %d heartbeats, closing", t.identity, r.maxMissed)
		if err := t.conn.Close(); err != nil {
			r.log.Debugf("close %s: %v", t.identity, err)
		}
		reaped = append(reaped, t.identity)
	}
	for _, t := range ping {
		if err := t.conn.Ping(); err != nil {
			r.log.Debugf("ping %s: %v", t.identity, err)
		}
	}
	return reaped
}

// Run sweeps every interval until ctx is canceled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// CloseAll closes and unregisters every console.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.byIdentity))
	for _, e := range r.byIdentity {
		conns = append(conns, e.conn)
	}
	r.byIdentity = make(map[string]*entry)
	r.byTenant = make(map[string][]string)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
