// Package broadcast fans lifecycle events out to every console of a tenant.
package broadcast

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"callrelay/clients"
	"callrelay/event"
)

// Directory lists the consoles currently bound to a tenant.
type Directory interface {
	Connections(tenantID string) []clients.Binding
}

// Broadcaster delivers events to each console independently.
type Broadcaster struct {
	dir Directory
	log *logrus.Entry
}

// New creates a broadcaster over dir.
func New(dir Directory, log *logrus.Entry) *Broadcaster {
	return &Broadcaster{dir: dir, log: log}
}

// Broadcast sends ev to every console of tenantID and returns how many
// deliveries succeeded. A failing console never blocks the others.
func (b *Broadcaster) Broadcast(tenantID string, ev event.Event) int {
	if ev.TenantID == "" {
		ev.TenantID = tenantID
	}
	bindings := b.dir.Connections(tenantID)
	delivered := 0
	for _, bnd := range bindings {
		if err := deliver(bnd.Conn, ev); err != nil {
			b.log.Warnf("deliver %s for call %s to %s: %v", ev.Type, ev.CallSID, bnd.Identity, err)
			continue
		}
		delivered++
	}
	b.log.Debugf("broadcast %s for call %s to %d/%d consoles of %s",
		ev.Type, ev.CallSID, delivered, len(bindings), tenantID)
	return delivered
}

func deliver(c clients.Conn, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during send: %v", r)
		}
	}()
	return c.Send(ev)
}
