package provider

import (
	"context"
	"strings"
)

// Leg is one provider-tracked connection of a call.
type Leg struct {
	SID       string
	ParentSID string
	Status    string
	From      string
	To        string
}

// Terminal reports whether the provider considers the leg finished.
func (l Leg) Terminal() bool {
	return IsTerminalStatus(l.Status)
}

// IsTerminalStatus reports whether a provider call status is final.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "canceled", "busy", "failed", "no-answer":
		return true
	default:
		return false
	}
}

// ClientIdentity extracts the console identity from a leg address such as
// "client:op1". Other addresses yield "".
func ClientIdentity(addr string) string {
	id, ok := strings.CutPrefix(addr, "client:")
	if !ok {
		return ""
	}
	return id
}

// CallControl is the provider's call-control API for one account.
type CallControl interface {
	// FetchLeg returns the current state of a leg.
	FetchLeg(ctx context.Context, sid string) (Leg, error)

	// ChildLegs lists the legs dialed from parentSID.
	ChildLegs(ctx context.Context, parentSID string) ([]Leg, error)

	// Terminate ends a leg, canceling it if it has not been answered yet.
	Terminate(ctx context.Context, leg Leg) error
}

// Directory hands out the call-control client of a tenant.
type Directory interface {
	Control(ctx context.Context, tenantID string) (CallControl, error)
}
