// Package event defines the lifecycle messages pushed to operator consoles.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a lifecycle event on the console wire.
type Kind string

const (
	CallRinging  Kind = "call_ringing"
	CallAnswered Kind = "call_answered"
	CallActive   Kind = "call_active"
	CallEnded    Kind = "call_ended"
	CallDeclined Kind = "call_declined"
	Transcript   Kind = "transcript"
)

// Event is one lifecycle notification for a tenant.
type Event struct {
	ID         string    `json:"id"`
	Type       Kind      `json:"type"`
	TenantID   string    `json:"tenantId"`
	CallSID    string    `json:"callSid,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	AnsweredBy string    `json:"answeredBy,omitempty"`
	DeclinedBy string    `json:"declinedBy,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Text       string    `json:"text,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// New returns an event of kind k for a call, stamped with a fresh id.
func New(k Kind, tenantID, callSID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      k,
		TenantID:  tenantID,
		CallSID:   callSID,
		Timestamp: time.Now().UTC(),
	}
}
