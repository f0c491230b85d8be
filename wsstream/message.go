// Package wsstream serves the persistent websocket connections: provider
// media streams carrying call audio, and operator consoles receiving
// lifecycle events.
package wsstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a message that cannot be parsed or lacks required fields.
var ErrMalformed = errors.New("wsstream: malformed message")

// Kind is the discriminator of an inbound message.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnected
	KindStart
	KindMedia
	KindStop
	KindMark
	KindDTMF
	KindRegister
	KindInfo
)

var kindNames = map[string]Kind{
	"connected": KindConnected,
	"start":     KindStart,
	"media":     KindMedia,
	"stop":      KindStop,
	"mark":      KindMark,
	"dtmf":      KindDTMF,
	"register":  KindRegister,
	"handshake": KindRegister,
	"info":      KindInfo,
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k && name != "handshake" {
			return name
		}
	}
	return "unknown"
}

// StartPayload announces a media stream.
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
}

// MediaPayload carries one base64 µ-law chunk.
type MediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// StopPayload ends a media stream.
type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// DTMFPayload is a key press detected on the stream.
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// Message is the union of every inbound message shape.
type Message struct {
	Kind      Kind            `json:"-"`
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid"`
	Start     *StartPayload   `json:"start,omitempty"`
	Media     *MediaPayload   `json:"media,omitempty"`
	Stop      *StopPayload    `json:"stop,omitempty"`
	DTMF      *DTMFPayload    `json:"dtmf,omitempty"`
	Identity  string          `json:"identity,omitempty"`
	TenantID  string          `json:"tenantId,omitempty"`
	Type      string          `json:"type,omitempty"`
	CallSID   string          `json:"callSid,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Parse decodes data and checks the fields its kind requires.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m.Kind = kindNames[m.Event]

	switch m.Kind {
	case KindStart:
		if m.Start == nil {
			return m, fmt.Errorf("%w: start without payload", ErrMalformed)
		}
		if m.StreamSID == "" {
			m.StreamSID = m.Start.StreamSID
		}
		if m.StreamSID == "" {
			return m, fmt.Errorf("%w: start without stream id", ErrMalformed)
		}
	case KindMedia:
		if m.Media == nil || m.StreamSID == "" {
			return m, fmt.Errorf("%w: media without payload or stream id", ErrMalformed)
		}
	case KindStop:
		if m.StreamSID == "" {
			return m, fmt.Errorf("%w: stop without stream id", ErrMalformed)
		}
	case KindRegister:
		if m.Identity == "" || m.TenantID == "" {
			return m, fmt.Errorf("%w: register needs identity and tenantId", ErrMalformed)
		}
	case KindConnected, KindMark, KindDTMF, KindInfo:
	case KindUnknown:
		return m, fmt.Errorf("%w: unknown event %q", ErrMalformed, m.Event)
	}
	return m, nil
}
