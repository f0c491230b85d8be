// Package provider talks to the telephony provider: it renders the call
// control documents returned from webhooks, issues console access tokens
// and drives the REST call-control API.
package provider

import (
	"encoding/xml"
	"net/url"
	"time"
)

// StatusCallbackEvents are the leg events every dialed console reports back.
// Busy, no-answer, failed and canceled arrive as the status of "completed".
const StatusCallbackEvents = "initiated ringing answered completed"

// Stream parameter names carried on the media connection.
const (
	ParamTenantID  = "tenantId"
	ParamFrom      = "from"
	ParamTo        = "to"
	ParamDirection = "direction"
)

// Directions of a media stream relative to the call.
const (
	DirectionCaller = "caller"
	DirectionCallee = "callee"
)

// Response is a call control document.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Starts  []Start  `xml:"Start"`
	Say     *Say     `xml:"Say"`
	Dial    *Dial    `xml:"Dial"`
	Hangup  *Hangup  `xml:"Hangup"`
}

type Say struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type Hangup struct{}

type Start struct {
	Stream Stream `xml:"Stream"`
}

type Stream struct {
	Name       string      `xml:"name,attr,omitempty"`
	URL        string      `xml:"url,attr"`
	Track      string      `xml:"track,attr,omitempty"`
	Parameters []Parameter `xml:"Parameter"`
}

type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type Dial struct {
	Timeout  int      `xml:"timeout,attr,omitempty"`
	Record   string   `xml:"record,attr,omitempty"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Clients  []Client `xml:"Client"`
}

type Client struct {
	StatusCallbackEvent  string `xml:"statusCallbackEvent,attr,omitempty"`
	StatusCallback       string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackMethod string `xml:"statusCallbackMethod,attr,omitempty"`
	Identity             string `xml:",chardata"`
}

// Render encodes the document with an XML declaration.
func (r *Response) Render() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// Decline apologizes to the caller and ends the call.
func Decline(message, voice string) *Response {
	return &Response{
		Say:    &Say{Voice: voice, Text: message},
		Hangup: &Hangup{},
	}
}

// RouteParams describes how an inbound call is offered to a tenant.
type RouteParams struct {
	TenantID       string
	From           string
	To             string
	StreamURL      string
	StatusCallback string
	Identities     []string
	RingTimeout    time.Duration
	Record         bool
}

// Provider track names of the two sides of the inbound call leg. The
// inbound track is what the caller says, the outbound track is what the
// caller hears, which is the console once the call is bridged.
const (
	TrackInbound  = "inbound_track"
	TrackOutbound = "outbound_track"
)

// Route starts one media stream per side of the call and rings every listed
// console at once. With no identities the Dial is empty and the provider
// applies its own no-answer handling.
func Route(p RouteParams) *Response {
	resp := &Response{
		Starts: []Start{
			{Stream: p.stream(DirectionCaller, TrackInbound)},
			{Stream: p.stream(DirectionCallee, TrackOutbound)},
		},
		Dial: &Dial{
			Timeout:  int(p.RingTimeout / time.Second),
			Record:   "do-not-record",
			CallerID: p.From,
		},
	}
	if p.Record {
		resp.Dial.Record = "record-from-answer-dual"
	}
	callback := withTenant(p.StatusCallback, p.TenantID)
	for _, id := range p.Identities {
		resp.Dial.Clients = append(resp.Dial.Clients, Client{
			StatusCallbackEvent:  StatusCallbackEvents,
			StatusCallback:       callback,
			StatusCallbackMethod: "POST",
			Identity:             id,
		})
	}
	return resp
}

func (p RouteParams) stream(direction, track string) Stream {
	return Stream{
		Name:  direction,
		URL:   p.StreamURL,
		Track: track,
		Parameters: []Parameter{
			{Name: ParamTenantID, Value: p.TenantID},
			{Name: ParamFrom, Value: p.From},
			{Name: ParamTo, Value: p.To},
			{Name: ParamDirection, Value: direction},
		},
	}
}

// StreamDirection returns the side of the call a stream carries: the
// direction parameter when present, otherwise derived from its tracks.
func StreamDirection(param string, tracks []string) string {
	switch param {
	case DirectionCaller, DirectionCallee:
		return param
	}
	if len(tracks) == 1 && (tracks[0] == "outbound" || tracks[0] == TrackOutbound) {
		return DirectionCallee
	}
	return DirectionCaller
}

func withTenant(rawURL, tenantID string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("tenant", tenantID)
	u.RawQuery = q.Encode()
	return u.String()
}
