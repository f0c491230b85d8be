package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callrelay/callstate"
	"callrelay/event"
	"callrelay/provider"
	"callrelay/routing"
	"callrelay/tenant"
)

// Incoming answers the provider's inbound-call webhook with the routing
// document. It never fails: an unroutable call is declined politely.
func (s *Service) Incoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.log.Warnf("incoming: bad form: %v", err)
	}
	callSID := r.PostFormValue("CallSid")
	from := routing.NormalizeNumber(r.PostFormValue("From"))
	to := routing.NormalizeNumber(r.PostFormValue("To"))
	log := s.log.WithFields(logrus.Fields{"call": callSID, "from": from, "to": to})

	tenantID, ok := s.routes.Resolve(r.Context(), to)
	if !ok || callSID == "" {
		log.Warn("no tenant owns the dialed number, declining")
		s.writeTwiML(w, provider.Decline(s.cfg.DeclineMessage, s.cfg.DeclineVoice))
		return
	}
	log = log.WithField("tenant", tenantID)

	sess := callstate.Session{ID: callSID, TenantID: tenantID, From: from, To: to}
	if s.calls.Create(sess) {
		ev := lifecycle(event.CallRinging, sess)
		ev.Direction = provider.DirectionCaller
		s.events.Broadcast(tenantID, ev)
	}

	identities := s.consoles.ListConnected(tenantID)
	if len(identities) == 0 {
		log.Info("no consoles connected, dialing nobody")
	} else {
		log.Infof("ringing %d consoles", len(identities))
	}
	s.writeTwiML(w, provider.Route(provider.RouteParams{
		TenantID:       tenantID,
		From:           from,
		To:             to,
		StreamURL:      s.cfg.StreamURL,
		StatusCallback: s.statusCallbackURL(),
		Identities:     identities,
		RingTimeout:    s.cfg.RingTimeout,
		Record:         s.cfg.Record,
	}))
}

// Status applies a provider status callback. The provider always gets an
// empty 200 so it never retries.
func (s *Service) Status(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorf("status callback panic: %v", rec)
		}
		w.WriteHeader(http.StatusOK)
	}()

	if err := r.ParseForm(); err != nil {
		s.log.Warnf("status: bad form: %v", err)
		return
	}
	s.applyStatus(
		r.FormValue("tenant"),
		r.PostFormValue("CallSid"),
		r.PostFormValue("ParentCallSid"),
		r.PostFormValue("CallStatus"),
		r.PostFormValue("To"),
	)
}

func (s *Service) applyStatus(tenantID, legID, parentID, status, to string) {
	canonical := callstate.CanonicalID(legID, parentID)
	if canonical == "" {
		s.log.Debug("status callback without call id")
		return
	}
	if tenantID == "" {
		if sess, ok := s.calls.Lookup(canonical); ok {
			tenantID = sess.TenantID
		}
	}
	log := s.log.WithFields(logrus.Fields{"call": canonical, "leg": legID, "tenant": tenantID})
	identity := provider.ClientIdentity(to)
	status = strings.ToLower(status)

	switch status {
	case "queued", "initiated", "ringing":
		if legID != canonical {
			s.calls.AddLeg(canonical, legID)
		}
		log.Debugf("leg %s", status)

	case "answered", "in-progress":
		u := callstate.Update{ID: canonical, LegID: legID, TenantID: tenantID}
		if s.cfg.AnsweredBy == AnsweredByProvider {
			u.AnsweredBy = identity
		}
		if s.activate(u) {
			log.Infof("call active, answered by %q", u.AnsweredBy)
		}

	case "completed", "canceled", "busy", "failed", "no-answer":
		u := callstate.Update{ID: canonical, LegID: legID, TenantID: tenantID, LegIdentity: identity}
		if s.end(u) {
			log.Infof("call ended (%s)", status)
		}
		if legID != "" && legID != canonical {
			if _, ok := s.calls.Lookup(legID); ok {
				s.end(callstate.Update{ID: legID, TenantID: tenantID})
			}
		}

	default:
		log.Warnf("unknown call status %q", status)
	}
}

type commandRequest struct {
	CallSID  string `json:"callSid"`
	TenantID string `json:"tenantId"`
	Identity string `json:"identity"`
}

func readCommand(r *http.Request) (commandRequest, error) {
	var req commandRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.CallSID = r.FormValue("callSid")
		req.TenantID = r.FormValue("tenantId")
		req.Identity = r.FormValue("identity")
	}
	if req.CallSID == "" || req.TenantID == "" {
		return req, errors.New("callSid and tenantId are required")
	}
	return req, nil
}

type declineResponse struct {
	Success    bool   `json:"success"`
	CallSID    string `json:"callSid,omitempty"`
	Terminated int    `json:"terminated"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// Decline ends a call a console has not bridged to: every unfinished leg of
// the call and then the call itself are terminated, each attempt on its own.
func (s *Service) Decline(w http.ResponseWriter, r *http.Request) {
	req, err := readCommand(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, declineResponse{Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ControlTimeout)
	defer cancel()

	res := s.decline(ctx, req)
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) decline(ctx context.Context, req commandRequest) declineResponse {
	log := s.log.WithFields(logrus.Fields{"leg": req.CallSID, "tenant": req.TenantID, "identity": req.Identity})
	res := declineResponse{Success: true, CallSID: req.CallSID}
	if owner, ok := s.calls.Owner(req.CallSID); ok {
		res.CallSID = owner
	}

	terminate := func(ctl provider.CallControl, leg provider.Leg) {
		if err := ctl.Terminate(ctx, leg); err != nil {
			log.Warnf("terminate %s: %v", leg.SID, err)
			res.Failed++
			return
		}
		res.Terminated++
	}

	ctl, err := s.control.Control(ctx, req.TenantID)
	if err != nil {
		log.Warnf("decline without call control: %v", err)
	} else {
		parent := provider.Leg{SID: res.CallSID}
		leg, err := ctl.FetchLeg(ctx, req.CallSID)
		switch {
		case err != nil:
			log.Warnf("fetch leg: %v", err)
		case leg.ParentSID == "":
			parent = leg
		default:
			parent.SID = leg.ParentSID
			if p, err := ctl.FetchLeg(ctx, leg.ParentSID); err != nil {
				log.Warnf("fetch parent %s: %v", leg.ParentSID, err)
			} else {
				parent = p
			}
		}
		res.CallSID = parent.SID

		siblings, err := ctl.ChildLegs(ctx, parent.SID)
		if err != nil {
			log.Warnf("list legs of %s: %v", parent.SID, err)
		}
		for _, leg := range siblings {
			if !leg.Terminal() {
				terminate(ctl, leg)
			}
		}
		if !parent.Terminal() {
			terminate(ctl, parent)
		}
	}

	sess, known := s.calls.Lookup(res.CallSID)
	s.calls.Clear(res.CallSID)
	ev := event.New(event.CallDeclined, req.TenantID, res.CallSID)
	ev.DeclinedBy = req.Identity
	if known {
		ev.From, ev.To = sess.From, sess.To
	}
	s.events.Broadcast(req.TenantID, ev)
	log.Infof("call %s declined: %d legs terminated, %d failed", res.CallSID, res.Terminated, res.Failed)
	return res
}

// Answered relays a console's answered notification to the tenant's other
// consoles. Call state is driven by the provider's status callbacks. A
// console registered under another tenant cannot announce into this one.
func (s *Service) Answered(w http.ResponseWriter, r *http.Request) {
	req, err := readCommand(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if b, ok := s.consoles.Lookup(req.Identity); ok && b.TenantID != req.TenantID {
		s.log.Warnf("answered: console %s belongs to %s, not %s", req.Identity, b.TenantID, req.TenantID)
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "console belongs to another tenant"})
		return
	}
	callSID := req.CallSID
	if owner, ok := s.calls.Owner(callSID); ok {
		callSID = owner
	}
	ev := event.New(event.CallAnswered, req.TenantID, callSID)
	ev.AnsweredBy = req.Identity
	if sess, ok := s.calls.Lookup(callSID); ok {
		ev.From, ev.To = sess.From, sess.To
	}
	n := s.events.Broadcast(req.TenantID, ev)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "delivered": n})
}

type tokenResponse struct {
	Token    string   `json:"token"`
	Identity string   `json:"identity"`
	Numbers  []string `json:"numbers"`
}

// Token issues a console access token under a fresh identity.
func (s *Service) Token(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant is required"})
		return
	}
	cfg, err := s.tenants.Get(r.Context(), tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tenant"})
		return
	}
	if err != nil {
		s.log.Errorf("token: load tenant %s: %v", tenantID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "tenant unavailable"})
		return
	}

	identity := uuid.NewString()
	token, err := provider.IssueToken(cfg, identity, s.cfg.TokenTTL, s.now())
	if errors.Is(err, provider.ErrNoCredentials) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "tenant has no api key"})
		return
	}
	if err != nil {
		s.log.Errorf("token for %s: %v", tenantID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token unavailable"})
		return
	}
	numbers := cfg.Numbers
	if numbers == nil {
		numbers = []string{}
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, Identity: identity, Numbers: numbers})
}

// Health reports liveness and the size of the live state.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"calls":    s.calls.Len(),
		"consoles": s.consoles.Len(),
	})
}

func (s *Service) writeTwiML(w http.ResponseWriter, doc *provider.Response) {
	body, err := doc.Render()
	if err != nil {
		s.log.Errorf("render call instructions: %v", err)
		body = []byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<Response><Hangup/></Response>")
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
