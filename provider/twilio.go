package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"callrelay/tenant"
)

const childLegLimit = 50

// TwilioControl drives calls through the Twilio REST API.
type TwilioControl struct {
	client *twilio.RestClient
	log    *logrus.Entry
}

// NewTwilioControl builds a client for cfg, preferring its API key over the
// account auth token.
func NewTwilioControl(cfg *tenant.Config, log *logrus.Entry) (*TwilioControl, error) {
	user, pass := cfg.APIKeySID, cfg.APISecret
	if user == "" || pass == "" {
		user, pass = cfg.AccountSID, cfg.AuthToken
	}
	if user == "" || pass == "" {
		return nil, fmt.Errorf("tenant %s: %w", cfg.ID, ErrNoCredentials)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   user,
		Password:   pass,
		AccountSid: cfg.AccountSID,
	})
	return &TwilioControl{client: client, log: log.WithField("tenant", cfg.ID)}, nil
}

func (c *TwilioControl) FetchLeg(ctx context.Context, sid string) (Leg, error) {
	if err := ctx.Err(); err != nil {
		return Leg{}, err
	}
	call, err := c.client.Api.FetchCall(sid, &openapi.FetchCallParams{})
	if err != nil {
		return Leg{}, fmt.Errorf("fetch call %s: %w", sid, err)
	}
	return legFromCall(call), nil
}

func (c *TwilioControl) ChildLegs(ctx context.Context, parentSID string) ([]Leg, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &openapi.ListCallParams{}
	params.SetParentCallSid(parentSID)
	params.SetLimit(childLegLimit)
	calls, err := c.client.Api.ListCall(params)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentSID, err)
	}
	legs := make([]Leg, 0, len(calls))
	for i := range calls {
		legs = append(legs, legFromCall(&calls[i]))
	}
	return legs, nil
}

func (c *TwilioControl) Terminate(ctx context.Context, leg Leg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status := "completed"
	switch strings.ToLower(leg.Status) {
	case "queued", "initiated", "ringing":
		status = "canceled"
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus(status)
	if _, err := c.client.Api.UpdateCall(leg.SID, params); err != nil {
		return fmt.Errorf("update call %s to %s: %w", leg.SID, status, err)
	}
	c.log.Debugf("leg %s set to %s", leg.SID, status)
	return nil
}

func legFromCall(call *openapi.ApiV2010Call) Leg {
	return Leg{
		SID:       deref(call.Sid),
		ParentSID: deref(call.ParentCallSid),
		Status:    deref(call.Status),
		From:      deref(call.From),
		To:        deref(call.To),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// TwilioDirectory builds and caches one TwilioControl per tenant.
type TwilioDirectory struct {
	store tenant.Store
	log   *logrus.Entry

	mu       sync.Mutex
	controls map[string]*TwilioControl
}

// NewTwilioDirectory creates a directory reading credentials from store.
func NewTwilioDirectory(store tenant.Store, log *logrus.Entry) *TwilioDirectory {
	return &TwilioDirectory{
		store:    store,
		log:      log,
		controls: make(map[string]*TwilioControl),
	}
}

func (d *TwilioDirectory) Control(ctx context.Context, tenantID string) (CallControl, error) {
	d.mu.Lock()
	ctl, ok := d.controls[tenantID]
	d.mu.Unlock()
	if ok {
		return ctl, nil
	}

	cfg, err := d.store.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	ctl, err = NewTwilioControl(cfg, d.log)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if existing, ok := d.controls[tenantID]; ok {
		ctl = existing
	} else {
		d.controls[tenantID] = ctl
	}
	d.mu.Unlock()
	return ctl, nil
}
