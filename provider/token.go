package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"callrelay/tenant"
)

// ErrNoCredentials is returned when a tenant lacks the API key needed to
// sign console tokens or call the provider API.
var ErrNoCredentials = errors.New("provider: tenant has no api credentials")

type incomingGrant struct {
	Allow bool `json:"allow"`
}

type outgoingGrant struct {
	ApplicationSID string `json:"application_sid,omitempty"`
}

type voiceGrant struct {
	Incoming incomingGrant  `json:"incoming"`
	Outgoing *outgoingGrant `json:"outgoing,omitempty"`
}

type grants struct {
	Identity string     `json:"identity"`
	Voice    voiceGrant `json:"voice"`
}

// AccessClaims is the payload of a console access token.
type AccessClaims struct {
	Grants grants `json:"grants"`
	jwt.RegisteredClaims
}

// IssueToken signs a short-lived voice access token letting identity
// receive calls for cfg and place calls through its outbound application.
func IssueToken(cfg *tenant.Config, identity string, ttl time.Duration, now time.Time) (string, error) {
	if cfg.APIKeySID == "" || cfg.APISecret == "" {
		return "", fmt.Errorf("tenant %s: %w", cfg.ID, ErrNoCredentials)
	}
	claims := AccessClaims{
		Grants: grants{
			Identity: identity,
			Voice:    voiceGrant{Incoming: incomingGrant{Allow: true}},
		},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", cfg.APIKeySID, now.Unix()),
			Issuer:    cfg.APIKeySID,
			Subject:   cfg.AccountSID,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.AppSID != "" {
		claims.Grants.Voice.Outgoing = &outgoingGrant{ApplicationSID: cfg.AppSID}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["cty"] = "twilio-fpa;v=1"
	signed, err := token.SignedString([]byte(cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
