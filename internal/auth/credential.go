package auth

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// RefreshWindow is how close to expiry a token counts as expiring.
const RefreshWindow = 5 * time.Minute

var (
	ErrNotLoggedIn       = errors.New("auth: not logged in")
	ErrCredentialInvalid = errors.New("auth: credential invalid, reconnect required")
)

// State 凭证状态
type State int

const (
	StateAbsent State = iota
	StateValid
	StateExpiring
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateValid:
		return "valid"
	case StateExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// Credential is an OAuth token pair with its expiry.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (c *Credential) state(now time.Time) State {
	if c == nil || c.AccessToken == "" {
		return StateAbsent
	}
	if c.ExpiresAt.Sub(now) < RefreshWindow {
		return StateExpiring
	}
	return StateValid
}

func fromToken(tok *oauth2.Token, previousRefresh string, now time.Time) Credential {
	c := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	// 刷新响应可能不带 refresh_token，沿用旧的
	if c.RefreshToken == "" {
		c.RefreshToken = previousRefresh
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = now.Add(time.Hour)
	}
	return c
}
