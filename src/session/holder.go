package session

import (
	"context"
	"fmt"
	"sync"

	logger "github.com/sirupsen/logrus"

	"traderobot/src/apperr"
)

// Tokens is the pair issued by a venue login.
type Tokens struct {
	SessionToken string
	StreamToken  string
	RefreshToken string
}

// Complete reports whether both tokens needed by the feed are present.
func (t Tokens) Complete() bool {
	return t.SessionToken != "" && t.StreamToken != ""
}

// Authenticator performs the venue login.
type Authenticator interface {
	Login(ctx context.Context) (Tokens, error)
}

// Holder keeps the current session tokens. Readers always see the latest pair,
// so a reconnect scheduled before a re-login picks up the fresh tokens.
type Holder struct {
	mu       sync.RWMutex
	tokens   Tokens
	active   bool
	auth     Authenticator
	onChange []func(active bool)
}

func NewHolder(auth Authenticator) *Holder {
	return &Holder{auth: auth}
}

// OnChange registers a callback fired after the active flag changes.
func (h *Holder) OnChange(fn func(active bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

func (h *Holder) Tokens() Tokens {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tokens
}

func (h *Holder) Active() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// Set stores a new token pair and marks the session active when it is complete.
func (h *Holder) Set(t Tokens) {
	h.mu.Lock()
	h.tokens = t
	h.mu.Unlock()
	h.SetActive(t.Complete())
}

func (h *Holder) SetActive(active bool) {
	h.mu.Lock()
	changed := h.active != active
	h.active = active
	callbacks := h.onChange
	h.mu.Unlock()

	if !changed {
		return
	}
	logger.WithField("active", active).Info("session status changed")
	for _, fn := range callbacks {
		fn(active)
	}
}

// Refresh logs in again and stores the result. A failed login marks the session inactive.
func (h *Holder) Refresh(ctx context.Context) (Tokens, error) {
	if h.auth == nil {
		return Tokens{}, fmt.Errorf("no authenticator configured: %w", apperr.ErrConfiguration)
	}
	t, err := h.auth.Login(ctx)
	if err != nil {
		h.SetActive(false)
		return Tokens{}, err
	}
	if !t.Complete() {
		h.SetActive(false)
		return Tokens{}, fmt.Errorf("login returned incomplete tokens: %w", apperr.ErrMissingCredentials)
	}
	h.Set(t)
	return t, nil
}
