package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"backend-skitrip/internal/localstore"
	"backend-skitrip/internal/logging"
)

// Provider is the identity surface consumed by the trip engine.
type Provider interface {
	CurrentUser() *Identity
	OnAuthChange(fn func(*Identity)) (cancel func())
}

var _ Provider = (*Session)(nil)

type storedSession struct {
	Token    string   `json:"token"`
	Identity Identity `json:"identity"`
}

// Session is the device's signed-in state, persisted in the local store so a
// restart keeps the user signed in.
type Session struct {
	kv     localstore.KV
	logger *slog.Logger

	mu        sync.Mutex
	current   *storedSession
	listeners map[int]func(*Identity)
	nextID    int
}

func NewSession(ctx context.Context, kv localstore.KV, logger *slog.Logger) (*Session, error) {
	s := &Session{kv: kv, logger: logging.OrDefault(logger), listeners: map[int]func(*Identity){}}
	raw, err := kv.Get(ctx, localstore.KeyIdentity)
	if errors.Is(err, localstore.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var stored storedSession
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.Identity.UID == "" {
		s.logger.Warn("discarding unreadable session", "error", err)
		_ = kv.Delete(ctx, localstore.KeyIdentity)
		return s, nil
	}
	s.current = &stored
	return s, nil
}

// SignIn stores the token response and notifies listeners.
func (s *Session) SignIn(ctx context.Context, tokens TokenResponse) error {
	if tokens.AccessToken == "" || tokens.User.ID == "" {
		return ErrTokenInvalid
	}
	stored := storedSession{Token: tokens.AccessToken, Identity: tokens.User.Identity()}
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, localstore.KeyIdentity, string(raw)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.mu.Lock()
	s.current = &stored
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) SignOut(ctx context.Context) error {
	if err := s.kv.Delete(ctx, localstore.KeyIdentity); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// Token returns the bearer token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

func (s *Session) CurrentUser() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	id := s.current.Identity
	return &id
}

// OnAuthChange calls fn with the current user now and after every sign-in or
// sign-out, until cancel is called.
func (s *Session) OnAuthChange(fn func(*Identity)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	fn(s.CurrentUser())

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	fns := make([]func(*Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	user := s.CurrentUser()
	for _, fn := range fns {
		fn(user)
	}
}
