package auth

import (
	"context"
	"testing"

	"backend-skitrip/internal/localstore"
)

func TestSessionSignInPersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()

	s, err := NewSession(ctx, kv, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.CurrentUser() != nil || s.Token() != "" {
		t.Fatalf("expected signed-out session")
	}

	var seen []*Identity
	cancel := s.OnAuthChange(func(id *Identity) { seen = append(seen, id) })

	err = s.SignIn(ctx, TokenResponse{AccessToken: "tok", User: User{ID: "u1", DisplayName: "Ada"}})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if len(seen) != 2 || seen[0] != nil || seen[1].UID != "u1" {
		t.Fatalf("unexpected notifications %+v", seen)
	}

	restored, err := NewSession(ctx, kv, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if u := restored.CurrentUser(); u == nil || u.DisplayName != "Ada" || restored.Token() != "tok" {
		t.Fatalf("session not restored: %+v", u)
	}

	cancel()
	cancel()
	if err := s.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("cancelled listener was notified")
	}
	if _, err := kv.Get(ctx, localstore.KeyIdentity); err != localstore.ErrNotFound {
		t.Fatalf("expected identity cleared, got %v", err)
	}
}

func TestSessionRejectsEmptyTokenAndBadCache(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()
	_ = kv.Set(ctx, localstore.KeyIdentity, "{not json")

	s, err := NewSession(ctx, kv, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.CurrentUser() != nil {
		t.Fatalf("unreadable cache must not sign in")
	}
	if err := s.SignIn(ctx, TokenResponse{}); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
