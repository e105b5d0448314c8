package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-skitrip/internal/db"

	"github.com/jackc/pgx/v5"
)

var ErrEmailTaken = errors.New("email already registered")

// userStore persists accounts. Lookups of an unknown email return
// ErrInvalidCredentials.
type userStore interface {
	Insert(ctx context.Context, u User) (time.Time, error)
	ByEmail(ctx context.Context, email string) (User, error)
}

type pgUsers struct {
	q db.Querier
}

func (p pgUsers) Insert(ctx context.Context, u User) (time.Time, error) {
	var createdAt time.Time
	err := p.q.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name, photo_url, password_hash)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, u.ID, u.Email, u.DisplayName, u.PhotoURL, u.PasswordHash).Scan(&createdAt)
	return createdAt, err
}

func (p pgUsers) ByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := p.q.QueryRow(ctx, `
		SELECT id, email, display_name, photo_url, password_hash, created_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PhotoURL, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrInvalidCredentials
	}
	return u, err
}

// memoryUsers keeps accounts for a server running without Postgres; they
// are lost on restart.
type memoryUsers struct {
	mu      sync.Mutex
	byEmail map[string]User
	now     func() time.Time
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byEmail: map[string]User{}, now: time.Now}
}

func (m *memoryUsers) Insert(_ context.Context, u User) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return time.Time{}, ErrEmailTaken
	}
	u.CreatedAt = m.now().UTC()
	m.byEmail[u.Email] = u
	return u.CreatedAt, nil
}

func (m *memoryUsers) ByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}
