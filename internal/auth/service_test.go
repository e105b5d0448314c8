package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

var errDB = errors.New("db error")

var userColumns = []string{"id", "email", "display_name", "photo_url", "password_hash", "created_at"}

func TestRegisterAndLogin(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Now().Add(-time.Minute)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "user@example.com", "User One", "", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	svc := NewService("test-secret", mock)
	user, tokens, err := svc.Register(context.Background(), RegisterRequest{
		Email:       " User@Example.com ",
		DisplayName: "User One",
		Password:    "password123",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID == "" || tokens.AccessToken == "" || tokens.User.ID != user.ID {
		t.Fatalf("expected user and token, got %+v %+v", user, tokens)
	}

	mock.ExpectQuery(`SELECT id, email, display_name, photo_url, password_hash, created_at`).
		WithArgs("user@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns).
			AddRow(user.ID, user.Email, user.DisplayName, "", user.PasswordHash, createdAt))

	logged, loginTokens, err := svc.Login(context.Background(), LoginRequest{Email: "user@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID || loginTokens.AccessToken == "" {
		t.Fatalf("unexpected login result %+v", logged)
	}

	claims, err := svc.ValidateAccessToken(loginTokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Identity() != (Identity{UID: user.ID, DisplayName: "User One"}) {
		t.Fatalf("unexpected identity %+v", claims.Identity())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService("secret", nil)
	if _, _, err := svc.Register(context.Background(), RegisterRequest{Email: "a@b.c", Password: "x"}); err == nil {
		t.Fatalf("expected missing display name error")
	}
}

func TestRegisterDBError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO users`).WillReturnError(errDB)

	svc := NewService("secret", mock)
	_, _, err = svc.Register(context.Background(), RegisterRequest{Email: "a@b.c", DisplayName: "A", Password: "x"})
	if !errors.Is(err, errDB) {
		t.Fatalf("expected db error, got %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()
	svc := NewService("secret", mock)

	mock.ExpectQuery(`SELECT id, email`).WithArgs("nobody@example.com").WillReturnError(pgx.ErrNoRows)
	if _, _, err := svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "x"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.MinCost)
	mock.ExpectQuery(`SELECT id, email`).WithArgs("user@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow("user-1", "user@example.com", "U", "", string(hash), time.Now()))
	if _, _, err := svc.Login(context.Background(), LoginRequest{Email: "user@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for wrong password, got %v", err)
	}

	mock.ExpectQuery(`SELECT id, email`).WithArgs("user@example.com").WillReturnError(errDB)
	if _, _, err := svc.Login(context.Background(), LoginRequest{Email: "user@example.com", Password: "x"}); !errors.Is(err, errDB) {
		t.Fatalf("expected db error, got %v", err)
	}
}

func TestValidateAccessTokenRejects(t *testing.T) {
	svc := NewService("secret", nil)

	if _, err := svc.ValidateAccessToken("bad"); err == nil {
		t.Fatalf("expected parse error")
	}

	other := NewService("other-secret", nil)
	foreign, _ := other.signToken(Identity{UID: "u1"}, time.Minute)
	if _, err := svc.ValidateAccessToken(foreign); err == nil {
		t.Fatalf("expected signature error")
	}

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := svc.signToken(Identity{UID: "u1"}, time.Minute)
	svc.now = time.Now
	if _, err := svc.ValidateAccessToken(expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token, got %v", err)
	}

	anonymous, _ := svc.signToken(Identity{}, time.Minute)
	if _, err := svc.ValidateAccessToken(anonymous); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected token without uid to be invalid, got %v", err)
	}
}
