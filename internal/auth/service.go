package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"backend-skitrip/internal/db"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const accessTokenTTL = 30 * 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
)

type Service struct {
	secret []byte
	users  userStore
	now    func() time.Time
}

// Claims carries the identity the engine needs, so verifying a token never
// touches the users table.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) Identity() Identity {
	return Identity{UID: c.UserID, DisplayName: c.DisplayName, PhotoURL: c.PhotoURL}
}

// NewService keeps accounts in the users table of q; a nil q keeps them in
// memory.
func NewService(secret string, q db.Querier) *Service {
	var users userStore = newMemoryUsers()
	if q != nil {
		users = pgUsers{q: q}
	}
	return &Service{
		secret: []byte(secret),
		users:  users,
		now:    time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, TokenResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.DisplayName == "" || req.Password == "" {
		return User{}, TokenResponse{}, errors.New("email, displayName, password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, TokenResponse{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PhotoURL:     req.PhotoURL,
		PasswordHash: string(hash),
	}

	if user.CreatedAt, err = s.users.Insert(ctx, user); err != nil {
		return User{}, TokenResponse{}, err
	}

	tokens, err := s.IssueToken(user)
	if err != nil {
		return User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (User, TokenResponse, error) {
	user, err := s.users.ByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return User{}, TokenResponse{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return User{}, TokenResponse{}, ErrInvalidCredentials
	}

	tokens, err := s.IssueToken(user)
	if err != nil {
		return User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

// IssueToken signs an access token for user.
func (s *Service) IssueToken(user User) (TokenResponse, error) {
	access, err := s.signToken(user.Identity(), accessTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTokenTTL.Seconds()),
		User:        user,
	}, nil
}

func (s *Service) ValidateAccessToken(token string) (*Claims, error) {
	return parseToken(s.secret, token)
}

func (s *Service) signToken(id Identity, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:      id.UID,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func parseToken(secret []byte, token string) (*Claims, error) {
	parsed, err := parseClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

var parseClaimsFn = jwt.ParseWithClaims
