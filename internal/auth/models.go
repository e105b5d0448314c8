package auth

import "time"

// User is a registered account. Its id is the uid written into trip and
// presence documents.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PhotoURL     string    `json:"photoURL,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	PhotoURL    string `json:"photoURL"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        User   `json:"user"`
}

// Identity is the signed-in user as seen by the engine.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

func (u User) Identity() Identity {
	return Identity{UID: u.ID, DisplayName: u.DisplayName, PhotoURL: u.PhotoURL}
}
