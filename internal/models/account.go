package models

import (
	"errors"
	"strings"
	"time"
)

// Store-level sentinel errors shared by the relay's repositories.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Account is a relay-side user record.
type Account struct {
	// Identity is the normalized account email.
	Identity string `json:"identity"`

	// PasswordHash is the bcrypt hash of the account password.
	PasswordHash string `json:"-"`

	// CreatedAt is when the account was registered.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the account record is valid.
func (a *Account) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(a.Identity) == "" {
		validation.Add("identity", ErrMissingIdentity)
	}
	if a.PasswordHash == "" {
		validation.Add("password_hash", ErrMissingPassword)
	}
	return validation.Err()
}

// SessionRecord is the relay-side record of an issued session.
type SessionRecord struct {
	Identity         string    `json:"identity"`
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// AccessExpired reports whether the access token is no longer accepted at now.
func (r *SessionRecord) AccessExpired(now time.Time) bool {
	return !now.Before(r.AccessExpiresAt)
}

// RefreshExpired reports whether the refresh token can no longer be exchanged.
func (r *SessionRecord) RefreshExpired(now time.Time) bool {
	return !now.Before(r.RefreshExpiresAt)
}

// Session returns the client-facing view of the record.
func (r *SessionRecord) Session() Session {
	return Session{
		Identity: r.Identity,
		Tokens: Tokens{
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
		},
		ExpiresAt: r.AccessExpiresAt,
	}
}
