package models

import (
	"errors"
	"strings"
	"time"
)

// Session validation errors.
var (
	ErrMissingIdentity = errors.New("identity is required")
	ErrMissingTokens   = errors.New("access and refresh tokens are required")
	ErrMissingPassword = errors.New("password is required")
)

// Tokens is the credential pair authorizing backend calls for one identity.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether both tokens are present.
func (t Tokens) Valid() bool {
	return strings.TrimSpace(t.AccessToken) != "" && strings.TrimSpace(t.RefreshToken) != ""
}

// Session is a live, authenticated session for one identity.
type Session struct {
	// Identity is the account email.
	Identity string `json:"identity_email"`

	Tokens

	// ExpiresAt is when the access token stops being accepted. Informational.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Validate checks the session carries an identity and both tokens.
func (s *Session) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(s.Identity) == "" {
		validation.Add("identity_email", ErrMissingIdentity)
	}
	if !s.Tokens.Valid() {
		validation.Add("tokens", ErrMissingTokens)
	}
	return validation.Err()
}

// Credentials are used to sign in or sign up.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks both fields are present.
func (c *Credentials) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(c.Email) == "" {
		validation.Add("email", ErrMissingIdentity)
	}
	if c.Password == "" {
		validation.Add("password", ErrMissingPassword)
	}
	return validation.Err()
}

// NormalizeIdentity lowercases and trims an email identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// CredentialEntry is one cached signed-in identity.
// The JSON shape is shared with other clients reading the same store.
type CredentialEntry struct {
	Identity string `json:"email"`
	Session  Tokens `json:"session"`
}

// EntryFromSession builds a cache entry from a session.
func EntryFromSession(s Session) CredentialEntry {
	return CredentialEntry{
		Identity: s.Identity,
		Session:  s.Tokens,
	}
}
