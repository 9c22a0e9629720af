// Package models defines the core domain types for linksync.
package models

import (
	"errors"
	"strings"
	"time"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeURL  MessageType = "url"
)

// MaxContentLength bounds a single message body.
const MaxContentLength = 64 * 1024

// Message validation errors.
var (
	ErrEmptyContent       = errors.New("content is required")
	ErrContentTooLong     = errors.New("content exceeds maximum length")
	ErrInvalidMessageType = errors.New("type must be text or url")
	ErrMissingOwner       = errors.New("owner identity is required")
)

// Message is a single relayed snippet. Messages are immutable once created.
type Message struct {
	// ID is the opaque unique identifier assigned by the backend.
	ID string `json:"id"`

	// Content is the text or normalized URL.
	Content string `json:"content"`

	// Type is text or url.
	Type MessageType `json:"type"`

	// CreatedAt is the server-side creation time.
	CreatedAt time.Time `json:"created_at"`

	// OwnerIdentity is the identity (email) that owns the message.
	OwnerIdentity string `json:"owner_identity"`
}

// IsURL reports whether the message carries a link.
func (m Message) IsURL() bool {
	return m.Type == MessageTypeURL
}

// NewerThan reports whether m sorts before other in timeline order:
// created_at descending, then id descending.
func (m Message) NewerThan(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.After(other.CreatedAt)
	}
	return m.ID > other.ID
}

// MessageDraft is a message creation request.
type MessageDraft struct {
	Content       string      `json:"content"`
	Type          MessageType `json:"type"`
	OwnerIdentity string      `json:"owner_identity"`
}

// Validate checks that the draft can be inserted.
func (d *MessageDraft) Validate() error {
	validation := &ValidationErrors{}
	switch {
	case strings.TrimSpace(d.Content) == "":
		validation.Add("content", ErrEmptyContent)
	case len(d.Content) > MaxContentLength:
		validation.Add("content", ErrContentTooLong)
	}
	if d.Type != MessageTypeText && d.Type != MessageTypeURL {
		validation.Add("type", ErrInvalidMessageType)
	}
	if strings.TrimSpace(d.OwnerIdentity) == "" {
		validation.Add("owner_identity", ErrMissingOwner)
	}
	return validation.Err()
}
