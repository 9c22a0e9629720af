package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorsIs(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("content", ErrEmptyContent)

	err := validation.Err()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrEmptyContent))
	require.False(t, errors.Is(err, ErrMissingOwner))
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("content", "message content is required")

	validation := &ValidationErrors{}
	validation.Add("draft", nested)

	err := validation.Err()
	require.Error(t, err)

	var list *ValidationErrors
	require.True(t, errors.As(err, &list))
	require.Len(t, list.Errors, 1)
	require.Equal(t, "draft.content", list.Errors[0].Field)
}

func TestValidationErrorsSurviveJSON(t *testing.T) {
	draft := MessageDraft{Content: "  ", Type: "image", OwnerIdentity: "a@example.com"}
	err := draft.Validate()
	require.Error(t, err)

	var sent *ValidationErrors
	require.True(t, errors.As(err, &sent))
	payload, marshalErr := json.Marshal(sent)
	require.NoError(t, marshalErr)

	received := &ValidationErrors{}
	require.NoError(t, json.Unmarshal(payload, received))
	require.Len(t, received.Errors, 2)
	require.True(t, errors.Is(received, ErrEmptyContent))
	require.True(t, errors.Is(received, ErrInvalidMessageType))
	require.False(t, errors.Is(received, ErrMissingOwner))

	content := received.Field("content")
	require.Len(t, content, 1)
	require.Equal(t, "empty_content", content[0].Code)
	require.Empty(t, received.Field("owner_identity"))
}

func TestValidationErrorUnknownCodeHasNoCause(t *testing.T) {
	var v ValidationError
	require.NoError(t, json.Unmarshal([]byte(`{"field":"content","code":"shouting","message":"too loud"}`), &v))
	require.Equal(t, "content: too loud", v.Error())
	require.Nil(t, v.Cause)
}

func TestMessageDraftValidate(t *testing.T) {
	tests := []struct {
		name    string
		draft   MessageDraft
		wantErr error
	}{
		{
			name:  "valid text",
			draft: MessageDraft{Content: "hello", Type: MessageTypeText, OwnerIdentity: "a@example.com"},
		},
		{
			name:    "blank content",
			draft:   MessageDraft{Content: "   ", Type: MessageTypeText, OwnerIdentity: "a@example.com"},
			wantErr: ErrEmptyContent,
		},
		{
			name:    "unknown type",
			draft:   MessageDraft{Content: "x", Type: "image", OwnerIdentity: "a@example.com"},
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "missing owner",
			draft:   MessageDraft{Content: "x", Type: MessageTypeURL},
			wantErr: ErrMissingOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMessageNewerThan(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := Message{ID: "b", CreatedAt: base}
	newer := Message{ID: "a", CreatedAt: base.Add(time.Second)}
	require.True(t, newer.NewerThan(older))
	require.False(t, older.NewerThan(newer))

	tieLow := Message{ID: "0001", CreatedAt: base}
	tieHigh := Message{ID: "0002", CreatedAt: base}
	require.True(t, tieHigh.NewerThan(tieLow))
	require.False(t, tieLow.NewerThan(tieHigh))
	require.False(t, tieLow.NewerThan(tieLow))
}

func TestSessionValidate(t *testing.T) {
	s := Session{Identity: "a@example.com", Tokens: Tokens{AccessToken: "at", RefreshToken: "rt"}}
	require.NoError(t, s.Validate())

	s.RefreshToken = ""
	require.ErrorIs(t, s.Validate(), ErrMissingTokens)

	entry := EntryFromSession(Session{Identity: "b@example.com", Tokens: Tokens{AccessToken: "x", RefreshToken: "y"}})
	require.Equal(t, "b@example.com", entry.Identity)
	require.Equal(t, "x", entry.Session.AccessToken)
}
