package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/session"
	"github.com/tOgg1/linksync/internal/timeline"
)

// Exit codes.
const (
	ExitCodeFailure      = 1
	ExitCodeUsage        = 2
	ExitCodeUnauthorized = 3
)

// PreflightError is a failure the user can fix before retrying.
type PreflightError struct {
	Message  string
	Hint     string
	NextStep string
	Err      error
}

func (e *PreflightError) Error() string {
	var b strings.Builder
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	b.WriteString(msg)
	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}
	if e.NextStep != "" {
		b.WriteString("\n  try:  ")
		b.WriteString(e.NextStep)
	}
	return b.String()
}

func (e *PreflightError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var preflight *PreflightError
	switch {
	case errors.Is(err, session.ErrNotSignedIn),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, backend.ErrSessionRejected),
		errors.Is(err, backend.ErrNotAuthenticated),
		errors.Is(err, backend.ErrInvalidCredentials):
		return ExitCodeUnauthorized
	case errors.As(err, &preflight):
		return ExitCodeUsage
	}
	return ExitCodeFailure
}

func notSignedIn() error {
	return &PreflightError{
		Err:      session.ErrNotSignedIn,
		Hint:     "Sign in on this device first",
		NextStep: "linksync login <email>",
	}
}

// submitError unwraps a rejected write so the user sees the backend reason.
func submitError(err error) error {
	var rejected *timeline.SubmitError
	if errors.As(err, &rejected) {
		return fmt.Errorf("send rejected: %w", rejected.Err)
	}
	return err
}
