package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// validationCodes names the sentinels a relay can report per field, so a
// client decoding the failure still matches errors.Is(err, ErrEmptyContent).
var validationCodes = map[string]error{
	"empty_content":    ErrEmptyContent,
	"content_too_long": ErrContentTooLong,
	"invalid_type":     ErrInvalidMessageType,
	"missing_owner":    ErrMissingOwner,
	"missing_identity": ErrMissingIdentity,
	"missing_tokens":   ErrMissingTokens,
	"missing_password": ErrMissingPassword,
}

// ValidationError is a single field-level failure, e.g. an empty message body.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// UnmarshalJSON restores Cause from a known code.
func (v *ValidationError) UnmarshalJSON(data []byte) error {
	type plain ValidationError
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*v = ValidationError(decoded)
	v.Cause = validationCodes[v.Code]
	return nil
}

func (v ValidationError) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationErrors aggregates multiple validation failures.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Add records err against field. Nested ValidationErrors are flattened
// with dotted field paths.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}

	var nested *ValidationErrors
	if errors.As(err, &nested) {
		for _, sub := range nested.Errors {
			v.Errors = append(v.Errors, ValidationError{
				Field:   joinField(field, sub.Field),
				Code:    sub.Code,
				Message: sub.Message,
				Cause:   sub.Cause,
			})
		}
		return
	}

	v.Errors = append(v.Errors, ValidationError{
		Field:   field,
		Code:    codeFor(err),
		Message: err.Error(),
		Cause:   err,
	})
}

// AddMessage records a failure without a sentinel cause.
func (v *ValidationErrors) AddMessage(field, message string) {
	if message == "" {
		return
	}
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}

// Field returns the failures recorded against field, e.g. "content".
func (v *ValidationErrors) Field(field string) []ValidationError {
	if v == nil {
		return nil
	}
	var out []ValidationError
	for _, err := range v.Errors {
		if err.Field == field {
			out = append(out, err)
		}
	}
	return out
}

// Err returns nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Error implements error.
func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation failed"
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	var builder strings.Builder
	for i, err := range v.Errors {
		if i > 0 {
			builder.WriteString("; ")
		}
		builder.WriteString(err.Error())
	}

	return builder.String()
}

// Is lets callers match a sentinel such as ErrEmptyContent through the aggregate.
func (v *ValidationErrors) Is(target error) bool {
	if v == nil {
		return false
	}
	for _, err := range v.Errors {
		if err.Cause != nil && errors.Is(err.Cause, target) {
			return true
		}
	}
	return false
}

func codeFor(err error) string {
	for code, sentinel := range validationCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

func joinField(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	default:
		return prefix + "." + field
	}
}
