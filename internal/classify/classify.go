// Package classify decides whether free-text input is a link or plain text.
package classify

import (
	"regexp"
	"strings"

	"github.com/tOgg1/linksync/internal/models"
)

// urlPattern accepts an explicit http(s):// prefix, or a bare host-like token
// (label(.label)+ with a 2-5 letter final label, optional port and path).
// It is a heuristic: version strings such as "v1.2" stay text, but dotted
// tokens like "notes.todo" are treated as links.
var urlPattern = regexp.MustCompile(`(?i)^(https?://|[a-z0-9]+([\-.][a-z0-9]+)*\.[a-z]{2,5}(:[0-9]{1,5})?(/.*)?$)`)

// Result is the classification of one input.
type Result struct {
	Type       models.MessageType
	Normalized string
}

// Classify trims raw and reports whether it looks like a URL. Bare hosts are
// normalized to https://.
func Classify(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if !urlPattern.MatchString(trimmed) {
		return Result{Type: models.MessageTypeText, Normalized: trimmed}
	}
	if strings.HasPrefix(trimmed, "http") {
		return Result{Type: models.MessageTypeURL, Normalized: trimmed}
	}
	return Result{Type: models.MessageTypeURL, Normalized: "https://" + trimmed}
}

// IsURL is shorthand for Classify(raw).Type == url.
func IsURL(raw string) bool {
	return Classify(raw).Type == models.MessageTypeURL
}
