package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/linksync/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType models.MessageType
		wantNorm string
	}{
		{name: "bare host", input: "example.com", wantType: models.MessageTypeURL, wantNorm: "https://example.com"},
		{name: "plain text", input: "hello world", wantType: models.MessageTypeText, wantNorm: "hello world"},
		{name: "https prefix", input: "https://go.dev/doc", wantType: models.MessageTypeURL, wantNorm: "https://go.dev/doc"},
		{name: "http prefix kept", input: "http://localhost:8080", wantType: models.MessageTypeURL, wantNorm: "http://localhost:8080"},
		{name: "scheme only prefix matches", input: "https:// anything goes", wantType: models.MessageTypeURL, wantNorm: "https:// anything goes"},
		{name: "surrounding whitespace", input: "  news.ycombinator.com/item?id=1 \n", wantType: models.MessageTypeURL, wantNorm: "https://news.ycombinator.com/item?id=1"},
		{name: "host with port and path", input: "sub.example.org:8443/a/b", wantType: models.MessageTypeURL, wantNorm: "https://sub.example.org:8443/a/b"},
		{name: "hyphenated labels", input: "my-site.co.uk", wantType: models.MessageTypeURL, wantNorm: "https://my-site.co.uk"},
		{name: "uppercase host", input: "EXAMPLE.COM", wantType: models.MessageTypeURL, wantNorm: "https://EXAMPLE.COM"},
		{name: "version string", input: "version 1.2", wantType: models.MessageTypeText, wantNorm: "version 1.2"},
		{name: "numeric tld rejected", input: "1.2.3", wantType: models.MessageTypeText, wantNorm: "1.2.3"},
		{name: "tld too long", input: "example.abcdef", wantType: models.MessageTypeText, wantNorm: "example.abcdef"},
		{name: "dotted word is a false positive", input: "notes.todo", wantType: models.MessageTypeURL, wantNorm: "https://notes.todo"},
		{name: "inner whitespace preserved", input: "  a   b  ", wantType: models.MessageTypeText, wantNorm: "a   b"},
		{name: "empty", input: "   ", wantType: models.MessageTypeText, wantNorm: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.input)
			require.Equal(t, tt.wantType, got.Type)
			require.Equal(t, tt.wantNorm, got.Normalized)
		})
	}
}

func TestClassifyIdempotentOnNormalized(t *testing.T) {
	inputs := []string{
		"example.com",
		"hello world",
		"  https://go.dev  ",
		"sub.example.org:8443/a/b",
		"version 1.2",
		"notes.todo",
		"http://x.io",
		"",
		"a.b",
		"foo.bar baz",
	}
	for _, in := range inputs {
		first := Classify(in)
		second := Classify(first.Normalized)
		require.Equal(t, first.Normalized, second.Normalized, "input %q", in)
		require.Equal(t, first.Type, second.Type, "input %q", in)
	}
}

func TestIsURL(t *testing.T) {
	require.True(t, IsURL("example.com"))
	require.False(t, IsURL("hello"))
}
