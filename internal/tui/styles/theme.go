// Package styles holds the live view themes.
package styles

import "github.com/charmbracelet/lipgloss"

// Theme defines color tokens for the live view. Colors are ANSI-256 codes;
// empty means the terminal default.
type Theme struct {
	Name string

	Foreground string
	Muted      string
	Accent     string
	Link       string
	Success    string
	Warning    string
	Error      string
	Header     string
	Selected   string
	Border     string
}

// DefaultTheme is a dark-terminal palette.
var DefaultTheme = Theme{
	Name:       "default",
	Foreground: "252",
	Muted:      "244",
	Accent:     "75",
	Link:       "117",
	Success:    "78",
	Warning:    "214",
	Error:      "203",
	Header:     "236",
	Selected:   "238",
	Border:     "240",
}

// HighContrastTheme trades subtlety for legibility.
var HighContrastTheme = Theme{
	Name:       "high-contrast",
	Foreground: "15",
	Muted:      "250",
	Accent:     "14",
	Link:       "11",
	Success:    "10",
	Warning:    "11",
	Error:      "9",
	Header:     "0",
	Selected:   "4",
	Border:     "15",
}

// MonoTheme uses attributes only.
var MonoTheme = Theme{Name: "mono"}

// Themes lists available palettes by name.
var Themes = map[string]Theme{
	DefaultTheme.Name:      DefaultTheme,
	HighContrastTheme.Name: HighContrastTheme,
	MonoTheme.Name:         MonoTheme,
}

// Styles are the rendered lipgloss styles for one theme.
type Styles struct {
	Theme Theme

	Text     lipgloss.Style
	Muted    lipgloss.Style
	Accent   lipgloss.Style
	Link     lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Header   lipgloss.Style
	Selected lipgloss.Style
	Panel    lipgloss.Style
}

// DefaultStyles returns the styles of DefaultTheme.
func DefaultStyles() Styles {
	return Build(DefaultTheme)
}

// ForTheme returns the styles of the named theme, falling back to default.
func ForTheme(name string) Styles {
	if theme, ok := Themes[name]; ok {
		return Build(theme)
	}
	return DefaultStyles()
}

// Build renders theme into styles.
func Build(t Theme) Styles {
	fg := func(color string) lipgloss.Style {
		style := lipgloss.NewStyle()
		if color != "" {
			style = style.Foreground(lipgloss.Color(color))
		}
		return style
	}

	s := Styles{
		Theme:   t,
		Text:    fg(t.Foreground),
		Muted:   fg(t.Muted).Faint(t.Muted == ""),
		Accent:  fg(t.Accent).Bold(true),
		Link:    fg(t.Link).Underline(true),
		Success: fg(t.Success),
		Warning: fg(t.Warning).Bold(t.Warning == ""),
		Error:   fg(t.Error).Bold(true),
		Header:  fg(t.Foreground).Bold(true).Padding(0, 1),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1),
	}
	if t.Header != "" {
		s.Header = s.Header.Background(lipgloss.Color(t.Header))
	}
	if t.Border != "" {
		s.Panel = s.Panel.BorderForeground(lipgloss.Color(t.Border))
	}
	s.Selected = fg(t.Foreground).Bold(true)
	if t.Selected != "" {
		s.Selected = s.Selected.Background(lipgloss.Color(t.Selected))
	} else {
		s.Selected = s.Selected.Reverse(true)
	}
	return s
}
