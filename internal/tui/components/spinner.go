// Package components provides reusable live view components.
package components

import (
	"github.com/tOgg1/linksync/internal/tui/styles"
)

// SpinnerFrames are braille frames cycled while a request is in flight.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner returns the frame for tick.
func Spinner(tick int) string {
	if tick < 0 {
		tick = -tick
	}
	return SpinnerFrames[tick%len(SpinnerFrames)]
}

// RenderSpinner renders a frame followed by an optional label.
func RenderSpinner(styleSet styles.Styles, tick int, label string) string {
	frame := styleSet.Accent.Render(Spinner(tick))
	if label == "" {
		return frame
	}
	return frame + " " + styleSet.Muted.Render(label)
}
