package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tOgg1/linksync/internal/tui/styles"
)

// ActivityLevel represents how recently messages arrived.
type ActivityLevel int

const (
	ActivityNone   ActivityLevel = iota // Nothing in the past 5 minutes
	ActivityLow                         // Something in the past 5 minutes
	ActivityMedium                      // Something in the past minute
	ActivityHigh                        // Something in the past 10 seconds
)

// maxPulseEvents bounds the arrival history kept by Record.
const maxPulseEvents = 32

// ActivityPulse tracks recent message arrivals.
type ActivityPulse struct {
	// RecentEvents are arrival times, oldest first.
	RecentEvents []time.Time
	// LastActivity is the most recent arrival.
	LastActivity *time.Time
}

// Record adds an arrival at t.
func (ap *ActivityPulse) Record(t time.Time) {
	ap.RecentEvents = append(ap.RecentEvents, t)
	if len(ap.RecentEvents) > maxPulseEvents {
		ap.RecentEvents = ap.RecentEvents[len(ap.RecentEvents)-maxPulseEvents:]
	}
	last := t
	ap.LastActivity = &last
}

// Reset forgets all arrivals.
func (ap *ActivityPulse) Reset() {
	ap.RecentEvents = nil
	ap.LastActivity = nil
}

// Level calculates the activity level at now.
func (ap ActivityPulse) Level(now time.Time) ActivityLevel {
	if ap.LastActivity == nil {
		return ActivityNone
	}

	elapsed := now.Sub(*ap.LastActivity)
	switch {
	case elapsed < 10*time.Second:
		return ActivityHigh
	case elapsed < 1*time.Minute:
		return ActivityMedium
	case elapsed < 5*time.Minute:
		return ActivityLow
	default:
		return ActivityNone
	}
}

// EventsInWindow counts arrivals within window before now.
func (ap ActivityPulse) EventsInWindow(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for _, t := range ap.RecentEvents {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// RenderActivityPulse renders the level as dots, e.g. "●●●○○".
func RenderActivityPulse(styleSet styles.Styles, pulse ActivityPulse, now time.Time) string {
	const totalDots = 5
	var activeDots int
	var activeStyle lipgloss.Style
	switch pulse.Level(now) {
	case ActivityHigh:
		activeDots, activeStyle = 5, styleSet.Success.Bold(true)
	case ActivityMedium:
		activeDots, activeStyle = 3, styleSet.Success
	case ActivityLow:
		activeDots, activeStyle = 1, styleSet.Accent
	}

	var b strings.Builder
	for i := 0; i < totalDots; i++ {
		if i < activeDots {
			b.WriteString(activeStyle.Render("●"))
		} else {
			b.WriteString(styleSet.Muted.Render("○"))
		}
	}
	return b.String()
}

// RenderActivityLine renders the pulse with its per-minute rate.
func RenderActivityLine(styleSet styles.Styles, pulse ActivityPulse, now time.Time) string {
	dots := RenderActivityPulse(styleSet, pulse, now)
	rate := styleSet.Muted.Render(fmt.Sprintf("(%d/min)", pulse.EventsInWindow(now, time.Minute)))
	return dots + " " + rate
}
