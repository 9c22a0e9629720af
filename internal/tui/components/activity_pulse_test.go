package components

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tOgg1/linksync/internal/tui/styles"
)

func TestActivityPulseLevel(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		arrived time.Duration
		want    ActivityLevel
	}{
		{"just now", 2 * time.Second, ActivityHigh},
		{"half a minute", 30 * time.Second, ActivityMedium},
		{"few minutes", 3 * time.Minute, ActivityLow},
		{"stale", 10 * time.Minute, ActivityNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pulse ActivityPulse
			pulse.Record(now.Add(-tt.arrived))
			assert.Equal(t, tt.want, pulse.Level(now))
		})
	}

	var empty ActivityPulse
	assert.Equal(t, ActivityNone, empty.Level(now))
}

func TestActivityPulseRecordBounded(t *testing.T) {
	now := time.Now()
	var pulse ActivityPulse
	for i := 0; i < maxPulseEvents+10; i++ {
		pulse.Record(now.Add(time.Duration(i) * time.Second))
	}
	assert.Len(t, pulse.RecentEvents, maxPulseEvents)
	assert.Equal(t, now.Add(time.Duration(maxPulseEvents+9)*time.Second), *pulse.LastActivity)

	pulse.Reset()
	assert.Empty(t, pulse.RecentEvents)
	assert.Nil(t, pulse.LastActivity)
}

func TestRenderActivityLine(t *testing.T) {
	now := time.Now()
	var pulse ActivityPulse
	pulse.Record(now.Add(-5 * time.Second))
	pulse.Record(now.Add(-2 * time.Minute))

	line := RenderActivityLine(styles.Build(styles.MonoTheme), pulse, now)
	assert.Contains(t, line, "(1/min)")
	assert.Equal(t, 5, strings.Count(line, "●"))
}
