package components

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/linksync/internal/tui/styles"
)

func TestSpinnerCyclesFrames(t *testing.T) {
	frames := make(map[string]bool)
	for i := 0; i < 20; i++ {
		frame := Spinner(i)
		require.NotEmpty(t, frame)
		frames[frame] = true
	}
	assert.Len(t, frames, len(SpinnerFrames))
}

func TestSpinnerNegativeTick(t *testing.T) {
	assert.NotEmpty(t, Spinner(-5))
}

func TestRenderSpinner(t *testing.T) {
	styleSet := styles.DefaultStyles()
	assert.NotEmpty(t, RenderSpinner(styleSet, 0, ""))
	assert.Contains(t, RenderSpinner(styleSet, 0, "Loading"), "Loading")
}
