package layer

import (
	"context"
	"time"

	"globe-tiles/internal/render"
)

// Layer is a renderable surface layer. Layers are rendered and merged on
// the render goroutine only.
type Layer interface {
	Name() string
	IsEnabled() bool
	SetEnabled(enabled bool)
	Opacity() float64
	SetOpacity(opacity float64)

	// Render selects and draws the layer for a frame.
	Render(ctx context.Context, dc *render.DrawContext) (Stats, error)

	// Merge moves completed retrievals into memory and returns how many
	// payloads were added.
	Merge() int
}

// Stats summarizes the rendering of a layer in a frame.
type Stats struct {
	Layer    string
	Selected int
	render.Stats
}

func clampOpacity(opacity float64) float64 {
	return max(0, min(1, opacity))
}

var noExpiry time.Time
