package render

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/tile"
)

const (
	ErrTypePrecondition = "render_precondition"
)

// DrawContext carries the per-frame state shared by selection and
// rendering.
type DrawContext struct {
	Globe                *geo.Globe
	View                 *geo.View
	VerticalExaggeration float64
	Backend              Backend

	// VisibleSector restricts selection when set. The terrain tessellator
	// sets it to the union of the sectors it selected.
	VisibleSector *geo.Sector

	// SurfaceGeometry holds the terrain tiles of the frame, if any.
	SurfaceGeometry []tile.Node

	FrameNumber uint64
}

// Validate fails when the context cannot support a frame. Such failures are
// integration bugs rather than data conditions.
func (dc *DrawContext) Validate() error {
	var missing string
	switch {
	case dc == nil:
		missing = "draw context"
	case dc.Globe == nil:
		missing = "globe"
	case dc.View == nil:
		missing = "view"
	case dc.View.Frustum.IsZero():
		missing = "frustum"
	case dc.Backend == nil:
		missing = "backend"
	default:
		return nil
	}

	return errors.New("draw context is incomplete").
		WithType(ErrTypePrecondition).
		WithTag("missing", missing)
}

// Exaggeration returns the vertical exaggeration, defaulting to 1.
func (dc *DrawContext) Exaggeration() float64 {
	if dc.VerticalExaggeration <= 0 {
		return 1
	}
	return dc.VerticalExaggeration
}

// IsSectorVisible reports whether a sector intersects the visible sector,
// if one is set.
func (dc *DrawContext) IsSectorVisible(s geo.Sector) bool {
	return dc.VisibleSector == nil || dc.VisibleSector.Intersects(s)
}
