package render

import (
	"github.com/go-gl/mathgl/mgl64"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/tile"
)

// Backend is the rendering collaborator. The engine never touches a
// graphics context beyond these calls.
type Backend interface {
	Intersects(e geo.Extent, f geo.Frustum) bool
	Distance(a, b mgl64.Vec3) float64
	Draw(call DrawCall) error
}

// LabelDrawer is implemented by backends able to draw text. Positions are
// normalized device coordinates.
type LabelDrawer interface {
	DrawLabel(text string, x, y float64)
}

// DrawCall describes one surface draw. Node is nil for draws that are not
// tiles, such as surface images.
type DrawCall struct {
	Layer     string
	Sector    geo.Sector
	Node      tile.Node
	Key       tile.ResourceKey
	Resource  any
	Transform TextureTransform
	Opacity   float64
}

// StandardGeometry implements the geometric half of Backend with the geo
// primitives.
type StandardGeometry struct{}

func (StandardGeometry) Intersects(e geo.Extent, f geo.Frustum) bool {
	return e.Intersects(f)
}

func (StandardGeometry) Distance(a, b mgl64.Vec3) float64 {
	return a.Sub(b).Len()
}

// Label is a recorded text draw.
type Label struct {
	Text string
	X, Y float64
}

// HeadlessBackend records draw calls instead of drawing them. It is used
// for off-screen frame loops and tests.
type HeadlessBackend struct {
	StandardGeometry

	Calls  []DrawCall
	Labels []Label
}

func (b *HeadlessBackend) Draw(call DrawCall) error {
	b.Calls = append(b.Calls, call)
	return nil
}

func (b *HeadlessBackend) DrawLabel(text string, x, y float64) {
	b.Labels = append(b.Labels, Label{Text: text, X: x, Y: y})
}

// Reset forgets the recorded calls, typically at the start of a frame.
func (b *HeadlessBackend) Reset() {
	b.Calls = b.Calls[:0]
	b.Labels = b.Labels[:0]
}
