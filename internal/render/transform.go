package render

import (
	"github.com/go-gl/mathgl/mgl64"
	"globe-tiles/internal/geo"
)

// SubRect is the region of an ancestor texture covering a descendant
// sector, in texture coordinates of the ancestor.
type SubRect struct {
	U0, V0 float64
	SU, SV float64
}

// ComputeSubRect maps a sector onto the texture of an ancestor sector that
// contains it.
func ComputeSubRect(s, ancestor geo.Sector) SubRect {
	dLat := ancestor.DeltaLat()
	dLon := ancestor.DeltaLon()
	return SubRect{
		U0: (s.MinLon - ancestor.MinLon) / dLon,
		V0: (s.MinLat - ancestor.MinLat) / dLat,
		SU: s.DeltaLon() / dLon,
		SV: s.DeltaLat() / dLat,
	}
}

// Sector maps the sub-rectangle back to geographic bounds.
func (r SubRect) Sector(ancestor geo.Sector) geo.Sector {
	dLat := ancestor.DeltaLat()
	dLon := ancestor.DeltaLon()
	return geo.Sector{
		MinLat: ancestor.MinLat + r.V0*dLat,
		MaxLat: ancestor.MinLat + (r.V0+r.SV)*dLat,
		MinLon: ancestor.MinLon + r.U0*dLon,
		MaxLon: ancestor.MinLon + (r.U0+r.SU)*dLon,
	}
}

// TextureTransform scales then translates texture coordinates.
type TextureTransform struct {
	ScaleU, ScaleV   float64
	OffsetU, OffsetV float64
}

// IdentityTransform leaves texture coordinates unchanged.
var IdentityTransform = TextureTransform{ScaleU: 1, ScaleV: 1}

// TransformFor returns the transform sampling a sub-rectangle.
func TransformFor(r SubRect) TextureTransform {
	return TextureTransform{
		ScaleU:  r.SU,
		ScaleV:  r.SV,
		OffsetU: r.U0,
		OffsetV: r.V0,
	}
}

// Apply transforms a texture coordinate.
func (t TextureTransform) Apply(u, v float64) (float64, float64) {
	return t.OffsetU + t.ScaleU*u, t.OffsetV + t.ScaleV*v
}

// Mat3 returns the transform as a homogeneous 2D matrix.
func (t TextureTransform) Mat3() mgl64.Mat3 {
	return mgl64.Translate2D(t.OffsetU, t.OffsetV).Mul3(mgl64.Scale2D(t.ScaleU, t.ScaleV))
}
