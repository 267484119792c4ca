package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// View is a camera: its eye point, model-view and projection matrices and
// the frustum derived from them.
type View struct {
	Eye        mgl64.Vec3
	Modelview  mgl64.Mat4
	Projection mgl64.Mat4
	Frustum    Frustum
}

// NewView builds a perspective view looking from eye to center.
func NewView(eye, center, up mgl64.Vec3, fovyDegrees, aspect, near, far float64) *View {
	modelview := mgl64.LookAtV(eye, center, up)
	projection := mgl64.Perspective(mgl64.DegToRad(fovyDegrees), aspect, near, far)

	return &View{
		Eye:        eye,
		Modelview:  modelview,
		Projection: projection,
		Frustum:    FrustumFromMatrix(projection.Mul4(modelview)),
	}
}

// LookDown builds a view above a position in degrees, looking straight at
// the surface with north up.
func LookDown(g *Globe, lat, lon, altitude, fovyDegrees, aspect float64) *View {
	eye := g.ComputePoint(lat, lon, altitude)
	center := g.ComputePoint(lat, lon, 0)
	up := g.NorthTangent(lat, lon)

	near := math.Max(altitude/100, 1)
	far := altitude + 2*g.EquatorialRadius
	return NewView(eye, center, up, fovyDegrees, aspect, near, far)
}

// Project maps a cartesian point to normalized device coordinates. ok is
// false when the point is behind the eye.
func (v *View) Project(p mgl64.Vec3) (x, y float64, ok bool) {
	clip := v.Projection.Mul4(v.Modelview).Mul4x1(p.Vec4(1))
	if clip.W() <= 0 {
		return 0, 0, false
	}
	return clip.X() / clip.W(), clip.Y() / clip.W(), true
}
