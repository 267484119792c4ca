package geo

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Plane is n·p + d = 0 with a unit normal pointing inside the frustum.
type Plane struct {
	Normal mgl64.Vec3
	D      float64
}

// Distance returns the signed distance of p to the plane.
func (p Plane) Distance(point mgl64.Vec3) float64 {
	return p.Normal.Dot(point) + p.D
}

// Frustum is the convex view volume bounded by six planes: left, right,
// bottom, top, near and far.
type Frustum struct {
	Planes [6]Plane
}

// FrustumFromMatrix extracts the view volume of a combined
// projection*modelview matrix.
func FrustumFromMatrix(m mgl64.Mat4) Frustum {
	r0, r1, r2, r3 := m.Row(0), m.Row(1), m.Row(2), m.Row(3)

	var f Frustum
	for i, v := range [6]mgl64.Vec4{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r3.Add(r2),
		r3.Sub(r2),
	} {
		n := v.Vec3()
		l := n.Len()
		if l == 0 {
			continue
		}
		f.Planes[i] = Plane{Normal: n.Mul(1 / l), D: v.W() / l}
	}
	return f
}

// IsZero reports whether the frustum was never initialized.
func (f Frustum) IsZero() bool {
	for _, p := range f.Planes {
		if p.Normal.Len() != 0 {
			return false
		}
	}
	return true
}

// IntersectsSphere reports whether a sphere is at least partly inside.
func (f Frustum) IntersectsSphere(center mgl64.Vec3, radius float64) bool {
	for _, p := range f.Planes {
		if p.Distance(center) < -radius {
			return false
		}
	}
	return true
}

// ContainsPoint reports whether a point is inside the frustum.
func (f Frustum) ContainsPoint(point mgl64.Vec3) bool {
	return f.IntersectsSphere(point, 0)
}
