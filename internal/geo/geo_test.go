package geo

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func TestSector(t *testing.T) {
	s := NewSector(-10, 10, 20, 40)

	t.Run("deltas and centroid", func(t *testing.T) {
		require.Equal(t, 20.0, s.DeltaLat())
		require.Equal(t, 20.0, s.DeltaLon())
		require.InDelta(t, math.Pi/9, s.DeltaLatRadians(), 1e-12)
		require.Equal(t, LatLon{Lat: 0, Lon: 30}, s.Centroid())
	})

	t.Run("contains edges", func(t *testing.T) {
		require.True(t, s.Contains(10, 40))
		require.True(t, s.Contains(0, 30))
		require.False(t, s.Contains(11, 30))
	})

	t.Run("intersects and union", func(t *testing.T) {
		o := NewSector(10, 20, 40, 50)
		require.True(t, s.Intersects(o))
		require.False(t, s.Intersects(NewSector(30, 40, 0, 10)))
		require.Equal(t, NewSector(-10, 20, 20, 50), s.Union(o))
	})

	t.Run("clamp", func(t *testing.T) {
		require.Equal(t, LatLon{Lat: 10, Lon: 20}, s.Clamp(45, -100))
	})

	t.Run("validity", func(t *testing.T) {
		require.True(t, FullSphere.IsValid())
		require.False(t, NewSector(10, -10, 0, 1).IsValid())
	})
}

func TestGlobe(t *testing.T) {
	t.Run("sphere points lie on the radius", func(t *testing.T) {
		g := NewSphere(1000)
		for _, ll := range []LatLon{{0, 0}, {45, 45}, {-60, 170}, {90, 0}} {
			p := g.ComputePoint(ll.Lat, ll.Lon, 0)
			require.InDelta(t, 1000, p.Len(), 1e-9)
		}
	})

	t.Run("axis convention", func(t *testing.T) {
		g := NewSphere(1)
		require.True(t, g.ComputePoint(0, 0, 0).ApproxEqualThreshold(mgl64.Vec3{0, 0, 1}, 1e-12))
		require.True(t, g.ComputePoint(0, 90, 0).ApproxEqualThreshold(mgl64.Vec3{1, 0, 0}, 1e-12))
		require.True(t, g.ComputePoint(90, 0, 0).ApproxEqualThreshold(mgl64.Vec3{0, 1, 0}, 1e-12))
	})

	t.Run("wgs84 polar radius", func(t *testing.T) {
		g := WGS84()
		p := g.ComputePoint(90, 0, 0)
		require.InDelta(t, g.PolarRadius, p.Y(), 1)
	})

	t.Run("elevation moves along the normal", func(t *testing.T) {
		g := NewSphere(1000)
		p := g.ComputePoint(30, 60, 10)
		require.InDelta(t, 1010, p.Len(), 1e-9)
		n := g.SurfaceNormal(p)
		require.InDelta(t, 1, n.Len(), 1e-12)
	})

	t.Run("position under a point", func(t *testing.T) {
		g := NewSphere(1000)
		pos := g.ComputePosition(g.ComputePoint(-35, 120, 500))
		require.InDelta(t, -35, pos.Lat, 1e-9)
		require.InDelta(t, 120, pos.Lon, 1e-9)
	})
}

func TestExtent(t *testing.T) {
	g := WGS84()
	s := NewSector(0, 36, 0, 36)
	e := ComputeExtent(g, 1, s)

	for _, c := range s.Corners() {
		require.True(t, e.Contains(g.ComputePoint(c.Lat, c.Lon, 0)))
		require.True(t, e.Contains(g.ComputePoint(c.Lat, c.Lon, g.MaxElevation)))
	}
	c := s.Centroid()
	require.True(t, e.Contains(g.ComputePoint(c.Lat, c.Lon, 0)))
	require.True(t, e.Contains(g.ComputePoint(9, 27, 0)))
}

func TestFrustum(t *testing.T) {
	eye := mgl64.Vec3{0, 0, 10}
	v := NewView(eye, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 1, 0}, 60, 1, 1, 100)

	require.False(t, v.Frustum.IsZero())
	require.True(t, Frustum{}.IsZero())

	t.Run("point in front", func(t *testing.T) {
		require.True(t, v.Frustum.ContainsPoint(mgl64.Vec3{0, 0, 0}))
	})

	t.Run("point behind", func(t *testing.T) {
		require.False(t, v.Frustum.ContainsPoint(mgl64.Vec3{0, 0, 20}))
	})

	t.Run("sphere straddling a plane", func(t *testing.T) {
		require.False(t, v.Frustum.IntersectsSphere(mgl64.Vec3{50, 0, 0}, 1))
		require.True(t, v.Frustum.IntersectsSphere(mgl64.Vec3{50, 0, 0}, 50))
	})

	t.Run("projection of the look-at center", func(t *testing.T) {
		x, y, ok := v.Project(mgl64.Vec3{0, 0, 0})
		require.True(t, ok)
		require.InDelta(t, 0, x, 1e-9)
		require.InDelta(t, 0, y, 1e-9)
	})
}

func TestLookDown(t *testing.T) {
	g := WGS84()
	v := LookDown(g, 45, 10, 1e6, 45, 1.5)

	target := g.ComputePoint(45, 10, 0)
	require.True(t, v.Frustum.ContainsPoint(target))
	require.InDelta(t, 1e6, v.Eye.Sub(target).Len(), 1)

	farAway := g.ComputePoint(-45, 10, 0)
	require.False(t, v.Frustum.ContainsPoint(farAway))
}
