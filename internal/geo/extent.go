package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// extentSamples is the number of intervals per sector edge sampled when
// bounding a sector.
const extentSamples = 4

// Extent is a bounding sphere in cartesian space.
type Extent struct {
	Center mgl64.Vec3
	Radius float64
}

// Intersects reports whether the extent is at least partly inside f.
func (e Extent) Intersects(f Frustum) bool {
	return f.IntersectsSphere(e.Center, e.Radius)
}

// Contains reports whether p is inside the extent.
func (e Extent) Contains(p mgl64.Vec3) bool {
	return p.Sub(e.Center).Len() <= e.Radius
}

// ComputeExtent bounds the volume between the globe's exaggerated minimum
// and maximum elevations over a sector.
func ComputeExtent(g *Globe, verticalExaggeration float64, s Sector) Extent {
	minElevation := g.MinElevation * verticalExaggeration
	maxElevation := g.MaxElevation * verticalExaggeration

	points := make([]mgl64.Vec3, 0, 2*(extentSamples+1)*(extentSamples+1))
	dLat := s.DeltaLat() / extentSamples
	dLon := s.DeltaLon() / extentSamples
	for j := 0; j <= extentSamples; j++ {
		lat := s.MinLat + float64(j)*dLat
		if j == extentSamples {
			lat = s.MaxLat
		}
		for i := 0; i <= extentSamples; i++ {
			lon := s.MinLon + float64(i)*dLon
			if i == extentSamples {
				lon = s.MaxLon
			}
			points = append(points,
				g.ComputePoint(lat, lon, minElevation),
				g.ComputePoint(lat, lon, maxElevation),
			)
		}
	}

	var center mgl64.Vec3
	for _, p := range points {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(points)))

	var radius float64
	for _, p := range points {
		radius = math.Max(radius, p.Sub(center).Len())
	}

	// The surface bulges between samples by at most the sagitta of the
	// widest sample interval.
	spacing := Radians(math.Max(dLat, dLon))
	radius += (g.EquatorialRadius + maxElevation) * (1 - math.Cos(spacing/2))

	return Extent{Center: center, Radius: radius}
}
