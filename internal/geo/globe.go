package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Globe is an ellipsoid of revolution in a y-up cartesian frame: y points to
// the north pole, z to (0°, 0°) and x to (0°, 90°E).
type Globe struct {
	EquatorialRadius    float64
	PolarRadius         float64
	EccentricitySquared float64
	MinElevation        float64
	MaxElevation        float64
}

// WGS84 returns the WGS84 ellipsoid with terrestrial elevation bounds.
func WGS84() *Globe {
	return &Globe{
		EquatorialRadius:    6378137.0,
		PolarRadius:         6356752.3142,
		EccentricitySquared: 0.00669437999013,
		MinElevation:        -11000,
		MaxElevation:        8500,
	}
}

// NewSphere returns a spherical globe with no elevation range.
func NewSphere(radius float64) *Globe {
	return &Globe{
		EquatorialRadius: radius,
		PolarRadius:      radius,
	}
}

// Radius returns the equatorial radius.
func (g *Globe) Radius() float64 {
	return g.EquatorialRadius
}

// ComputePoint returns the cartesian point of a position in degrees at the
// given elevation in meters.
func (g *Globe) ComputePoint(lat, lon, elevation float64) mgl64.Vec3 {
	latRad := Radians(lat)
	lonRad := Radians(lon)
	return g.computePointRadians(latRad, lonRad, elevation)
}

func (g *Globe) computePointRadians(lat, lon, elevation float64) mgl64.Vec3 {
	cosLat := math.Cos(lat)
	sinLat := math.Sin(lat)
	rpm := g.EquatorialRadius / math.Sqrt(1.0-g.EccentricitySquared*sinLat*sinLat)

	return mgl64.Vec3{
		(rpm + elevation) * cosLat * math.Sin(lon),
		(rpm*(1.0-g.EccentricitySquared) + elevation) * sinLat,
		(rpm + elevation) * cosLat * math.Cos(lon),
	}
}

// SurfaceNormal returns the unit ellipsoid normal at a cartesian point.
func (g *Globe) SurfaceNormal(p mgl64.Vec3) mgl64.Vec3 {
	a2 := g.EquatorialRadius * g.EquatorialRadius
	b2 := g.PolarRadius * g.PolarRadius
	return mgl64.Vec3{p.X() / a2, p.Y() / b2, p.Z() / a2}.Normalize()
}

// NorthTangent returns the unit vector pointing north along the surface at
// a position in degrees.
func (g *Globe) NorthTangent(lat, lon float64) mgl64.Vec3 {
	latRad := Radians(lat)
	lonRad := Radians(lon)
	return mgl64.Vec3{
		-math.Sin(latRad) * math.Sin(lonRad),
		math.Cos(latRad),
		-math.Sin(latRad) * math.Cos(lonRad),
	}
}

// CornerPoints returns the surface points of the sector corners in SW, SE,
// NE, NW order.
func (g *Globe) CornerPoints(s Sector) [4]mgl64.Vec3 {
	var points [4]mgl64.Vec3
	for i, c := range s.Corners() {
		points[i] = g.ComputePoint(c.Lat, c.Lon, 0)
	}
	return points
}

// CenterPoint returns the surface point of the sector centroid.
func (g *Globe) CenterPoint(s Sector) mgl64.Vec3 {
	c := s.Centroid()
	return g.ComputePoint(c.Lat, c.Lon, 0)
}

// ComputePosition returns the geocentric position under a cartesian point.
// Latitudes are geocentric, which is close enough for distance heuristics.
func (g *Globe) ComputePosition(p mgl64.Vec3) LatLon {
	horizontal := math.Hypot(p.X(), p.Z())
	return LatLon{
		Lat: Degrees(math.Atan2(p.Y(), horizontal)),
		Lon: Degrees(math.Atan2(p.X(), p.Z())),
	}
}
