package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// LatLon is a geographic position in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Sector is an axis-aligned latitude/longitude rectangle in degrees.
type Sector struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// FullSphere covers the whole globe.
var FullSphere = Sector{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}

// NewSector creates a sector from its bounds in degrees.
func NewSector(minLat, maxLat, minLon, maxLon float64) Sector {
	return Sector{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}
}

// SectorFromBound converts an orb bound (x=lon, y=lat) to a sector.
func SectorFromBound(b orb.Bound) Sector {
	return Sector{
		MinLat: b.Min.Y(),
		MaxLat: b.Max.Y(),
		MinLon: b.Min.X(),
		MaxLon: b.Max.X(),
	}
}

// Bound returns the sector as an orb bound with x=lon and y=lat.
func (s Sector) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{s.MinLon, s.MinLat},
		Max: orb.Point{s.MaxLon, s.MaxLat},
	}
}

func (s Sector) DeltaLat() float64 {
	return s.MaxLat - s.MinLat
}

func (s Sector) DeltaLon() float64 {
	return s.MaxLon - s.MinLon
}

func (s Sector) DeltaLatRadians() float64 {
	return Radians(s.DeltaLat())
}

// Centroid returns the center of the sector.
func (s Sector) Centroid() LatLon {
	c := s.Bound().Center()
	return LatLon{Lat: c.Y(), Lon: c.X()}
}

// Corners returns the corner positions in SW, SE, NE, NW order.
func (s Sector) Corners() [4]LatLon {
	return [4]LatLon{
		{Lat: s.MinLat, Lon: s.MinLon},
		{Lat: s.MinLat, Lon: s.MaxLon},
		{Lat: s.MaxLat, Lon: s.MaxLon},
		{Lat: s.MaxLat, Lon: s.MinLon},
	}
}

// Contains reports whether the position lies inside the sector, edges included.
func (s Sector) Contains(lat, lon float64) bool {
	return s.Bound().Contains(orb.Point{lon, lat})
}

// Intersects reports whether the sectors overlap or touch.
func (s Sector) Intersects(o Sector) bool {
	return s.Bound().Intersects(o.Bound())
}

// Union returns the smallest sector containing both sectors.
func (s Sector) Union(o Sector) Sector {
	return SectorFromBound(s.Bound().Union(o.Bound()))
}

// Clamp returns the position moved to the closest point inside the sector.
func (s Sector) Clamp(lat, lon float64) LatLon {
	return LatLon{
		Lat: math.Max(s.MinLat, math.Min(s.MaxLat, lat)),
		Lon: math.Max(s.MinLon, math.Min(s.MaxLon, lon)),
	}
}

// IsValid reports whether the sector bounds are ordered and within the globe.
func (s Sector) IsValid() bool {
	return s.MinLat < s.MaxLat &&
		s.MinLon < s.MaxLon &&
		s.MinLat >= -90 && s.MaxLat <= 90 &&
		s.MinLon >= -180 && s.MaxLon <= 180
}

func (s Sector) String() string {
	return fmt.Sprintf("(%g, %g)-(%g, %g)", s.MinLat, s.MinLon, s.MaxLat, s.MaxLon)
}

func Radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func Degrees(radians float64) float64 {
	return radians * 180 / math.Pi
}
