package terrain

import (
	"globe-tiles/internal/geo"
)

// Elevations samples the elevations of a sector at a resolution.
type Elevations interface {
	// Elevation returns the elevation in meters at a position in degrees.
	Elevation(lat, lon float64) float64

	// Resolution returns the level the samples come from. Negative means
	// no data was available and the samples are placeholders.
	Resolution() int
}

// ElevationModel provides terrain elevations.
type ElevationModel interface {
	// TargetResolution returns the resolution needed to sample a sector at
	// density intervals per side.
	TargetResolution(sector geo.Sector, density int) int

	// Elevations returns the best elevations available for a sector, up
	// to the requested resolution.
	Elevations(sector geo.Sector, resolution int) Elevations

	MinElevation() float64
	MaxElevation() float64
}

// ConstantElevation is a flat elevation model.
type ConstantElevation struct {
	Value float64
}

func (c ConstantElevation) TargetResolution(geo.Sector, int) int {
	return 0
}

func (c ConstantElevation) Elevations(geo.Sector, int) Elevations {
	return constantElevations(c.Value)
}

func (c ConstantElevation) MinElevation() float64 {
	return c.Value
}

func (c ConstantElevation) MaxElevation() float64 {
	return c.Value
}

type constantElevations float64

func (e constantElevations) Elevation(float64, float64) float64 {
	return float64(e)
}

func (e constantElevations) Resolution() int {
	return 0
}
