package lod

import (
	"math"

	"globe-tiles/internal/geo"
	"globe-tiles/internal/render"
)

// SplitTest decides whether a sector is too coarse for the current view.
type SplitTest struct {
	// CellScale scales the approximate cell size of a tile.
	CellScale float64

	// SplitScale is the log10 margin between the eye distance and the cell
	// size below which a tile is split. Larger values give coarser tiles.
	SplitScale float64

	// Density is the number of cells across a tile.
	Density float64

	// Accurate adds the nearest point of the sector to the distance samples.
	Accurate bool
}

// ImagerySplitTest returns the split test of tiled image layers.
func ImagerySplitTest() SplitTest {
	return SplitTest{
		CellScale:  math.Pi,
		SplitScale: 0.9,
		Density:    20,
	}
}

// TerrainSplitTest returns the split test of the terrain tessellator.
func TerrainSplitTest() SplitTest {
	return SplitTest{
		CellScale:  1,
		SplitScale: 1.3,
		Density:    24,
	}
}

// NeedToSplit reports whether the sector should be subdivided.
func (s SplitTest) NeedToSplit(dc *render.DrawContext, sector geo.Sector) bool {
	cellSize := s.CellScale * sector.DeltaLatRadians() * dc.Globe.Radius() / s.Density
	minDistance := s.MinDistance(dc, sector)
	return !(math.Log10(cellSize) <= math.Log10(minDistance)-s.SplitScale)
}

// MinDistance returns the smallest eye distance over the corners and the
// center of the sector.
func (s SplitTest) MinDistance(dc *render.DrawContext, sector geo.Sector) float64 {
	eye := dc.View.Eye
	corners := dc.Globe.CornerPoints(sector)

	d := dc.Backend.Distance(eye, dc.Globe.CenterPoint(sector))
	for _, c := range corners {
		d = math.Min(d, dc.Backend.Distance(eye, c))
	}

	if s.Accurate {
		pos := dc.Globe.ComputePosition(eye)
		nearest := sector.Clamp(pos.Lat, pos.Lon)
		d = math.Min(d, dc.Backend.Distance(eye, dc.Globe.ComputePoint(nearest.Lat, nearest.Lon, 0)))
	}
	return d
}
