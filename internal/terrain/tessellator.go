package terrain

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl64"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/lod"
	"globe-tiles/internal/render"
	"globe-tiles/internal/tile"
)

const (
	DefaultDensity  = 24
	DefaultMaxLevel = 12

	topLevelRows    = 5
	topLevelColumns = 10
)

// Tile is a terrain tile of the current frame with its geometry.
type Tile struct {
	tile.Tile

	Geometry *Geometry
	globe    *geo.Globe
}

// SurfacePoint returns the point of the tile geometry at a position in
// degrees, moved offset meters along the surface normal. ok is false when
// the position is outside the tile.
func (t *Tile) SurfacePoint(lat, lon, offset float64) (mgl64.Vec3, bool) {
	s := t.Sector()
	if t.Geometry == nil || !s.Contains(lat, lon) {
		return mgl64.Vec3{}, false
	}

	density := t.Geometry.Density
	u := (lon - s.MinLon) / s.DeltaLon()
	v := (lat - s.MinLat) / s.DeltaLat()

	column := min(int(u*float64(density)), density-1)
	row := min(int(v*float64(density)), density-1)
	xDec := u*float64(density) - float64(column)
	yDec := v*float64(density) - float64(row)

	p := t.Geometry.interpolate(row, column, xDec, yDec).Add(t.Geometry.ReferenceCenter)
	if offset != 0 {
		p = p.Add(t.globe.SurfaceNormal(p).Mul(offset))
	}
	return p, true
}

// interpolate returns the point at (xDec, yDec) of the cell whose bottom
// left interior vertex is (row, column). The cell is split into two
// triangles along the diagonal from top left to bottom right.
func (g *Geometry) interpolate(row, column int, xDec, yDec float64) mgl64.Vec3 {
	side := g.Density + 3
	bl := (row+1)*side + column + 1

	bL := g.Vertices[bl]
	bR := g.Vertices[bl+1]
	tL := g.Vertices[bl+side]
	tR := g.Vertices[bl+side+1]

	switch pos := xDec + yDec; {
	case pos == 1:
		return tL.Mul(yDec).Add(bR.Mul(xDec))
	case pos > 1:
		horizontal := tL.Sub(tR).Mul(1 - xDec)
		vertical := bR.Sub(tR).Mul(1 - yDec)
		return tR.Add(horizontal).Add(vertical)
	default:
		horizontal := bR.Sub(bL).Mul(xDec)
		vertical := tL.Sub(bL).Mul(yDec)
		return bL.Add(horizontal).Add(vertical)
	}
}

// TessellatorConfig configures a Tessellator.
type TessellatorConfig struct {
	Density           int
	MaxLevel          int
	AccurateSplitTest bool
}

// Tessellator selects terrain tiles for a view and builds their geometry.
type Tessellator struct {
	levels    *tile.LevelSet
	tops      []tile.Tile
	density   int
	split     lod.SplitTest
	elevation ElevationModel
	geometry  *cache.ResourceCache[CacheKey, *Geometry]
}

func NewTessellator(elevation ElevationModel, geometry *cache.ResourceCache[CacheKey, *Geometry], c TessellatorConfig) (*Tessellator, error) {
	if elevation == nil || geometry == nil {
		return nil, errors.New("tessellator needs an elevation model and a geometry cache")
	}
	if c.Density <= 0 {
		c.Density = DefaultDensity
	}
	if c.MaxLevel <= 0 {
		c.MaxLevel = DefaultMaxLevel
	}

	levels, err := tile.NewLevelSet(tile.LevelSetParams{
		Dataset: "terrain",
		Sector:  geo.FullSphere,
		LevelZeroDelta: geo.LatLon{
			Lat: 180.0 / topLevelRows,
			Lon: 360.0 / topLevelColumns,
		},
		NumLevels: c.MaxLevel + 1,
	})
	if err != nil {
		return nil, errors.New("creating terrain levels failed").Wrap(err)
	}

	split := lod.TerrainSplitTest()
	split.Density = float64(c.Density)
	split.Accurate = c.AccurateSplitTest

	return &Tessellator{
		levels:    levels,
		tops:      levels.TopLevelTiles(),
		density:   c.Density,
		split:     split,
		elevation: elevation,
		geometry:  geometry,
	}, nil
}

func (t *Tessellator) Levels() *tile.LevelSet {
	return t.levels
}

// Tessellate returns the terrain tiles covering the view with their
// geometry. It sets the visible sector and the surface geometry of dc.
func (t *Tessellator) Tessellate(dc *render.DrawContext) ([]*Tile, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}

	var selected []tile.Tile
	for _, top := range t.tops {
		selected = t.selectVisibleTiles(dc, top, selected)
	}

	tiles := make([]*Tile, 0, len(selected))
	nodes := make([]tile.Node, 0, len(selected))
	var visible *geo.Sector
	built := 0

	for _, s := range selected {
		g, fresh := t.makeGeometry(dc, s)
		if fresh {
			built++
		}
		tt := &Tile{Tile: s, Geometry: g, globe: dc.Globe}
		tiles = append(tiles, tt)
		nodes = append(nodes, tt)

		sector := s.Sector()
		if visible != nil {
			sector = visible.Union(sector)
		}
		visible = &sector
	}

	dc.VisibleSector = visible
	dc.SurfaceGeometry = nodes
	instrumentTessellation(len(tiles), built)
	return tiles, nil
}

func (t *Tessellator) selectVisibleTiles(dc *render.DrawContext, tl tile.Tile, selected []tile.Tile) []tile.Tile {
	if !dc.Backend.Intersects(tl.Extent(dc.Globe, dc.Exaggeration()), dc.View.Frustum) {
		return selected
	}

	if !t.levels.IsFinalLevel(tl.LevelNumber()) && t.split.NeedToSplit(dc, tl.Sector()) {
		for _, child := range t.levels.Subdivide(tl) {
			selected = t.selectVisibleTiles(dc, child, selected)
		}
		return selected
	}
	return append(selected, tl)
}

// makeGeometry returns cached geometry for the target resolution or builds
// it. Geometry built from placeholder elevations is not cached.
func (t *Tessellator) makeGeometry(dc *render.DrawContext, tl tile.Tile) (*Geometry, bool) {
	ve := dc.Exaggeration()
	resolution := t.elevation.TargetResolution(tl.Sector(), t.density)

	key := CacheKey{
		Address:              tl.Address(),
		Resolution:           resolution,
		VerticalExaggeration: ve,
		Density:              t.density,
	}
	if g, ok := t.geometry.Get(key); ok {
		return g, false
	}

	skirt := math.Abs(math.Min(dc.Globe.MinElevation, t.elevation.MinElevation()) * ve)
	elevations := t.elevation.Elevations(tl.Sector(), resolution)
	g := buildGeometry(dc.Globe, tl.Sector(), t.density, ve, skirt, elevations)

	if g.Resolution >= 0 {
		key.Resolution = g.Resolution
		t.geometry.Put(key, g, g.SizeInBytes())
	}
	return g, true
}
