package tile

import (
	"globe-tiles/internal/geo"
)

// Node is the capability shared by every kind of tile drawn on the globe.
type Node interface {
	Address() Address
	Sector() geo.Sector
	Extent(g *geo.Globe, verticalExaggeration float64) geo.Extent
}

// Tile is a lightweight descriptor of one pyramid tile. It never holds a
// payload and is rebuilt every frame.
type Tile struct {
	address Address
	sector  geo.Sector
	level   *Level
}

// Tile returns the descriptor of the tile at a.
func (s *LevelSet) Tile(a Address) Tile {
	return Tile{
		address: a,
		sector:  s.ComputeSectorForKey(a),
		level:   s.Level(a.Level),
	}
}

// TopLevelTiles returns the level 0 tiles covering the level set sector.
func (s *LevelSet) TopLevelTiles() []Tile {
	addrs := s.TopLevelAddresses()
	tiles := make([]Tile, len(addrs))
	for i, a := range addrs {
		tiles[i] = s.Tile(a)
	}
	return tiles
}

// Subdivide returns the four children of t in SW, SE, NW, NE order. Their
// sectors exactly partition the sector of t.
func (s *LevelSet) Subdivide(t Tile) [4]Tile {
	var children [4]Tile
	for i, a := range t.address.Children() {
		children[i] = s.Tile(a)
	}
	return children
}

func (t Tile) Address() Address {
	return t.address
}

func (t Tile) Sector() geo.Sector {
	return t.sector
}

func (t Tile) Level() *Level {
	return t.level
}

func (t Tile) LevelNumber() int {
	return t.address.Level
}

// Extent bounds the tile between the globe's elevation extremes.
func (t Tile) Extent(g *geo.Globe, verticalExaggeration float64) geo.Extent {
	return geo.ComputeExtent(g, verticalExaggeration, t.sector)
}

// Key returns the resource key of the tile payload.
func (t Tile) Key() ResourceKey {
	if t.level == nil {
		return ResourceKey{Address: t.address}
	}
	return KeyFor(t.level.Dataset, t.address)
}

// Path returns the cache path of the tile payload.
func (t Tile) Path() string {
	if t.level == nil {
		return ""
	}
	return t.level.Path(t.address)
}

// URL returns the remote location of the tile payload.
func (t Tile) URL() string {
	if t.level == nil {
		return ""
	}
	return t.level.URL(t.address)
}

// Label is the text form used in logs and debug overlays.
func (t Tile) Label() string {
	return t.address.String()
}

func (t Tile) String() string {
	return t.Label() + " " + t.sector.String()
}
