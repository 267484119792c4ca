package terrain

import (
	"github.com/aukilabs/go-tooling/pkg/logs"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/taskqueue"
	"globe-tiles/internal/tile"
)

// TiledElevationParams configures a TiledElevationModel.
type TiledElevationParams struct {
	Levels *tile.LevelSet
	Queue  *taskqueue.Queue[*ElevationTile]
	Cache  *cache.ResourceCache[tile.ResourceKey, *ElevationTile]

	// TileSize is the number of samples along a tile edge.
	TileSize int

	MinElevation float64
	MaxElevation float64
}

// TiledElevationModel serves elevations from a pyramid of Terrarium tiles.
// Missing tiles are requested asynchronously and the closest cached
// ancestor is used meanwhile.
type TiledElevationModel struct {
	levels   *tile.LevelSet
	queue    *taskqueue.Queue[*ElevationTile]
	cache    *cache.ResourceCache[tile.ResourceKey, *ElevationTile]
	tileSize int
	minElev  float64
	maxElev  float64
}

func NewTiledElevationModel(p TiledElevationParams) *TiledElevationModel {
	if p.TileSize <= 0 {
		p.TileSize = 256
	}
	if p.MinElevation == 0 && p.MaxElevation == 0 {
		p.MinElevation, p.MaxElevation = -11000, 8500
	}

	return &TiledElevationModel{
		levels:   p.Levels,
		queue:    p.Queue,
		cache:    p.Cache,
		tileSize: p.TileSize,
		minElev:  p.MinElevation,
		maxElev:  p.MaxElevation,
	}
}

func (m *TiledElevationModel) Levels() *tile.LevelSet {
	return m.levels
}

func (m *TiledElevationModel) MinElevation() float64 {
	return m.minElev
}

func (m *TiledElevationModel) MaxElevation() float64 {
	return m.maxElev
}

// TargetResolution returns the first level whose sample spacing is at
// least as fine as the grid spacing, or the last level.
func (m *TiledElevationModel) TargetResolution(sector geo.Sector, density int) int {
	target := sector.DeltaLat() / float64(max(density, 1))
	for n := 0; n < m.levels.NumLevels(); n++ {
		if m.levels.Level(n).TileDelta.Lat/float64(m.tileSize) <= target {
			return n
		}
	}
	return m.levels.MaxLevel()
}

func (m *TiledElevationModel) Elevations(sector geo.Sector, resolution int) Elevations {
	resolution = min(max(resolution, 0), m.levels.MaxLevel())
	e := &tiledElevations{resolution: resolution}

	clamped, ok := intersection(sector, m.levels.Sector())
	if !ok {
		e.resolution = -1
		return e
	}

	for _, a := range m.levels.RowColumnRange(clamped, resolution).Addresses() {
		t := m.levels.Tile(a)
		found, data, ok := m.lookup(a)
		if !ok || found.Level != a.Level {
			m.request(t)
		}
		if !ok {
			e.resolution = -1
			continue
		}

		if e.resolution >= 0 {
			e.resolution = min(e.resolution, found.Level)
		}
		e.tiles = append(e.tiles, sampledTile{
			sector: m.levels.ComputeSectorForKey(found),
			data:   data,
		})
	}
	return e
}

// lookup returns the closest cached tile at or above a.
func (m *TiledElevationModel) lookup(a tile.Address) (tile.Address, *ElevationTile, bool) {
	for {
		if data, ok := m.cache.Get(tile.KeyFor(m.levels.Dataset(), a)); ok {
			return a, data, true
		}
		parent, ok := a.Parent()
		if !ok {
			return tile.Address{}, nil, false
		}
		a = parent
	}
}

func (m *TiledElevationModel) request(t tile.Tile) {
	if m.queue == nil || m.levels.IsResourceAbsent(t.Address()) {
		return
	}
	m.queue.Request(taskqueue.NewTask(
		t.Key(),
		float64(t.LevelNumber()),
		t.Path(),
		t.URL(),
		t.Level().ExpiryTime,
	))
}

// Merge moves completed retrievals into the cache and returns how many
// tiles were added. It must be called from the render goroutine.
func (m *TiledElevationModel) Merge() int {
	if m.queue == nil {
		return 0
	}

	merged := 0
	for _, r := range m.queue.Drain() {
		if !r.OK() {
			continue
		}
		if m.cache.Put(r.Task.Key, r.Payload, r.Size) {
			merged++
		}
	}

	if merged > 0 {
		logs.WithTag("dataset", m.levels.Dataset()).
			WithTag("tiles", merged).
			Debug("elevation tiles merged")
	}
	return merged
}

type sampledTile struct {
	sector geo.Sector
	data   *ElevationTile
}

type tiledElevations struct {
	resolution int
	tiles      []sampledTile
}

func (e *tiledElevations) Elevation(lat, lon float64) float64 {
	for _, t := range e.tiles {
		if t.sector.Contains(lat, lon) {
			return t.data.Sample(t.sector, lat, lon)
		}
	}
	return 0
}

func (e *tiledElevations) Resolution() int {
	return e.resolution
}

func intersection(a, b geo.Sector) (geo.Sector, bool) {
	s := geo.Sector{
		MinLat: max(a.MinLat, b.MinLat),
		MaxLat: min(a.MaxLat, b.MaxLat),
		MinLon: max(a.MinLon, b.MinLon),
		MaxLon: min(a.MaxLon, b.MaxLon),
	}
	return s, s.MinLat < s.MaxLat && s.MinLon < s.MaxLon
}
