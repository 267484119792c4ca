package tile

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"globe-tiles/internal/geo"
)

// Level describes one level of a tile pyramid.
type Level struct {
	Number       int
	TileDelta    geo.LatLon
	ExpiryTime   time.Time
	Dataset      string
	FormatSuffix string
	URLTemplate  string
	Empty        bool
}

// Path returns the cache path of a tile at this level:
// <dataset>/<level>/<row>/<row>_<column><suffix>.
func (l *Level) Path(a Address) string {
	return path.Join(
		l.Dataset,
		strconv.Itoa(a.Level),
		strconv.Itoa(a.Row),
		fmt.Sprintf("%d_%d%s", a.Row, a.Column, l.FormatSuffix),
	)
}

// URL expands the level URL template for a tile. Supported placeholders are
// {level}, {row}, {column} and their aliases {z}, {y}, {x}.
func (l *Level) URL(a Address) string {
	level, row, col := strconv.Itoa(a.Level), strconv.Itoa(a.Row), strconv.Itoa(a.Column)
	return strings.NewReplacer(
		"{level}", level,
		"{row}", row,
		"{column}", col,
		"{z}", level,
		"{y}", row,
		"{x}", col,
	).Replace(l.URLTemplate)
}

// LevelSetParams configures a LevelSet.
type LevelSetParams struct {
	Dataset        string
	Sector         geo.Sector
	LevelZeroDelta geo.LatLon
	NumLevels      int
	URLTemplate    string
	FormatSuffix   string
	ExpiryTime     time.Time
	EmptyLevels    []int
}

// LevelSet is a tile pyramid: contiguous levels from 0 to the final level,
// each halving the tile delta of the previous one, plus the set of tiles
// known to have no resource.
type LevelSet struct {
	dataset        string
	sector         geo.Sector
	levelZeroDelta geo.LatLon
	levels         []Level

	mu     sync.RWMutex
	absent map[Address]struct{}
}

// MaxLevels bounds the depth of a level set.
const MaxLevels = 32

// NewLevelSet validates params and builds the levels.
func NewLevelSet(p LevelSetParams) (*LevelSet, error) {
	if p.Dataset == "" {
		return nil, errors.New("level set dataset is empty")
	}
	if p.NumLevels < 1 || p.NumLevels > MaxLevels {
		return nil, errors.New("level set level count is out of range").
			WithTag("dataset", p.Dataset).
			WithTag("levels", p.NumLevels)
	}
	if p.LevelZeroDelta.Lat <= 0 || p.LevelZeroDelta.Lon <= 0 {
		return nil, errors.New("level zero tile delta must be positive").
			WithTag("dataset", p.Dataset).
			WithTag("delta", p.LevelZeroDelta)
	}
	if !p.Sector.IsValid() {
		return nil, errors.New("invalid level set sector").
			WithTag("dataset", p.Dataset).
			WithTag("sector", p.Sector.String())
	}

	empty := make(map[int]bool, len(p.EmptyLevels))
	for _, n := range p.EmptyLevels {
		empty[n] = true
	}

	suffix := p.FormatSuffix
	if suffix == "" {
		suffix = ".jpg"
	}

	levels := make([]Level, p.NumLevels)
	for n := range levels {
		levels[n] = Level{
			Number: n,
			TileDelta: geo.LatLon{
				Lat: math.Ldexp(p.LevelZeroDelta.Lat, -n),
				Lon: math.Ldexp(p.LevelZeroDelta.Lon, -n),
			},
			ExpiryTime:   p.ExpiryTime,
			Dataset:      p.Dataset,
			FormatSuffix: suffix,
			URLTemplate:  p.URLTemplate,
			Empty:        empty[n],
		}
	}

	return &LevelSet{
		dataset:        p.Dataset,
		sector:         p.Sector,
		levelZeroDelta: p.LevelZeroDelta,
		levels:         levels,
		absent:         make(map[Address]struct{}),
	}, nil
}

func (s *LevelSet) Dataset() string {
	return s.dataset
}

func (s *LevelSet) Sector() geo.Sector {
	return s.sector
}

func (s *LevelSet) LevelZeroDelta() geo.LatLon {
	return s.levelZeroDelta
}

func (s *LevelSet) NumLevels() int {
	return len(s.levels)
}

// MaxLevel returns the number of the final level.
func (s *LevelSet) MaxLevel() int {
	return len(s.levels) - 1
}

// Level returns the descriptor of level n, or nil when out of range.
func (s *LevelSet) Level(n int) *Level {
	if n < 0 || n >= len(s.levels) {
		return nil
	}
	return &s.levels[n]
}

// IsFinalLevel reports whether n is the finest level.
func (s *LevelSet) IsFinalLevel(n int) bool {
	return n == len(s.levels)-1
}

// IsLevelEmpty reports whether level n carries no data.
func (s *LevelSet) IsLevelEmpty(n int) bool {
	l := s.Level(n)
	return l == nil || l.Empty
}

// ComputeSectorForKey returns the bounds of a tile. It depends only on the
// address and never requires the tile to exist.
func (s *LevelSet) ComputeSectorForKey(a Address) geo.Sector {
	delta := s.deltaAt(a.Level)
	return geo.Sector{
		MinLat: -90 + float64(a.Row)*delta.Lat,
		MaxLat: -90 + float64(a.Row+1)*delta.Lat,
		MinLon: -180 + float64(a.Column)*delta.Lon,
		MaxLon: -180 + float64(a.Column+1)*delta.Lon,
	}
}

func (s *LevelSet) deltaAt(n int) geo.LatLon {
	if l := s.Level(n); l != nil {
		return l.TileDelta
	}
	return geo.LatLon{Lat: math.Ldexp(s.levelZeroDelta.Lat, -n), Lon: math.Ldexp(s.levelZeroDelta.Lon, -n)}
}

// RowColumnRange returns the tiles of level n covering a sector.
func (s *LevelSet) RowColumnRange(sector geo.Sector, n int) Bounds {
	delta := s.deltaAt(n)
	minRow := ComputeRow(delta.Lat, sector.MinLat)
	minCol := ComputeColumn(delta.Lon, sector.MinLon)
	return Bounds{
		Level:  n,
		MinRow: minRow,
		MaxRow: lastIndex(delta.Lat, -90, sector.MaxLat, minRow),
		MinCol: minCol,
		MaxCol: lastIndex(delta.Lon, -180, sector.MaxLon, minCol),
	}
}

// TopLevelAddresses lists the level 0 tiles covering the level set sector.
func (s *LevelSet) TopLevelAddresses() []Address {
	return s.RowColumnRange(s.sector, 0).Addresses()
}

// MarkResourceAbsent records that a tile has no payload. It is not
// requested again until unmarked.
func (s *LevelSet) MarkResourceAbsent(a Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.absent[a] = struct{}{}
}

// UnmarkResourceAbsent clears the absent marker of a tile.
func (s *LevelSet) UnmarkResourceAbsent(a Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.absent, a)
}

func (s *LevelSet) IsResourceAbsent(a Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.absent[a]
	return ok
}

// ClearAbsent drops every absent marker so that all tiles become eligible
// for retrieval again.
func (s *LevelSet) ClearAbsent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.absent = make(map[Address]struct{})
}

func (s *LevelSet) AbsentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.absent)
}
