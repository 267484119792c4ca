package render

import (
	"sort"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"globe-tiles/internal/tile"
)

// Entry is a selected tile. Fallback is set when the tile is drawn with the
// payload of a resident ancestor, in which case SubRect locates the tile
// inside the ancestor payload.
type Entry struct {
	Tile     tile.Tile
	Fallback *tile.Tile
	SubRect  SubRect
}

// EffectiveLevel is the level of the payload the entry is drawn with.
func (e Entry) EffectiveLevel() int {
	if e.Fallback != nil {
		return e.Fallback.LevelNumber()
	}
	return e.Tile.LevelNumber()
}

// ResourceKey returns the key of the payload the entry is drawn with.
func (e Entry) ResourceKey() tile.ResourceKey {
	if e.Fallback != nil {
		return e.Fallback.Key()
	}
	return e.Tile.Key()
}

// Transform returns the texture transform of the entry.
func (e Entry) Transform() TextureTransform {
	if e.Fallback == nil {
		return IdentityTransform
	}
	return TransformFor(e.SubRect)
}

// Label is the tile ID drawn when tile labels are enabled.
func (e Entry) Label() string {
	if e.Fallback == nil {
		return e.Tile.Label()
	}
	return e.Tile.Label() + "/" + e.Fallback.Label()
}

// Lookup resolves a resident payload.
type Lookup func(key tile.ResourceKey) (any, bool)

// Stats summarizes a render pass.
type Stats struct {
	Drawn     int
	Fallbacks int
	Missing   int
	Failed    int
}

// TileRenderer draws selected tiles through the backend.
type TileRenderer struct {
	Layer       string
	Opacity     float64
	DrawTileIDs bool
}

// Render draws entries from coarsest to finest effective level so that
// finer payloads land on top. Entries whose payload is no longer resident
// are skipped. A failed draw is logged and the pass continues.
func (r *TileRenderer) Render(dc *DrawContext, entries []Entry, lookup Lookup) (Stats, error) {
	if err := dc.Validate(); err != nil {
		return Stats{}, err
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveLevel() < sorted[j].EffectiveLevel()
	})

	var stats Stats
	for _, e := range sorted {
		key := e.ResourceKey()
		payload, ok := lookup(key)
		if !ok {
			stats.Missing++
			continue
		}

		err := dc.Backend.Draw(DrawCall{
			Layer:     r.Layer,
			Sector:    e.Tile.Sector(),
			Node:      e.Tile,
			Key:       key,
			Resource:  payload,
			Transform: e.Transform(),
			Opacity:   r.Opacity,
		})
		instrumentDraw(r.Layer, err)
		if err != nil {
			stats.Failed++
			logs.Warn(errors.New("drawing tile failed").
				WithTag("layer", r.Layer).
				WithTag("tile", e.Tile.String()).
				Wrap(err))
			continue
		}

		stats.Drawn++
		if e.Fallback != nil {
			stats.Fallbacks++
		}
	}

	if r.DrawTileIDs {
		r.drawLabels(dc, sorted)
	}
	return stats, nil
}

func (r *TileRenderer) drawLabels(dc *DrawContext, entries []Entry) {
	labels, ok := dc.Backend.(LabelDrawer)
	if !ok {
		return
	}

	for _, e := range entries {
		c := e.Tile.Sector().Centroid()
		p := dc.Globe.ComputePoint(c.Lat, c.Lon, 0)
		x, y, visible := dc.View.Project(p)
		if !visible {
			continue
		}
		labels.DrawLabel(e.Label(), x, y)
	}
}
