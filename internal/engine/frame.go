package engine

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/samber/lo"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/layer"
	"globe-tiles/internal/render"
)

// FrameStats summarizes a frame.
type FrameStats struct {
	Number        uint64
	TerrainTiles  int
	VisibleSector *geo.Sector
	Merged        int
	Layers        []layer.Stats
	Duration      time.Duration
}

func (s FrameStats) Selected() int {
	return lo.SumBy(s.Layers, func(l layer.Stats) int { return l.Selected })
}

func (s FrameStats) Drawn() int {
	return lo.SumBy(s.Layers, func(l layer.Stats) int { return l.Drawn })
}

func (s FrameStats) Fallbacks() int {
	return lo.SumBy(s.Layers, func(l layer.Stats) int { return l.Fallbacks })
}

func (s FrameStats) Missing() int {
	return lo.SumBy(s.Layers, func(l layer.Stats) int { return l.Missing })
}

// Layer returns the stats of a rendered layer.
func (s FrameStats) Layer(name string) (layer.Stats, bool) {
	return lo.Find(s.Layers, func(l layer.Stats) bool { return l.Layer == name })
}

type resetter interface {
	Reset()
}

// Frame renders a frame for view. Retrievals completed since the previous
// frame are merged into memory first, then the terrain is tessellated and
// the enabled layers are drawn in order.
func (e *Engine) Frame(ctx context.Context, view *geo.View) (FrameStats, error) {
	start := time.Now()
	e.frame++
	stats := FrameStats{Number: e.frame}

	if r, ok := e.backend.(resetter); ok {
		r.Reset()
	}

	stats.Merged = e.merge()

	dc := &render.DrawContext{
		Globe:                e.globe,
		View:                 view,
		VerticalExaggeration: e.settings.VerticalExaggeration,
		Backend:              e.backend,
		FrameNumber:          e.frame,
	}

	tiles, err := e.tessellator.Tessellate(dc)
	if err != nil {
		return stats, err
	}
	stats.TerrainTiles = len(tiles)
	stats.VisibleSector = dc.VisibleSector

	enabled := lo.Filter(e.layers, func(l layer.Layer, _ int) bool {
		return l.IsEnabled()
	})
	for _, l := range enabled {
		ls, err := l.Render(ctx, dc)
		if err != nil {
			return stats, err
		}
		stats.Layers = append(stats.Layers, ls)
	}

	stats.Duration = time.Since(start)
	instrumentFrame(stats)

	logs.WithTag("frame", stats.Number).
		WithTag("terrain_tiles", stats.TerrainTiles).
		WithTag("selected", stats.Selected()).
		WithTag("drawn", stats.Drawn()).
		WithTag("fallbacks", stats.Fallbacks()).
		WithTag("missing", stats.Missing()).
		WithTag("merged", stats.Merged).
		WithTag("duration", stats.Duration).
		Debug("frame rendered")
	return stats, nil
}

// merge moves completed retrievals of every layer and of the elevation
// model into memory. Disabled layers are merged too so their queues drain.
func (e *Engine) merge() int {
	merged := lo.SumBy(e.layers, func(l layer.Layer) int {
		return l.Merge()
	})
	if e.tiledElevation != nil {
		merged += e.tiledElevation.Merge()
	}
	return merged
}
