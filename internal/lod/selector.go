package lod

import (
	"globe-tiles/internal/render"
	"globe-tiles/internal/tile"
)

// Resources tells the selector which tiles have a resident payload and
// accepts its load requests.
type Resources interface {
	IsResident(t tile.Tile) bool

	// Request asks for an asynchronous load. Lower priorities are served
	// first.
	Request(t tile.Tile, priority float64)

	// ForceLoad loads the payload on the calling goroutine and reports
	// whether it is resident afterwards.
	ForceLoad(t tile.Tile) bool
}

// Selector picks the tiles of a level set to draw for a view.
type Selector struct {
	Name                string
	Levels              *tile.LevelSet
	Split               SplitTest
	ForceLevelZeroLoads bool
}

type selection struct {
	dc        *render.DrawContext
	resources Resources
	entries   []render.Entry
	requests  int
}

// Select walks the quadtree from the given top level tiles and returns the
// tiles to draw this frame. Tiles without a resident payload are drawn with
// their closest resident ancestor, or skipped when there is none.
func (s *Selector) Select(dc *render.DrawContext, tops []tile.Tile, resources Resources) ([]render.Entry, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}

	sel := selection{dc: dc, resources: resources}
	for _, t := range tops {
		if s.isVisible(dc, t) {
			s.addTileOrDescendants(&sel, t, nil)
		}
	}

	instrumentSelection(s.Name, sel.entries, sel.requests)
	return sel.entries, nil
}

func (s *Selector) isVisible(dc *render.DrawContext, t tile.Tile) bool {
	return dc.IsSectorVisible(t.Sector()) &&
		dc.Backend.Intersects(t.Extent(dc.Globe, dc.Exaggeration()), dc.View.Frustum)
}

func (s *Selector) meetsRenderCriteria(dc *render.DrawContext, t tile.Tile) bool {
	return s.Levels.IsFinalLevel(t.LevelNumber()) || !s.Split.NeedToSplit(dc, t.Sector())
}

func (s *Selector) addTileOrDescendants(sel *selection, t tile.Tile, ancestor *tile.Tile) {
	if s.meetsRenderCriteria(sel.dc, t) {
		s.addTile(sel, t, ancestor)
		return
	}

	if t.LevelNumber() == 0 || sel.resources.IsResident(t) {
		ancestor = &t
	}

	for _, child := range s.Levels.Subdivide(t) {
		if s.isVisible(sel.dc, child) {
			s.addTileOrDescendants(sel, child, ancestor)
		}
	}
}

func (s *Selector) addTile(sel *selection, t tile.Tile, ancestor *tile.Tile) {
	if sel.resources.IsResident(t) {
		sel.entries = append(sel.entries, render.Entry{Tile: t})
		return
	}

	if t.LevelNumber() == 0 && s.ForceLevelZeroLoads && sel.resources.ForceLoad(t) {
		sel.entries = append(sel.entries, render.Entry{Tile: t})
		return
	}

	if !s.Levels.IsLevelEmpty(t.LevelNumber()) && !s.Levels.IsResourceAbsent(t.Address()) {
		sel.resources.Request(t, s.priority(sel.dc, t))
		sel.requests++
	}

	if ancestor == nil {
		return
	}
	resident := sel.resources.IsResident(*ancestor)
	if !resident && ancestor.LevelNumber() == 0 && s.ForceLevelZeroLoads {
		resident = sel.resources.ForceLoad(*ancestor)
	}
	if !resident {
		return
	}

	fallback := *ancestor
	sel.entries = append(sel.entries, render.Entry{
		Tile:     t,
		Fallback: &fallback,
		SubRect:  render.ComputeSubRect(t.Sector(), fallback.Sector()),
	})
}

// priority is the eye distance to the tile center so that near tiles load
// first.
func (s *Selector) priority(dc *render.DrawContext, t tile.Tile) float64 {
	return dc.Backend.Distance(dc.View.Eye, dc.Globe.CenterPoint(t.Sector()))
}
