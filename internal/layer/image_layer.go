package layer

import (
	"context"
	"image"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/imagery"
	"globe-tiles/internal/lod"
	"globe-tiles/internal/render"
	"globe-tiles/internal/taskqueue"
	"globe-tiles/internal/tile"
)

// ImageLayerParams configures an ImageLayer.
type ImageLayerParams struct {
	Name     string
	Levels   *tile.LevelSet
	Queue    *taskqueue.Queue[*imagery.Texture]
	Textures *cache.ResourceCache[tile.ResourceKey, *imagery.Texture]

	// Split defaults to the imagery split test.
	Split lod.SplitTest

	ForceLevelZeroLoads bool
	DrawTileIDs         bool
	Opacity             float64
}

// ImageLayer draws a tiled image pyramid.
type ImageLayer struct {
	name     string
	levels   *tile.LevelSet
	tops     []tile.Tile
	queue    *taskqueue.Queue[*imagery.Texture]
	textures *cache.ResourceCache[tile.ResourceKey, *imagery.Texture]
	selector lod.Selector
	renderer render.TileRenderer

	enabled         bool
	levelZeroLoaded bool
}

func NewImageLayer(p ImageLayerParams) (*ImageLayer, error) {
	if p.Levels == nil || p.Queue == nil || p.Textures == nil {
		return nil, errors.New("image layer needs levels, a queue and a texture cache").
			WithTag("layer", p.Name)
	}
	if p.Name == "" {
		p.Name = p.Levels.Dataset()
	}
	if p.Split == (lod.SplitTest{}) {
		p.Split = lod.ImagerySplitTest()
	}

	return &ImageLayer{
		name:     p.Name,
		levels:   p.Levels,
		tops:     p.Levels.TopLevelTiles(),
		queue:    p.Queue,
		textures: p.Textures,
		selector: lod.Selector{
			Name:                p.Name,
			Levels:              p.Levels,
			Split:               p.Split,
			ForceLevelZeroLoads: p.ForceLevelZeroLoads,
		},
		renderer: render.TileRenderer{
			Layer:       p.Name,
			Opacity:     clampOpacity(p.Opacity),
			DrawTileIDs: p.DrawTileIDs,
		},
		enabled: true,
	}, nil
}

func (l *ImageLayer) Name() string {
	return l.name
}

func (l *ImageLayer) Levels() *tile.LevelSet {
	return l.levels
}

func (l *ImageLayer) IsEnabled() bool {
	return l.enabled
}

func (l *ImageLayer) SetEnabled(enabled bool) {
	l.enabled = enabled
}

func (l *ImageLayer) Opacity() float64 {
	return l.renderer.Opacity
}

func (l *ImageLayer) SetOpacity(opacity float64) {
	l.renderer.Opacity = clampOpacity(opacity)
}

func (l *ImageLayer) SetDrawTileIDs(draw bool) {
	l.renderer.DrawTileIDs = draw
}

func (l *ImageLayer) IsLevelZeroLoaded() bool {
	return l.levelZeroLoaded
}

// IsResident reports whether the texture of a tile is in memory.
func (l *ImageLayer) IsResident(t tile.Tile) bool {
	return l.textures.Contains(t.Key())
}

func (l *ImageLayer) Render(ctx context.Context, dc *render.DrawContext) (Stats, error) {
	stats := Stats{Layer: l.name}
	if !l.enabled {
		return stats, nil
	}
	if err := dc.Validate(); err != nil {
		return stats, err
	}

	if l.selector.ForceLevelZeroLoads && !l.levelZeroLoaded {
		l.loadAllTopLevelTextures(ctx)
	}
	if !dc.IsSectorVisible(l.levels.Sector()) {
		return stats, nil
	}

	entries, err := l.selector.Select(dc, l.tops, &resources{layer: l, ctx: ctx})
	if err != nil {
		return stats, err
	}
	stats.Selected = len(entries)

	stats.Stats, err = l.renderer.Render(dc, entries, func(key tile.ResourceKey) (any, bool) {
		return l.textures.Get(key)
	})
	return stats, err
}

func (l *ImageLayer) loadAllTopLevelTextures(ctx context.Context) {
	for _, t := range l.tops {
		if !l.IsResident(t) {
			l.forceLoad(ctx, t)
		}
	}
	l.levelZeroLoaded = true

	logs.WithTag("layer", l.name).
		WithTag("tiles", len(l.tops)).
		Debug("level zero textures loaded")
}

func (l *ImageLayer) task(t tile.Tile, priority float64) taskqueue.Task {
	return taskqueue.NewTask(t.Key(), priority, t.Path(), t.URL(), t.Level().ExpiryTime)
}

func (l *ImageLayer) forceLoad(ctx context.Context, t tile.Tile) bool {
	if l.levels.IsResourceAbsent(t.Address()) {
		return false
	}

	r := l.queue.Load(ctx, l.task(t, 0))
	if !r.OK() {
		return false
	}
	return l.textures.Put(r.Task.Key, r.Payload, r.Size)
}

func (l *ImageLayer) Merge() int {
	merged := 0
	for _, r := range l.queue.Drain() {
		if !r.OK() {
			continue
		}
		if l.textures.Put(r.Task.Key, r.Payload, r.Size) {
			merged++
		}
	}
	return merged
}

// ComposeImageForSector stitches the tiles of a level covering a sector
// into one image whose longer side is imageSize pixels. With a negative
// levelNumber the last level is used, otherwise the first non empty level
// at or after it. Tiles are loaded synchronously from memory, disk or the
// network.
func (l *ImageLayer) ComposeImageForSector(ctx context.Context, sector geo.Sector, imageSize, levelNumber int) (*image.RGBA, error) {
	if !sector.IsValid() {
		return nil, errors.New("invalid compose sector").
			WithType(imagery.ErrTypeFormat).
			WithTag("sector", sector.String())
	}

	level := l.targetLevel(levelNumber)
	b := l.levels.RowColumnRange(sector, level)

	mosaic := make(imagery.Mosaic, 0, b.Rows())
	for row := b.MaxRow; row >= b.MinRow; row-- {
		pieces := make([]*imagery.Piece, 0, b.Cols())
		for col := b.MinCol; col <= b.MaxCol; col++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			t := l.levels.Tile(tile.Address{Level: level, Row: row, Column: col})
			var piece *imagery.Piece
			if tex, ok := l.image(ctx, t); ok {
				piece = &imagery.Piece{Sector: t.Sector(), Image: tex.Image}
			}
			pieces = append(pieces, piece)
		}
		mosaic = append(mosaic, pieces)
	}

	img, err := imagery.Compose(sector, imageSize, mosaic)
	if err != nil {
		return nil, errors.New("composing image failed").
			WithTag("layer", l.name).
			WithTag("level", level).
			Wrap(err)
	}
	return img, nil
}

func (l *ImageLayer) targetLevel(levelNumber int) int {
	target := l.levels.MaxLevel()
	if levelNumber < 0 {
		return target
	}
	for n := levelNumber; n < l.levels.MaxLevel(); n++ {
		if !l.levels.IsLevelEmpty(n) {
			return n
		}
	}
	return target
}

func (l *ImageLayer) image(ctx context.Context, t tile.Tile) (*imagery.Texture, bool) {
	if tex, ok := l.textures.Get(t.Key()); ok {
		return tex, true
	}
	if l.levels.IsResourceAbsent(t.Address()) {
		return nil, false
	}

	r := l.queue.Load(ctx, l.task(t, 0))
	if !r.OK() {
		return nil, false
	}
	return r.Payload, true
}

// resources adapts the layer caches and queue to tile selection.
type resources struct {
	layer *ImageLayer
	ctx   context.Context
}

func (r *resources) IsResident(t tile.Tile) bool {
	return r.layer.IsResident(t)
}

func (r *resources) Request(t tile.Tile, priority float64) {
	r.layer.queue.Request(r.layer.task(t, priority))
}

func (r *resources) ForceLoad(t tile.Tile) bool {
	return r.layer.forceLoad(r.ctx, t)
}
