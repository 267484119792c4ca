package engine

import (
	"context"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/samber/lo"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/config"
	"globe-tiles/internal/fetch"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/imagery"
	"globe-tiles/internal/layer"
	"globe-tiles/internal/lod"
	"globe-tiles/internal/ratelimit"
	"globe-tiles/internal/render"
	"globe-tiles/internal/taskqueue"
	"globe-tiles/internal/terrain"
	"globe-tiles/internal/tile"
	"globe-tiles/pkg/geotiff"
)

const ErrTypeUnknownLayer = "engine_unknown_layer"

// Options configures an Engine.
type Options struct {
	Settings *config.Settings

	// Backend receives the draw calls. Defaults to a headless backend.
	Backend render.Backend

	// Globe defaults to WGS84.
	Globe *geo.Globe

	// Transport is the round tripper of outbound fetches.
	Transport http.RoundTripper
}

// Engine owns everything a frame needs: the disk and memory caches, the
// fetcher, the retrieval queues, the layers and the terrain tessellator.
// Frame must be called from a single goroutine.
type Engine struct {
	settings *config.Settings
	globe    *geo.Globe
	backend  render.Backend

	store   *cache.FileStore
	limits  *ratelimit.Handler
	fetcher *fetch.HTTPFetcher

	textures   *cache.ResourceCache[tile.ResourceKey, *imagery.Texture]
	geometry   *cache.ResourceCache[terrain.CacheKey, *terrain.Geometry]
	elevations *cache.ResourceCache[tile.ResourceKey, *terrain.ElevationTile]

	tiledElevation *terrain.TiledElevationModel
	tessellator    *terrain.Tessellator
	layers         []layer.Layer
	closers        []io.Closer

	frame uint64
}

// New builds an engine from validated settings and starts its retrieval
// workers. Workers stop when ctx is cancelled or Close is called.
func New(ctx context.Context, o Options) (*Engine, error) {
	s := o.Settings
	if s == nil {
		s = config.DefaultSettings()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if o.Backend == nil {
		o.Backend = &render.HeadlessBackend{}
	}
	if o.Globe == nil {
		o.Globe = geo.WGS84()
	}

	e := &Engine{
		settings: s,
		globe:    o.Globe,
		backend:  o.Backend,
	}
	if err := e.init(ctx, o.Transport); err != nil {
		e.Close()
		return nil, err
	}

	logs.WithTag("layers", len(e.layers)).
		WithTag("cache_dir", e.store.Dir()).
		WithTag("elevation", e.tiledElevation != nil).
		Info("engine started")
	return e, nil
}

func (e *Engine) init(ctx context.Context, transport http.RoundTripper) error {
	s := e.settings

	store, err := cache.NewFileStore(s.Cache.Dir, s.Cache.MaxSizeMB, s.Cache.TTL())
	if err != nil {
		return err
	}
	e.store = store

	e.limits = ratelimit.NewHandler(nil)
	e.limits.SetOnRateLimit(func(ev ratelimit.Event) {
		logs.WithTag("host", ev.Host).
			WithTag("status", ev.StatusCode).
			WithTag("attempt", ev.RetryAttempt).
			WithTag("next_retry_at", ev.NextRetryAt).
			Info("host rate limited")
	})
	e.limits.SetOnRecovered(func(host string) {
		logs.WithTag("host", host).Info("host recovered from rate limit")
	})

	e.fetcher = fetch.NewHTTPFetcher(fetch.Config{
		Transport:     transport,
		Timeout:       time.Duration(s.FetchTimeoutSeconds) * time.Second,
		MaxConcurrent: s.MaxConcurrentFetches,
		UserAgent:     s.UserAgent,
		RateLimit:     e.limits,
	})

	if e.textures, err = cache.NewResourceCache[tile.ResourceKey, *imagery.Texture]("textures", s.Cache.TextureBytes()); err != nil {
		return err
	}
	if e.geometry, err = cache.NewResourceCache[terrain.CacheKey, *terrain.Geometry]("geometry", s.Cache.GeometryBytes()); err != nil {
		return err
	}

	if err := e.initTerrain(ctx); err != nil {
		return err
	}

	for _, d := range s.Datasets {
		if err := e.addImageLayer(ctx, d); err != nil {
			return err
		}
	}
	for _, img := range s.SurfaceImages {
		if err := e.addSurfaceImage(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) initTerrain(ctx context.Context) error {
	s := e.settings

	var model terrain.ElevationModel = terrain.ConstantElevation{}
	if s.Elevation != nil {
		levels, err := tile.NewLevelSet(s.Elevation.LevelSetParams())
		if err != nil {
			return errors.New("creating elevation levels failed").
				WithTag("dataset", s.Elevation.Name).
				Wrap(err)
		}

		// Elevation tiles share the geometry budget.
		if e.elevations, err = cache.NewResourceCache[tile.ResourceKey, *terrain.ElevationTile]("elevations", s.Cache.GeometryBytes()); err != nil {
			return err
		}

		q, err := newQueue(ctx, e, taskqueue.Config[*terrain.ElevationTile]{
			Name:   s.Elevation.Name,
			Decode: terrain.DecodeTerrarium,
			Absent: levels,
		})
		if err != nil {
			return err
		}

		e.tiledElevation = terrain.NewTiledElevationModel(terrain.TiledElevationParams{
			Levels: levels,
			Queue:  q,
			Cache:  e.elevations,
		})
		model = e.tiledElevation
	}

	tessellator, err := terrain.NewTessellator(model, e.geometry, terrain.TessellatorConfig{
		Density:           s.TerrainDensity,
		MaxLevel:          s.TerrainMaxLevel,
		AccurateSplitTest: s.AccurateSplitTest,
	})
	if err != nil {
		return err
	}
	e.tessellator = tessellator
	return nil
}

func (e *Engine) addImageLayer(ctx context.Context, d config.Dataset) error {
	s := e.settings

	levels, err := tile.NewLevelSet(d.LevelSetParams())
	if err != nil {
		return errors.New("creating dataset levels failed").
			WithTag("dataset", d.Name).
			Wrap(err)
	}

	q, err := newQueue(ctx, e, taskqueue.Config[*imagery.Texture]{
		Name:   d.Name,
		Decode: imagery.DecodeTexture,
		Absent: levels,
	})
	if err != nil {
		return err
	}

	split := lod.ImagerySplitTest()
	split.SplitScale = s.SplitScale
	split.Accurate = s.AccurateSplitTest

	l, err := layer.NewImageLayer(layer.ImageLayerParams{
		Name:                d.Name,
		Levels:              levels,
		Queue:               q,
		Textures:            e.textures,
		Split:               split,
		ForceLevelZeroLoads: s.ForceLevelZeroLoads,
		DrawTileIDs:         s.DrawTileIDs,
		Opacity:             d.Opacity,
	})
	if err != nil {
		return err
	}
	l.SetEnabled(!d.Disabled)

	e.layers = append(e.layers, l)
	return nil
}

func (e *Engine) addSurfaceImage(ctx context.Context, img config.SurfaceImage) error {
	q, err := newQueue(ctx, e, taskqueue.Config[*imagery.Texture]{
		Name:     "surface:" + img.Name,
		Workers:  1,
		Capacity: 1,
		Decode:   imagery.DecodeTexture,
	})
	if err != nil {
		return err
	}

	l, err := layer.NewSurfaceImage(layer.SurfaceImageParams{
		Name:     img.Name,
		Sector:   img.Sector,
		URL:      img.URL,
		Queue:    q,
		Textures: e.textures,
		Opacity:  img.Opacity,
	})
	if err != nil {
		return err
	}

	e.layers = append(e.layers, l)
	return nil
}

// newQueue fills the shared parts of a queue config, then creates and
// starts the queue.
func newQueue[P any](ctx context.Context, e *Engine, c taskqueue.Config[P]) (*taskqueue.Queue[P], error) {
	if c.Workers == 0 {
		c.Workers = e.settings.Workers
	}
	if c.Capacity == 0 {
		c.Capacity = e.settings.QueueCapacity
	}
	c.Store = e.store
	c.Fetcher = e.fetcher
	c.Suffixes = imagery.ProbeSuffixes
	c.SuffixFor = imagery.SuffixForContentType

	q, err := taskqueue.New(c)
	if err != nil {
		return nil, err
	}
	q.Start(ctx)
	e.closers = append(e.closers, q)
	return q, nil
}

func (e *Engine) Globe() *geo.Globe {
	return e.globe
}

func (e *Engine) Settings() *config.Settings {
	return e.settings
}

func (e *Engine) Tessellator() *terrain.Tessellator {
	return e.tessellator
}

// Layers returns the layers in rendering order.
func (e *Engine) Layers() []layer.Layer {
	return e.layers
}

// Layer returns the layer with the given name.
func (e *Engine) Layer(name string) (layer.Layer, bool) {
	return lo.Find(e.layers, func(l layer.Layer) bool {
		return l.Name() == name
	})
}

// ImageLayer returns the tiled image layer with the given name.
func (e *Engine) ImageLayer(name string) (*layer.ImageLayer, error) {
	l, _ := e.Layer(name)
	il, ok := l.(*layer.ImageLayer)
	if !ok {
		return nil, errors.New("no image layer with this name").
			WithType(ErrTypeUnknownLayer).
			WithTag("layer", name)
	}
	return il, nil
}

// ComposeImageForSector stitches the tiles of a dataset covering sector
// into one image. See layer.ImageLayer.ComposeImageForSector.
func (e *Engine) ComposeImageForSector(ctx context.Context, dataset string, sector geo.Sector, imageSize, levelNumber int) (*image.RGBA, error) {
	l, err := e.ImageLayer(dataset)
	if err != nil {
		return nil, err
	}
	return l.ComposeImageForSector(ctx, sector, imageSize, levelNumber)
}

// ExportGeoTIFF composes the tiles of a dataset covering sector and writes
// them to w as a geographic GeoTIFF.
func (e *Engine) ExportGeoTIFF(ctx context.Context, w io.Writer, dataset string, sector geo.Sector, imageSize, levelNumber int) error {
	img, err := e.ComposeImageForSector(ctx, dataset, sector, imageSize, levelNumber)
	if err != nil {
		return err
	}

	b := img.Bounds()
	if err := geotiff.Encode(w, img, geotiff.GeographicTags(sector, b.Dx(), b.Dy())); err != nil {
		return errors.New("exporting geotiff failed").
			WithTag("dataset", dataset).
			WithTag("sector", sector.String()).
			Wrap(err)
	}

	logs.WithTag("dataset", dataset).
		WithTag("sector", sector.String()).
		WithTag("width", b.Dx()).
		WithTag("height", b.Dy()).
		Info("geotiff exported")
	return nil
}

// Close stops the retrieval workers and saves the disk cache index.
func (e *Engine) Close() error {
	var err error
	for _, c := range e.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	e.closers = nil

	if e.store != nil {
		if cerr := e.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
		e.store = nil
	}
	return err
}
