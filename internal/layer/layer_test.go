package layer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/fetch"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/imagery"
	"globe-tiles/internal/render"
	"globe-tiles/internal/taskqueue"
	"globe-tiles/internal/tile"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func requireColor(t *testing.T, want, got color.RGBA) {
	t.Helper()
	require.InDelta(t, want.R, got.R, 2)
	require.InDelta(t, want.G, got.G, 2)
	require.InDelta(t, want.B, got.B, 2)
	require.InDelta(t, want.A, got.A, 2)
}

func solidPNG(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// tileServer serves red tiles in even columns and blue tiles in odd
// columns. Paths containing "missing" answer 404.
type tileServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newTileServer(t *testing.T) *tileServer {
	s := &tileServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}

		c := red
		if p := strings.Split(strings.TrimSuffix(r.URL.Path, ".png"), "/"); len(p) > 0 {
			if last := p[len(p)-1]; last != "" && (last[len(last)-1]-'0')%2 == 1 {
				c = blue
			}
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(solidPNG(c))
	}))
	t.Cleanup(s.Close)
	return s
}

type fixture struct {
	server   *tileServer
	store    *cache.FileStore
	textures *cache.ResourceCache[tile.ResourceKey, *imagery.Texture]
}

func newFixture(t *testing.T) *fixture {
	store, err := cache.NewFileStore(t.TempDir(), 10, 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	textures, err := cache.NewResourceCache[tile.ResourceKey, *imagery.Texture]("textures", 16<<20)
	require.NoError(t, err)

	return &fixture{
		server:   newTileServer(t),
		store:    store,
		textures: textures,
	}
}

func (f *fixture) queue(t *testing.T, absent taskqueue.AbsentSet) *taskqueue.Queue[*imagery.Texture] {
	q, err := taskqueue.New(taskqueue.Config[*imagery.Texture]{
		Name:      t.Name(),
		Workers:   2,
		Capacity:  64,
		Store:     f.store,
		Fetcher:   fetch.NewHTTPFetcher(fetch.Config{}),
		Decode:    imagery.DecodeTexture,
		Absent:    absent,
		Suffixes:  imagery.ProbeSuffixes,
		SuffixFor: imagery.SuffixForContentType,
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func (f *fixture) imageLayer(t *testing.T, force bool, emptyLevels ...int) (*ImageLayer, *taskqueue.Queue[*imagery.Texture]) {
	levels, err := tile.NewLevelSet(tile.LevelSetParams{
		Dataset:        "earth",
		Sector:         geo.FullSphere,
		LevelZeroDelta: geo.LatLon{Lat: 90, Lon: 90},
		NumLevels:      3,
		FormatSuffix:   ".png",
		URLTemplate:    f.server.URL + "/{level}/{row}/{column}.png",
		EmptyLevels:    emptyLevels,
	})
	require.NoError(t, err)

	q := f.queue(t, levels)
	l, err := NewImageLayer(ImageLayerParams{
		Levels:              levels,
		Queue:               q,
		Textures:            f.textures,
		ForceLevelZeroLoads: force,
		Opacity:             0.8,
	})
	require.NoError(t, err)
	return l, q
}

func drawContext(lat, lon, altitude float64) (*render.DrawContext, *render.HeadlessBackend) {
	g := geo.WGS84()
	b := &render.HeadlessBackend{}
	return &render.DrawContext{
		Globe:   g,
		View:    geo.LookDown(g, lat, lon, altitude, 45, 1),
		Backend: b,
	}, b
}

func TestImageLayer(t *testing.T) {
	t.Run("level zero is resident before the first frame returns", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, true)
		require.Equal(t, "earth", l.Name())

		dc, b := drawContext(10, 10, 1e6)
		stats, err := l.Render(context.Background(), dc)
		require.NoError(t, err)
		require.True(t, l.IsLevelZeroLoaded())

		for _, top := range l.Levels().TopLevelTiles() {
			require.True(t, l.IsResident(top), top.String())
		}
		require.Positive(t, stats.Drawn)
		require.Equal(t, stats.Selected, stats.Drawn)
		for _, c := range b.Calls {
			require.Equal(t, 0.8, c.Opacity)
			require.Equal(t, "earth", c.Layer)
		}

		hits := f.server.hits.Load()
		_, err = l.Render(context.Background(), dc)
		require.NoError(t, err)
		require.Equal(t, hits, f.server.hits.Load())
	})

	t.Run("missing tiles load asynchronously", func(t *testing.T) {
		f := newFixture(t)
		l, q := f.imageLayer(t, false)

		dc, b := drawContext(10, 10, 1e6)
		stats, err := l.Render(context.Background(), dc)
		require.NoError(t, err)
		require.Zero(t, stats.Drawn)
		require.Empty(t, b.Calls)
		require.Positive(t, q.Pending())

		q.Start(context.Background())
		require.Eventually(t, func() bool {
			l.Merge()
			return q.Pending() == 0 && f.textures.Len() > 0
		}, 2*time.Second, 10*time.Millisecond)

		require.Eventually(t, func() bool {
			l.Merge()
			b.Reset()
			stats, err = l.Render(context.Background(), dc)
			return err == nil && stats.Drawn > 0 && stats.Fallbacks == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("disabled layers draw nothing", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, true)
		l.SetEnabled(false)

		dc, b := drawContext(10, 10, 1e6)
		stats, err := l.Render(context.Background(), dc)
		require.NoError(t, err)
		require.Zero(t, stats.Selected)
		require.Empty(t, b.Calls)
		require.False(t, l.IsLevelZeroLoaded())
	})

	t.Run("opacity is clamped", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, false)
		l.SetOpacity(3)
		require.Equal(t, 1.0, l.Opacity())
		l.SetOpacity(-1)
		require.Equal(t, 0.0, l.Opacity())
	})

	t.Run("tile labels", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, true)
		l.SetDrawTileIDs(true)

		dc, b := drawContext(10, 10, 1e6)
		_, err := l.Render(context.Background(), dc)
		require.NoError(t, err)
		require.NotEmpty(t, b.Labels)
	})
}

func TestComposeImageForSector(t *testing.T) {
	t.Run("stitches a level", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, false)

		// Level 1 tiles are 45 degrees wide: columns 4 and 5 of row 2.
		img, err := l.ComposeImageForSector(context.Background(), geo.NewSector(0, 45, 0, 90), 40, 1)
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds())
		requireColor(t, red, img.RGBAAt(5, 10))
		requireColor(t, blue, img.RGBAAt(35, 10))
	})

	t.Run("target level", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, false, 1)
		require.Equal(t, 2, l.targetLevel(-1))
		require.Equal(t, 0, l.targetLevel(0))
		require.Equal(t, 2, l.targetLevel(1))
	})

	t.Run("absent tiles leave holes", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, false)
		l.Levels().MarkResourceAbsent(tile.Address{Level: 1, Row: 2, Column: 5})

		img, err := l.ComposeImageForSector(context.Background(), geo.NewSector(0, 45, 0, 90), 40, 1)
		require.NoError(t, err)
		requireColor(t, red, img.RGBAAt(5, 10))
		require.Equal(t, color.RGBA{}, img.RGBAAt(35, 10))
	})

	t.Run("invalid sector", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, false)
		_, err := l.ComposeImageForSector(context.Background(), geo.Sector{}, 40, 1)
		require.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t)
		l, _ := f.imageLayer(t, false)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := l.ComposeImageForSector(ctx, geo.NewSector(0, 45, 0, 90), 40, 1)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestSurfaceImage(t *testing.T) {
	sector := geo.NewSector(5, 15, 5, 15)

	t.Run("in memory image", func(t *testing.T) {
		f := newFixture(t)
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		s, err := NewSurfaceImage(SurfaceImageParams{Sector: sector, Image: img, Textures: f.textures, Opacity: 1})
		require.NoError(t, err)

		dc, b := drawContext(10, 10, 1e6)
		stats, err := s.Render(context.Background(), dc)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Drawn)
		require.Len(t, b.Calls, 1)
		require.Equal(t, render.IdentityTransform, b.Calls[0].Transform)
		require.Equal(t, sector, b.Calls[0].Sector)
		require.Nil(t, b.Calls[0].Node)
	})

	t.Run("remote image", func(t *testing.T) {
		f := newFixture(t)
		q := f.queue(t, nil)
		s, err := NewSurfaceImage(SurfaceImageParams{
			Name:     "overlay",
			Sector:   sector,
			URL:      f.server.URL + "/overlay/1.png",
			Queue:    q,
			Textures: f.textures,
			Opacity:  0.5,
		})
		require.NoError(t, err)

		dc, b := drawContext(10, 10, 1e6)
		stats, err := s.Render(context.Background(), dc)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Missing)
		require.True(t, q.IsOutstanding(s.Key()))

		q.Start(context.Background())
		require.Eventually(t, func() bool {
			return s.Merge() == 1
		}, 2*time.Second, 10*time.Millisecond)

		stats, err = s.Render(context.Background(), dc)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Drawn)
		require.Equal(t, 0.5, b.Calls[0].Opacity)
		require.Equal(t, blue, b.Calls[0].Resource.(*imagery.Texture).Image.RGBAAt(0, 0))
	})

	t.Run("failures latch", func(t *testing.T) {
		f := newFixture(t)
		q := f.queue(t, nil)
		s, err := NewSurfaceImage(SurfaceImageParams{
			Sector:   sector,
			URL:      f.server.URL + "/missing.png",
			Queue:    q,
			Textures: f.textures,
		})
		require.NoError(t, err)
		q.Start(context.Background())

		dc, _ := drawContext(10, 10, 1e6)
		_, err = s.Render(context.Background(), dc)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			s.Merge()
			return s.HasProblem()
		}, 2*time.Second, 10*time.Millisecond)

		for i := 0; i < 3; i++ {
			_, err = s.Render(context.Background(), dc)
			require.NoError(t, err)
		}
		require.False(t, q.IsOutstanding(s.Key()))
		require.Equal(t, int32(1), f.server.hits.Load())

		s.ResetProblem()
		_, err = s.Render(context.Background(), dc)
		require.NoError(t, err)
		require.True(t, q.IsOutstanding(s.Key()))
	})

	t.Run("unsupported location", func(t *testing.T) {
		f := newFixture(t)
		s, err := NewSurfaceImage(SurfaceImageParams{
			Sector:   sector,
			URL:      "ftp://images.test/a.png",
			Queue:    f.queue(t, nil),
			Textures: f.textures,
		})
		require.NoError(t, err)

		dc, _ := drawContext(10, 10, 1e6)
		_, err = s.Render(context.Background(), dc)
		require.NoError(t, err)
		require.True(t, s.HasProblem())
	})

	t.Run("invalid params", func(t *testing.T) {
		f := newFixture(t)
		_, err := NewSurfaceImage(SurfaceImageParams{Sector: sector, Textures: f.textures})
		require.Error(t, err)
		_, err = NewSurfaceImage(SurfaceImageParams{Sector: geo.Sector{}, Image: image.NewRGBA(image.Rect(0, 0, 1, 1)), Textures: f.textures})
		require.Error(t, err)
	})
}
