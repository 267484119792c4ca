package terrain

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
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

func terrariumPNG(t *testing.T, meters int) []byte {
	v := meters + 32768
	c := color.RGBA{R: uint8(v / 256), G: uint8(v % 256), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newGeometryCache(t *testing.T) *cache.ResourceCache[CacheKey, *Geometry] {
	c, err := cache.NewResourceCache[CacheKey, *Geometry]("terrain", 20<<20)
	require.NoError(t, err)
	return c
}

func drawContext(g *geo.Globe, lat, lon, altitude float64) *render.DrawContext {
	return &render.DrawContext{
		Globe:   g,
		View:    geo.LookDown(g, lat, lon, altitude, 45, 1),
		Backend: &render.HeadlessBackend{},
	}
}

func TestBuffers(t *testing.T) {
	for _, density := range []int{1, 4, 24} {
		side := density + 3

		tc := geographicTexCoords(density)
		require.Len(t, tc, 2*NumVertices(density))
		for _, c := range tc {
			require.GreaterOrEqual(t, c, 0.0)
			require.Less(t, c, 1.0)
		}

		// skirt rows and columns repeat their neighbours
		for i := 0; i < side; i++ {
			require.Equal(t, tc[2*i:2*i+2], tc[2*(side+i):2*(side+i)+2])
		}
		require.Equal(t, almostOne, tc[2*(side*side-1)])

		idx := stripIndices(density)
		require.Len(t, idx, NumIndices(density))
		for _, i := range idx {
			require.Less(t, int(i), NumVertices(density))
		}

		require.Same(t, &idx[0], &stripIndices(density)[0])
	}
	require.Equal(t, 2*26*26+4*26-2, NumIndices(24))
}

func TestGeometry(t *testing.T) {
	g := geo.NewSphere(1e6)
	sector := geo.NewSector(10, 20, 30, 40)
	density := 8

	geom := buildGeometry(g, sector, density, 1, 500, ConstantElevation{Value: 100}.Elevations(sector, 0))
	require.Len(t, geom.Vertices, NumVertices(density))
	require.Equal(t, 0, geom.Resolution)

	side := density + 3
	for j := 0; j < side; j++ {
		for i := 0; i < side; i++ {
			p := geom.Vertices[j*side+i].Add(geom.ReferenceCenter)
			want := 1e6 + 100
			if j == 0 || j == side-1 || i == 0 || i == side-1 {
				want -= 500
			}
			require.InDelta(t, want, p.Len(), 1e-6)
		}
	}

	corner := geom.Vertices[side+1].Add(geom.ReferenceCenter)
	require.True(t, corner.ApproxEqualThreshold(g.ComputePoint(10, 30, 100), 1e-6))
}

func TestSurfacePoint(t *testing.T) {
	g := geo.NewSphere(1e6)
	sector := geo.NewSector(10, 12, 30, 32)
	ls, err := tile.NewLevelSet(tile.LevelSetParams{
		Dataset:        "terrain",
		Sector:         geo.FullSphere,
		LevelZeroDelta: geo.LatLon{Lat: 2, Lon: 2},
		NumLevels:      1,
	})
	require.NoError(t, err)

	tl := &Tile{
		Tile:     ls.Tile(tile.Address{Row: 50, Column: 105}),
		Geometry: buildGeometry(g, sector, 10, 1, 0, ConstantElevation{}.Elevations(sector, 0)),
		globe:    g,
	}
	require.Equal(t, sector, tl.Sector())

	t.Run("grid points", func(t *testing.T) {
		for _, ll := range []geo.LatLon{{Lat: 10, Lon: 30}, {Lat: 12, Lon: 32}, {Lat: 11, Lon: 31}, {Lat: 12, Lon: 30}} {
			p, ok := tl.SurfacePoint(ll.Lat, ll.Lon, 0)
			require.True(t, ok)
			require.True(t, p.ApproxEqualThreshold(g.ComputePoint(ll.Lat, ll.Lon, 0), 1e-6), ll)
		}
	})

	t.Run("between grid points", func(t *testing.T) {
		p, ok := tl.SurfacePoint(10.05, 30.07, 0)
		require.True(t, ok)
		require.InDelta(t, 1e6, p.Len(), 5)
	})

	t.Run("offset along the normal", func(t *testing.T) {
		p, ok := tl.SurfacePoint(11, 31, 250)
		require.True(t, ok)
		require.InDelta(t, 1e6+250, p.Len(), 1e-6)
	})

	t.Run("outside", func(t *testing.T) {
		_, ok := tl.SurfacePoint(13, 31, 0)
		require.False(t, ok)
	})
}

func TestTessellator(t *testing.T) {
	g := geo.WGS84()
	geometry := newGeometryCache(t)
	ts, err := NewTessellator(ConstantElevation{}, geometry, TessellatorConfig{})
	require.NoError(t, err)
	require.Len(t, ts.Levels().TopLevelAddresses(), topLevelRows*topLevelColumns)

	t.Run("selects and caches geometry", func(t *testing.T) {
		dc := drawContext(g, 45, 7, 5e4)
		tiles, err := ts.Tessellate(dc)
		require.NoError(t, err)
		require.NotEmpty(t, tiles)

		require.NotNil(t, dc.VisibleSector)
		require.True(t, dc.VisibleSector.Contains(45, 7))
		require.Len(t, dc.SurfaceGeometry, len(tiles))

		deepest := 0
		for _, tl := range tiles {
			require.NotNil(t, tl.Geometry)
			require.LessOrEqual(t, tl.LevelNumber(), DefaultMaxLevel)
			require.True(t, dc.VisibleSector.Contains(tl.Sector().Centroid().Lat, tl.Sector().Centroid().Lon))
			deepest = max(deepest, tl.LevelNumber())
		}
		require.Positive(t, deepest)
		require.Equal(t, len(tiles), geometry.Len())

		again, err := ts.Tessellate(drawContext(g, 45, 7, 5e4))
		require.NoError(t, err)
		require.Len(t, again, len(tiles))
		for i := range tiles {
			require.Same(t, tiles[i].Geometry, again[i].Geometry)
		}
	})

	t.Run("far views select top level tiles", func(t *testing.T) {
		tiles, err := ts.Tessellate(drawContext(g, 0, 0, 5e7))
		require.NoError(t, err)
		for _, tl := range tiles {
			require.Zero(t, tl.LevelNumber())
		}
	})

	t.Run("invalid draw context", func(t *testing.T) {
		_, err := ts.Tessellate(&render.DrawContext{Globe: g})
		require.Error(t, err)
	})
}

func TestDecodeTerrarium(t *testing.T) {
	et, size, err := DecodeTerrarium(terrariumPNG(t, 1000))
	require.NoError(t, err)
	require.Equal(t, int64(4*4*4), size)
	require.Equal(t, float32(1000), et.Min)
	require.Equal(t, float32(1000), et.Max)
	require.InDelta(t, 1000, et.Sample(geo.NewSector(0, 1, 0, 1), 0.3, 0.6), 1e-9)

	_, _, err = DecodeTerrarium([]byte("nope"))
	require.Error(t, err)
}

func TestTiledElevationModel(t *testing.T) {
	body := terrariumPNG(t, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	levels, err := tile.NewLevelSet(tile.LevelSetParams{
		Dataset:        "elevation",
		Sector:         geo.FullSphere,
		LevelZeroDelta: geo.LatLon{Lat: 36, Lon: 36},
		NumLevels:      3,
		FormatSuffix:   ".png",
		URLTemplate:    srv.URL + "/{level}/{row}/{column}",
	})
	require.NoError(t, err)

	store, err := cache.NewFileStore(t.TempDir(), 10, 0)
	require.NoError(t, err)
	defer store.Close()

	q, err := taskqueue.New(taskqueue.Config[*ElevationTile]{
		Name:      "elevation",
		Workers:   2,
		Capacity:  16,
		Store:     store,
		Fetcher:   fetch.NewHTTPFetcher(fetch.Config{}),
		Decode:    DecodeTerrarium,
		Absent:    levels,
		Suffixes:  imagery.ProbeSuffixes,
		SuffixFor: imagery.SuffixForContentType,
	})
	require.NoError(t, err)
	defer q.Close()

	tiles, err := cache.NewResourceCache[tile.ResourceKey, *ElevationTile]("elevation", 1<<20)
	require.NoError(t, err)

	m := NewTiledElevationModel(TiledElevationParams{
		Levels:   levels,
		Queue:    q,
		Cache:    tiles,
		TileSize: 4,
	})

	t.Run("target resolution", func(t *testing.T) {
		require.Equal(t, 0, m.TargetResolution(geo.NewSector(0, 36, 0, 36), 4))
		require.Equal(t, 1, m.TargetResolution(geo.NewSector(0, 18, 0, 18), 4))
		require.Equal(t, 2, m.TargetResolution(geo.NewSector(0, 1, 0, 1), 24))
	})

	sector := geo.NewSector(1, 2, 1, 2)

	t.Run("placeholder until loaded", func(t *testing.T) {
		e := m.Elevations(sector, 1)
		require.Equal(t, -1, e.Resolution())
		require.Zero(t, e.Elevation(1.5, 1.5))
	})

	t.Run("loaded tiles are sampled", func(t *testing.T) {
		q.Start(context.Background())
		require.Eventually(t, func() bool {
			m.Merge()
			return tiles.Len() > 0
		}, 2*time.Second, 10*time.Millisecond)

		e := m.Elevations(sector, 1)
		require.Equal(t, 1, e.Resolution())
		require.InDelta(t, 1000, e.Elevation(1.5, 1.5), 1e-9)
	})

	t.Run("coarser ancestors fill in", func(t *testing.T) {
		tiles.Purge()
		parent := levels.Tile(tile.Address{Level: 0, Row: 2, Column: 5})
		data, size, err := DecodeTerrarium(body)
		require.NoError(t, err)
		require.True(t, tiles.Put(parent.Key(), data, size))

		e := m.Elevations(sector, 2)
		require.Equal(t, 0, e.Resolution())
		require.InDelta(t, 1000, e.Elevation(1.5, 1.5), 1e-9)
	})

	t.Run("tessellated terrain follows the elevations", func(t *testing.T) {
		g := geo.NewSphere(6378137)
		ts, err := NewTessellator(m, newGeometryCache(t), TessellatorConfig{Density: 4, MaxLevel: 2})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			m.Merge()
			if _, err := ts.Tessellate(drawContext(g, 1.5, 1.5, 2e5)); err != nil {
				return false
			}
			return tiles.Len() >= 3
		}, 2*time.Second, 10*time.Millisecond)

		tl, err := ts.Tessellate(drawContext(g, 1.5, 1.5, 2e5))
		require.NoError(t, err)
		for _, tt := range tl {
			c := tt.Sector().Centroid()
			p, ok := tt.SurfacePoint(c.Lat, c.Lon, 0)
			require.True(t, ok)
			if tt.Geometry.Resolution >= 0 {
				require.InDelta(t, 6378137+1000, p.Len(), 50)
			}
		}
	})
}
