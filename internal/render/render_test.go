package render

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/tile"
)

func newLevelSet(t *testing.T) *tile.LevelSet {
	ls, err := tile.NewLevelSet(tile.LevelSetParams{
		Dataset:        "earth",
		Sector:         geo.FullSphere,
		LevelZeroDelta: geo.LatLon{Lat: 36, Lon: 36},
		NumLevels:      5,
	})
	require.NoError(t, err)
	return ls
}

func newDrawContext(b Backend) *DrawContext {
	g := geo.WGS84()
	return &DrawContext{
		Globe:   g,
		View:    geo.LookDown(g, 0, 0, 1e7, 45, 1),
		Backend: b,
	}
}

type failingBackend struct {
	HeadlessBackend
	fail map[tile.ResourceKey]bool
}

func (b *failingBackend) Draw(call DrawCall) error {
	if b.fail[call.Key] {
		return errors.New("draw failed").WithType("backend")
	}
	return b.HeadlessBackend.Draw(call)
}

func TestValidate(t *testing.T) {
	g := geo.WGS84()
	v := geo.LookDown(g, 0, 0, 1e6, 45, 1)

	tests := []struct {
		name string
		dc   *DrawContext
	}{
		{name: "nil context"},
		{name: "nil globe", dc: &DrawContext{View: v, Backend: &HeadlessBackend{}}},
		{name: "nil view", dc: &DrawContext{Globe: g, Backend: &HeadlessBackend{}}},
		{name: "zero frustum", dc: &DrawContext{Globe: g, View: &geo.View{}, Backend: &HeadlessBackend{}}},
		{name: "nil backend", dc: &DrawContext{Globe: g, View: v}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.dc.Validate()
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypePrecondition))
		})
	}

	t.Run("complete", func(t *testing.T) {
		dc := &DrawContext{Globe: g, View: v, Backend: &HeadlessBackend{}}
		require.NoError(t, dc.Validate())
		require.Equal(t, 1.0, dc.Exaggeration())
	})
}

func TestSubRect(t *testing.T) {
	ls := newLevelSet(t)
	ancestor := ls.Tile(tile.Address{Level: 1, Row: 5, Column: 11})

	t.Run("round trip through descendants", func(t *testing.T) {
		var walk func(tl tile.Tile, depth int)
		walk = func(tl tile.Tile, depth int) {
			r := ComputeSubRect(tl.Sector(), ancestor.Sector())
			s := r.Sector(ancestor.Sector())
			require.InDelta(t, tl.Sector().MinLat, s.MinLat, 1e-9)
			require.InDelta(t, tl.Sector().MaxLat, s.MaxLat, 1e-9)
			require.InDelta(t, tl.Sector().MinLon, s.MinLon, 1e-9)
			require.InDelta(t, tl.Sector().MaxLon, s.MaxLon, 1e-9)

			if depth == 0 {
				return
			}
			for _, c := range ls.Subdivide(tl) {
				walk(c, depth-1)
			}
		}
		walk(ancestor, 3)
	})

	t.Run("north east child", func(t *testing.T) {
		ne := ls.Subdivide(ancestor)[3]
		r := ComputeSubRect(ne.Sector(), ancestor.Sector())
		require.Equal(t, SubRect{U0: 0.5, V0: 0.5, SU: 0.5, SV: 0.5}, r)

		u, v := TransformFor(r).Apply(1, 1)
		require.Equal(t, 1.0, u)
		require.Equal(t, 1.0, v)

		m := TransformFor(r).Mat3()
		p := m.Mul3x1([3]float64{0, 0, 1})
		require.InDelta(t, 0.5, p[0], 1e-12)
		require.InDelta(t, 0.5, p[1], 1e-12)
	})

	t.Run("identity", func(t *testing.T) {
		u, v := IdentityTransform.Apply(0.25, 0.75)
		require.Equal(t, 0.25, u)
		require.Equal(t, 0.75, v)
	})
}

func TestTileRenderer(t *testing.T) {
	ls := newLevelSet(t)
	root := ls.Tile(tile.Address{Level: 0, Row: 2, Column: 5})
	children := ls.Subdivide(root)
	grandchild := ls.Subdivide(children[1])[2]

	entries := []Entry{
		{Tile: grandchild},
		{Tile: children[0], Fallback: &root, SubRect: ComputeSubRect(children[0].Sector(), root.Sector())},
		{Tile: children[1]},
		{Tile: children[3], Fallback: &root, SubRect: ComputeSubRect(children[3].Sector(), root.Sector())},
	}

	resident := map[tile.ResourceKey]any{
		root.Key():        "root",
		children[1].Key(): "child",
		grandchild.Key():  "grandchild",
	}
	lookup := func(k tile.ResourceKey) (any, bool) {
		v, ok := resident[k]
		return v, ok
	}

	t.Run("draws coarse to fine with a stable order", func(t *testing.T) {
		b := &HeadlessBackend{}
		r := TileRenderer{Layer: "imagery", Opacity: 0.5}

		stats, err := r.Render(newDrawContext(b), entries, lookup)
		require.NoError(t, err)
		require.Equal(t, Stats{Drawn: 4, Fallbacks: 2}, stats)

		require.Len(t, b.Calls, 4)
		require.Equal(t, children[0].Address(), b.Calls[0].Node.Address())
		require.Equal(t, children[3].Address(), b.Calls[1].Node.Address())
		require.Equal(t, children[1].Address(), b.Calls[2].Node.Address())
		require.Equal(t, grandchild.Address(), b.Calls[3].Node.Address())

		require.Equal(t, root.Key(), b.Calls[0].Key)
		require.Equal(t, "root", b.Calls[0].Resource)
		require.Equal(t, TextureTransform{ScaleU: 0.5, ScaleV: 0.5}, b.Calls[0].Transform)
		require.Equal(t, IdentityTransform, b.Calls[2].Transform)
		require.Equal(t, 0.5, b.Calls[2].Opacity)
		require.Equal(t, "imagery", b.Calls[2].Layer)
	})

	t.Run("skips payloads that are gone", func(t *testing.T) {
		b := &HeadlessBackend{}
		r := TileRenderer{Layer: "imagery", Opacity: 1}

		stats, err := r.Render(newDrawContext(b), entries, func(k tile.ResourceKey) (any, bool) {
			if k == root.Key() {
				return nil, false
			}
			return lookup(k)
		})
		require.NoError(t, err)
		require.Equal(t, 2, stats.Drawn)
		require.Equal(t, 2, stats.Missing)
	})

	t.Run("draw errors do not abort the pass", func(t *testing.T) {
		b := &failingBackend{fail: map[tile.ResourceKey]bool{root.Key(): true}}
		r := TileRenderer{Layer: "imagery", Opacity: 1}

		stats, err := r.Render(newDrawContext(b), entries, lookup)
		require.NoError(t, err)
		require.Equal(t, 2, stats.Failed)
		require.Equal(t, 2, stats.Drawn)
		require.Len(t, b.Calls, 2)
	})

	t.Run("tile labels", func(t *testing.T) {
		b := &HeadlessBackend{}
		r := TileRenderer{Layer: "imagery", Opacity: 1, DrawTileIDs: true}
		visible := []Entry{
			{Tile: ls.Tile(tile.Address{Level: 0, Row: 2, Column: 5})},
			{Tile: children[0], Fallback: &root},
		}

		_, err := r.Render(newDrawContext(b), visible, lookup)
		require.NoError(t, err)
		require.Len(t, b.Labels, 2)
		require.Equal(t, "0/2/5", b.Labels[0].Text)
		require.Equal(t, "1/4/10/0/2/5", b.Labels[1].Text)
	})

	t.Run("invalid context", func(t *testing.T) {
		r := TileRenderer{Layer: "imagery"}
		_, err := r.Render(&DrawContext{}, entries, lookup)
		require.Equal(t, ErrTypePrecondition, errors.Type(err))
	})
}
