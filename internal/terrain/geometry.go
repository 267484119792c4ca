package terrain

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/tile"
)

// almostOne keeps the right and top texture coordinates inside the texture
// so that skirts are not sheared off when sampled.
const almostOne = 0.999999

// CacheKey identifies built geometry.
type CacheKey struct {
	Address              tile.Address
	Resolution           int
	VerticalExaggeration float64
	Density              int
}

// Geometry is a skirted vertex grid over a sector. Vertices are relative to
// ReferenceCenter, row by row from south to north, with one skirt row and
// column on each side.
type Geometry struct {
	Density         int
	Resolution      int
	ReferenceCenter mgl64.Vec3
	Vertices        []mgl64.Vec3

	// TexCoords and Indices are shared by all geometry of the same density.
	TexCoords []float64
	Indices   []uint32
}

// SizeInBytes counts the vertex memory. Shared buffers are not counted.
func (g *Geometry) SizeInBytes() int64 {
	return int64(len(g.Vertices))*24 + 64
}

// NumVertices returns the vertex count of a grid of the given density.
func NumVertices(density int) int {
	return (density + 3) * (density + 3)
}

// NumIndices returns the triangle strip index count of a grid of the given
// density.
func NumIndices(density int) int {
	s := density + 2
	return 2*s*s + 4*s - 2
}

func buildGeometry(g *geo.Globe, sector geo.Sector, density int, ve, skirtDepth float64, elevations Elevations) *Geometry {
	side := density + 3
	centroid := sector.Centroid()
	ref := g.ComputePoint(centroid.Lat, centroid.Lon, 0)

	vertices := make([]mgl64.Vec3, 0, side*side)
	for j := 0; j < side; j++ {
		lat := gridAngle(j, density, sector.MinLat, sector.MaxLat)
		for i := 0; i < side; i++ {
			lon := gridAngle(i, density, sector.MinLon, sector.MaxLon)

			elevation := ve * elevations.Elevation(lat, lon)
			if j == 0 || j == side-1 || i == 0 || i == side-1 {
				elevation -= skirtDepth
			}
			vertices = append(vertices, g.ComputePoint(lat, lon, elevation).Sub(ref))
		}
	}

	return &Geometry{
		Density:         density,
		Resolution:      elevations.Resolution(),
		ReferenceCenter: ref,
		Vertices:        vertices,
		TexCoords:       geographicTexCoords(density),
		Indices:         stripIndices(density),
	}
}

// gridAngle returns the angle of grid line k. Lines 0 and density+2 are
// skirts that repeat the sector edges.
func gridAngle(k, density int, min, max float64) float64 {
	switch {
	case k <= 1:
		return min
	case k > density:
		return max
	default:
		return min + float64(k-1)*(max-min)/float64(density)
	}
}

func texCoord(k, density int) float64 {
	switch {
	case k <= 1:
		return 0
	case k > density:
		return almostOne
	default:
		return float64(k-1) / float64(density)
	}
}

var shared = struct {
	sync.Mutex
	texCoords map[int][]float64
	indices   map[int][]uint32
}{
	texCoords: make(map[int][]float64),
	indices:   make(map[int][]uint32),
}

func geographicTexCoords(density int) []float64 {
	density = max(density, 1)

	shared.Lock()
	defer shared.Unlock()

	if tc, ok := shared.texCoords[density]; ok {
		return tc
	}

	side := density + 3
	tc := make([]float64, 0, 2*side*side)
	for j := 0; j < side; j++ {
		v := texCoord(j, density)
		for i := 0; i < side; i++ {
			tc = append(tc, texCoord(i, density), v)
		}
	}
	shared.texCoords[density] = tc
	return tc
}

func stripIndices(density int) []uint32 {
	density = max(density, 1)

	shared.Lock()
	defer shared.Unlock()

	if idx, ok := shared.indices[density]; ok {
		return idx
	}

	s := density + 2
	idx := make([]uint32, 0, NumIndices(density))
	k := 0
	for i := 0; i < s; i++ {
		idx = append(idx, uint32(k))
		if i > 0 {
			k++
			idx = append(idx, uint32(k), uint32(k))
		}

		if i%2 == 0 {
			k++
			idx = append(idx, uint32(k))
			for j := 0; j < s; j++ {
				k += s
				idx = append(idx, uint32(k))
				k++
				idx = append(idx, uint32(k))
			}
		} else {
			k--
			idx = append(idx, uint32(k))
			for j := 0; j < s; j++ {
				k -= s
				idx = append(idx, uint32(k))
				k--
				idx = append(idx, uint32(k))
			}
		}
	}
	shared.indices[density] = idx
	return idx
}
