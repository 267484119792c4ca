package terrain

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/imagery"
)

// ElevationTile is a grid of elevation samples in meters, rows ordered
// north to south.
type ElevationTile struct {
	Width, Height int
	Values        []float32
	Min, Max      float32
}

func (t *ElevationTile) SizeInBytes() int64 {
	return int64(len(t.Values)) * 4
}

// DecodeTerrarium decodes a Terrarium encoded image, where each pixel holds
// r*256 + g + b/256 - 32768 meters.
func DecodeTerrarium(data []byte) (*ElevationTile, int64, error) {
	tex, err := imagery.Decode(data)
	if err != nil {
		return nil, 0, errors.New("decoding terrarium tile failed").Wrap(err)
	}

	img := tex.Image
	w, h := tex.Width(), tex.Height()
	t := &ElevationTile{
		Width:  w,
		Height: h,
		Values: make([]float32, 0, w*h),
		Min:    math.MaxFloat32,
		Max:    -math.MaxFloat32,
	}

	for y := 0; y < h; y++ {
		i := img.PixOffset(0, y)
		for x := 0; x < w; x++ {
			r := float64(img.Pix[i+0])
			g := float64(img.Pix[i+1])
			b := float64(img.Pix[i+2])
			meters := float32(r*256 + g + b/256 - 32768)

			t.Values = append(t.Values, meters)
			t.Min = min(t.Min, meters)
			t.Max = max(t.Max, meters)
			i += 4
		}
	}
	return t, t.SizeInBytes(), nil
}

// Sample returns the bilinearly interpolated elevation at a position inside
// the sector the tile covers.
func (t *ElevationTile) Sample(sector geo.Sector, lat, lon float64) float64 {
	if t.Width == 0 || t.Height == 0 {
		return 0
	}

	x := clamp01((lon-sector.MinLon)/sector.DeltaLon()) * float64(t.Width-1)
	y := clamp01((sector.MaxLat-lat)/sector.DeltaLat()) * float64(t.Height-1)

	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, t.Width-1), min(y0+1, t.Height-1)
	fx, fy := x-float64(x0), y-float64(y0)

	at := func(x, y int) float64 {
		return float64(t.Values[y*t.Width+x])
	}
	top := at(x0, y0)*(1-fx) + at(x1, y0)*fx
	bottom := at(x0, y1)*(1-fx) + at(x1, y1)*fx
	return top*(1-fy) + bottom*fy
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
