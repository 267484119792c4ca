package imagery

import (
	"image"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"globe-tiles/internal/geo"
	"golang.org/x/image/draw"
)

// Piece is an image covering a sector, north up.
type Piece struct {
	Sector geo.Sector
	Image  image.Image
}

// Mosaic is a grid of pieces, rows ordered north to south and columns west
// to east. Missing pieces are nil.
type Mosaic [][]*Piece

// Compose stitches a mosaic into one image covering sector. The longer
// side of the result is imageSize pixels and its aspect ratio follows the
// native resolution of the pieces. Areas without a piece stay transparent.
func Compose(sector geo.Sector, imageSize int, m Mosaic) (*image.RGBA, error) {
	if imageSize <= 0 {
		return nil, errors.New("image size must be positive").
			WithType(ErrTypeFormat).
			WithTag("size", imageSize)
	}

	first, covered := m.scan()
	if first == nil {
		return nil, errors.New("no images available in sector").
			WithType(ErrTypeDecode).
			WithTag("sector", sector.String())
	}

	// Native pixel density of the mosaic, in pixels per degree.
	fb := first.Image.Bounds()
	pxPerLon := float64(fb.Dx()) / first.Sector.DeltaLon()
	pxPerLat := float64(fb.Dy()) / first.Sector.DeltaLat()

	nativeWidth := sector.DeltaLon() * pxPerLon
	nativeHeight := sector.DeltaLat() * pxPerLat

	width, height := imageSize, imageSize
	if nativeHeight >= nativeWidth {
		width = int(math.Max(1, math.Round(nativeWidth/nativeHeight*float64(imageSize))))
	} else {
		height = int(math.Max(1, math.Round(nativeHeight/nativeWidth*float64(imageSize))))
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	sx := float64(width) / sector.DeltaLon()
	sy := float64(height) / sector.DeltaLat()

	for _, row := range m {
		for _, p := range row {
			if p == nil || !p.Sector.Intersects(covered) {
				continue
			}

			r := image.Rect(
				int(math.Round((p.Sector.MinLon-sector.MinLon)*sx)),
				int(math.Round((sector.MaxLat-p.Sector.MaxLat)*sy)),
				int(math.Round((p.Sector.MaxLon-sector.MinLon)*sx)),
				int(math.Round((sector.MaxLat-p.Sector.MinLat)*sy)),
			)
			if r.Empty() || !r.Overlaps(dst.Bounds()) {
				continue
			}
			draw.BiLinear.Scale(dst, r, p.Image, p.Image.Bounds(), draw.Over, nil)
		}
	}

	return dst, nil
}

// scan returns the first available piece and the union of the sectors of
// all available pieces.
func (m Mosaic) scan() (*Piece, geo.Sector) {
	var first *Piece
	var covered geo.Sector

	for _, row := range m {
		for _, p := range row {
			if p == nil {
				continue
			}
			if first == nil {
				first = p
				covered = p.Sector
				continue
			}
			covered = covered.Union(p.Sector)
		}
	}
	return first, covered
}
