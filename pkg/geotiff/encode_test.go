package geotiff

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
	"globe-tiles/internal/geo"
	"golang.org/x/image/tiff"
)

// readTag returns the raw value bytes of a tag of a little endian TIFF with
// a single IFD.
func readTag(t *testing.T, data []byte, tag uint16) (uint16, uint32, []byte) {
	t.Helper()
	le := binary.LittleEndian
	ifd := le.Uint32(data[4:])
	n := int(le.Uint16(data[ifd:]))

	for i := 0; i < n; i++ {
		e := data[int(ifd)+2+12*i:]
		if le.Uint16(e) != tag {
			continue
		}
		datatype, count := le.Uint16(e[2:]), le.Uint32(e[4:])
		size := map[uint16]uint32{DataType_ASCII: 1, DataType_Short: 2, DataType_Long: 4, DataType_Double: 8}[datatype] * count
		if size <= 4 {
			return datatype, count, e[8 : 8+size]
		}
		offset := le.Uint32(e[8:])
		return datatype, count, data[offset : offset+size]
	}
	t.Fatalf("tag %d not found", tag)
	return 0, 0, nil
}

func doubles(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func TestEncode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(3, 1, color.RGBA{B: 255, A: 255})

	sector := geo.NewSector(10, 20, 30, 50)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, img, GeographicTags(sector, 4, 2)))

	t.Run("readable as tiff", func(t *testing.T) {
		decoded, err := tiff.Decode(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 4, 2), decoded.Bounds())

		r, g, b, a := decoded.At(0, 0).RGBA()
		require.Equal(t, []uint32{0xffff, 0, 0, 0xffff}, []uint32{r, g, b, a})
		r, g, b, a = decoded.At(3, 1).RGBA()
		require.Equal(t, []uint32{0, 0, 0xffff, 0xffff}, []uint32{r, g, b, a})
	})

	t.Run("georeferenced", func(t *testing.T) {
		data := buf.Bytes()

		_, _, scale := readTag(t, data, TagType_ModelPixelScaleTag)
		require.Equal(t, []float64{5, 5, 0}, doubles(scale))

		_, _, tiepoint := readTag(t, data, TagType_ModelTiepointTag)
		require.Equal(t, []float64{0, 0, 0, 30, 20, 0}, doubles(tiepoint))

		datatype, count, keys := readTag(t, data, TagType_GeoKeyDirectoryTag)
		require.Equal(t, uint16(DataType_Short), datatype)
		require.Equal(t, uint32(20), count)
		require.Equal(t, uint16(EPSGWGS84), binary.LittleEndian.Uint16(keys[15*2:]))

		_, _, citation := readTag(t, data, TagType_GeoAsciiParamsTag)
		require.Equal(t, "WGS 84|\x00", string(citation))
	})

	t.Run("empty image", func(t *testing.T) {
		err := Encode(&bytes.Buffer{}, image.NewRGBA(image.Rect(0, 0, 0, 0)), nil)
		require.Equal(t, ErrTypeEncode, errors.Type(err))
	})

	t.Run("unsupported tag value", func(t *testing.T) {
		err := Encode(&bytes.Buffer{}, img, Tags{40000: 1.5})
		require.Equal(t, ErrTypeEncode, errors.Type(err))
	})

	t.Run("offset images are rebased", func(t *testing.T) {
		sub := img.SubImage(image.Rect(2, 1, 4, 2))
		var out bytes.Buffer
		require.NoError(t, Encode(&out, sub, nil))

		decoded, err := tiff.Decode(&out)
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 2, 1), decoded.Bounds())
		_, _, b, _ := decoded.At(1, 0).RGBA()
		require.Equal(t, uint32(0xffff), b)
	})
}
