package geotiff

import (
	"bytes"
	"encoding/binary"
	"image"
	"io"
	"math"
	"sort"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"globe-tiles/internal/geo"
	"golang.org/x/image/draw"
)

const (
	DataType_Byte     = 1
	DataType_ASCII    = 2
	DataType_Short    = 3
	DataType_Long     = 4
	DataType_Rational = 5
	DataType_Double   = 12

	TagType_ImageWidth                = 256
	TagType_ImageLength               = 257
	TagType_BitsPerSample             = 258
	TagType_Compression               = 259
	TagType_PhotometricInterpretation = 262
	TagType_StripOffsets              = 273
	TagType_SamplesPerPixel           = 277
	TagType_RowsPerStrip              = 278
	TagType_StripByteCounts           = 279
	TagType_XResolution               = 282
	TagType_YResolution               = 283
	TagType_ResolutionUnit            = 296
	TagType_ExtraSamples              = 338

	// GeoTIFF tags
	TagType_ModelPixelScaleTag = 33550
	TagType_ModelTiepointTag   = 33922
	TagType_GeoKeyDirectoryTag = 34735
	TagType_GeoDoubleParamsTag = 34736
	TagType_GeoAsciiParamsTag  = 34737

	// EPSG code of WGS 84 geographic coordinates.
	EPSGWGS84 = 4326
)

const ErrTypeEncode = "geotiff_encode"

var enc = binary.LittleEndian

// Tags maps a tag ID to its value. Supported value types are []uint16
// (SHORT), []uint32 (LONG), []float64 (DOUBLE) and string (ASCII).
type Tags map[uint16]any

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

// GeographicTags returns the GeoTIFF tags placing an image of width by
// height pixels over a sector in WGS 84 latitude and longitude.
func GeographicTags(sector geo.Sector, width, height int) Tags {
	return Tags{
		// Version 1.1.0 with 4 keys: geographic model, pixel is area, the
		// EPSG geographic type and its citation in the ascii params.
		TagType_GeoKeyDirectoryTag: []uint16{
			1, 1, 0, 4,
			1024, 0, 1, 2,
			1025, 0, 1, 1,
			2048, 0, 1, EPSGWGS84,
			2049, TagType_GeoAsciiParamsTag, 7, 0,
		},
		TagType_ModelPixelScaleTag: []float64{
			sector.DeltaLon() / float64(width),
			sector.DeltaLat() / float64(height),
			0,
		},
		// Pixel (0, 0) is the north west corner.
		TagType_ModelTiepointTag: []float64{0, 0, 0, sector.MinLon, sector.MaxLat, 0},
		TagType_GeoAsciiParamsTag: "WGS 84|",
	}
}

// Encode writes m to w as an uncompressed little endian RGBA TIFF with a
// single strip, followed by the extra tags.
func Encode(w io.Writer, m image.Image, extraTags Tags) error {
	rgba := toRGBA(m)
	width, height := rgba.Rect.Dx(), rgba.Rect.Dy()
	if width == 0 || height == 0 {
		return errors.New("cannot encode an empty image").
			WithType(ErrTypeEncode)
	}
	pixels := rgba.Pix

	entries := []ifdEntry{
		longEntry(TagType_ImageWidth, uint32(width)),
		longEntry(TagType_ImageLength, uint32(height)),
		{TagType_BitsPerSample, DataType_Short, 4, enc16s(8, 8, 8, 8)},
		shortEntry(TagType_Compression, 1),
		shortEntry(TagType_PhotometricInterpretation, 2),
		shortEntry(TagType_SamplesPerPixel, 4),
		longEntry(TagType_RowsPerStrip, uint32(height)),
		{TagType_XResolution, DataType_Rational, 1, encRational(72, 1)},
		{TagType_YResolution, DataType_Rational, 1, encRational(72, 1)},
		shortEntry(TagType_ResolutionUnit, 2),
		// Unassociated alpha.
		shortEntry(TagType_ExtraSamples, 2),
		longEntry(TagType_StripOffsets, 0),
		longEntry(TagType_StripByteCounts, uint32(len(pixels))),
	}

	for tag, val := range extraTags {
		e, err := newEntry(tag, val)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].tag < entries[j].tag
	})

	// Layout: header, IFD, values larger than 4 bytes, pixels.
	const headerSize = 8
	ifdSize := 2 + 12*len(entries) + 4
	valuesOffset := headerSize + ifdSize

	var values bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) <= 4 {
			continue
		}
		offset := uint32(valuesOffset + values.Len())
		values.Write(e.data)
		if values.Len()%2 == 1 {
			values.WriteByte(0)
		}
		e.data = enc32(offset)
	}

	pixelsOffset := uint32(valuesOffset + values.Len())
	for i := range entries {
		if entries[i].tag == TagType_StripOffsets {
			entries[i].data = enc32(pixelsOffset)
		}
	}

	var buf bytes.Buffer
	buf.Grow(int(pixelsOffset) + len(pixels))
	buf.Write([]byte{'I', 'I', 0x2A, 0x00})
	buf.Write(enc32(headerSize))

	buf.Write(enc16(uint16(len(entries))))
	for _, e := range entries {
		buf.Write(enc16(e.tag))
		buf.Write(enc16(e.datatype))
		buf.Write(enc32(e.count))
		var val [4]byte
		copy(val[:], e.data)
		buf.Write(val[:])
	}
	buf.Write(enc32(0))
	values.WriteTo(&buf)

	if _, err := buf.WriteTo(w); err != nil {
		return errors.New("writing tiff header failed").
			WithType(ErrTypeEncode).
			Wrap(err)
	}
	if _, err := w.Write(pixels); err != nil {
		return errors.New("writing tiff pixels failed").
			WithType(ErrTypeEncode).
			Wrap(err)
	}
	return nil
}

func newEntry(tag uint16, val any) (ifdEntry, error) {
	switch v := val.(type) {
	case []uint16:
		return ifdEntry{tag, DataType_Short, uint32(len(v)), enc16s(v...)}, nil
	case []uint32:
		b := make([]byte, 4*len(v))
		for i, x := range v {
			enc.PutUint32(b[i*4:], x)
		}
		return ifdEntry{tag, DataType_Long, uint32(len(v)), b}, nil
	case []float64:
		b := make([]byte, 8*len(v))
		for i, x := range v {
			enc.PutUint64(b[i*8:], math.Float64bits(x))
		}
		return ifdEntry{tag, DataType_Double, uint32(len(v)), b}, nil
	case string:
		b := append([]byte(v), 0)
		return ifdEntry{tag, DataType_ASCII, uint32(len(b)), b}, nil
	default:
		return ifdEntry{}, errors.Newf("unsupported value type %T", val).
			WithType(ErrTypeEncode).
			WithTag("tag", tag)
	}
}

// toRGBA returns m as a non premultiplied RGBA image with a zero origin.
func toRGBA(m image.Image) *image.NRGBA {
	if n, ok := m.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) && n.Stride == 4*n.Rect.Dx() {
		return n
	}
	b := m.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, m, b.Min, draw.Src)
	return dst
}

func shortEntry(tag, v uint16) ifdEntry {
	return ifdEntry{tag, DataType_Short, 1, enc16(v)}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	return ifdEntry{tag, DataType_Long, 1, enc32(v)}
}

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs ...uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	enc.PutUint32(b[:4], num)
	enc.PutUint32(b[4:], den)
	return b
}
