package imagery

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/aukilabs/go-tooling/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	ErrTypeDecode = "imagery_decode"
	ErrTypeFormat = "imagery_format"
)

// MaxImageDimension bounds the width and height of decoded payloads.
const MaxImageDimension = 8192

// Texture is a decoded image payload ready to be bound by a rendering
// backend.
type Texture struct {
	Image *image.RGBA
}

// SizeInBytes returns the memory held by the texture pixels.
func (t *Texture) SizeInBytes() int64 {
	if t == nil || t.Image == nil {
		return 0
	}
	return int64(len(t.Image.Pix))
}

func (t *Texture) Width() int {
	return t.Image.Bounds().Dx()
}

func (t *Texture) Height() int {
	return t.Image.Bounds().Dy()
}

// Decode decodes an encoded image of any registered format into a texture.
func Decode(data []byte) (*Texture, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data").
			WithType(ErrTypeDecode)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New("decoding image header failed").
			WithType(ErrTypeDecode).
			WithTag("bytes", len(data)).
			Wrap(err)
	}
	if cfg.Width > MaxImageDimension || cfg.Height > MaxImageDimension {
		return nil, errors.New("image dimensions are too large").
			WithType(ErrTypeDecode).
			WithTag("format", format).
			WithTag("width", cfg.Width).
			WithTag("height", cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New("decoding image failed").
			WithType(ErrTypeDecode).
			WithTag("bytes", len(data)).
			Wrap(err)
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("decoded image is empty").
			WithType(ErrTypeDecode).
			WithTag("format", format)
	}

	return &Texture{Image: toRGBA(img)}, nil
}

// DecodeTexture decodes a texture and reports its size, as retrieval
// queues expect.
func DecodeTexture(data []byte) (*Texture, int64, error) {
	tex, err := Decode(data)
	if err != nil {
		return nil, 0, err
	}
	return tex, tex.SizeInBytes(), nil
}

// NewTexture wraps an image, converting it to RGBA when needed.
func NewTexture(img image.Image) *Texture {
	return &Texture{Image: toRGBA(img)}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
