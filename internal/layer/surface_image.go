package layer

import (
	"context"
	"image"
	"net/url"
	"path"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/imagery"
	"globe-tiles/internal/render"
	"globe-tiles/internal/taskqueue"
	"globe-tiles/internal/tile"
)

// SurfaceImageParams configures a SurfaceImage. Exactly one of URL and
// Image is set.
type SurfaceImageParams struct {
	Name   string
	Sector geo.Sector

	// URL is an http or https location of the image.
	URL string

	// Image is an image already in memory.
	Image image.Image

	Queue    *taskqueue.Queue[*imagery.Texture]
	Textures *cache.ResourceCache[tile.ResourceKey, *imagery.Texture]
	Opacity  float64
}

// SurfaceImage draws a single image stretched over a sector. A remote image
// is requested asynchronously. Once a retrieval fails the image is not
// requested again until ResetProblem is called.
type SurfaceImage struct {
	name     string
	sector   geo.Sector
	url      string
	image    image.Image
	key      tile.ResourceKey
	queue    *taskqueue.Queue[*imagery.Texture]
	textures *cache.ResourceCache[tile.ResourceKey, *imagery.Texture]
	opacity  float64
	enabled  bool

	hasProblem bool
}

func NewSurfaceImage(p SurfaceImageParams) (*SurfaceImage, error) {
	if !p.Sector.IsValid() {
		return nil, errors.New("invalid surface image sector").
			WithTag("name", p.Name).
			WithTag("sector", p.Sector.String())
	}
	if p.Textures == nil {
		return nil, errors.New("surface image needs a texture cache").
			WithTag("name", p.Name)
	}
	if (p.URL == "") == (p.Image == nil) {
		return nil, errors.New("surface image needs either a url or an image").
			WithTag("name", p.Name)
	}
	if p.URL != "" && p.Queue == nil {
		return nil, errors.New("remote surface image needs a queue").
			WithTag("name", p.Name)
	}

	source := p.URL
	if source == "" {
		source = "memory:" + uuid.NewString()
	}
	if p.Name == "" {
		p.Name = source
	}

	return &SurfaceImage{
		name:     p.Name,
		sector:   p.Sector,
		url:      p.URL,
		image:    p.Image,
		key:      tile.SourceKey(source),
		queue:    p.Queue,
		textures: p.Textures,
		opacity:  clampOpacity(p.Opacity),
		enabled:  true,
	}, nil
}

func (s *SurfaceImage) Name() string {
	return s.name
}

func (s *SurfaceImage) Sector() geo.Sector {
	return s.sector
}

func (s *SurfaceImage) Key() tile.ResourceKey {
	return s.key
}

func (s *SurfaceImage) IsEnabled() bool {
	return s.enabled
}

func (s *SurfaceImage) SetEnabled(enabled bool) {
	s.enabled = enabled
}

func (s *SurfaceImage) Opacity() float64 {
	return s.opacity
}

func (s *SurfaceImage) SetOpacity(opacity float64) {
	s.opacity = clampOpacity(opacity)
}

// HasProblem reports whether loading the image failed.
func (s *SurfaceImage) HasProblem() bool {
	return s.hasProblem
}

// ResetProblem allows a failed image to be requested again.
func (s *SurfaceImage) ResetProblem() {
	s.hasProblem = false
}

func (s *SurfaceImage) Render(ctx context.Context, dc *render.DrawContext) (Stats, error) {
	stats := Stats{Layer: s.name}
	if !s.enabled {
		return stats, nil
	}
	if err := dc.Validate(); err != nil {
		return stats, err
	}

	extent := geo.ComputeExtent(dc.Globe, dc.Exaggeration(), s.sector)
	if !dc.IsSectorVisible(s.sector) || !dc.Backend.Intersects(extent, dc.View.Frustum) {
		return stats, nil
	}
	stats.Selected = 1

	tex, ok := s.texture()
	if !ok {
		stats.Missing = 1
		return stats, nil
	}

	err := dc.Backend.Draw(render.DrawCall{
		Layer:     s.name,
		Sector:    s.sector,
		Key:       s.key,
		Resource:  tex,
		Transform: render.IdentityTransform,
		Opacity:   s.opacity,
	})
	if err != nil {
		stats.Failed = 1
		logs.Warn(errors.New("drawing surface image failed").
			WithTag("name", s.name).
			Wrap(err))
		return stats, nil
	}
	stats.Drawn = 1
	return stats, nil
}

func (s *SurfaceImage) texture() (*imagery.Texture, bool) {
	if tex, ok := s.textures.Get(s.key); ok {
		return tex, true
	}

	if s.image != nil {
		tex := imagery.NewTexture(s.image)
		if !s.textures.Put(s.key, tex, tex.SizeInBytes()) {
			return nil, false
		}
		return tex, true
	}

	if !s.hasProblem && !s.queue.IsOutstanding(s.key) {
		s.request()
	}
	return nil, false
}

func (s *SurfaceImage) request() {
	u, err := url.Parse(s.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		s.hasProblem = true
		logs.Warn(errors.New("unsupported surface image location").
			WithTag("name", s.name).
			WithTag("url", s.url))
		return
	}

	suffix := strings.ToLower(path.Ext(u.Path))
	if suffix == "" {
		suffix = ".jpg"
	}
	cachePath := "surface/" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.url)).String() + suffix

	s.queue.Request(taskqueue.NewTask(s.key, 0, cachePath, s.url, noExpiry))
}

// Merge picks up the retrieval result of the image. A failed retrieval
// latches the problem flag.
func (s *SurfaceImage) Merge() int {
	if s.queue == nil {
		return 0
	}

	merged := 0
	for _, r := range s.queue.Drain() {
		if r.Task.Key != s.key {
			continue
		}
		if !r.OK() {
			s.hasProblem = true
			logs.Warn(errors.New("loading surface image failed").
				WithTag("name", s.name).
				WithTag("url", s.url).
				Wrap(r.Err))
			continue
		}
		if s.textures.Put(s.key, r.Payload, r.Size) {
			merged++
		}
	}
	return merged
}
