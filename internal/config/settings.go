package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/tile"
)

const ErrTypeInvalid = "settings_invalid"

// Dataset describes a tiled pyramid served from a URL template.
type Dataset struct {
	Name         string `json:"name"`
	URLTemplate  string `json:"urlTemplate"`
	FormatSuffix string `json:"formatSuffix,omitempty"`

	// LevelZeroDelta is the tile size of level 0 in degrees.
	LevelZeroDelta float64 `json:"levelZeroDelta"`
	NumLevels      int     `json:"numLevels"`

	// Sector defaults to the whole globe.
	Sector      *geo.Sector `json:"sector,omitempty"`
	EmptyLevels []int       `json:"emptyLevels,omitempty"`

	// ExpiryTime invalidates cached files written before it.
	ExpiryTime *time.Time `json:"expiryTime,omitempty"`

	Opacity  float64 `json:"opacity,omitempty"`
	Disabled bool    `json:"disabled,omitempty"`
}

// LevelSetParams converts the dataset to level set parameters.
func (d Dataset) LevelSetParams() tile.LevelSetParams {
	sector := geo.FullSphere
	if d.Sector != nil {
		sector = *d.Sector
	}
	var expiry time.Time
	if d.ExpiryTime != nil {
		expiry = *d.ExpiryTime
	}

	return tile.LevelSetParams{
		Dataset:        d.Name,
		Sector:         sector,
		LevelZeroDelta: geo.LatLon{Lat: d.LevelZeroDelta, Lon: d.LevelZeroDelta},
		NumLevels:      d.NumLevels,
		URLTemplate:    d.URLTemplate,
		FormatSuffix:   d.FormatSuffix,
		ExpiryTime:     expiry,
		EmptyLevels:    d.EmptyLevels,
	}
}

// SurfaceImage is a single remote image draped over a sector.
type SurfaceImage struct {
	Name    string     `json:"name"`
	URL     string     `json:"url"`
	Sector  geo.Sector `json:"sector"`
	Opacity float64    `json:"opacity,omitempty"`
}

// Settings represents persistent engine settings.
type Settings struct {
	Cache *cache.Config `json:"cache"`

	// Retrieval
	Workers              int    `json:"workers"`
	QueueCapacity        int    `json:"queueCapacity"`
	MaxConcurrentFetches int    `json:"maxConcurrentFetches"`
	FetchTimeoutSeconds  int    `json:"fetchTimeoutSeconds"`
	UserAgent            string `json:"userAgent,omitempty"`

	// Level of detail
	SplitScale           float64 `json:"splitScale"`
	TerrainDensity       int     `json:"terrainDensity"`
	TerrainMaxLevel      int     `json:"terrainMaxLevel"`
	VerticalExaggeration float64 `json:"verticalExaggeration"`
	ForceLevelZeroLoads  bool    `json:"forceLevelZeroLoads"`
	AccurateSplitTest    bool    `json:"accurateSplitTest"`
	DrawTileIDs          bool    `json:"drawTileIDs"`

	Datasets      []Dataset      `json:"datasets"`
	SurfaceImages []SurfaceImage `json:"surfaceImages,omitempty"`

	// Elevation is an optional pyramid of Terrarium encoded tiles.
	Elevation *Dataset `json:"elevation,omitempty"`
}

// DefaultSettings returns default engine settings.
func DefaultSettings() *Settings {
	return &Settings{
		Cache:                cache.DefaultConfig(),
		Workers:              4,
		QueueCapacity:        64,
		MaxConcurrentFetches: 8,
		FetchTimeoutSeconds:  30,
		SplitScale:           0.9,
		TerrainDensity:       24,
		TerrainMaxLevel:      12,
		VerticalExaggeration: 1,
		ForceLevelZeroLoads:  true,
		Datasets: []Dataset{
			{
				Name:           "earth",
				URLTemplate:    "http://127.0.0.1:8090/tiles/earth/{level}/{row}/{column}",
				FormatSuffix:   ".jpg",
				LevelZeroDelta: 36,
				NumLevels:      8,
				Opacity:        1,
			},
		},
	}
}

// GetSettingsPath returns the OS-specific settings file path.
func GetSettingsPath() string {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		baseDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(baseDir, "globe-tiles", "settings.json")
}

// LoadSettings loads settings from path, or from the default location when
// path is empty. A missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = GetSettingsPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, errors.New("reading settings file failed").
			WithTag("path", path).
			Wrap(err)
	}

	// Fields missing from the file keep their default value. Datasets are
	// decoded into an empty list so file entries never overlay the defaults.
	settings := DefaultSettings()
	settings.Datasets = nil
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, errors.New("parsing settings failed").
			WithType(ErrTypeInvalid).
			WithTag("path", path).
			Wrap(err)
	}

	if settings.Datasets == nil {
		settings.Datasets = DefaultSettings().Datasets
	}

	settings.mergeDefaults()
	return settings, nil
}

// mergeDefaults replaces zero values with their default.
func (s *Settings) mergeDefaults() {
	defaults := DefaultSettings()

	if s.Cache == nil {
		s.Cache = defaults.Cache
	} else {
		merged := *defaults.Cache
		merged.Merge(s.Cache)
		s.Cache = &merged
	}
	if s.Workers == 0 {
		s.Workers = defaults.Workers
	}
	if s.QueueCapacity == 0 {
		s.QueueCapacity = defaults.QueueCapacity
	}
	if s.MaxConcurrentFetches == 0 {
		s.MaxConcurrentFetches = defaults.MaxConcurrentFetches
	}
	if s.FetchTimeoutSeconds == 0 {
		s.FetchTimeoutSeconds = defaults.FetchTimeoutSeconds
	}
	if s.SplitScale == 0 {
		s.SplitScale = defaults.SplitScale
	}
	if s.TerrainDensity == 0 {
		s.TerrainDensity = defaults.TerrainDensity
	}
	if s.TerrainMaxLevel == 0 {
		s.TerrainMaxLevel = defaults.TerrainMaxLevel
	}
	if s.VerticalExaggeration == 0 {
		s.VerticalExaggeration = defaults.VerticalExaggeration
	}

	for i := range s.Datasets {
		if s.Datasets[i].Opacity == 0 {
			s.Datasets[i].Opacity = 1
		}
	}
	for i := range s.SurfaceImages {
		if s.SurfaceImages[i].Opacity == 0 {
			s.SurfaceImages[i].Opacity = 1
		}
	}
	if s.Elevation != nil && s.Elevation.FormatSuffix == "" {
		s.Elevation.FormatSuffix = ".png"
	}
}

// SaveSettings writes settings to path, or to the default location when
// path is empty.
func SaveSettings(path string, settings *Settings) error {
	if path == "" {
		path = GetSettingsPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.New("creating settings directory failed").
			WithTag("path", path).
			Wrap(err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return errors.New("encoding settings failed").Wrap(err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("writing settings file failed").
			WithTag("path", path).
			Wrap(err)
	}
	return nil
}

// Validate checks the settings before an engine is built from them.
func (s *Settings) Validate() error {
	if s.Cache == nil {
		return errors.New("cache settings are missing").WithType(ErrTypeInvalid)
	}
	if s.Cache.TextureMB <= 0 || s.Cache.GeometryMB <= 0 {
		return errors.New("memory cache sizes must be positive").WithType(ErrTypeInvalid).
			WithTag("texture_mb", s.Cache.TextureMB).
			WithTag("geometry_mb", s.Cache.GeometryMB)
	}
	if s.Workers <= 0 || s.QueueCapacity <= 0 || s.MaxConcurrentFetches <= 0 {
		return errors.New("retrieval settings must be positive").WithType(ErrTypeInvalid).
			WithTag("workers", s.Workers).
			WithTag("queue_capacity", s.QueueCapacity).
			WithTag("max_concurrent_fetches", s.MaxConcurrentFetches)
	}
	if s.SplitScale <= 0 {
		return errors.New("split scale must be positive").WithType(ErrTypeInvalid).WithTag("split_scale", s.SplitScale)
	}
	if s.TerrainDensity <= 0 || s.TerrainMaxLevel <= 0 || s.TerrainMaxLevel >= tile.MaxLevels {
		return errors.New("terrain settings are out of range").WithType(ErrTypeInvalid).
			WithTag("density", s.TerrainDensity).
			WithTag("max_level", s.TerrainMaxLevel)
	}

	names := make(map[string]struct{}, len(s.Datasets))
	for _, d := range s.Datasets {
		if err := d.validate(); err != nil {
			return err
		}
		if _, ok := names[d.Name]; ok {
			return errors.New("duplicate dataset name").WithType(ErrTypeInvalid).WithTag("dataset", d.Name)
		}
		names[d.Name] = struct{}{}
	}

	for _, img := range s.SurfaceImages {
		if img.URL == "" || !img.Sector.IsValid() {
			return errors.New("surface image needs a url and a valid sector").WithType(ErrTypeInvalid).
				WithTag("name", img.Name).
				WithTag("sector", img.Sector.String())
		}
	}

	if s.Elevation != nil {
		if err := s.Elevation.validate(); err != nil {
			return errors.New("invalid elevation dataset").
				WithType(ErrTypeInvalid).
				Wrap(err)
		}
	}
	return nil
}

func (d Dataset) validate() error {
	switch {
	case d.Name == "":
		return errors.New("dataset name is required").WithType(ErrTypeInvalid)
	case d.URLTemplate == "":
		return errors.New("dataset url template is required").WithType(ErrTypeInvalid)
	case d.LevelZeroDelta <= 0 || d.LevelZeroDelta > 180:
		return errors.New("dataset level zero delta is out of range").WithType(ErrTypeInvalid).
			WithTag("level_zero_delta", d.LevelZeroDelta)
	case d.NumLevels <= 0 || d.NumLevels > tile.MaxLevels:
		return errors.New("dataset level count is out of range").WithType(ErrTypeInvalid).
			WithTag("levels", d.NumLevels).
			WithTag("max_levels", tile.MaxLevels)
	case d.Opacity < 0 || d.Opacity > 1:
		return errors.New("dataset opacity must be within [0, 1]").WithType(ErrTypeInvalid).
			WithTag("opacity", d.Opacity)
	case d.Sector != nil && !d.Sector.IsValid():
		return errors.New("dataset sector is invalid").WithType(ErrTypeInvalid).
			WithTag("sector", d.Sector.String())
	}
	return nil
}
