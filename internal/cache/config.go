package cache

import (
	"os"
	"path/filepath"
	goruntime "runtime"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// Config represents cache configuration.
type Config struct {
	Dir        string `json:"dir,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	TTLDays    int    `json:"ttlDays"`
	TextureMB  int    `json:"textureMB"`
	GeometryMB int    `json:"geometryMB"`
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Dir:        GetCacheDir(),
		MaxSizeMB:  250,
		TTLDays:    30,
		TextureMB:  64,
		GeometryMB: 20,
	}
}

// TTL returns the disk cache time to live.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// TextureBytes returns the texture cache capacity in bytes.
func (c *Config) TextureBytes() int64 {
	return int64(c.TextureMB) * 1024 * 1024
}

// GeometryBytes returns the geometry cache capacity in bytes.
func (c *Config) GeometryBytes() int64 {
	return int64(c.GeometryMB) * 1024 * 1024
}

// LoadConfig reads the "cache" section of a JSON file and merges it over the
// defaults. A missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, errors.New("reading cache config failed").
			WithTag("path", configPath).
			Wrap(err)
	}

	var fileConfig struct {
		Cache *Config `json:"cache"`
	}
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return config, errors.New("parsing cache config failed").
			WithTag("path", configPath).
			Wrap(err)
	}

	config.Merge(fileConfig.Cache)
	return config, nil
}

// Merge overrides the fields of c that are set in o.
func (c *Config) Merge(o *Config) {
	if o == nil {
		return
	}
	if o.Dir != "" {
		c.Dir = o.Dir
	}
	if o.MaxSizeMB > 0 {
		c.MaxSizeMB = o.MaxSizeMB
	}
	if o.TTLDays > 0 {
		c.TTLDays = o.TTLDays
	}
	if o.TextureMB > 0 {
		c.TextureMB = o.TextureMB
	}
	if o.GeometryMB > 0 {
		c.GeometryMB = o.GeometryMB
	}
}

// GetCacheDir returns the OS-specific cache directory.
func GetCacheDir() string {
	homeDir, _ := os.UserHomeDir()

	switch goruntime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Caches", "globe-tiles")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(appData, "globe-tiles", "cache")
	default:
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		return filepath.Join(cacheHome, "globe-tiles")
	}
}
