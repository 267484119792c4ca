package main

import (
	"context"
	"math"
	"net/http"
	"os"
	"path/filepath"
	goruntime "runtime"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"globe-tiles/internal/config"
	"globe-tiles/internal/engine"
	"globe-tiles/internal/geo"
	"globe-tiles/internal/tileserver"
)

const (
	startAltitude = 2e7
	endAltitude   = 2e3

	fieldOfView = 45
	aspectRatio = 16.0 / 9.0

	exportSize     = 1024
	exportHalfSpan = 0.5

	tileServerCacheBytes = 64 << 20
)

// App drives the engine with a simulated camera.
type App struct {
	conf     options
	settings *config.Settings
	engine   *engine.Engine
	server   *tileserver.Server

	phClient   posthog.Client
	distinctID string

	totals sessionTotals
}

type sessionTotals struct {
	frames    int
	drawn     int
	fallbacks int
	missing   int
	merged    int
}

// NewApp starts the local tile server when a serve directory is given,
// then the engine.
func NewApp(ctx context.Context, conf options, settings *config.Settings) (*App, error) {
	a := &App{
		conf:       conf,
		settings:   settings,
		distinctID: uuid.NewString(),
	}

	if conf.ServeDir != "" {
		if err := a.startTileServer(); err != nil {
			return nil, err
		}
	}

	if conf.PosthogKey != "" {
		client, err := posthog.NewWithConfig(conf.PosthogKey, posthog.Config{
			Endpoint: postHogHost,
		})
		if err != nil {
			logs.Warn(errors.New("initializing posthog failed").Wrap(err))
		} else {
			a.phClient = client
		}
	}

	e, err := engine.New(ctx, engine.Options{
		Settings:  settings,
		Transport: metrics.HTTPTransport(http.DefaultTransport),
	})
	if err != nil {
		a.Shutdown()
		return nil, err
	}
	a.engine = e

	a.TrackEvent("engine_started", map[string]interface{}{
		"version":  version,
		"os":       goruntime.GOOS,
		"arch":     goruntime.GOARCH,
		"datasets": len(settings.Datasets),
		"terrain":  settings.Elevation != nil,
	})
	return a, nil
}

func (a *App) startTileServer() error {
	srv, err := tileserver.NewServer(a.conf.ServeDir, tileServerCacheBytes)
	if err != nil {
		return err
	}
	if err := srv.Start(a.conf.ServeAddr); err != nil {
		return err
	}
	a.server = srv

	for i := range a.settings.Datasets {
		a.settings.Datasets[i].URLTemplate = srv.URLTemplate(a.settings.Datasets[i].Name)
	}
	if a.settings.Elevation != nil {
		a.settings.Elevation.URLTemplate = srv.URLTemplate(a.settings.Elevation.Name)
	}
	return nil
}

// Run renders the configured number of frames while the camera descends
// towards the target, then writes the optional export.
func (a *App) Run(ctx context.Context) error {
	globe := a.engine.Globe()

	ticker := time.NewTicker(a.conf.FrameInterval)
	defer ticker.Stop()

	for i := 0; i < a.conf.Frames; i++ {
		altitude := descentAltitude(i, a.conf.Frames)
		view := geo.LookDown(globe, a.conf.TargetLat, a.conf.TargetLon, altitude, fieldOfView, aspectRatio)

		stats, err := a.engine.Frame(ctx, view)
		if err != nil {
			return err
		}
		a.record(stats)

		visible := "none"
		if stats.VisibleSector != nil {
			visible = stats.VisibleSector.String()
		}
		logs.WithTag("frame", stats.Number).
			WithTag("altitude", math.Round(altitude)).
			WithTag("terrain_tiles", stats.TerrainTiles).
			WithTag("drawn", stats.Drawn()).
			WithTag("fallbacks", stats.Fallbacks()).
			WithTag("missing", stats.Missing()).
			WithTag("merged", stats.Merged).
			WithTag("visible_sector", visible).
			WithTag("duration", stats.Duration).
			Info("camera frame")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if a.conf.Export != "" {
		if err := a.export(ctx); err != nil {
			return err
		}
	}

	a.TrackEvent("session_summary", map[string]interface{}{
		"frames":    a.totals.frames,
		"drawn":     a.totals.drawn,
		"fallbacks": a.totals.fallbacks,
		"missing":   a.totals.missing,
		"merged":    a.totals.merged,
	})
	return nil
}

func (a *App) record(s engine.FrameStats) {
	a.totals.frames++
	a.totals.drawn += s.Drawn()
	a.totals.fallbacks += s.Fallbacks()
	a.totals.missing += s.Missing()
	a.totals.merged += s.Merged
}

func (a *App) export(ctx context.Context) error {
	if len(a.settings.Datasets) == 0 {
		return errors.New("no dataset to export")
	}
	dataset := a.settings.Datasets[0].Name
	sector := exportSector(a.conf.TargetLat, a.conf.TargetLon)

	if err := os.MkdirAll(filepath.Dir(a.conf.Export), 0755); err != nil {
		return errors.New("creating export directory failed").
			WithTag("path", a.conf.Export).
			Wrap(err)
	}

	f, err := os.Create(a.conf.Export)
	if err != nil {
		return errors.New("creating export file failed").
			WithTag("path", a.conf.Export).
			Wrap(err)
	}
	defer f.Close()

	if err := a.engine.ExportGeoTIFF(ctx, f, dataset, sector, exportSize, -1); err != nil {
		return err
	}

	a.TrackEvent("geotiff_exported", map[string]interface{}{
		"dataset": dataset,
		"size":    exportSize,
	})
	return f.Close()
}

// Shutdown stops the engine, the tile server and the telemetry client.
func (a *App) Shutdown() {
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			logs.Warn(errors.New("closing engine failed").Wrap(err))
		}
		a.engine = nil
	}

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Close(ctx); err != nil {
			logs.Warn(errors.New("closing tile server failed").Wrap(err))
		}
		a.server = nil
	}

	if a.phClient != nil {
		a.phClient.Close()
		a.phClient = nil
	}
}

// TrackEvent sends an event to PostHog.
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient == nil {
		return
	}
	a.phClient.Enqueue(posthog.Capture{
		DistinctId: a.distinctID,
		Event:      event,
		Properties: props,
	})
}

// descentAltitude returns the camera altitude of frame i out of n. The
// altitude decreases geometrically from startAltitude to endAltitude.
func descentAltitude(i, n int) float64 {
	if n <= 1 {
		return startAltitude
	}
	t := float64(i) / float64(n-1)
	return startAltitude * math.Pow(endAltitude/startAltitude, t)
}

func exportSector(lat, lon float64) geo.Sector {
	return geo.NewSector(
		max(-90, lat-exportHalfSpan),
		min(90, lat+exportHalfSpan),
		max(-180, lon-exportHalfSpan),
		min(180, lon+exportHalfSpan),
	)
}
