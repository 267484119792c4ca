package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"globe-tiles/internal/config"
)

var (
	// The version number. Set at build.
	version = "v0.1.0"

	// PostHog host. The key is given on the command line.
	postHogHost = "https://eu.i.posthog.com"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "globe_tiles_info",
		Help:        "Globe tiles information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

type options struct {
	Settings      string        `cli:""        env:"GLOBE_TILES_SETTINGS"       help:"Settings JSON file path."`
	LogLevel      string        `cli:""        env:"GLOBE_TILES_LOG_LEVEL"      help:"Log level (debug|info|warning|error)."`
	LogIndent     bool          `cli:""        env:"GLOBE_TILES_LOG_INDENT"     help:"Indent logs."`
	MetricsAddr   string        `cli:""        env:"GLOBE_TILES_METRICS_ADDR"   help:"Listening address of the metrics endpoint. Empty disables it."`
	Frames        int           `cli:""        env:"GLOBE_TILES_FRAMES"         help:"Number of simulated frames."`
	FrameInterval time.Duration `cli:",hidden" env:"GLOBE_TILES_FRAME_INTERVAL" help:"Duration between simulated frames."`
	TargetLat     float64       `cli:""        env:"GLOBE_TILES_TARGET_LAT"     help:"Latitude the camera descends to."`
	TargetLon     float64       `cli:""        env:"GLOBE_TILES_TARGET_LON"     help:"Longitude the camera descends to."`
	ServeDir      string        `cli:""        env:"GLOBE_TILES_SERVE_DIR"      help:"Serve tiles from this directory and point the datasets at it."`
	ServeAddr     string        `cli:",hidden" env:"GLOBE_TILES_SERVE_ADDR"     help:"Listening address of the local tile server."`
	Export        string        `cli:""        env:"GLOBE_TILES_EXPORT"         help:"Write a GeoTIFF of the area under the camera to this path after the last frame."`
	PosthogKey    string        `cli:""        env:"GLOBE_TILES_POSTHOG_KEY"    help:"PostHog API key. Empty disables usage telemetry."`
	Version       bool          `cli:""        env:"-"                          help:"Show version."`
	Help          bool          `cli:""        env:"-"                          help:"Show help."`
}

func main() {
	conf := options{
		LogLevel:      logs.InfoLevel.String(),
		MetricsAddr:   ":9090",
		Frames:        120,
		FrameInterval: time.Millisecond * 50,
		TargetLat:     46.2044,
		TargetLon:     6.1432,
		ServeAddr:     "127.0.0.1:8090",
	}

	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Streams imagery and terrain tiles for a simulated camera descending towards a target.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}
	errors.Encoder = json.Marshal

	if err := validateOptions(conf); err != nil {
		logs.Fatal(err)
	}

	settings, err := config.LoadSettings(conf.Settings)
	if err != nil {
		logs.Fatal(errors.New("loading settings failed").Wrap(err))
	}

	if conf.MetricsAddr != "" {
		go serveMetrics(conf.MetricsAddr)
	}

	app, err := NewApp(ctx, conf, settings)
	if err != nil {
		logs.Fatal(errors.New("starting engine failed").Wrap(err))
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil && err != context.Canceled {
		logs.Warn(errors.New("frame loop failed").Wrap(err))
	}
}

func validateOptions(conf options) error {
	if conf.Frames < 0 {
		return errors.New("frames must not be negative").
			WithTag("frames", conf.Frames)
	}
	if conf.FrameInterval <= 0 {
		return errors.New("frame interval must be positive").
			WithTag("frame_interval", conf.FrameInterval)
	}
	if conf.TargetLat < -90 || conf.TargetLat > 90 || conf.TargetLon < -180 || conf.TargetLon > 180 {
		return errors.New("target is out of range").
			WithTag("lat", conf.TargetLat).
			WithTag("lon", conf.TargetLon)
	}
	return nil
}

func serveMetrics(addr string) {
	var mux http.ServeMux
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           &mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logs.WithTag("addr", addr).Info("serving metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logs.Warn(errors.New("serving metrics failed").Wrap(err))
	}
}
