package tileserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/imagery"
	"globe-tiles/internal/tile"
)

// Server serves tiles stored in a directory tree laid out like the disk
// cache: <dir>/<dataset>/<level>/<row>/<row>_<column><suffix>.
type Server struct {
	dir string

	// mu guards tiles, which requests share across goroutines.
	mu     sync.Mutex
	tiles  *cache.ResourceCache[string, []byte]
	server *http.Server
	url    string
}

// NewServer creates a server over dir keeping up to cacheBytes of tiles in
// memory.
func NewServer(dir string, cacheBytes int64) (*Server, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.New("tile directory is not readable").
			WithTag("dir", dir).
			Wrap(err)
	}
	if !info.IsDir() {
		return nil, errors.New("tile directory is not a directory").
			WithTag("dir", dir)
	}

	tiles, err := cache.NewResourceCache[string, []byte]("tileserver", cacheBytes)
	if err != nil {
		return nil, err
	}
	return &Server{dir: dir, tiles: tiles}, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tiles/{dataset}/{level}/{row}/{column}", s.handleTile)
	return corsMiddleware(accessLogMiddleware(mux))
}

// Start listens on addr and serves in the background. An empty addr picks a
// random local port.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New("starting tile server failed").
			WithTag("addr", addr).
			Wrap(err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("http://127.0.0.1:%d", port)
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logs.Warn(errors.New("tile server stopped").Wrap(err))
		}
	}()

	logs.WithTag("url", s.url).
		WithTag("dir", s.dir).
		Info("tile server started")
	return nil
}

// URL returns the base URL of a started server.
func (s *Server) URL() string {
	return s.url
}

// URLTemplate returns the tile URL template of a dataset served by a
// started server.
func (s *Server) URLTemplate(dataset string) string {
	return s.url + "/tiles/" + dataset + "/{level}/{row}/{column}"
}

// Close gracefully stops a started server.
func (s *Server) Close(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleTile serves /tiles/{dataset}/{level}/{row}/{column}[.suffix]. A
// tile without a file is answered with 204 No Content.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	dataset := r.PathValue("dataset")
	if dataset == "" || dataset == "." || dataset == ".." || strings.ContainsAny(dataset, `/\`) {
		http.Error(w, "Invalid dataset", http.StatusBadRequest)
		return
	}

	column := r.PathValue("column")
	suffix := column[len(imagery.TrimSuffix(column)):]

	a, err := parseAddress(r.PathValue("level"), r.PathValue("row"), imagery.TrimSuffix(column))
	if err != nil {
		http.Error(w, "Invalid tile address. Expected: /tiles/{dataset}/{level}/{row}/{column}", http.StatusBadRequest)
		return
	}

	base := (&tile.Level{Dataset: dataset}).Path(a)
	for _, sfx := range probeOrder(suffix) {
		key := base + sfx

		status := "HIT"
		data, ok := s.cached(key)
		if !ok {
			data, err = os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(key)))
			if err != nil {
				continue
			}
			s.store(key, data)
			status = "MISS"
		}

		w.Header().Set("Content-Type", imagery.ContentTypeForSuffix(sfx))
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("X-Cache-Status", status)
		w.Write(data)
		instrumentTile(status)
		return
	}

	instrumentTile("NONE")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cached(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiles.Get(key)
}

func (s *Server) store(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles.Put(key, data, int64(len(data)))
}

func parseAddress(level, row, column string) (tile.Address, error) {
	var a tile.Address
	var err error
	if a.Level, err = strconv.Atoi(level); err != nil {
		return a, err
	}
	if a.Row, err = strconv.Atoi(row); err != nil {
		return a, err
	}
	if a.Column, err = strconv.Atoi(column); err != nil {
		return a, err
	}
	if a.Level < 0 || a.Row < 0 || a.Column < 0 {
		return a, errors.New("negative tile address")
	}
	return a, nil
}

// probeOrder returns the requested suffix followed by the known suffixes.
func probeOrder(requested string) []string {
	order := make([]string, 0, len(imagery.ProbeSuffixes)+1)
	if requested != "" {
		order = append(order, strings.ToLower(requested))
	}
	for _, sfx := range imagery.ProbeSuffixes {
		if sfx != strings.ToLower(requested) {
			order = append(order, sfx)
		}
	}
	return order
}

// corsMiddleware lets browser based viewers load tiles from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		w.Header().Set("Access-Control-Expose-Headers", "X-Cache-Status")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logs.WithTag("method", r.Method).
			WithTag("path", r.URL.Path).
			WithTag("status", rec.status).
			WithTag("cache", w.Header().Get("X-Cache-Status")).
			WithTag("duration", time.Since(start)).
			Debug("tile request")
	})
}
