package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

const indexFileName = "cache_index.json"

// FileStore is an on-disk blob store addressed by slash-separated relative
// paths. It keeps an access-time index so that it can stay below a size
// limit and drop files older than its TTL.
type FileStore struct {
	baseDir  string
	maxSize  int64
	currSize int64 // atomic
	ttl      time.Duration

	mu    sync.RWMutex
	index map[string]*FileMetadata

	evictChan chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// FileMetadata stores information about a stored file.
type FileMetadata struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// Handle refers to a stored file found by FindFile.
type Handle struct {
	Path    string
	File    string
	ModTime time.Time
	Size    int64
}

// NewFileStore opens or creates a store rooted at baseDir.
// Layout: baseDir/<path>, index: baseDir/cache_index.json.
func NewFileStore(baseDir string, maxSizeMB int, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.New("creating cache directory failed").
			WithTag("dir", baseDir).
			Wrap(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       ttl,
		index:     make(map[string]*FileMetadata),
		evictChan: make(chan struct{}, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if err := s.loadIndex(); err != nil {
		logs.WithTag("dir", baseDir).
			WithTag("reason", err.Error()).
			Debug("rebuilding file store index")
		if err := s.rebuildIndex(); err != nil {
			cancel()
			return nil, errors.New("initializing file store failed").
				WithTag("dir", baseDir).
				Wrap(err)
		}
	}

	go s.maintenanceWorker(ctx)
	return s, nil
}

// Dir returns the root directory of the store.
func (s *FileStore) Dir() string {
	return s.baseDir
}

func (s *FileStore) filePath(path string) (string, error) {
	p := filepath.FromSlash(path)
	if !filepath.IsLocal(p) {
		return "", errors.New("cache path escapes the store").
			WithTag("path", path)
	}
	return filepath.Join(s.baseDir, p), nil
}

// FindFile looks up a stored file.
func (s *FileStore) FindFile(path string) (Handle, bool) {
	file, err := s.filePath(path)
	if err != nil {
		return Handle{}, false
	}

	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		s.forget(path)
		return Handle{}, false
	}

	now := time.Now()
	s.mu.Lock()
	meta, ok := s.index[path]
	if !ok {
		meta = &FileMetadata{
			Path:       path,
			Size:       info.Size(),
			CreateTime: info.ModTime(),
		}
		s.index[path] = meta
		atomic.AddInt64(&s.currSize, info.Size())
	}
	meta.AccessTime = now
	s.mu.Unlock()

	return Handle{
		Path:    path,
		File:    file,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}, true
}

// ReadFile returns the content of a stored file.
func (s *FileStore) ReadFile(h Handle) ([]byte, error) {
	data, err := os.ReadFile(h.File)
	if err != nil {
		return nil, errors.New("reading cached file failed").
			WithTag("path", h.Path).
			Wrap(err)
	}
	return data, nil
}

// NewFile returns a writer for path. The content becomes visible to
// FindFile only once the writer is closed successfully.
func (s *FileStore) NewFile(path string) (io.WriteCloser, error) {
	file, err := s.filePath(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, errors.New("creating cache subdirectory failed").
			WithTag("path", path).
			Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".*.tmp")
	if err != nil {
		return nil, errors.New("creating cache file failed").
			WithTag("path", path).
			Wrap(err)
	}

	return &pendingFile{
		File:   tmp,
		store:  s,
		path:   path,
		target: file,
	}, nil
}

type pendingFile struct {
	*os.File
	store  *FileStore
	path   string
	target string
	size   int64
}

func (f *pendingFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	f.size += int64(n)
	return n, err
}

func (f *pendingFile) Close() error {
	tmp := f.File.Name()
	if err := f.File.Close(); err != nil {
		os.Remove(tmp)
		return errors.New("closing cache file failed").
			WithTag("path", f.path).
			Wrap(err)
	}

	if err := os.Rename(tmp, f.target); err != nil {
		os.Remove(tmp)
		return errors.New("renaming cache file failed").
			WithTag("path", f.path).
			Wrap(err)
	}

	f.store.record(f.path, f.size)
	return nil
}

func (s *FileStore) record(path string, size int64) {
	now := time.Now()

	s.mu.Lock()
	if old, ok := s.index[path]; ok {
		atomic.AddInt64(&s.currSize, -old.Size)
	}
	s.index[path] = &FileMetadata{
		Path:       path,
		Size:       size,
		AccessTime: now,
		CreateTime: now,
	}
	s.mu.Unlock()

	if atomic.AddInt64(&s.currSize, size) > s.maxSize {
		select {
		case s.evictChan <- struct{}{}:
		default:
		}
	}
}

// RemoveFile deletes a stored file.
func (s *FileStore) RemoveFile(h Handle) error {
	s.forget(h.Path)
	if err := os.Remove(h.File); err != nil && !os.IsNotExist(err) {
		return errors.New("removing cached file failed").
			WithTag("path", h.Path).
			Wrap(err)
	}
	return nil
}

func (s *FileStore) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, ok := s.index[path]; ok {
		delete(s.index, path)
		atomic.AddInt64(&s.currSize, -meta.Size)
	}
}

// IsOutOfDate reports whether a stored file was written before expiry or
// has outlived the store TTL.
func (s *FileStore) IsOutOfDate(h Handle, expiry time.Time) bool {
	if !expiry.IsZero() && h.ModTime.Before(expiry) {
		return true
	}
	return s.ttl > 0 && time.Since(h.ModTime) > s.ttl
}

// maintenanceWorker evicts on demand and drops expired files periodically.
func (s *FileStore) maintenanceWorker(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.evictChan:
			s.evictOldFiles()
		case <-ticker.C:
			s.evictExpiredFiles()
		}
	}
}

// evictOldFiles removes least recently used files until the store is back
// to 80% of its limit.
func (s *FileStore) evictOldFiles() {
	s.mu.Lock()
	defer s.mu.Unlock()

	currSize := atomic.LoadInt64(&s.currSize)
	if currSize <= s.maxSize {
		return
	}
	targetSize := s.maxSize * 8 / 10

	entries := make([]*FileMetadata, 0, len(s.index))
	for _, meta := range s.index {
		entries = append(entries, meta)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	var evicted int
	for _, meta := range entries {
		if currSize <= targetSize {
			break
		}
		if file, err := s.filePath(meta.Path); err == nil {
			os.Remove(file)
		}
		delete(s.index, meta.Path)
		atomic.AddInt64(&s.currSize, -meta.Size)
		currSize -= meta.Size
		evicted++
	}

	logs.WithTag("dir", s.baseDir).
		WithTag("evicted", evicted).
		WithTag("size", currSize).
		Debug("file store trimmed")
}

func (s *FileStore) evictExpiredFiles() {
	if s.ttl <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for path, meta := range s.index {
		if now.Sub(meta.CreateTime) <= s.ttl {
			continue
		}
		if file, err := s.filePath(path); err == nil {
			os.Remove(file)
		}
		delete(s.index, path)
		atomic.AddInt64(&s.currSize, -meta.Size)
	}
}

func (s *FileStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.baseDir, indexFileName))
	if err != nil {
		return errors.New("reading file store index failed").Wrap(err)
	}

	var index map[string]*FileMetadata
	if err := json.Unmarshal(data, &index); err != nil {
		return errors.New("parsing file store index failed").Wrap(err)
	}
	if index == nil {
		index = make(map[string]*FileMetadata)
	}

	var total int64
	for _, meta := range index {
		total += meta.Size
	}

	s.index = index
	atomic.StoreInt64(&s.currSize, total)
	return nil
}

// SaveIndex persists the index next to the stored files.
func (s *FileStore) SaveIndex() error {
	s.mu.RLock()
	data, err := json.Marshal(s.index)
	s.mu.RUnlock()
	if err != nil {
		return errors.New("encoding file store index failed").Wrap(err)
	}

	indexPath := filepath.Join(s.baseDir, indexFileName)
	tmp := indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.New("writing file store index failed").Wrap(err)
	}
	if err := os.Rename(tmp, indexPath); err != nil {
		return errors.New("renaming file store index failed").Wrap(err)
	}
	return nil
}

// rebuildIndex scans the store directory.
func (s *FileStore) rebuildIndex() error {
	index := make(map[string]*FileMetadata)
	var total int64

	err := filepath.WalkDir(s.baseDir, func(file string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == indexFileName || strings.HasSuffix(name, ".tmp") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, file)
		if err != nil {
			return nil
		}

		path := filepath.ToSlash(rel)
		index[path] = &FileMetadata{
			Path:       path,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return errors.New("scanning cache directory failed").Wrap(err)
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	atomic.StoreInt64(&s.currSize, total)
	return nil
}

// Stats returns the number of files, their total size and the size limit.
func (s *FileStore) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index), atomic.LoadInt64(&s.currSize), s.maxSize
}

// Clear removes every stored file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	for path := range s.index {
		if file, err := s.filePath(path); err == nil {
			os.Remove(file)
		}
	}
	s.index = make(map[string]*FileMetadata)
	s.mu.Unlock()

	atomic.StoreInt64(&s.currSize, 0)
	return s.SaveIndex()
}

// Close stops background maintenance and saves the index.
func (s *FileStore) Close() error {
	s.cancel()
	<-s.done
	return s.SaveIndex()
}
