package taskqueue

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"globe-tiles/internal/fetch"
	"globe-tiles/internal/imagery"
)

const (
	ErrTypeCorrupt     = "retrieval_corrupt_file"
	ErrTypeContentType = "retrieval_content_type"
	ErrTypeNoLocation  = "retrieval_no_location"
)

// resolve reads a task payload from the disk cache, or fetches, persists
// and decodes it.
func (q *Queue[P]) resolve(ctx context.Context, t Task) Result[P] {
	start := time.Now()

	if r, ok := q.resolveLocal(t); ok {
		instrumentTask(q.name, SourceDisk, start, r.Err)
		return r
	}

	r := q.resolveRemote(ctx, t)
	instrumentTask(q.name, SourceRemote, start, r.Err)
	return r
}

func (q *Queue[P]) resolveLocal(t Task) (Result[P], bool) {
	base := imagery.TrimSuffix(t.Path)
	if base == "" {
		return Result[P]{}, false
	}

	for _, suffix := range q.probeSuffixes(t.Path) {
		h, ok := q.store.FindFile(base + suffix)
		if !ok {
			continue
		}

		if q.store.IsOutOfDate(h, t.Expiry) {
			if err := q.store.RemoveFile(h); err != nil {
				logs.Warn(err)
			}
			logs.WithTag("queue", q.name).
				WithTag("path", h.Path).
				Debug("cached file expired")
			return Result[P]{}, false
		}

		data, err := q.store.ReadFile(h)
		if err == nil {
			var payload P
			var size int64
			if payload, size, err = q.decode(data); err == nil {
				q.unmarkAbsent(t)
				return Result[P]{Task: t, Payload: payload, Size: size, Source: SourceDisk}, true
			}
		}

		if rmErr := q.store.RemoveFile(h); rmErr != nil {
			logs.Warn(rmErr)
		}
		err = errors.New("deleted corrupt cached file").
			WithType(ErrTypeCorrupt).
			WithTag("path", h.Path).
			Wrap(err)
		q.markAbsent(t, err)
		return Result[P]{Task: t, Source: SourceDisk, Err: err}, true
	}

	return Result[P]{}, false
}

func (q *Queue[P]) resolveRemote(ctx context.Context, t Task) Result[P] {
	fail := func(err error) Result[P] {
		// A rate limited host says nothing about the resource itself.
		if ctx.Err() == nil && !errors.IsType(err, fetch.ErrTypeLimited) {
			q.markAbsent(t, err)
		}
		return Result[P]{Task: t, Source: SourceRemote, Err: err}
	}

	if t.URL == "" {
		return fail(errors.New("resource has no remote location").
			WithType(ErrTypeNoLocation).
			WithTag("key", t.Key.String()))
	}

	res, err := q.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		return fail(err)
	}

	suffix, ok := q.suffixFor(res.ContentType)
	if !ok {
		return fail(errors.New("unsupported content type").
			WithType(ErrTypeContentType).
			WithTag("url", t.URL).
			WithTag("content_type", res.ContentType))
	}

	path := ""
	if base := imagery.TrimSuffix(t.Path); base != "" {
		path = base + suffix
		if err := q.persist(path, res.Body); err != nil {
			logs.Warn(err)
			path = ""
		}
	}

	payload, size, err := q.decode(res.Body)
	if err != nil {
		if path != "" {
			if h, ok := q.store.FindFile(path); ok {
				if rmErr := q.store.RemoveFile(h); rmErr != nil {
					logs.Warn(rmErr)
				}
			}
		}
		return fail(err)
	}

	q.unmarkAbsent(t)
	return Result[P]{Task: t, Payload: payload, Size: size, Source: SourceRemote}
}

func (q *Queue[P]) persist(path string, data []byte) error {
	w, err := q.store.NewFile(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.New("writing cached file failed").
			WithTag("path", path).
			Wrap(err)
	}
	return w.Close()
}

// probeSuffixes returns the suffix of path followed by the configured
// suffixes, without duplicates.
func (q *Queue[P]) probeSuffixes(path string) []string {
	own := path[len(imagery.TrimSuffix(path)):]
	suffixes := make([]string, 0, len(q.suffixes)+1)
	if own != "" {
		suffixes = append(suffixes, own)
	}
	for _, s := range q.suffixes {
		if s != own {
			suffixes = append(suffixes, s)
		}
	}
	return suffixes
}

func (q *Queue[P]) markAbsent(t Task, reason error) {
	if q.absent == nil || !t.Key.IsTile() {
		return
	}
	q.absent.MarkResourceAbsent(t.Key.Address)

	logs.WithTag("queue", q.name).
		WithTag("key", t.Key.String()).
		Info(errors.New("resource marked absent").Wrap(reason))
}

func (q *Queue[P]) unmarkAbsent(t Task) {
	if q.absent == nil || !t.Key.IsTile() {
		return
	}
	q.absent.UnmarkResourceAbsent(t.Key.Address)
}
