// Package poster resolves movie posters at two resolutions through a local cache, and renders
// them progressively into targets: a cached thumbnail first, then the full resolution image.
package poster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"sync/atomic"

	"github.com/ogero/mmdb/internal/cache"
	"github.com/ogero/mmdb/internal/common"
	"github.com/ogero/mmdb/internal/dispatch"
	"github.com/ogero/mmdb/pkg/tmdb"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Resolution is one of the two poster qualities.
type Resolution int

const (
	// Thumbnail is the low resolution poster, used as a placeholder.
	Thumbnail Resolution = iota
	// Full is the high resolution poster.
	Full
)

// String returns the resolution tag.
func (r Resolution) String() string {
	if r == Full {
		return "full"
	}
	return "thumbnail"
}

// Size returns the remote size segment of the resolution.
func (r Resolution) Size() string {
	if r == Full {
		return "w154"
	}
	return "w92"
}

// ParseSize maps a remote size segment back to its Resolution.
func ParseSize(size string) (Resolution, error) {
	switch size {
	case "w92":
		return Thumbnail, nil
	case "w154":
		return Full, nil
	}
	return 0, common.ErrInvalidPosterSize
}

// ParseResolution maps a resolution tag back to its Resolution.
func ParseResolution(tag string) (Resolution, error) {
	switch tag {
	case "thumbnail":
		return Thumbnail, nil
	case "full":
		return Full, nil
	}
	return 0, common.ErrInvalidResolution
}

// Outcome is the terminal state of resolving one poster resolution.
type Outcome int

const (
	// Failed means no image is available.
	Failed Outcome = iota
	// CacheHit means the image was served from the cache, without a network call.
	CacheHit
	// Downloaded means the image was downloaded and stored in the cache.
	Downloaded
)

func (o Outcome) String() string {
	switch o {
	case CacheHit:
		return "hit"
	case Downloaded:
		return "downloaded"
	default:
		return "failed"
	}
}

// Image is a resolved poster.
type Image struct {
	Data        []byte
	PosterPath  string
	Key         string
	Resolution  Resolution
	ContentType string
	Width       int
	Height      int
}

const prefetchConcurrency = 8

// ErrNoPoster is returned when resolving an empty poster path.
var ErrNoPoster = errors.New("movie has no poster")

// Key returns the cache key of a poster path at a resolution.
func Key(posterPath string, res Resolution) string {
	return fmt.Sprintf("poster.%s : %s", res.Size(), posterPath)
}

// Fetcher downloads poster bytes.
type Fetcher interface {
	GetPoster(ctx context.Context, size string, posterPath string) ([]byte, error)
}

var _ Fetcher = tmdb.TMDB(nil)

// Loader resolves posters through a cache and renders them into targets.
type Loader struct {
	fetcher    Fetcher
	store      cache.Store
	dispatcher dispatch.Dispatcher

	downloads singleflight.Group
}

// NewLoader creates a Loader. Render callbacks run through dispatcher.
func NewLoader(fetcher Fetcher, store cache.Store, dispatcher dispatch.Dispatcher) *Loader {
	return &Loader{
		fetcher:    fetcher,
		store:      store,
		dispatcher: dispatcher,
	}
}

// Cached returns the poster at res if the cache holds it. It never downloads.
func (l *Loader) Cached(ctx context.Context, posterPath string, res Resolution) (*Image, bool) {
	if posterPath == "" {
		return nil, false
	}

	key := Key(posterPath, res)
	data, ok, err := l.store.Get(ctx, key)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to cache.Store.Get", "key", key, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	img, err := decode(data, posterPath, res)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to decode cached poster", "key", key, "err", err)
		return nil, false
	}

	return img, true
}

// Resolve returns the poster at res, from the cache or downloading and caching it.
// Concurrent downloads of the same poster and resolution are shared.
func (l *Loader) Resolve(ctx context.Context, posterPath string, res Resolution) (*Image, Outcome, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "poster.Loader.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("poster.path", posterPath), attribute.String("poster.resolution", res.String()))

	if posterPath == "" {
		return nil, Failed, ErrNoPoster
	}

	if img, ok := l.Cached(ctx, posterPath, res); ok {
		span.SetAttributes(attribute.String("poster.outcome", CacheHit.String()))
		return img, CacheHit, nil
	}

	key := Key(posterPath, res)
	v, err, _ := l.downloads.Do(key, func() (interface{}, error) {
		// The download is shared, so it must not depend on the first caller staying around.
		data, err := l.fetcher.GetPoster(context.WithoutCancel(ctx), res.Size(), posterPath)
		if err != nil {
			return nil, fmt.Errorf("failed to poster.Fetcher.GetPoster: %w", err)
		}

		img, err := decode(data, posterPath, res)
		if err != nil {
			return nil, err
		}

		if err := l.store.Put(ctx, key, data); err != nil {
			return nil, fmt.Errorf("failed to cache.Store.Put: %w", err)
		}

		return img, nil
	})

	result := Downloaded
	if err != nil {
		result = Failed
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("poster.outcome", result.String()))
	common.PosterDownloadsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resolution", res.String()),
		attribute.String("result", result.String()),
	))
	if err != nil {
		return nil, Failed, err
	}

	return v.(*Image), Downloaded, nil
}

// LoadThumbnail renders the thumbnail of movie into target, downloading it when not cached.
// Failures are logged and leave the target untouched.
func (l *Loader) LoadThumbnail(ctx context.Context, movie tmdb.Movie, target *Target) {
	generation := target.bind(movie.ID)
	if !movie.HasPoster() {
		return
	}

	ctx = context.WithoutCancel(ctx)

	go l.load(ctx, movie, target, generation, Thumbnail)
}

// LoadPoster renders the full resolution poster of movie into target. A cached thumbnail is
// rendered first as a placeholder, a missing one is not downloaded. The full image replaces the
// thumbnail, and a thumbnail arriving after it is discarded.
func (l *Loader) LoadPoster(ctx context.Context, movie tmdb.Movie, target *Target) {
	generation := target.bind(movie.ID)
	if !movie.HasPoster() {
		return
	}

	ctx = context.WithoutCancel(ctx)

	go func() {
		img, ok := l.Cached(ctx, movie.PosterPath, Thumbnail)
		if !ok {
			return
		}
		l.deliver(ctx, target, generation, img)
	}()

	go l.load(ctx, movie, target, generation, Full)
}

// Prefetch resolves the given resolutions of every movie with a poster, so later loads are
// cache hits. It blocks until all of them are done and reports how many failed.
func (l *Loader) Prefetch(ctx context.Context, movies []tmdb.Movie, resolutions ...Resolution) int {
	var failed atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(prefetchConcurrency)

	for _, movie := range movies {
		if !movie.HasPoster() {
			continue
		}
		for _, res := range resolutions {
			g.Go(func() error {
				if _, _, err := l.Resolve(ctx, movie.PosterPath, res); err != nil {
					failed.Add(1)
				}
				// Keep going, a missing poster must not stop the others.
				return nil
			})
		}
	}
	_ = g.Wait()

	return int(failed.Load())
}

func (l *Loader) load(ctx context.Context, movie tmdb.Movie, target *Target, generation uint64, res Resolution) {
	img, _, err := l.Resolve(ctx, movie.PosterPath, res)
	if err != nil {
		common.Log.InfoContext(ctx, "Failed to resolve poster",
			"movie.id", movie.ID, "resolution", res.String(), "target", target.ID(), "err", err)
		return
	}

	l.deliver(ctx, target, generation, img)
}

func (l *Loader) deliver(ctx context.Context, target *Target, generation uint64, img *Image) {
	l.dispatcher.Dispatch(func() {
		if !target.apply(generation, img, img.Resolution) {
			common.Log.DebugContext(ctx, "Discarded stale poster",
				"target", target.ID(), "resolution", img.Resolution.String())
		}
	})
}

func decode(data []byte, posterPath string, res Resolution) (*Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to image.DecodeConfig: %w", err)
	}

	return &Image{
		Data:        data,
		PosterPath:  posterPath,
		Key:         Key(posterPath, res),
		Resolution:  res,
		ContentType: http.DetectContentType(data),
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}
