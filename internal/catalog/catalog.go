// Package catalog issues movie catalog requests asynchronously and delivers each outcome as a
// single Event on the caller's scheduling context.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ogero/mmdb/internal/common"
	"github.com/ogero/mmdb/internal/dispatch"
	"github.com/ogero/mmdb/pkg/tmdb"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Service is the catalog client. Every request delivers exactly one Event to its Callback,
// through the dispatcher, after the initiating call has returned. Close the Service before its
// dispatcher, otherwise requests still in flight lose their Event.
type Service struct {
	tmdb       tmdb.TMDB
	dispatcher dispatch.Dispatcher
	inFlight   sync.WaitGroup

	detailsMutex sync.RWMutex
	details      map[int]tmdb.Movie
	detailsGroup singleflight.Group
}

// NewService creates a catalog Service on top of a TMDB client. Events are delivered through dispatcher.
func NewService(client tmdb.TMDB, dispatcher dispatch.Dispatcher) *Service {
	return &Service{
		tmdb:       client,
		dispatcher: dispatcher,
		details:    make(map[int]tmdb.Movie),
	}
}

// RequestPopularMovies requests a page of popular movies.
func (s *Service) RequestPopularMovies(ctx context.Context, page int, cb Callback) {
	s.start(ctx, "popular", cb, func(ctx context.Context) Event {
		if err := common.ValidatePage(page); err != nil {
			return RequestFailed{Err: err}
		}

		moviesPage, err := s.tmdb.GetPopularMovies(ctx, page)
		if err != nil {
			return RequestFailed{Err: fmt.Errorf("failed to tmdb.TMDB.GetPopularMovies: %w", err)}
		}

		return MoviesReceived{Movies: moviesPage.Results, Page: page, TotalPages: moviesPage.TotalPages}
	})
}

// SearchMovies requests a page of movies matching query. Blank queries fail without a network call.
func (s *Service) SearchMovies(ctx context.Context, query string, page int, cb Callback) {
	s.start(ctx, "search", cb, func(ctx context.Context) Event {
		if err := common.ValidateQuery(query); err != nil {
			return RequestFailed{Err: err}
		}
		if err := common.ValidatePage(page); err != nil {
			return RequestFailed{Err: err}
		}

		moviesPage, err := s.tmdb.SearchMovies(ctx, common.NormalizeQuery(query), page)
		if err != nil {
			return RequestFailed{Err: fmt.Errorf("failed to tmdb.TMDB.SearchMovies: %w", err)}
		}

		return MoviesReceived{Movies: moviesPage.Results, Page: page, TotalPages: moviesPage.TotalPages}
	})
}

// LookupMovieDetails requests the full record of a movie. Records already looked up are
// delivered from memory, without a network call.
func (s *Service) LookupMovieDetails(ctx context.Context, movieID int, cb Callback) {
	s.start(ctx, "details", cb, func(ctx context.Context) Event {
		if err := common.ValidateMovieID(movieID); err != nil {
			return RequestFailed{Err: err}
		}

		span := trace.SpanFromContext(ctx)
		if movie, ok := s.CachedMovie(movieID); ok {
			span.SetAttributes(attribute.String("cache.catalog.movie.result", "hit"))
			recordCacheGet(ctx, "hit")
			return MovieDetailReceived{Movie: movie}
		}
		span.SetAttributes(attribute.String("cache.catalog.movie.result", "miss"))
		recordCacheGet(ctx, "miss")

		// Concurrent lookups of the same id share one network call.
		v, err, shared := s.detailsGroup.Do(strconv.Itoa(movieID), func() (interface{}, error) {
			movie, err := s.tmdb.GetMovie(ctx, movieID)
			if err != nil {
				return nil, fmt.Errorf("failed to tmdb.TMDB.GetMovie: %w", err)
			}

			s.detailsMutex.Lock()
			s.details[movieID] = *movie
			s.detailsMutex.Unlock()

			return *movie, nil
		})
		span.SetAttributes(attribute.Bool("catalog.movie.shared", shared))
		if err != nil {
			return RequestFailed{Err: err}
		}

		return MovieDetailReceived{Movie: v.(tmdb.Movie)}
	})
}

// CachedMovie returns the record kept for movieID by a previous successful lookup.
func (s *Service) CachedMovie(movieID int) (tmdb.Movie, bool) {
	s.detailsMutex.RLock()
	defer s.detailsMutex.RUnlock()

	movie, ok := s.details[movieID]
	return movie, ok
}

// Close waits until every request started so far has handed its Event to the dispatcher.
func (s *Service) Close() {
	s.inFlight.Wait()
}

// start runs fn on its own goroutine and dispatches its Event to cb. The goroutine waits for
// start to return, so no Event is delivered before the initiating call returns.
func (s *Service) start(ctx context.Context, operation string, cb Callback, fn func(ctx context.Context) Event) {
	// Requests run to completion once initiated.
	ctx = context.WithoutCancel(ctx)

	returned := make(chan struct{})
	defer close(returned)

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		<-returned

		ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "catalog.Service."+operation)
		defer span.End()

		e := fn(ctx)

		result := "success"
		if failed, ok := e.(RequestFailed); ok {
			result = "failure"
			span.RecordError(failed.Err)
			common.Log.WarnContext(ctx, "Failed catalog request", "operation", operation, "err", failed.Err)
		}
		common.CatalogRequestsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("result", result),
		))

		s.dispatcher.Dispatch(func() { cb(e) })
	}()
}

func recordCacheGet(ctx context.Context, result string) {
	common.CacheGetsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key.prefix", "catalog.movie"),
		attribute.String("result", result),
	))
}
