package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/centrifugal/centrifuge"
	"github.com/ogero/mmdb/internal/catalog"
	"github.com/ogero/mmdb/internal/common"
	"github.com/ogero/mmdb/internal/poster"
	"github.com/ogero/mmdb/pkg/tmdb"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MoviesPage is one page of a movie list.
type MoviesPage struct {
	Movies     []tmdb.Movie `json:"movies"`
	Page       int          `json:"page"`
	TotalPages int          `json:"totalPages"`
}

// PosterRendered is published on a target's websocket channel every time a poster is rendered into it.
type PosterRendered struct {
	Target     string `json:"target"`
	MovieID    int    `json:"movieId"`
	Resolution string `json:"resolution"`
	URL        string `json:"url"`
}

// Catalog is the asynchronous movie catalog consumed by MovieService.
type Catalog interface {
	RequestPopularMovies(ctx context.Context, page int, cb catalog.Callback)
	SearchMovies(ctx context.Context, query string, page int, cb catalog.Callback)
	LookupMovieDetails(ctx context.Context, movieID int, cb catalog.Callback)
}

// Posters resolves poster images and renders them into targets.
type Posters interface {
	Resolve(ctx context.Context, posterPath string, res poster.Resolution) (*poster.Image, poster.Outcome, error)
	LoadThumbnail(ctx context.Context, movie tmdb.Movie, target *poster.Target)
	LoadPoster(ctx context.Context, movie tmdb.Movie, target *poster.Target)
	Prefetch(ctx context.Context, movies []tmdb.Movie, resolutions ...poster.Resolution) int
}

var (
	_ Catalog = (*catalog.Service)(nil)
	_ Posters = (*poster.Loader)(nil)
)

// MovieService defines the request/response view of the movie catalog and its posters.
type MovieService interface {
	// Handler handles incoming HTTP requests via a websocket handler
	http.Handler
	// PopularMovies returns a page of popular movies.
	PopularMovies(ctx context.Context, page int) (*MoviesPage, error)
	// SearchMovies returns a page of movies matching query.
	SearchMovies(ctx context.Context, query string, page int) (*MoviesPage, error)
	// MovieDetails returns the full record of a movie.
	MovieDetails(ctx context.Context, movieID int) (*tmdb.Movie, error)
	// Poster returns a poster image, downloading it when not cached.
	Poster(ctx context.Context, posterPath string, res poster.Resolution) (*poster.Image, error)
	// StreamPoster loads the poster of a movie into a render target. Every rendered image is
	// published on the target's websocket channel.
	StreamPoster(ctx context.Context, targetID string, movieID int, res poster.Resolution) error
	// Shutdown stops the websocket node.
	Shutdown(ctx context.Context) error
}

type movieService struct {
	postersChannelPrefix string
	publicHost           string
	prefetchThumbnails   bool
	catalog              Catalog
	posters              Posters

	node             *centrifuge.Node
	websocketHandler *centrifuge.WebsocketHandler
	targetsMutex     sync.Mutex
	targets          map[string]*poster.Target
}

// NewMovieService creates a new instance of MovieService on top of the catalog and poster loader.
// Poster URLs published to websocket clients are rooted at publicHost.
func NewMovieService(postersChannelPrefix string, publicHost string, prefetchThumbnails bool, catalogService Catalog, posterLoader Posters) (MovieService, error) {
	svc := &movieService{
		postersChannelPrefix: postersChannelPrefix,
		publicHost:           publicHost,
		prefetchThumbnails:   prefetchThumbnails,
		catalog:              catalogService,
		posters:              posterLoader,

		targets: make(map[string]*poster.Target),
	}

	node, err := centrifuge.New(centrifuge.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to centrifuge.New: %w", err)
	}
	svc.node = node

	node.OnConnecting(func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		return centrifuge.ConnectReply{}, nil
	})

	node.OnConnect(func(client *centrifuge.Client) {
		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			targetID, ok := strings.CutPrefix(e.Channel, postersChannelPrefix)
			if !ok || common.ValidateTargetID(targetID) != nil {
				cb(centrifuge.SubscribeReply{}, centrifuge.ErrorPermissionDenied)
				return
			}

			cb(centrifuge.SubscribeReply{
				Options: centrifuge.SubscribeOptions{},
			}, nil)
		})
	})

	if err := node.Run(); err != nil {
		return nil, fmt.Errorf("failed to centrifuge.Node.Run: %w", err)
	}

	svc.websocketHandler = centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		ReadBufferSize:     1024,
		UseWriteBufferPool: true,
	})

	return svc, nil
}

// PopularMovies returns a page of popular movies.
func (s *movieService) PopularMovies(ctx context.Context, page int) (*MoviesPage, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.MovieService.PopularMovies")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page))

	e, err := await(ctx, func(cb catalog.Callback) {
		s.catalog.RequestPopularMovies(ctx, page, cb)
	})
	if err != nil {
		return nil, err
	}

	return s.moviesPage(ctx, e)
}

// SearchMovies returns a page of movies matching query.
func (s *movieService) SearchMovies(ctx context.Context, query string, page int) (*MoviesPage, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.MovieService.SearchMovies")
	defer span.End()
	span.SetAttributes(attribute.String("query", query), attribute.Int("page", page))

	e, err := await(ctx, func(cb catalog.Callback) {
		s.catalog.SearchMovies(ctx, query, page, cb)
	})
	if err != nil {
		return nil, err
	}

	return s.moviesPage(ctx, e)
}

// MovieDetails returns the full record of a movie.
func (s *movieService) MovieDetails(ctx context.Context, movieID int) (*tmdb.Movie, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.MovieService.MovieDetails")
	defer span.End()
	span.SetAttributes(attribute.Int("movie.id", movieID))

	e, err := await(ctx, func(cb catalog.Callback) {
		s.catalog.LookupMovieDetails(ctx, movieID, cb)
	})
	if err != nil {
		return nil, err
	}

	switch e := e.(type) {
	case catalog.MovieDetailReceived:
		span.SetAttributes(attribute.String("movie.title", e.Movie.Title))
		return &e.Movie, nil
	case catalog.RequestFailed:
		return nil, e.Err
	default:
		return nil, fmt.Errorf("unexpected catalog event %T", e)
	}
}

// Poster returns a poster image, downloading it when not cached.
func (s *movieService) Poster(ctx context.Context, posterPath string, res poster.Resolution) (*poster.Image, error) {
	img, outcome, err := s.posters.Resolve(ctx, posterPath, res)
	if err != nil {
		return nil, fmt.Errorf("failed to poster.Loader.Resolve: %w", err)
	}
	common.Log.DebugContext(ctx, "Resolved poster", "key", img.Key, "outcome", outcome.String())

	return img, nil
}

// StreamPoster loads the poster of a movie into a render target. The full mode renders a cached
// thumbnail first, then the full resolution image.
func (s *movieService) StreamPoster(ctx context.Context, targetID string, movieID int, res poster.Resolution) error {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.MovieService.StreamPoster")
	defer span.End()
	span.SetAttributes(attribute.String("target", targetID), attribute.Int("movie.id", movieID))

	if err := common.ValidateTargetID(targetID); err != nil {
		return err
	}

	movie, err := s.MovieDetails(ctx, movieID)
	if err != nil {
		return err
	}

	target := s.target(targetID)
	if res == poster.Full {
		s.posters.LoadPoster(ctx, *movie, target)
	} else {
		s.posters.LoadThumbnail(ctx, *movie, target)
	}

	return nil
}

// ServeHTTP handles incoming HTTP requests via a websocket handler
func (s *movieService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	newCtx := centrifuge.SetCredentials(ctx, &centrifuge.Credentials{})
	r = r.WithContext(newCtx)

	s.websocketHandler.ServeHTTP(w, r)
}

// Shutdown stops the websocket node.
func (s *movieService) Shutdown(ctx context.Context) error {
	if err := s.node.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to centrifuge.Node.Shutdown: %w", err)
	}

	return nil
}

func (s *movieService) moviesPage(ctx context.Context, e catalog.Event) (*MoviesPage, error) {
	switch e := e.(type) {
	case catalog.MoviesReceived:
		if s.prefetchThumbnails {
			go func() {
				ctx := context.WithoutCancel(ctx)
				if failed := s.posters.Prefetch(ctx, e.Movies, poster.Thumbnail); failed > 0 {
					common.Log.InfoContext(ctx, "Failed to prefetch some thumbnails", "failed", failed)
				}
			}()
		}
		return &MoviesPage{Movies: e.Movies, Page: e.Page, TotalPages: e.TotalPages}, nil
	case catalog.RequestFailed:
		return nil, e.Err
	default:
		return nil, fmt.Errorf("unexpected catalog event %T", e)
	}
}

func (s *movieService) target(targetID string) *poster.Target {
	s.targetsMutex.Lock()
	defer s.targetsMutex.Unlock()

	target, ok := s.targets[targetID]
	if !ok {
		target = poster.NewTarget(targetID, s.publishRender)
		s.targets[targetID] = target
	}

	return target
}

func (s *movieService) publishRender(target *poster.Target, img *poster.Image, res poster.Resolution) {
	b, err := json.Marshal(PosterRendered{
		Target:     target.ID(),
		MovieID:    target.MovieID(),
		Resolution: res.String(),
		URL:        fmt.Sprintf("%s/posters/%s/%s", s.publicHost, res.Size(), strings.TrimPrefix(img.PosterPath, "/")),
	})
	if err != nil {
		common.Log.Warn("Failed to json.Marshal", "err", err)
		return
	}

	if _, err = s.node.Publish(s.postersChannelPrefix+target.ID(), b); err != nil {
		common.Log.Warn("Failed to centrifuge.Node.Publish", "err", err)
	}
}

// await starts an asynchronous catalog request and waits for its single event.
func await(ctx context.Context, request func(cb catalog.Callback)) (catalog.Event, error) {
	// Buffered, so the delivery never blocks after the caller gave up.
	events := make(chan catalog.Event, 1)
	request(func(e catalog.Event) {
		events <- e
	})

	select {
	case e := <-events:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
