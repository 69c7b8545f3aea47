package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ogero/mmdb/internal/common"
	"github.com/ogero/mmdb/internal/poster"
	"github.com/ogero/mmdb/pkg/tmdb"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// App represents the main application structure that holds the movie service.
type App struct {
	MovieService MovieService
}

// NewApp creates a new instance of the App struct.
func NewApp(movieService MovieService) (*App, error) {
	return &App{
		MovieService: movieService,
	}, nil
}

// Routes registers the application handlers on r.
func (a *App) Routes(r chi.Router) {
	r.Get("/movies/popular", a.PopularMoviesHandler)
	r.Get("/movies/search", a.SearchMoviesHandler)
	r.Get("/movies/{id}", a.MovieDetailsHandler)
	r.Post("/movies/{id}/poster", a.StreamPosterHandler)
	r.Get("/posters/{size}/*", a.PosterHandler)
	r.HandleFunc("/connection/websocket", a.WebsocketHandler)
}

/*
PopularMoviesHandler serves a page of popular movies.

The page is taken from the page query parameter, the first page when missing.
*/
func (a *App) PopularMoviesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "PopularMoviesHandler")

	page, err := common.ParsePage(r.URL.Query().Get("page"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ParsePage", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("params.page", page))

	moviesPage, err := a.MovieService.PopularMovies(ctx, page)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to MovieService.PopularMovies", "err", err)
		span.RecordError(err)
		w.WriteHeader(statusCode(err))
		return
	}

	w.Header().Set("CDN-Cache-Control", "public, max-age=600")
	w.Header().Set("Cache-Control", "public, max-age=600")

	writeJSON(w, r, moviesPage)
}

/*
SearchMoviesHandler serves a page of movies matching the query parameter.
*/
func (a *App) SearchMoviesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "SearchMoviesHandler")

	query := r.URL.Query().Get("query")
	if err := common.ValidateQuery(query); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateQuery", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.query", query))

	page, err := common.ParsePage(r.URL.Query().Get("page"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ParsePage", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("params.page", page))

	moviesPage, err := a.MovieService.SearchMovies(ctx, query, page)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to MovieService.SearchMovies", "err", err)
		span.RecordError(err)
		w.WriteHeader(statusCode(err))
		return
	}

	w.Header().Set("CDN-Cache-Control", "public, max-age=120")
	w.Header().Set("Cache-Control", "public, max-age=120")

	writeJSON(w, r, moviesPage)
}

/*
MovieDetailsHandler serves the full record of a movie.
*/
func (a *App) MovieDetailsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "MovieDetailsHandler")

	movieID, err := common.ParseMovieID(chi.URLParam(r, "id"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ParseMovieID", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("params.id", movieID))

	movie, err := a.MovieService.MovieDetails(ctx, movieID)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to MovieService.MovieDetails", "err", err)
		span.RecordError(err)
		w.WriteHeader(statusCode(err))
		return
	}

	w.Header().Set("CDN-Cache-Control", "public, max-age=86400")
	w.Header().Set("Cache-Control", "public, max-age=86400")

	writeJSON(w, r, movie)
}

/*
StreamPosterHandler starts loading the poster of a movie into a render target.

The target and mode query parameters name the render target and the resolution to load,
full when missing. Renders are published on the target's websocket channel, so the request
is accepted without waiting for them.
*/
func (a *App) StreamPosterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "StreamPosterHandler")

	movieID, err := common.ParseMovieID(chi.URLParam(r, "id"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ParseMovieID", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("params.id", movieID))

	targetID := r.URL.Query().Get("target")
	if err = common.ValidateTargetID(targetID); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateTargetID", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.target", targetID))

	res := poster.Full
	if mode := r.URL.Query().Get("mode"); mode != "" {
		if res, err = poster.ParseResolution(mode); err != nil {
			common.Log.WarnContext(ctx, "Failed to poster.ParseResolution", "err", err)
			span.RecordError(err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	span.SetAttributes(attribute.String("params.mode", res.String()))

	if err = a.MovieService.StreamPoster(ctx, targetID, movieID, res); err != nil {
		common.Log.ErrorContext(ctx, "Failed to MovieService.StreamPoster", "err", err)
		span.RecordError(err)
		w.WriteHeader(statusCode(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

/*
PosterHandler serves poster image bytes at the w92 or w154 size.
*/
func (a *App) PosterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "PosterHandler")

	size := chi.URLParam(r, "size")
	res, err := poster.ParseSize(size)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to poster.ParseSize", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.size", size))

	posterPath := "/" + chi.URLParam(r, "*")
	if posterPath == "/" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	span.SetAttributes(attribute.String("params.path", posterPath))

	img, err := a.MovieService.Poster(ctx, posterPath, res)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to MovieService.Poster", "err", err)
		span.RecordError(err)
		w.WriteHeader(statusCode(err))
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("CDN-Cache-Control", "public, max-age=1296000")
	w.Header().Set("Cache-Control", "public, max-age=1296000")

	if _, err = w.Write(img.Data); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
		return
	}
}

// WebsocketHandler handles WebSocket connections
func (a *App) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "WebsocketHandler")

	a.MovieService.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}
}

// statusCode maps a service error to the response status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidPage),
		errors.Is(err, common.ErrEmptyQuery),
		errors.Is(err, common.ErrInvalidMovieID),
		errors.Is(err, common.ErrInvalidPosterSize),
		errors.Is(err, common.ErrInvalidResolution),
		errors.Is(err, common.ErrInvalidTargetID):
		return http.StatusBadRequest
	case errors.Is(err, poster.ErrNoPoster):
		return http.StatusNotFound
	case errors.Is(err, tmdb.ErrDecode), errors.Is(err, tmdb.ErrResponseTooLarge):
		return http.StatusBadGateway
	}

	var statusErr *tmdb.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.IsNotFound() {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
