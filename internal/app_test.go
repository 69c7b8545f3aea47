package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ogero/mmdb/internal/cache"
	"github.com/ogero/mmdb/internal/catalog"
	"github.com/ogero/mmdb/internal/common"
	"github.com/ogero/mmdb/internal/dispatch"
	"github.com/ogero/mmdb/internal/poster"
	"github.com/ogero/mmdb/pkg/tmdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, image.NewGray(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

type testEnv struct {
	router   chi.Router
	service  *movieService
	requests atomic.Int32
}

// newTestEnv serves a small catalog: movie 1 has a poster at both sizes, movie 2 has none.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{}
	thumbnail := pngBytes(t, 92, 138)
	full := pngBytes(t, 154, 231)

	mux := http.NewServeMux()
	mux.HandleFunc("/movie/popular", func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		_, _ = fmt.Fprintf(w, `{"page": %s, "total_pages": 3, "results": [{"id": 1, "title": "Jurassic World", "poster_path": "/a.png"}, {"id": 2, "title": "Inside Out"}]}`,
			r.URL.Query().Get("page"))
	})
	mux.HandleFunc("/search/movie", func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		assert.Equal(t, "jurassic", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(`{"page": 1, "total_pages": 1, "results": [{"id": 1, "title": "Jurassic World", "poster_path": "/a.png"}]}`))
	})
	mux.HandleFunc("/movie/1", func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		_, _ = w.Write([]byte(`{"id": 1, "title": "Jurassic World", "poster_path": "/a.png", "runtime": 124}`))
	})
	mux.HandleFunc("/movie/2", func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		_, _ = w.Write([]byte(`{"id": 2, "title": "Inside Out", "runtime": 95}`))
	})
	mux.HandleFunc("/t/p/w92/a.png", func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		_, _ = w.Write(thumbnail)
	})
	mux.HandleFunc("/t/p/w154/a.png", func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		_, _ = w.Write(full)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status_code": 34, "status_message": "The resource you requested could not be found."}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := tmdb.NewTMDB(tmdb.Options{
		APIKey:   "mockKey",
		APIURL:   server.URL,
		ImageURL: server.URL + "/t/p",
		Timeout:  5 * time.Second,
	})

	queue := dispatch.NewQueue()
	t.Cleanup(queue.Close)

	svc, err := NewMovieService("posters:", "http://movies.local", false,
		catalog.NewService(client, queue),
		poster.NewLoader(client, cache.NewMemory(), queue))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	env.service = svc.(*movieService)

	app, err := NewApp(svc)
	require.NoError(t, err)

	env.router = chi.NewRouter()
	app.Routes(env.router)

	return env
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestPopularMoviesHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/movies/popular?page=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=600", w.Header().Get("Cache-Control"))

	var page MoviesPage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Movies, 2)
	assert.Equal(t, "Jurassic World", page.Movies[0].Title)
	assert.False(t, page.Movies[1].HasPoster())
}

func TestSearchMoviesHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/movies/search?query=%20jurassic%20")
	require.Equal(t, http.StatusOK, w.Code)

	var page MoviesPage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Movies, 1)
	assert.Equal(t, 1, page.Movies[0].ID)
}

func TestMovieDetailsHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/movies/1")
	require.Equal(t, http.StatusOK, w.Code)

	var movie tmdb.Movie
	require.NoError(t, json.NewDecoder(w.Body).Decode(&movie))
	assert.Equal(t, 124, movie.Runtime)

	// The second lookup is served from memory.
	w = env.do(http.MethodGet, "/movies/1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), env.requests.Load())
}

func TestPosterHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/posters/w154/a.png")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	cfg, err := png.DecodeConfig(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 154, cfg.Width)

	w = env.do(http.MethodGet, "/posters/w154/a.png")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), env.requests.Load())
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"page not a number", http.MethodGet, "/movies/popular?page=abc", http.StatusBadRequest},
		{"page over limit", http.MethodGet, "/movies/popular?page=1001", http.StatusBadRequest},
		{"page zero", http.MethodGet, "/movies/popular?page=0", http.StatusBadRequest},
		{"blank query", http.MethodGet, "/movies/search?query=%20%20", http.StatusBadRequest},
		{"search page over limit", http.MethodGet, "/movies/search?query=jurassic&page=2000", http.StatusBadRequest},
		{"movie id not a number", http.MethodGet, "/movies/abc", http.StatusBadRequest},
		{"negative movie id", http.MethodGet, "/movies/-1", http.StatusBadRequest},
		{"unknown movie", http.MethodGet, "/movies/404", http.StatusNotFound},
		{"unknown poster size", http.MethodGet, "/posters/w500/a.png", http.StatusBadRequest},
		{"unknown poster", http.MethodGet, "/posters/w92/missing.png", http.StatusNotFound},
		{"missing target", http.MethodPost, "/movies/1/poster", http.StatusBadRequest},
		{"invalid target", http.MethodPost, "/movies/1/poster?target=a:b", http.StatusBadRequest},
		{"unknown mode", http.MethodPost, "/movies/1/poster?target=cell&mode=w92", http.StatusBadRequest},
		{"stream unknown movie", http.MethodPost, "/movies/404/poster?target=cell", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(tt.method, tt.target)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestValidationFailuresSkipCatalog(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodGet, "/movies/popular?page=1001")
	env.do(http.MethodGet, "/movies/search?query=")

	assert.Zero(t, env.requests.Load())
}

func TestStreamPosterHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/movies/1/poster?target=detail")
	require.Equal(t, http.StatusAccepted, w.Code)

	target := env.service.target("detail")
	require.Eventually(t, func() bool { return target.State() == poster.StateFull }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, target.MovieID())

	// Recycling the target for a movie without a poster empties it.
	w = env.do(http.MethodPost, "/movies/2/poster?target=detail&mode=thumbnail")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, poster.StateEmpty, target.State())
	assert.Equal(t, 2, target.MovieID())
}

func TestStreamPosterThumbnail(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/movies/1/poster?target=cell-1&mode=thumbnail")
	require.Equal(t, http.StatusAccepted, w.Code)

	target := env.service.target("cell-1")
	require.Eventually(t, func() bool { return target.State() == poster.StateThumbnail }, 2*time.Second, 10*time.Millisecond)
}

func TestAwaitHonorsCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := await(ctx, func(cb catalog.Callback) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{common.ErrInvalidPage, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", common.ErrEmptyQuery), http.StatusBadRequest},
		{common.ErrInvalidTargetID, http.StatusBadRequest},
		{poster.ErrNoPoster, http.StatusNotFound},
		{&tmdb.StatusError{StatusCode: http.StatusNotFound}, http.StatusNotFound},
		{fmt.Errorf("failed to tmdb.TMDB.GetMovie: %w", &tmdb.StatusError{StatusCode: http.StatusUnauthorized}), http.StatusBadGateway},
		{fmt.Errorf("%w: missing results", tmdb.ErrDecode), http.StatusBadGateway},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.err.Error(), " ", "_"), func(t *testing.T) {
			assert.Equal(t, tt.want, statusCode(tt.err))
		})
	}
}
