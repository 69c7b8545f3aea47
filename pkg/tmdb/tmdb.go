package tmdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ogero/mmdb/pkg/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxJSONBytes   = 2 * 1024 * 1024
	maxPosterBytes = 5 * 1024 * 1024
)

// TMDB defines the methods to interact with the movie catalog service.
type TMDB interface {
	// GetPopularMovies fetches a page of the popular movies list.
	GetPopularMovies(ctx context.Context, page int) (*MoviesPage, error)
	// SearchMovies fetches a page of movies matching query.
	SearchMovies(ctx context.Context, query string, page int) (*MoviesPage, error)
	// GetMovie fetches the full record of a movie by its ID.
	GetMovie(ctx context.Context, ID int) (*Movie, error)
	// GetPoster downloads the poster image for posterPath at the given size segment, e.g. w92.
	GetPoster(ctx context.Context, size string, posterPath string) ([]byte, error)
}

// Options holds the settings of a TMDB client.
type Options struct {
	// APIKey is sent as the api_key query parameter.
	APIKey string
	// AccessToken, when set, is sent as a bearer token.
	AccessToken string
	// APIURL is the catalog API base, e.g. https://api.themoviedb.org/3
	APIURL string
	// ImageURL is the poster base, e.g. https://image.tmdb.org/t/p
	ImageURL string
	Timeout  time.Duration
}

// NewTMDB creates a new instance of the TMDB service.
func NewTMDB(opts Options) TMDB {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxConnsPerHost = 100
	t.MaxIdleConnsPerHost = 100

	rt := transport.NewModifyHeadersRoundTripper(otelhttp.NewTransport(t),
		transport.WithAccept("application/json"),
		transport.WithUserAgent("mmdb/1.0 (+https://github.com/ogero/mmdb)"),
		transport.WithBearerToken(opts.AccessToken),
	)

	return &tmdb{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: rt,
		},
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimSuffix(opts.APIURL, "/"),
		imageBaseURL: strings.TrimSuffix(opts.ImageURL, "/"),
	}
}

type tmdb struct {
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	imageBaseURL string
}

// GetPopularMovies fetches a page of the popular movies list.
func (c *tmdb) GetPopularMovies(ctx context.Context, page int) (*MoviesPage, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "tmdb.TMDB.GetPopularMovies")
	defer span.End()
	span.SetAttributes(attribute.Int("tmdb.page", page))

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))

	return c.getMoviesPage(ctx, "/movie/popular", params)
}

// SearchMovies fetches a page of movies matching query.
func (c *tmdb) SearchMovies(ctx context.Context, query string, page int) (*MoviesPage, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "tmdb.TMDB.SearchMovies")
	defer span.End()
	span.SetAttributes(attribute.String("tmdb.query", query), attribute.Int("tmdb.page", page))

	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))

	return c.getMoviesPage(ctx, "/search/movie", params)
}

// GetMovie fetches the full record of a movie by its ID.
func (c *tmdb) GetMovie(ctx context.Context, ID int) (*Movie, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "tmdb.TMDB.GetMovie")
	defer span.End()
	span.SetAttributes(attribute.Int("tmdb.movie.id", ID))

	body, err := c.get(ctx, c.baseURL+"/movie/"+strconv.Itoa(ID), c.withAPIKey(nil), maxJSONBytes)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	movie := &Movie{}
	if err = json.Unmarshal(body, movie); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: failed to json.Unmarshal: %v", ErrDecode, err)
	}
	if movie.ID == 0 {
		return nil, fmt.Errorf("%w: movie without id", ErrDecode)
	}

	return movie, nil
}

// GetPoster downloads the poster image for posterPath at the given size segment, e.g. w92.
func (c *tmdb) GetPoster(ctx context.Context, size string, posterPath string) ([]byte, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "tmdb.TMDB.GetPoster")
	defer span.End()
	span.SetAttributes(attribute.String("tmdb.poster.size", size), attribute.String("tmdb.poster.path", posterPath))

	u := fmt.Sprintf("%s/%s/%s", c.imageBaseURL, size, strings.TrimPrefix(posterPath, "/"))
	data, err := c.get(ctx, u, nil, maxPosterBytes)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return data, nil
}

func (c *tmdb) getMoviesPage(ctx context.Context, endpoint string, params url.Values) (*MoviesPage, error) {
	body, err := c.get(ctx, c.baseURL+endpoint, c.withAPIKey(params), maxJSONBytes)
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		return nil, err
	}

	pageResponse := struct {
		Page         int      `json:"page"`
		TotalPages   int      `json:"total_pages"`
		TotalResults int      `json:"total_results"`
		Results      *[]Movie `json:"results"`
	}{}

	if err = json.Unmarshal(body, &pageResponse); err != nil {
		return nil, fmt.Errorf("%w: failed to json.Unmarshal: %v", ErrDecode, err)
	}
	if pageResponse.Results == nil {
		return nil, fmt.Errorf("%w: missing results", ErrDecode)
	}
	for i, movie := range *pageResponse.Results {
		if movie.ID == 0 {
			return nil, fmt.Errorf("%w: result %d without id", ErrDecode, i)
		}
	}

	return &MoviesPage{
		Page:         pageResponse.Page,
		TotalPages:   pageResponse.TotalPages,
		TotalResults: pageResponse.TotalResults,
		Results:      *pageResponse.Results,
	}, nil
}

func (c *tmdb) withAPIKey(params url.Values) url.Values {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	return params
}

// get performs a GET request and returns the response body, failing on non-2xx statuses
// and on bodies larger than limit.
func (c *tmdb) get(ctx context.Context, u string, params url.Values, limit int64) ([]byte, error) {
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, statusError(res)
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, newCapReader(res.Body, limit, ErrResponseTooLarge)); err != nil {
		return nil, fmt.Errorf("failed to io.Copy: %w", err)
	}

	return buf.Bytes(), nil
}

func statusError(res *http.Response) error {
	errorResponse := struct {
		StatusMessage string `json:"status_message"`
	}{}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	_ = json.Unmarshal(body, &errorResponse)

	return &StatusError{
		StatusCode: res.StatusCode,
		Message:    errorResponse.StatusMessage,
	}
}
