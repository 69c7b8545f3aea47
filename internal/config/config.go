package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Poster cache backends.
const (
	CacheBackendBadger = "badger"
	CacheBackendDir    = "dir"
	CacheBackendMemory = "memory"
)

// Config holds the application settings, read from environment variables.
type Config struct {
	// ServiceName, ServiceVersion and ServiceEnvironment label logs, metrics and traces.
	ServiceName        string `env:"SERVICE_NAME" envDefault:"mmdb"`
	ServiceVersion     string `env:"SERVICE_VERSION" envDefault:"0.0.1"`
	ServiceEnvironment string `env:"SERVICE_ENVIRONMENT" envDefault:"lcl"`
	// OTLPEndpoint is the gRPC collector address for logs, metrics and traces.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`

	// PublicHost is the public (external) base URL where the server is accessible.
	// It is used for any links requiring the server address, normalized to scheme://host.
	PublicHost string `env:"PUBLIC_HOST" envDefault:"http://127.0.0.1:3593"`
	// ServerListenAddr specifies the network address that the HTTP server will listen on.
	ServerListenAddr string `env:"SERVER_LISTEN_ADDR" envDefault:":3593"`

	// TMDBAPIKey is the catalog api key. Either it or TMDBAccessToken must be set.
	TMDBAPIKey      string        `env:"TMDB_API_KEY"`
	TMDBAccessToken string        `env:"TMDB_ACCESS_TOKEN"`
	TMDBAPIURL      string        `env:"TMDB_API_URL" envDefault:"https://api.themoviedb.org/3"`
	TMDBImageURL    string        `env:"TMDB_IMAGE_URL" envDefault:"https://image.tmdb.org/t/p"`
	HTTPTimeout     time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"10s"`

	// PosterCacheBackend selects where downloaded posters are kept: badger, dir or memory.
	PosterCacheBackend string `env:"POSTER_CACHE_BACKEND" envDefault:"badger"`
	// PosterCacheDir defaults to a directory under the OS temporary storage area.
	PosterCacheDir string `env:"POSTER_CACHE_DIR"`

	// PrefetchThumbnails downloads the thumbnails of every listed movie in the background.
	PrefetchThumbnails bool `env:"POSTER_PREFETCH_THUMBNAILS" envDefault:"true"`

	// PostersChannelPrefix prefixes the websocket channel of every poster render target.
	PostersChannelPrefix string `env:"POSTERS_CHANNEL_PREFIX" envDefault:"posters:"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to env.ParseAs: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.TMDBAPIKey == "" && c.TMDBAccessToken == "" {
		return errors.New("TMDB_API_KEY or TMDB_ACCESS_TOKEN is required")
	}

	u, err := url.Parse(c.PublicHost)
	if err != nil {
		return fmt.Errorf("failed to parse PUBLIC_HOST: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_HOST must be an absolute URL: %q", c.PublicHost)
	}
	c.PublicHost = fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	for name, raw := range map[string]string{"TMDB_API_URL": c.TMDBAPIURL, "TMDB_IMAGE_URL": c.TMDBImageURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL: %q", name, raw)
		}
	}
	c.TMDBAPIURL = strings.TrimSuffix(c.TMDBAPIURL, "/")
	c.TMDBImageURL = strings.TrimSuffix(c.TMDBImageURL, "/")

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_CLIENT_TIMEOUT must be positive: %s", c.HTTPTimeout)
	}

	switch c.PosterCacheBackend {
	case CacheBackendBadger, CacheBackendDir, CacheBackendMemory:
	default:
		return fmt.Errorf("unknown POSTER_CACHE_BACKEND: %q", c.PosterCacheBackend)
	}
	if c.PosterCacheDir == "" {
		c.PosterCacheDir = filepath.Join(os.TempDir(), "mmdb-posters")
	}

	return nil
}
