package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/ogero/mmdb/internal"
	"github.com/ogero/mmdb/internal/cache"
	"github.com/ogero/mmdb/internal/catalog"
	"github.com/ogero/mmdb/internal/common"
	"github.com/ogero/mmdb/internal/config"
	"github.com/ogero/mmdb/internal/dispatch"
	"github.com/ogero/mmdb/internal/poster"
	"github.com/ogero/mmdb/pkg/tmdb"
	slogchi "github.com/samber/slog-chi"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		common.Log.Error("Failed to config.Load", "err", err)
		os.Exit(1)
	}

	shutdownLogger, err := common.InitLogger(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, cfg.OTLPEndpoint)
	if err != nil {
		common.Log.Error("Failed to common.InitLogger", "err", err)
		os.Exit(1)
	}

	shutdownInstrumentation, err := common.InitInstrumentation(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, cfg.OTLPEndpoint)
	if err != nil {
		common.Log.Error("Failed to common.InitInstrumentation", "err", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		common.Log.Error("Failed to open poster cache", "backend", cfg.PosterCacheBackend, "err", err)
		os.Exit(1)
	}

	client := tmdb.NewTMDB(tmdb.Options{
		APIKey:      cfg.TMDBAPIKey,
		AccessToken: cfg.TMDBAccessToken,
		APIURL:      cfg.TMDBAPIURL,
		ImageURL:    cfg.TMDBImageURL,
		Timeout:     cfg.HTTPTimeout,
	})

	queue := dispatch.NewQueue()
	catalogService := catalog.NewService(client, queue)

	movieService, err := internal.NewMovieService(
		cfg.PostersChannelPrefix,
		cfg.PublicHost,
		cfg.PrefetchThumbnails,
		catalogService,
		poster.NewLoader(client, store, queue),
	)
	if err != nil {
		common.Log.Error("Failed to internal.NewMovieService", "err", err)
		os.Exit(1)
	}

	app, err := internal.NewApp(movieService)
	if err != nil {
		common.Log.Error("Failed to internal.NewApp", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(slogchi.New(common.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Requested-With",
			"Accept",
			"Accept-Language",
			"Accept-Encoding",
			"Content-Language",
			"Origin",
		},
		MaxAge: 300,
	}))
	app.Routes(r)

	// Listen
	srv := &http.Server{
		Addr:    cfg.ServerListenAddr,
		Handler: otelhttp.NewHandler(r, "mmdb"),
	}
	go func() {
		common.Log.Info("Listening", "addr", cfg.ServerListenAddr, "public_host", cfg.PublicHost)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Log.Error("Failed to http.Server.ListenAndServe", "err", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		common.Log.Error("Failed to http.Server.Shutdown", "err", err)
	}

	if err := movieService.Shutdown(ctx); err != nil {
		common.Log.Error("Failed to internal.MovieService.Shutdown", "err", err)
	}

	catalogService.Close()
	queue.Close()

	if err := closeStore(); err != nil {
		common.Log.Error("Failed to close poster cache", "err", err)
	}

	shutdownInstrumentation(ctx)

	common.Log.Info("Bye!")

	if err := shutdownLogger(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to shutdown logger:", err)
	}
}

// openStore opens the configured poster cache and returns it with its close function.
func openStore(cfg *config.Config) (cache.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.PosterCacheBackend {
	case config.CacheBackendMemory:
		return cache.NewMemory(), noop, nil
	case config.CacheBackendDir:
		d, err := cache.NewDir(cfg.PosterCacheDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to cache.NewDir: %w", err)
		}
		return d, noop, nil
	default:
		b, err := cache.OpenBadger(cfg.PosterCacheDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to cache.OpenBadger: %w", err)
		}
		return b, b.Close, nil
	}
}
