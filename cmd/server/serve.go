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

	"github.com/gorilla/mux"
	"github.com/maneesh/blogmedia/internal/config"
	"github.com/maneesh/blogmedia/internal/handlers"
	"github.com/maneesh/blogmedia/internal/ingress"
	"github.com/maneesh/blogmedia/internal/metrics"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/maneesh/blogmedia/internal/promote"
	"github.com/maneesh/blogmedia/internal/remote"
	"github.com/maneesh/blogmedia/internal/rollback"
	"github.com/maneesh/blogmedia/internal/storage"
	"github.com/maneesh/blogmedia/internal/thumbnail"
	"github.com/maneesh/blogmedia/internal/tracing"
	"github.com/maneesh/blogmedia/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	log := logrus.WithField("component", "server")
	log.WithFields(logrus.Fields{"service": cfg.ServiceName, "port": cfg.ServicePort}).Info("starting blogmedia service")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.WithError(err).Warn("error shutting down tracer")
		}
	}()

	temp, formal, err := storageRoots(cfg)
	if err != nil {
		return err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("invalid scene configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.NewPrometheusObserver("blogmedia", reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	checks := map[string]handlers.Pinger{}

	var objects *storage.MinioClient
	if cfg.MinIOEnabled {
		log.Info("connecting to MinIO")
		objects, err = storage.NewMinioClient(ctx,
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
			cfg.MinIOPublicURL,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize MinIO client: %w", err)
		}
		checks["minio"] = objects
	}

	log.Info("connecting to TiDB")
	db, err := storage.NewAssetDB(ctx, cfg.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to initialize TiDB client: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	checks["tidb"] = db

	log.Info("connecting to Redis")
	cache, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB,
		time.Duration(cfg.CacheTTLSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis client: %w", err)
	}
	defer cache.Close()
	checks["redis"] = cache

	undoOpts := []rollback.Option{
		rollback.WithObserver(observer),
		rollback.WithConcurrency(cfg.BatchConcurrency),
	}
	if objects != nil {
		undoOpts = append(undoOpts, rollback.WithRemote(objects))
	}
	undoer := rollback.NewUndoer(formal.Root, undoOpts...)

	promoter := promote.NewService(promote.Config{
		Temp:        temp,
		Formal:      formal,
		Registry:    registry,
		Thumbnails:  thumbnail.NewGenerator(formal, registry),
		Undoer:      undoer,
		Concurrency: cfg.BatchConcurrency,
		Observer:    observer,
	})
	var uploader *remote.Service
	if objects != nil {
		uploader = remote.NewService(remote.Config{
			Store:    objects,
			Registry: registry,
			Temp:     temp,
			Undoer:   undoer,
			Observer: observer,
		})
	}
	pipeline := ingress.New(ingress.Config{
		Registry:        registry,
		Temp:            temp,
		MaxRequestBytes: cfg.GetMaxUploadBytes(),
	})

	publishHandler := handlers.NewPublishHandler(handlers.PublishConfig{
		Validator:   validator.New(temp, cfg.BatchConcurrency),
		Promoter:    promoter,
		Uploader:    uploader,
		Undoer:      undoer,
		Formal:      formal,
		DB:          db,
		Cache:       cache,
		Concurrency: cfg.BatchConcurrency,
		MaxItems:    cfg.MaxPublishItems,
	})
	preuploadHandler := handlers.NewPreuploadHandler(uploader, cfg.BatchConcurrency)
	assetHandler := handlers.NewAssetHandler(db, cache)

	// Setup HTTP router
	router := mux.NewRouter()
	router.Handle("/health", handlers.NewHealthHandler(checks)).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	router.Handle("/uploads/{scene}", otelhttp.NewHandler(pipeline.Chain(handlers.NewUploadHandler()), "POST /uploads/{scene}")).Methods("POST")
	router.Handle("/publish", otelhttp.NewHandler(publishHandler, "POST /publish")).Methods("POST")
	router.Handle("/preupload/{scene}", otelhttp.NewHandler(preuploadHandler, "POST /preupload/{scene}")).Methods("POST")
	router.Handle("/assets/{id}", otelhttp.NewHandler(assetHandler, "GET /assets/{id}")).Methods("GET")

	router.PathPrefix(formal.Mount + "/").Handler(http.StripPrefix(formal.Mount, http.FileServer(http.Dir(formal.Root)))).Methods("GET", "HEAD")
	router.PathPrefix(temp.Mount + "/").Handler(http.StripPrefix(temp.Mount, http.FileServer(http.Dir(temp.Root)))).Methods("GET", "HEAD")

	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.ServicePort).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-quit:
	}

	log.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("server forced to shutdown")
	}
	log.Info("server exited")
	return nil
}

func storageRoots(cfg *config.Config) (temp, formal *paths.Resolver, err error) {
	temp, err = paths.NewResolver(cfg.TempRoot, cfg.TempMount)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid temp_root: %w", err)
	}
	formal, err = paths.NewResolver(cfg.FormalRoot, cfg.FormalMount)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid formal_root: %w", err)
	}
	for _, root := range []string{temp.Root, formal.Root} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create storage root: %w", err)
		}
	}
	return temp, formal, nil
}
