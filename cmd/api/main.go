package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/floodwatch/floodwatch-api/internal/config"
	"github.com/floodwatch/floodwatch-api/internal/domain/auth"
	"github.com/floodwatch/floodwatch-api/internal/domain/feed"
	"github.com/floodwatch/floodwatch-api/internal/domain/moderation"
	"github.com/floodwatch/floodwatch-api/internal/domain/report"
	"github.com/floodwatch/floodwatch-api/internal/domain/trust"
	"github.com/floodwatch/floodwatch-api/internal/domain/user"
	"github.com/floodwatch/floodwatch-api/internal/middleware"
	"github.com/floodwatch/floodwatch-api/internal/observability"
	"github.com/floodwatch/floodwatch-api/internal/pkg/database"
	"github.com/floodwatch/floodwatch-api/internal/pkg/detector"
	"github.com/floodwatch/floodwatch-api/internal/pkg/imagestore"
	"github.com/floodwatch/floodwatch-api/internal/pkg/imaging"
	"github.com/floodwatch/floodwatch-api/internal/pkg/jwt"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
	pkgresponse "github.com/floodwatch/floodwatch-api/internal/pkg/response"
	"github.com/floodwatch/floodwatch-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting FloodWatch API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.RunMigrations {
		if err := database.RunMigrations(db); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	metrics := observability.NewMetrics()
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Images ----------
	objectStore, err := storage.New(storage.Config{
		Driver:      cfg.StorageDriver,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		S3PublicURL: cfg.S3PublicURL,
		LocalPath:   cfg.LocalStoragePath,
		LocalURL:    cfg.LocalStorageURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create object storage")
	}
	processor := imaging.NewProcessor(imaging.Config{MaxSide: cfg.ImageMaxSide})
	images := imagestore.New(objectStore, processor, cfg.UploadTimeout, metrics)

	detectorClient := detector.NewClient(cfg.DetectorURL, cfg.DetectorTimeout, metrics)

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	reportRepo := report.NewRepository(db)
	trustService := trust.NewService(trust.NewStore(db), metrics)

	// ---------- Live feed ----------
	feedHub := feed.NewHub(redis, metrics)
	go feedHub.Run()
	defer feedHub.Shutdown()

	// ---------- Services ----------
	authService := auth.NewService(userRepo, jwtService)
	moderationService := moderation.NewService(reportRepo, userRepo, trustService, detectorClient, images, metrics).
		WithCache(moderation.NewListingCache(redis, cfg.ListingCacheTTL, metrics)).
		WithPublisher(feedHub).
		WithCounterTimeout(cfg.CounterTimeout)

	router := newRouter(routerDeps{
		cfg:        cfg,
		metrics:    metrics,
		tokens:     jwtService,
		auth:       auth.NewHandler(authService),
		reports:    moderation.NewHandler(moderationService),
		feed:       feed.NewHandler(feedHub, jwtService, cfg.AllowedOrigins),
		uploadsDir: localUploadsDir(objectStore),
	})

	// Submissions wait for the upload and the detector.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.UploadTimeout + cfg.DetectorTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

type routerDeps struct {
	cfg        *config.Config
	metrics    *observability.Metrics
	tokens     middleware.TokenValidator
	auth       *auth.Handler
	reports    *moderation.Handler
	feed       *feed.Handler
	uploadsDir string
}

func newRouter(d routerDeps) http.Handler {
	authMiddleware := middleware.Auth(d.tokens)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Metrics(d.metrics))
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(d.cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	if d.uploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.uploadsDir))))
	}

	r.Mount("/ws", d.feed.Routes())

	r.Route("/api", func(r chi.Router) {
		r.Mount("/auth", d.auth.Routes(authMiddleware))
		r.Mount("/reports", d.reports.Routes(authMiddleware))
		r.Mount("/admin/reports", d.reports.AdminRoutes(authMiddleware, middleware.RequireAdmin()))
	})

	return r
}

// localUploadsDir returns the directory to serve under /uploads when images
// are stored on local disk.
func localUploadsDir(st storage.Storage) string {
	if local, ok := st.(*storage.LocalStorage); ok {
		return local.BasePath()
	}
	return ""
}
