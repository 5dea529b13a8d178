package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/otcheredev/dicomweb-archive/internal/cache"
	"github.com/otcheredev/dicomweb-archive/internal/codec"
	"github.com/otcheredev/dicomweb-archive/internal/config"
	"github.com/otcheredev/dicomweb-archive/internal/database"
	"github.com/otcheredev/dicomweb-archive/internal/handlers"
	"github.com/otcheredev/dicomweb-archive/internal/middleware"
	"github.com/otcheredev/dicomweb-archive/internal/repository"
	"github.com/otcheredev/dicomweb-archive/internal/services"
	"github.com/otcheredev/dicomweb-archive/internal/storage"
	"github.com/otcheredev/dicomweb-archive/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting DICOMweb archive")

	// Connect to database
	db, err := database.Connect(database.Config{
		URL:      cfg.Database.URL,
		LogLevel: cfg.Database.LogLevel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Initialize file area
	files, err := storage.NewFileStore(filepath.Join(cfg.Storage.DataDir, "instances"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize file store")
	}

	// Initialize render cache
	var renderCache cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		renderCache, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Redis render cache initialized")
	} else {
		renderCache = cache.NewMemoryCache()
		log.Info().Msg("Memory render cache initialized")
	}
	defer renderCache.Close()

	// Initialize repositories
	archiveRepo := repository.NewArchiveRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize services
	origin := cfg.Server.BaseURL
	storeService := services.NewStoreService(archiveRepo, auditRepo, files, origin, cfg.Storage.StowConcurrency)
	queryService := services.NewQueryService(archiveRepo, origin)
	retrieveService := services.NewRetrieveService(archiveRepo, auditRepo, files,
		codec.NewNativeCodec(), renderCache, origin, cfg.Cache.TTL)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	stowHandler := handlers.NewStowHandler(storeService, cfg.Storage.MaxUploadBytes)
	qidoHandler := handlers.NewQidoHandler(queryService)
	wadoHandler := handlers.NewWadoHandler(retrieveService)
	auditHandler := handlers.NewAuditHandler(auditRepo)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// DICOMweb endpoints
	r.Route("/studies", func(r chi.Router) {
		// STOW-RS (Store)
		r.Post("/", stowHandler.StoreInstances)
		r.Post("/{studyUID}", stowHandler.StoreStudyInstances)

		// QIDO-RS (Search)
		r.Get("/", qidoHandler.SearchStudies)
		r.Get("/{studyUID}/series", qidoHandler.SearchSeries)
		r.Get("/{studyUID}/instances", qidoHandler.SearchStudyInstances)
		r.Get("/{studyUID}/series/{seriesUID}/instances", qidoHandler.SearchSeriesInstances)

		// WADO-RS (Retrieve)
		r.Get("/{studyUID}", wadoHandler.RetrieveStudy)
		r.Get("/{studyUID}/series/{seriesUID}", wadoHandler.RetrieveSeries)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}", wadoHandler.RetrieveInstance)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}/frames/{frames}", wadoHandler.RetrieveFrames)

		// WADO-RS metadata
		r.Get("/{studyUID}/metadata", wadoHandler.StudyMetadata)
		r.Get("/{studyUID}/series/{seriesUID}/metadata", wadoHandler.SeriesMetadata)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}/metadata", wadoHandler.InstanceMetadata)

		// WADO-RS rendered and thumbnails
		r.Get("/{studyUID}/rendered", wadoHandler.RenderedStudy)
		r.Get("/{studyUID}/series/{seriesUID}/rendered", wadoHandler.RenderedSeries)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}/rendered", wadoHandler.RenderedInstance)
		r.Get("/{studyUID}/thumbnail", wadoHandler.ThumbnailStudy)
		r.Get("/{studyUID}/series/{seriesUID}/thumbnail", wadoHandler.ThumbnailSeries)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}/thumbnail", wadoHandler.ThumbnailInstance)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}/frames/{frames}/rendered", wadoHandler.RenderedFrame)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}/frames/{frames}/thumbnail", wadoHandler.ThumbnailFrame)
	})

	// Management API
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/audit", auditHandler.Recent)
		r.Get("/audit/studies/{studyUID}", auditHandler.ByStudy)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
