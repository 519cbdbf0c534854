package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/velia-labs/imagematch/internal/api"
	"github.com/velia-labs/imagematch/internal/api/handlers"
	"github.com/velia-labs/imagematch/internal/config"
	"github.com/velia-labs/imagematch/internal/database"
	"github.com/velia-labs/imagematch/internal/health"
	"github.com/velia-labs/imagematch/internal/migration"
	"github.com/velia-labs/imagematch/internal/repository"
	"github.com/velia-labs/imagematch/internal/services"
	"github.com/velia-labs/imagematch/pkg/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := utils.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	dbManager, err := database.NewManager(&database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    cfg.LogLevel,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer dbManager.Close()

	runner := migration.NewRunner(dbManager, logger)
	if err := runner.RunMigrations("./migrations"); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}

	repoManager := repository.NewRepositoryManager(dbManager.DB)
	cache := database.NewCache(dbManager.Redis, logger)

	searchService := services.NewSearchService(repoManager, cache, cfg.Paths.Dataset, cfg.Paths.Processed, logger)
	if err := searchService.LoadIndex(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to load descriptor index")
	}

	descriptorService := services.NewDescriptorService(searchService, cfg.Paths.Gabor, cfg.Paths.HuMoments, logger)
	authService := services.NewAuthService(repoManager, cfg.Google.TokenInfoURL, logger)

	healthChecker := health.NewHealthChecker(dbManager, repoManager.SystemHealth, cfg.Paths.Dataset, logger)

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go healthChecker.PeriodicHealthCheck(healthCtx, time.Minute)

	router := api.NewRouter(
		handlers.NewRetrievalHandler(searchService, logger),
		handlers.NewDescriptorHandler(descriptorService, logger),
		handlers.NewAuthHandler(authService, logger),
		healthChecker,
		api.StaticPaths{
			Dataset:   cfg.Paths.Dataset,
			Processed: cfg.Paths.Processed,
			Gabor:     cfg.Paths.Gabor,
			HuMoments: cfg.Paths.HuMoments,
		},
		logger,
	)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopHealth()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}

	logger.Info("Server stopped")
}
