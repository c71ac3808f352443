package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"logbench/pkg/config"
	"logbench/pkg/dispatch"
	"logbench/pkg/loadtest"
	"logbench/pkg/promquery"
)

const version = "1.0.0"

func main() {
	// Environment variables take precedence over the config file
	configPath := getEnv("CONFIG_PATH", "")

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load config")
	}
	port := getEnv("PORT", strconv.Itoa(cfg.Server.Port))
	storagePath := getEnv("STORAGE_PATH", cfg.Server.StoragePath)

	logger := newLogger(cfg.Log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := loadtest.NewService(storagePath, cfg.LoadTest, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create load test service")
	}
	service.
		WithRecorder(dispatch.NewPrometheusRecorder(registry)).
		WithSampling(cfg.Resources)

	promClient, err := promquery.NewClient(cfg.Metrics.URL, cfg.Metrics.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create metrics client")
	}
	service.WithExporter(promquery.NewExporter(promClient, cfg.Metrics.Config, logger), cfg.Metrics.Enabled)

	handler := &APIHandler{
		service:   service,
		logger:    logger,
		startTime: time.Now(),
	}

	if gin.Mode() == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	handler.register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		logger.Info().
			Str("port", port).
			Str("storage_path", storagePath).
			Str("target", cfg.LoadTest.BaseURL).
			Bool("auto_export", cfg.Metrics.Enabled).
			Msg("Starting logbench server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Stop the running test so its partial report is saved
	if err := service.StopRun(); err == nil {
		logger.Info().Msg("Stopped running load test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}

func newLogger(c config.LogConfig) zerolog.Logger {
	var logger zerolog.Logger
	if c.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(c.Level).With().Timestamp().Logger()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
