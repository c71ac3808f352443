package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"logbench/pkg/ingest"
)

func main() {
	port := flag.Int("port", 18723, "listen port")
	latency := flag.Duration("latency", 0, "delay added to every write")
	failureRate := flag.Float64("failure-rate", 0, "fraction of writes answered with 503")
	maxPerDevice := flag.Int("max-per-device", 1000, "records retained per device, 0 keeps all")
	seed := flag.Int64("seed", 0, "seed for failure injection")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ingest-stub").Logger()

	if *failureRate < 0 || *failureRate > 1 {
		logger.Fatal().Float64("failure_rate", *failureRate).Msg("failure-rate must be within [0, 1]")
	}

	store := ingest.NewStore(*maxPerDevice)
	router := ingest.NewStubRouter(store, ingest.StubOptions{
		Latency:      *latency,
		FailureRate:  *failureRate,
		MaxPerDevice: *maxPerDevice,
		Seed:         *seed,
	}, prometheus.NewRegistry(), logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	go func() {
		logger.Info().
			Int("port", *port).
			Dur("latency", *latency).
			Float64("failure_rate", *failureRate).
			Msg("Starting ingestion stub")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stats := store.Stats()
	logger.Info().Int64("total_logs", stats.TotalLogs).Int("devices", stats.Devices).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
}
