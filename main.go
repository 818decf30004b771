package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"palm/config"
	"palm/engine"
	"palm/experiments"
	"palm/experiments/metrics"
	"palm/observability"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML or HCL configuration file")
	logLevel := flag.String("log-level", "", "Log level, overrides the configuration file")
	seeds := flag.Int("seeds", 1, "Number of runs, seeded from the configured seed upwards")
	serve := flag.String("serve", "", "Serve the built-in simulator on this address instead of searching")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	if *serve != "" {
		serveSimulator(*serve)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msgf("Unknown log level %q", cfg.LogLevel)
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Exporter: cfg.Tracing.Exporter,
		Endpoint: cfg.Tracing.Endpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise tracing")
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown)

	var collector metrics.Collector
	if cfg.MetricsAddr != "" {
		prom, err := metrics.NewPrometheusCollector(nil)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to register metrics")
		}
		collector = prom
		serveMetrics(cfg.MetricsAddr, prom.Handler())
	}

	if *seeds > 1 {
		runs := make([]uint64, *seeds)
		for i := range runs {
			runs[i] = cfg.Seed + uint64(i)
		}
		_, err = experiments.RunSeeds(ctx, cfg, runs, collector)
	} else {
		_, err = experiments.Run(ctx, cfg, collector)
	}
	if errors.Is(err, context.Canceled) {
		log.Warn().Msg("Interrupted, partial results saved")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Generation failed")
		observability.ShutdownWithTimeout(context.Background(), shutdown)
		os.Exit(1)
	}
}

func serveMetrics(addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Msgf("Serving metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}

func serveSimulator(addr string) {
	server := &http.Server{Addr: addr, Handler: engine.NewHandler(engine.NewLocal()), ReadHeaderTimeout: 5 * time.Second}
	log.Info().Msgf("Serving simulator on %s/run", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("Simulator server stopped")
	}
}
