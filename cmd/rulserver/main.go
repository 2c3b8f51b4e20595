package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rul-service/internal/app"
	"rul-service/internal/bridge"
	"rul-service/internal/cfg"
	"rul-service/internal/metrics"
	"rul-service/internal/ml"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before configuration")
	pretty := flag.Bool("pretty", false, "Human readable console logs")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", *envFile).Msg("dotenv file not loaded")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel, *pretty)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	pipeline, err := app.Build(c, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model artifacts")
	}
	defer pipeline.Close()

	server := ml.NewModelServer(pipeline.Predictor, c.Port, ml.ServerOptions{
		RequestTimeout: c.RequestTimeout,
		Gatherer:       prometheus.DefaultGatherer,
	})

	var wg sync.WaitGroup
	startHTTPServer(ctx, &wg, server, cancel)

	mqttBridge := startBridge(c, pipeline.Predictor, mw)
	if mqttBridge != nil {
		defer mqttBridge.Stop()
	}

	log.Info().
		Int("port", c.Port).
		Str("version", c.AppVersion).
		Str("model_dir", pipeline.ModelDir).
		Bool("mqtt", mqttBridge != nil).
		Msg("RUL service started")

	waitForShutdown(ctx, cancel, &wg)
}

func setupLogging(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// startHTTPServer serves the API until ctx is canceled. A listen failure
// cancels ctx so the process exits.
func startHTTPServer(ctx context.Context, wg *sync.WaitGroup, server *ml.ModelServer, cancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown HTTP server")
		}
	}()
}

// startBridge connects the MQTT bridge when a broker is configured. A broker
// that cannot be reached is logged; the HTTP API keeps serving.
func startBridge(c cfg.Settings, predictor ml.PredictService, mw *metrics.MetricsWrapper) *bridge.Bridge {
	if !c.MQTT.Enabled() {
		return nil
	}

	b := bridge.New(predictor, bridge.Options{
		Broker:       c.MQTT.Broker,
		ClientID:     c.MQTT.ClientID,
		RequestTopic: c.MQTT.RequestTopic,
		ResultTopic:  c.MQTT.ResultTopic,
		Timeout:      c.RequestTimeout,
	}, mw)
	if err := b.Start(); err != nil {
		log.Error().Err(err).Str("broker", c.MQTT.Broker).Msg("MQTT bridge unavailable")
		return nil
	}
	return b
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
