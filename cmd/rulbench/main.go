package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rul-service/internal/app"
	"rul-service/internal/cfg"
	"rul-service/internal/cmapss"
	"rul-service/internal/common"
	"rul-service/internal/ml"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		testPath = flag.String("test", "", "Path to test_FD001.txt")
		rulPath  = flag.String("rul", "", "Path to RUL_FD001.txt")
		api      = flag.String("api", "http://localhost:8000", "Base URL of the RUL API")
		local    = flag.Bool("local", false, "Run the pipeline in process instead of calling --api (uses service configuration)")
		modelDir = flag.String("model_dir", common.DefaultModelDir, "Model directory holding features.json")
		window   = flag.Int("ws", 30, "Window size sent per unit")
		mcPasses = flag.Int("mc", 0, "mc_passes per request (0 disables uncertainty)")
		outPath  = flag.String("out", common.DefaultBenchReport, "CSV output path")
		summary  = flag.String("summary", "", "Optional JSON metrics output, accepted by rulregistry add --metrics")
		fitCalib = flag.Bool("fit-calibration", false, "Fit linear CALIB_A/CALIB_B from the results")
		timeout  = flag.Duration("timeout", 30*time.Second, "Per request timeout")
		logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *testPath == "" || *rulPath == "" {
		flag.Usage()
		log.Fatal().Msg("--test and --rul are required")
	}
	if *window < 1 {
		log.Fatal().Int("ws", *window).Msg("--ws must be >= 1")
	}
	if *mcPasses < 0 || *mcPasses > ml.MaxMCPasses {
		log.Fatal().Int("mc", *mcPasses).Msgf("--mc must be between 0 and %d", ml.MaxMCPasses)
	}

	schema, err := cmapss.ReadFeatures(*modelDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read model features")
	}
	data, err := cmapss.LoadTestFile(*testPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load test data")
	}
	truth, err := cmapss.LoadRULFile(*rulPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load true RUL values")
	}

	predictor, closeFn := newPredictor(*local, *api, *timeout)
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := cmapss.NewEngine(cmapss.EngineConfig{Window: *window, MCPasses: *mcPasses, Schema: schema}, predictor, data, truth)

	start := time.Now()
	results, err := engine.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Int("scored", len(results)).Msg("benchmark failed")
	}
	log.Info().Int("units", len(results)).Dur("elapsed", time.Since(start)).Msg("benchmark completed")

	reporter := cmapss.NewReporter(results, cmapss.Evaluate(results))
	if err := reporter.WriteCSV(*outPath); err != nil {
		log.Fatal().Err(err).Msg("failed to write report")
	}
	if *summary != "" {
		if err := reporter.WriteSummary(*summary); err != nil {
			log.Fatal().Err(err).Msg("failed to write summary")
		}
	}
	reporter.PrintSummary(os.Stdout, *outPath)

	if *fitCalib {
		fit, err := cmapss.FitCalibration(results)
		if err != nil {
			log.Error().Err(err).Msg("calibration fit failed")
			return
		}
		cmapss.PrintCalibration(os.Stdout, fit)
	}
}

// newPredictor returns the HTTP client, or with local set the in-process
// pipeline built from the service configuration.
func newPredictor(local bool, api string, timeout time.Duration) (cmapss.Predictor, func()) {
	if !local {
		log.Info().Str("api", api).Msg("benchmarking remote API")
		return ml.NewClient(api, timeout), func() {}
	}

	_ = godotenv.Load()
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	pipeline, err := app.Build(c, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build local pipeline")
	}
	log.Info().Str("model_dir", pipeline.ModelDir).Msg("benchmarking in-process pipeline")
	return pipeline.Predictor, func() {
		if err := pipeline.Close(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
