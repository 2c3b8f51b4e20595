package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"rul-service/internal/cmapss"
	"rul-service/internal/common"
	"rul-service/internal/ml"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		testPath = flag.String("test", "", "Path to raw test_FD001.txt")
		unit     = flag.Int("unit", 0, "Unit id (>= 1)")
		window   = flag.Int("ws", 30, "Window size")
		modelDir = flag.String("model_dir", common.DefaultModelDir, "Model directory holding features.json")
		mcPasses = flag.Int("mc", common.DefaultPayloadPasses, "mc_passes written to the payload")
		outPath  = flag.String("out", "", "Output file (default payload_fd001_unit<N>.json)")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *testPath == "" {
		flag.Usage()
		log.Fatal().Msg("--test is required")
	}
	if *unit < 1 {
		log.Fatal().Int("unit", *unit).Msg("--unit must be >= 1")
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

	req, err := cmapss.BuildRequest(data, *unit, *window, *mcPasses, schema)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build payload")
	}

	out := *outPath
	if out == "" {
		out = fmt.Sprintf("payload_fd001_unit%d.json", *unit)
	}

	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode payload")
	}
	if err := os.WriteFile(out, payload, 0o644); err != nil {
		log.Fatal().Err(err).Str("file", out).Msg("failed to write payload")
	}

	log.Info().
		Int("unit", *unit).
		Int("records", len(req.Records)).
		Str("file", out).
		Msg("payload written")
}
