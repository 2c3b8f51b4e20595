package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"rul-service/internal/common"
	"rul-service/internal/ml"
	"rul-service/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: rulregistry [--registry DIR] <command> [flags]

commands:
  add --dir MODEL_DIR [--version V] [--metrics summary.json] [--activate]
  activate VERSION
  rollback
  list
`

func main() {
	registry := flag.String("registry", os.Getenv(common.EnvRegistryPath), "Registry directory (default $REGISTRY_PATH)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *registry == "" {
		log.Fatal().Msg("--registry or REGISTRY_PATH is required")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	store, err := storage.New(*registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open registry")
	}
	defer store.Close()
	mm := ml.NewModelManager(store)

	args := flag.Args()
	switch args[0] {
	case "add":
		err = runAdd(mm, args[1:])
	case "activate":
		if len(args) != 2 {
			err = fmt.Errorf("activate takes exactly one version")
			break
		}
		err = mm.ActivateVersion(args[1])
	case "rollback":
		var v ml.ModelVersion
		v, err = mm.Rollback()
		if err == nil {
			fmt.Printf("rolled back to %s (%s)\n", v.Version, v.Path)
		}
	case "list":
		err = runList(mm)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		store.Close()
		log.Fatal().Err(err).Str("command", args[0]).Msg("registry command failed")
	}
}

func runAdd(mm *ml.ModelManager, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	dir := fs.String("dir", "", "Model artifact directory")
	version := fs.String("version", "", "Version label (default config.json version)")
	metricsPath := fs.String("metrics", "", "Benchmark summary JSON written by rulbench --summary")
	activate := fs.Bool("activate", false, "Activate the version after adding it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("add requires --dir")
	}

	var metrics ml.ModelMetrics
	if *metricsPath != "" {
		data, err := os.ReadFile(*metricsPath)
		if err != nil {
			return fmt.Errorf("read metrics: %w", err)
		}
		if err := json.Unmarshal(data, &metrics); err != nil {
			return fmt.Errorf("parse metrics: %w", err)
		}
	}

	v, err := mm.AddVersion(*version, *dir, metrics)
	if err != nil {
		return err
	}
	fmt.Printf("added %s (%s)\n", v.Version, v.Path)

	if *activate {
		return mm.ActivateVersion(v.Version)
	}
	return nil
}

func runList(mm *ml.ModelManager) error {
	versions, err := mm.ListVersions()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTIVE\tVERSION\tCREATED\tMAE\tRMSE\tNASA\tUNITS\tPATH")
	for _, v := range versions {
		mark := ""
		if v.IsActive {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.3f\t%.2f\t%d\t%s\n",
			mark, v.Version, v.CreatedAt.Format("2006-01-02 15:04:05"),
			v.Metrics.MAE, v.Metrics.RMSE, v.Metrics.NASAScore, v.Metrics.Units, v.Path)
	}
	return w.Flush()
}
