package cmapss

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ReportHeader is the per-unit CSV layout.
var ReportHeader = []string{"unit", "RUL_true", "RUL_pred", "erro", "abs_erro"}

// Reporter writes benchmark outputs
type Reporter struct {
	results []Result
	metrics Metrics
}

func NewReporter(results []Result, metrics Metrics) *Reporter {
	return &Reporter{results: results, metrics: metrics}
}

// WriteCSV writes one row per unit to path.
func (r *Reporter) WriteCSV(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer file.Close()

	if err := r.writeCSV(file); err != nil {
		return err
	}

	log.Info().Str("file", path).Int("rows", len(r.results)).Msg("benchmark report written")
	return nil
}

func (r *Reporter) writeCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(ReportHeader); err != nil {
		return err
	}
	for _, res := range r.results {
		record := []string{
			strconv.Itoa(res.Unit),
			formatFloat(res.True),
			formatFloat(res.Pred),
			formatFloat(res.Error()),
			formatFloat(res.AbsError()),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSummary stores the metrics as JSON in the registry's format.
func (r *Reporter) WriteSummary(path string) error {
	data, err := json.MarshalIndent(r.metrics.Record(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// PrintSummary prints the headline metrics.
func (r *Reporter) PrintSummary(w io.Writer, csvPath string) {
	m := r.metrics
	fmt.Fprintf(w, "\n== Benchmark ==\n")
	fmt.Fprintf(w, "Units evaluated: %d\n", m.Units)
	fmt.Fprintf(w, "MAE : %.3f\n", m.MAE)
	fmt.Fprintf(w, "RMSE: %.3f\n", m.RMSE)
	fmt.Fprintf(w, "NASA: %.2f  (lower is better)\n", m.NASAScore)
	fmt.Fprintf(w, "Overestimation: %.1f%%\n", m.OverestimationPct)
	if csvPath != "" {
		fmt.Fprintf(w, "CSV saved to: %s\n", csvPath)
	}
}

// PrintCalibration prints a fit as environment settings.
func PrintCalibration(w io.Writer, fit CalibrationFit) {
	fmt.Fprintf(w, "\n== Linear calibration (R2 %.4f) ==\n", fit.R2)
	fmt.Fprintf(w, "CALIB_MODE=linear\n")
	fmt.Fprintf(w, "CALIB_A=%.6f\n", fit.A)
	fmt.Fprintf(w, "CALIB_B=%.6f\n", fit.B)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
