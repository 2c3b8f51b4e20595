package cmapss

import (
	"context"
	"errors"
	"fmt"
	"math"

	"rul-service/internal/ml"
	"rul-service/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/sajari/regression"
)

// Predictor is satisfied by both the HTTP client and the in-process pipeline.
type Predictor interface {
	Predict(ctx context.Context, req ml.PredictRequest) (*ml.PredictResponse, error)
}

// Result pairs one unit's prediction with its ground truth.
type Result struct {
	Unit int
	True float64
	Pred float64
}

// Error is signed: positive means the model overestimated remaining life.
func (r Result) Error() float64 { return r.Pred - r.True }

func (r Result) AbsError() float64 { return math.Abs(r.Error()) }

// Metrics summarises a benchmark run.
type Metrics struct {
	Units             int
	MAE               float64
	RMSE              float64
	NASAScore         float64
	OverestimationPct float64
}

// Record converts m for storage in the model registry.
func (m Metrics) Record() storage.EvalMetrics {
	return storage.EvalMetrics{
		MAE:            m.MAE,
		RMSE:           m.RMSE,
		NASAScore:      m.NASAScore,
		Overestimation: m.OverestimationPct,
		Units:          m.Units,
	}
}

type EngineConfig struct {
	Window   int
	MCPasses int
	Schema   ml.Schema
}

// Engine replays every test unit's last window through a Predictor.
type Engine struct {
	config    EngineConfig
	predictor Predictor
	data      *Dataset
	truth     []float64
}

func NewEngine(config EngineConfig, predictor Predictor, data *Dataset, truth []float64) *Engine {
	return &Engine{config: config, predictor: predictor, data: data, truth: truth}
}

// Run predicts every unit in ascending order. The i-th true RUL is matched
// to the i-th unit; units without a true value get NaN.
func (e *Engine) Run(ctx context.Context) ([]Result, error) {
	units := e.data.Units()
	if len(units) == 0 {
		return nil, errors.New("test data holds no units")
	}
	if len(e.truth) != len(units) {
		log.Warn().
			Int("rul_values", len(e.truth)).
			Int("units", len(units)).
			Msg("RUL count differs from unit count, matching by ascending unit order")
	}

	results := make([]Result, 0, len(units))
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		req, err := BuildRequest(e.data, unit, e.config.Window, e.config.MCPasses, e.config.Schema)
		if err != nil {
			return results, err
		}
		resp, err := e.predictor.Predict(ctx, req)
		if err != nil {
			return results, fmt.Errorf("unit %d: %w", unit, err)
		}

		truth := math.NaN()
		if i < len(e.truth) {
			truth = e.truth[i]
		}
		results = append(results, Result{Unit: unit, True: truth, Pred: resp.RulPred})

		log.Debug().Int("unit", unit).Float64("rul_true", truth).Float64("rul_pred", resp.RulPred).Msg("unit scored")
	}
	return results, nil
}

// NASAScore is the asymmetric C-MAPSS penalty for a single error d = pred - true.
// Late predictions (d > 0) are penalised more heavily than early ones.
func NASAScore(d float64) float64 {
	if d < 0 {
		return math.Exp(-d/13) - 1
	}
	return math.Exp(d/10) - 1
}

// Evaluate computes metrics over results with a finite true RUL.
func Evaluate(results []Result) Metrics {
	var m Metrics
	var absSum, sqSum float64
	var over int

	for _, r := range results {
		if math.IsNaN(r.True) {
			continue
		}
		d := r.Error()
		m.Units++
		absSum += math.Abs(d)
		sqSum += d * d
		m.NASAScore += NASAScore(d)
		if d > 0 {
			over++
		}
	}
	if m.Units == 0 {
		return m
	}

	n := float64(m.Units)
	m.MAE = absSum / n
	m.RMSE = math.Sqrt(sqSum / n)
	m.OverestimationPct = 100 * float64(over) / n
	return m
}

// CalibrationFit holds the least squares fit RUL_true ~ A*RUL_pred + B.
type CalibrationFit struct {
	A  float64
	B  float64
	R2 float64
}

// FitCalibration fits linear calibration coefficients from scored results.
func FitCalibration(results []Result) (CalibrationFit, error) {
	var r regression.Regression
	r.SetObserved("rul_true")
	r.SetVar(0, "rul_pred")

	points := 0
	for _, res := range results {
		if math.IsNaN(res.True) {
			continue
		}
		r.Train(regression.DataPoint(res.True, []float64{res.Pred}))
		points++
	}
	if points < 3 {
		return CalibrationFit{}, fmt.Errorf("calibration fit needs at least 3 scored units, got %d", points)
	}

	if err := r.Run(); err != nil {
		return CalibrationFit{}, fmt.Errorf("calibration fit failed: %w", err)
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) < 2 {
		return CalibrationFit{}, fmt.Errorf("calibration fit returned %d coefficients", len(coeffs))
	}
	return CalibrationFit{A: coeffs[1], B: coeffs[0], R2: r.R2}, nil
}
