package ml

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// MaxMCPasses bounds the number of stochastic passes per request.
const MaxMCPasses = 100

// MetricsInterface defines metrics methods needed by the prediction pipeline
type MetricsInterface interface {
	PredictionsInc(mode string)
	FailuresInc(stage string)
	LatencyObserve(float64)
	InvocationInc(path string)
	StochasticFallbackInc()
	PredictionObserve(float64)
	UncertaintyObserve(float64)
	DriftObserve(feature string, score float64)
}

// Prediction modes reported to metrics.
const (
	ModeSingle = "single"
	ModeMC     = "mc_dropout"
)

// PredictRequest is one unit's reading history.
type PredictRequest struct {
	Unit      int       `json:"unit" validate:"gte=1"`
	Records   []Reading `json:"records" validate:"required,min=1"`
	MCPasses  int       `json:"mc_passes" validate:"gte=0,lte=100"`
	RequestID string    `json:"request_id,omitempty"`
}

// PredictResponse carries the calibrated prediction. RulStd and CI95 are set
// only for MC dropout requests.
type PredictResponse struct {
	Unit      int         `json:"unit"`
	RulPred   float64     `json:"rul_pred"`
	RulStd    *float64    `json:"rul_std,omitempty"`
	CI95      *[2]float64 `json:"ci95,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// HealthInfo is a read-only view of the loaded pipeline state.
type HealthInfo struct {
	Status           string             `json:"status"`
	Version          string             `json:"version"`
	ModelKind        string             `json:"model_kind"`
	StochasticLoaded bool               `json:"stochastic_loaded"`
	ModelDir         string             `json:"model_dir"`
	WindowSize       int                `json:"window_size"`
	FeatureCount     int                `json:"n_features"`
	RulMin           float64            `json:"rul_min"`
	RulMax           *float64           `json:"rul_max"`
	CalibMode        string             `json:"calib_mode"`
	CalibA           float64            `json:"calib_a"`
	CalibB           float64            `json:"calib_b"`
	CalibT           float64            `json:"calib_t"`
	CalibBLow        float64            `json:"calib_b_low"`
	CalibBHigh       float64            `json:"calib_b_high"`
	InvocationPaths  []string           `json:"invocation_paths"`
	Signatures       []string           `json:"signatures"`
	Drift            map[string]float64 `json:"drift,omitempty"`
}

// PredictorConfig contains configuration for the predictor
type PredictorConfig struct {
	Calibrator Calibrator
	MCWorkers  int
	Version    string
	Drift      DriftConfig
}

// Predictor composes window building, invocation, uncertainty estimation and
// calibration for one request at a time. Apart from the drift monitor, which
// locks internally, all fields are read-only after construction, so a
// Predictor is safe for concurrent use.
type Predictor struct {
	artifacts *Artifacts
	builder   *WindowBuilder
	invoker   *Invoker
	estimator *Estimator
	calib     Calibrator
	validate  *validator.Validate
	drift     *DriftMonitor
	metrics   MetricsInterface
	version   string
}

// NewPredictor wires the pipeline around loaded artifacts. metrics may be nil.
func NewPredictor(art *Artifacts, config PredictorConfig, metrics MetricsInterface) (*Predictor, error) {
	if art == nil || art.Primary == nil {
		return nil, fmt.Errorf("artifacts with a primary model are required")
	}

	builder, err := NewWindowBuilder(art.Schema, art.WindowSize, art.Scaler)
	if err != nil {
		return nil, fmt.Errorf("failed to create window builder: %w", err)
	}

	opts := []InvokerOption{WithInvokerMetrics(metrics)}
	if art.Graph != nil {
		opts = append(opts, WithSignatureFallback(art.Graph))
	}
	invoker := NewInvoker(art.Primary, opts...)

	calib := config.Calibrator
	if calib.Mode == "" {
		calib, _ = NewCalibrator(CalibLinear, 1, 0, 0, 0, 0, 0, nil)
	}

	p := &Predictor{
		artifacts: art,
		builder:   builder,
		invoker:   invoker,
		estimator: NewEstimator(art.Stochastic, invoker, config.MCWorkers, metrics),
		calib:     calib,
		validate:  newRequestValidator(),
		drift:     NewDriftMonitor(art.Schema, DriftReferenceFor(art.Scaler, len(art.Schema)), config.Drift, metrics),
		metrics:   metrics,
		version:   config.Version,
	}

	log.Info().
		Str("model_kind", art.Primary.Kind()).
		Bool("stochastic_loaded", art.Stochastic != nil).
		Int("window_size", art.WindowSize).
		Int("n_features", len(art.Schema)).
		Strs("invocation_paths", invoker.Paths()).
		Msg("prediction pipeline ready")

	return p, nil
}

// Predict validates the request and returns a calibrated, clamped prediction.
// Failures are always *PredictionError; no partial result is returned.
func (p *Predictor) Predict(ctx context.Context, req PredictRequest) (*PredictResponse, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.LatencyObserve(time.Since(start).Seconds())
		}
	}()

	if err := p.validateRequest(req); err != nil {
		return nil, p.fail(StageValidation, req, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, p.fail(StageValidation, req, err)
	}

	w, err := p.builder.Build(req.Records)
	if err != nil {
		return nil, p.fail(StageWindow, req, err)
	}
	p.drift.Observe(w)

	resp := &PredictResponse{Unit: req.Unit, RequestID: req.RequestID}

	if req.MCPasses > 0 {
		raw, err := p.estimator.Estimate(ctx, w, req.MCPasses)
		if err != nil {
			return nil, p.fail(StageUncertainty, req, err)
		}
		s := Summarize(p.calib.ApplyAll(raw))
		resp.RulPred = s.Mean
		resp.RulStd = &s.Std
		resp.CI95 = &s.CI95

		if p.metrics != nil {
			p.metrics.PredictionsInc(ModeMC)
			p.metrics.PredictionObserve(s.Mean)
			p.metrics.UncertaintyObserve(s.Std)
		}
		log.Debug().
			Int("unit", req.Unit).
			Int("mc_passes", req.MCPasses).
			Float64("rul_pred", s.Mean).
			Float64("rul_std", s.Std).
			Msg("mc dropout prediction")
		return resp, nil
	}

	raw, err := p.invoker.Invoke(w, false)
	if err != nil {
		return nil, p.fail(StageInference, req, err)
	}
	resp.RulPred = p.calib.Apply(raw)

	if p.metrics != nil {
		p.metrics.PredictionsInc(ModeSingle)
		p.metrics.PredictionObserve(resp.RulPred)
	}
	log.Debug().
		Int("unit", req.Unit).
		Float64("raw", raw).
		Float64("rul_pred", resp.RulPred).
		Msg("prediction")
	return resp, nil
}

// HealthInfo reports the loaded configuration without doing any work.
func (p *Predictor) HealthInfo() HealthInfo {
	var sigs []string
	if s, ok := p.artifacts.Primary.(SignatureInvoker); ok {
		sigs = s.Signatures()
	} else if p.artifacts.Graph != nil {
		sigs = p.artifacts.Graph.Signatures()
	}
	if sigs == nil {
		sigs = []string{}
	}

	return HealthInfo{
		Status:           "ok",
		Version:          p.version,
		ModelKind:        p.artifacts.Primary.Kind(),
		StochasticLoaded: p.artifacts.Stochastic != nil,
		ModelDir:         p.artifacts.Dir,
		WindowSize:       p.artifacts.WindowSize,
		FeatureCount:     len(p.artifacts.Schema),
		RulMin:           p.calib.Min,
		RulMax:           p.calib.UpperBound(),
		CalibMode:        p.calib.Mode,
		CalibA:           p.calib.A,
		CalibB:           p.calib.B,
		CalibT:           p.calib.T,
		CalibBLow:        p.calib.BLow,
		CalibBHigh:       p.calib.BHigh,
		InvocationPaths:  p.invoker.Paths(),
		Signatures:       sigs,
		Drift:            p.drift.Scores(),
	}
}

// Schema returns the required feature names.
func (p *Predictor) Schema() Schema { return p.artifacts.Schema }

func (p *Predictor) fail(stage string, req PredictRequest, err error) error {
	if p.metrics != nil {
		p.metrics.FailuresInc(stage)
	}
	log.Warn().
		Err(err).
		Str("stage", stage).
		Int("unit", req.Unit).
		Int("records", len(req.Records)).
		Int("mc_passes", req.MCPasses).
		Msg("prediction failed")
	return &PredictionError{Stage: stage, Err: err}
}

func (p *Predictor) validateRequest(req PredictRequest) error {
	err := p.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}

	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Reason: describeRule(fe)}
}

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report JSON field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}
