package ml

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Estimator runs repeated stochastic forward passes (MC dropout) to sample
// the predictive distribution of a window.
type Estimator struct {
	stochastic Model
	invoker    *Invoker
	workers    int
	metrics    MetricsInterface
}

// NewEstimator creates an estimator. stochastic is the artifact retained for
// its ability to honor the inference mode flag; when nil the invoker's model
// is used. workers bounds concurrent passes; values below 1 mean sequential.
func NewEstimator(stochastic Model, invoker *Invoker, workers int, metrics MetricsInterface) *Estimator {
	if stochastic == nil {
		stochastic = invoker.model
	}
	if workers < 1 {
		workers = 1
	}
	return &Estimator{
		stochastic: stochastic,
		invoker:    invoker,
		workers:    workers,
		metrics:    metrics,
	}
}

// Estimate returns one raw scalar per pass. A pass whose stochastic call fails
// is recomputed deterministically; only a failed deterministic fallback aborts
// the batch.
func (e *Estimator) Estimate(ctx context.Context, w *Window, passes int) ([]float64, error) {
	if passes <= 0 {
		return nil, fmt.Errorf("passes must be positive, got %d", passes)
	}

	preds := make([]float64, passes)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := 0; i < passes; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			y, err := e.pass(w)
			if err != nil {
				return fmt.Errorf("pass %d: %w", i, err)
			}
			preds[i] = y
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return preds, nil
}

func (e *Estimator) pass(w *Window) (float64, error) {
	if dc, ok := e.stochastic.(DirectCaller); ok {
		y, err := firstScalar(dc.Call(w, true))
		if err == nil {
			return y, nil
		}
		log.Debug().Err(err).Str("model_kind", e.stochastic.Kind()).Msg("stochastic pass failed, using deterministic path")
	}

	if e.metrics != nil {
		e.metrics.StochasticFallbackInc()
	}
	return e.invoker.Invoke(w, false)
}
