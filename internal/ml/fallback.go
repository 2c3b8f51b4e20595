package ml

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Invocation paths, in priority order.
const (
	PathBatchPredict = "batch_predict"
	PathDirectCall   = "direct_call"
	PathSignature    = "signature"
)

// invocation is one calling convention in the fallback chain. Terminal
// strategies end the chain with their own result, success or failure.
type invocation struct {
	path     string
	terminal bool
	run      func(w *Window, stochastic bool) (float64, error)
}

// Invoker calls a model through an ordered list of calling conventions.
// The list is fixed at construction; Invoke holds no mutable state and is
// safe for concurrent use.
type Invoker struct {
	model      Model
	strategies []invocation
	metrics    MetricsInterface
}

// InvokerOption configures an Invoker.
type InvokerOption func(*invokerOptions)

type invokerOptions struct {
	signatureFallback SignatureInvoker
	metrics           MetricsInterface
}

// WithSignatureFallback sets the graph used for signature invocation when the
// primary model exposes no signatures of its own.
func WithSignatureFallback(s SignatureInvoker) InvokerOption {
	return func(o *invokerOptions) { o.signatureFallback = s }
}

// WithInvokerMetrics records which path served each invocation.
func WithInvokerMetrics(m MetricsInterface) InvokerOption {
	return func(o *invokerOptions) { o.metrics = m }
}

// NewInvoker builds the fallback chain for m:
//
//  1. batch predict, when available; its outcome is final
//  2. direct call with the inference mode flag; errors fall through
//  3. the default serving signature of m, or of the fallback graph
func NewInvoker(m Model, opts ...InvokerOption) *Invoker {
	var o invokerOptions
	for _, opt := range opts {
		opt(&o)
	}

	inv := &Invoker{model: m, metrics: o.metrics}

	if bp, ok := m.(BatchPredictor); ok {
		inv.strategies = append(inv.strategies, invocation{
			path:     PathBatchPredict,
			terminal: true,
			run: func(w *Window, _ bool) (float64, error) {
				return firstScalar(bp.PredictBatch(w))
			},
		})
	}

	if dc, ok := m.(DirectCaller); ok {
		inv.strategies = append(inv.strategies, invocation{
			path: PathDirectCall,
			run: func(w *Window, stochastic bool) (float64, error) {
				return firstScalar(dc.Call(w, stochastic))
			},
		})
	}

	sig, ok := m.(SignatureInvoker)
	if !ok || !slices.Contains(sig.Signatures(), DefaultSignature) {
		if o.signatureFallback != nil {
			sig, ok = o.signatureFallback, true
		}
	}
	if ok {
		inv.strategies = append(inv.strategies, invocation{
			path:     PathSignature,
			terminal: true,
			run: func(w *Window, _ bool) (float64, error) {
				return invokeDefaultSignature(sig, w)
			},
		})
	}

	return inv
}

// Paths lists the configured invocation paths in priority order.
func (inv *Invoker) Paths() []string {
	paths := make([]string, len(inv.strategies))
	for i, s := range inv.strategies {
		paths[i] = s.path
	}
	return paths
}

// Invoke returns the first scalar produced by the fallback chain. When every
// path fails the result is an *InferenceFailureError carrying the last error.
func (inv *Invoker) Invoke(w *Window, stochastic bool) (float64, error) {
	if w == nil {
		return 0, &InferenceFailureError{Err: errors.New("nil window")}
	}

	lastErr := errors.New("model exposes no invocation path")
	for _, s := range inv.strategies {
		y, err := s.run(w, stochastic)
		if err == nil {
			if inv.metrics != nil {
				inv.metrics.InvocationInc(s.path)
			}
			return y, nil
		}
		lastErr = fmt.Errorf("%s: %w", s.path, err)
		if s.terminal {
			break
		}
	}
	return 0, &InferenceFailureError{Err: lastErr}
}

func invokeDefaultSignature(sig SignatureInvoker, w *Window) (float64, error) {
	outputs, err := sig.InvokeSignature(DefaultSignature, w)
	if err != nil {
		return 0, err
	}
	if len(outputs) == 0 {
		return 0, fmt.Errorf("signature %s returned no outputs", DefaultSignature)
	}
	return firstScalar(outputs[0].Values, nil)
}

func firstScalar(values []float64, err error) (float64, error) {
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, errors.New("model returned an empty output")
	}
	if math.IsNaN(values[0]) || math.IsInf(values[0], 0) {
		return 0, fmt.Errorf("model returned a non-finite output %v", values[0])
	}
	return values[0], nil
}
