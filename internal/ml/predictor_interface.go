// Package ml provides the remaining-useful-life inference pipeline.
// It turns a unit's raw per-cycle readings into a normalized window, dispatches
// it through whichever calling conventions the loaded model artifacts support,
// optionally estimates uncertainty with repeated stochastic passes, and applies
// the configured calibration and clamping to every raw output.
//
// The package also hosts the artifact loader, the HTTP model server and the
// API client used by the command line tools.
package ml

// DefaultSignature is the graph signature invoked when no higher level entry
// point is available.
const DefaultSignature = "serving_default"

// Model is a loaded model artifact. Its calling conventions are expressed by
// the optional capability interfaces below.
type Model interface {
	// Kind names the artifact format, e.g. "Native", "ONNX" or "Remote".
	Kind() string
}

// BatchPredictor is the high level batch-predict entry point. It always runs
// in inference mode.
type BatchPredictor interface {
	PredictBatch(w *Window) ([]float64, error)
}

// DirectCaller invokes the model with an explicit inference mode flag.
// stochastic=true keeps dropout active.
type DirectCaller interface {
	Call(w *Window, stochastic bool) ([]float64, error)
}

// NamedTensor is one output of a signature invocation.
type NamedTensor struct {
	Name   string
	Values []float64
}

// SignatureInvoker exposes the low level computation graph signatures.
// Outputs are returned in the signature's declared order.
type SignatureInvoker interface {
	Signatures() []string
	InvokeSignature(name string, w *Window) ([]NamedTensor, error)
}
