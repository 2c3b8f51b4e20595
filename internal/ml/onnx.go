package ml

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit sync.Mutex

// ONNXModel exposes an exported computation graph through its default
// serving signature. Graph inputs and outputs keep their declared order.
type ONNXModel struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputs    []ort.InputOutputInfo
	windowSize int
	features   int
}

// LoadONNXModel opens path with onnxruntime. lib is the shared library
// location; the environment is initialized on first use.
func LoadONNXModel(path string, windowSize, features int, lib string) (*ONNXModel, error) {
	if err := initONNXRuntime(lib); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect graph: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("graph must have exactly one input, has %d", len(inputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("graph declares no outputs")
	}

	outputNames := make([]string, len(outputs))
	for i, o := range outputs {
		outputNames[i] = o.Name
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputs[0].Name}, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ONNXModel{
		session:    session,
		inputName:  inputs[0].Name,
		outputs:    outputs,
		windowSize: windowSize,
		features:   features,
	}, nil
}

func initONNXRuntime(lib string) error {
	ortInit.Lock()
	defer ortInit.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

func (m *ONNXModel) Kind() string { return "ONNX" }

// Signatures returns the single serving signature of the graph.
func (m *ONNXModel) Signatures() []string { return []string{DefaultSignature} }

func (m *ONNXModel) InvokeSignature(name string, w *Window) ([]NamedTensor, error) {
	if name != DefaultSignature {
		return nil, fmt.Errorf("unknown signature %q", name)
	}
	if w.Steps != m.windowSize || w.Features != m.features {
		return nil, fmt.Errorf("graph expects window (%d, %d), got (%d, %d)", m.windowSize, m.features, w.Steps, w.Features)
	}

	shape := w.Shape()
	input, err := ort.NewTensor(ort.NewShape(int64(shape[0]), int64(shape[1]), int64(shape[2])), w.Float32())
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	outs := make([]*ort.Tensor[float32], len(m.outputs))
	values := make([]ort.Value, len(m.outputs))
	defer func() {
		for _, t := range outs {
			if t != nil {
				t.Destroy()
			}
		}
	}()
	for i, info := range m.outputs {
		t, err := ort.NewEmptyTensor[float32](concreteShape(info.Dimensions))
		if err != nil {
			return nil, fmt.Errorf("allocate output %s: %w", info.Name, err)
		}
		outs[i] = t
		values[i] = t
	}

	if err := m.session.Run([]ort.Value{input}, values); err != nil {
		return nil, fmt.Errorf("run graph: %w", err)
	}

	result := make([]NamedTensor, len(outs))
	for i, t := range outs {
		data := t.GetData()
		vals := make([]float64, len(data))
		for j, v := range data {
			vals[j] = float64(v)
		}
		result[i] = NamedTensor{Name: m.outputs[i].Name, Values: vals}
	}
	return result, nil
}

// Close destroys the session.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}

// concreteShape replaces dynamic dimensions with the batch size of one.
func concreteShape(dims ort.Shape) ort.Shape {
	out := make(ort.Shape, len(dims))
	for i, d := range dims {
		if d < 1 {
			d = 1
		}
		out[i] = d
	}
	return out
}
