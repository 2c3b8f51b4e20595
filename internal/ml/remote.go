package ml

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteModel calls a TensorFlow Serving REST endpoint. It only offers
// batch prediction; the server always runs in inference mode.
type RemoteModel struct {
	base string
	name string
	rest *resty.Client
}

type tfServingRequest struct {
	Instances [][][]float64 `json:"instances"`
}

type tfServingResponse struct {
	Predictions []any  `json:"predictions"`
	Error       string `json:"error,omitempty"`
}

// NewRemoteModel targets base (e.g. http://tf-serving:8501) and model name.
func NewRemoteModel(base, name string, timeout time.Duration) *RemoteModel {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Second)
	}
	if name == "" {
		name = "rul"
	}
	return &RemoteModel{base: strings.TrimRight(base, "/"), name: name, rest: r}
}

func (m *RemoteModel) Kind() string { return "Remote" }

func (m *RemoteModel) PredictBatch(w *Window) ([]float64, error) {
	path := fmt.Sprintf("/v1/models/%s:predict", m.name)

	result := &tfServingResponse{}
	resp, err := m.rest.R().
		SetBody(tfServingRequest{Instances: [][][]float64{w.Rows()}}).
		SetResult(result).
		SetError(result).
		Post(m.base + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("serving error: status %d: %s", resp.StatusCode(), result.Error)
	}

	out := flattenPredictions(result.Predictions, nil)
	if len(out) == 0 {
		return nil, fmt.Errorf("serving returned no predictions")
	}
	return out, nil
}

func flattenPredictions(v any, out []float64) []float64 {
	switch x := v.(type) {
	case float64:
		return append(out, x)
	case []any:
		for _, e := range x {
			out = flattenPredictions(e, out)
		}
	}
	return out
}
