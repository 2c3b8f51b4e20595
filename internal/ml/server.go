package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	// streamHistoryLimit caps the records kept per unit on a websocket session.
	streamHistoryLimit = 512
	// maxRequestBytes bounds a /predict body and a websocket frame.
	maxRequestBytes = 1 << 20
)

// PredictService is the pipeline surface the server depends on.
type PredictService interface {
	Predict(ctx context.Context, req PredictRequest) (*PredictResponse, error)
	HealthInfo() HealthInfo
}

// ServerOptions tunes the HTTP server.
type ServerOptions struct {
	// RequestTimeout bounds each prediction; 0 means 30s.
	RequestTimeout time.Duration
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// ModelServer provides HTTP API for model predictions
type ModelServer struct {
	predictor PredictService
	server    *http.Server
	handler   http.Handler
	upgrader  websocket.Upgrader
	timeout   time.Duration
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	RequestID string `json:"request_id,omitempty"`
}

// StreamRequest is one websocket frame. With Append set, Records extend the
// unit's history kept for the session and the prediction covers all of it.
type StreamRequest struct {
	PredictRequest
	Append bool `json:"append,omitempty"`
	Reset  bool `json:"reset,omitempty"`
}

// NewModelServer creates a new HTTP server for model serving
func NewModelServer(predictor PredictService, port int, opts ServerOptions) *ModelServer {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	ms := &ModelServer{
		predictor: predictor,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		timeout:   opts.RequestTimeout,
	}

	r := mux.NewRouter()
	r.HandleFunc("/predict", ms.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/health", ms.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/ws", ms.handleStream).Methods(http.MethodGet)

	// CORS wraps the whole router so unmatched routes and preflights are covered too.
	ms.handler = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
	)(r)

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      ms.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler returns the routed handler, for embedding and tests.
func (ms *ModelServer) Handler() http.Handler { return ms.handler }

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PredictRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status := http.StatusUnprocessableEntity
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, ErrorResponse{Detail: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", req.RequestID)

	ctx, cancel := context.WithTimeout(r.Context(), ms.timeout)
	defer cancel()

	resp, err := ms.predictor.Predict(ctx, req)
	if err != nil {
		writeJSON(w, StatusForError(err), ErrorResponse{Detail: err.Error(), RequestID: req.RequestID})
		return
	}

	log.Debug().
		Str("request_id", req.RequestID).
		Int("unit", req.Unit).
		Dur("latency", time.Since(start)).
		Msg("predict served")
	writeJSON(w, http.StatusOK, resp)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ms.predictor.HealthInfo())
}

// handleStream serves predictions over a websocket. Each text frame is a
// StreamRequest; each reply is a PredictResponse or an ErrorResponse.
func (ms *ModelServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := ms.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	history := make(map[int][]Reading)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("websocket closed")
			}
			return
		}

		reply := ms.streamFrame(r.Context(), data, history)
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn().Err(err).Msg("websocket write failed")
			return
		}
	}
}

func (ms *ModelServer) streamFrame(parent context.Context, data []byte, history map[int][]Reading) any {
	var sr StreamRequest
	if err := json.Unmarshal(data, &sr); err != nil {
		return ErrorResponse{Detail: fmt.Sprintf("invalid request: %v", err)}
	}
	if sr.RequestID == "" {
		sr.RequestID = uuid.NewString()
	}

	if sr.Reset {
		delete(history, sr.Unit)
	}
	req := sr.PredictRequest
	prev, hadPrev := history[sr.Unit]
	if sr.Append {
		h := append(prev[:len(prev):len(prev)], sr.Records...)
		if len(h) > streamHistoryLimit {
			h = h[len(h)-streamHistoryLimit:]
		}
		history[sr.Unit] = h
		req.Records = h
	}

	ctx, cancel := context.WithTimeout(parent, ms.timeout)
	defer cancel()

	resp, err := ms.predictor.Predict(ctx, req)
	if err != nil {
		// A rejected frame leaves the unit's history as it was.
		if sr.Append {
			if hadPrev {
				history[sr.Unit] = prev
			} else {
				delete(history, sr.Unit)
			}
		}
		return ErrorResponse{Detail: err.Error(), RequestID: sr.RequestID}
	}
	return resp
}

// StatusForError maps pipeline errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrSchemaMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

// writeJSON encodes v before writing the status, so an unencodable value
// becomes a 500 with an ErrorResponse instead of an empty reply.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{Detail: "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
