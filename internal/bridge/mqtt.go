// Package bridge feeds predict requests arriving on an MQTT topic through the
// prediction pipeline and publishes each outcome per unit.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rul-service/internal/ml"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Message results reported to Metrics.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultInvalid = "invalid"
)

// InvalidSuffix is the result subtopic for payloads that carry no usable unit.
const InvalidSuffix = "invalid"

const (
	qosAtLeastOnce = 1
	connectTimeout = 10 * time.Second
	disconnectMs   = 250
)

// Metrics is the counter surface the bridge reports to.
type Metrics interface {
	MQTTMessageInc(result string)
}

type Options struct {
	Broker       string
	ClientID     string
	RequestTopic string
	ResultTopic  string
	// Timeout bounds each prediction; 0 means 30s.
	Timeout time.Duration
}

type Bridge struct {
	service ml.PredictService
	opts    Options
	metrics Metrics
	client  mqtt.Client
}

// New builds a bridge; nothing connects until Start.
func New(service ml.PredictService, opts Options, metrics Metrics) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	b := &Bridge{service: service, opts: opts, metrics: metrics}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetAutoReconnect(true)
	// handlers publish and wait, so they must not block the router
	clientOpts.SetOrderMatters(false)
	clientOpts.OnConnect = b.onConnect
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", opts.Broker).Msg("MQTT connection lost")
	}
	b.client = mqtt.NewClient(clientOpts)

	return b
}

// Start connects to the broker. Subscription happens on every (re)connect.
func (b *Bridge) Start() error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to %s: timed out", b.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", b.opts.Broker, err)
	}
	return nil
}

// Stop disconnects after letting in-flight work drain briefly.
func (b *Bridge) Stop() {
	if b.client.IsConnected() {
		b.client.Disconnect(disconnectMs)
	}
	log.Info().Msg("MQTT bridge stopped")
}

func (b *Bridge) onConnect(c mqtt.Client) {
	token := c.Subscribe(b.opts.RequestTopic, qosAtLeastOnce, b.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", b.opts.RequestTopic).Msg("MQTT subscribe failed")
		return
	}
	log.Info().Str("broker", b.opts.Broker).Str("topic", b.opts.RequestTopic).Msg("MQTT bridge subscribed")
}

func (b *Bridge) handleMessage(c mqtt.Client, msg mqtt.Message) {
	topic, body := b.Process(context.Background(), msg.Payload())

	token := c.Publish(topic, qosAtLeastOnce, false, body)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}

// Process runs one request payload and returns the result topic and body.
// Undecodable payloads are answered on <result>/invalid.
func (b *Bridge) Process(ctx context.Context, payload []byte) (string, []byte) {
	var req ml.PredictRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.count(ResultInvalid)
		log.Warn().Err(err).Msg("invalid MQTT predict request")
		return b.resultTopic(InvalidSuffix), encode(ml.ErrorResponse{Detail: fmt.Sprintf("invalid request: %v", err)})
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	topic := b.resultTopic(fmt.Sprint(req.Unit))
	resp, err := b.service.Predict(ctx, req)
	if err != nil {
		b.count(ResultError)
		log.Debug().Err(err).Int("unit", req.Unit).Str("request_id", req.RequestID).Msg("MQTT prediction failed")
		return topic, encode(ml.ErrorResponse{Detail: err.Error(), RequestID: req.RequestID})
	}

	b.count(ResultOK)
	return topic, encode(resp)
}

func (b *Bridge) resultTopic(suffix string) string {
	return b.opts.ResultTopic + "/" + suffix
}

func (b *Bridge) count(result string) {
	if b.metrics != nil {
		b.metrics.MQTTMessageInc(result)
	}
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(`{"detail":%q}`, err.Error()))
	}
	return data
}
