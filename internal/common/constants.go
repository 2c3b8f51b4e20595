package common

import "time"

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvAppVersion      = "APP_VERSION"
	EnvModelDir        = "MODEL_DIR"
	EnvPort            = "PORT"
	EnvCalibA          = "CALIB_A"
	EnvCalibB          = "CALIB_B"
	EnvCalibMode       = "CALIB_MODE"
	EnvCalibT          = "CALIB_T"
	EnvCalibBLow       = "CALIB_B_LOW"
	EnvCalibBHigh      = "CALIB_B_HIGH"
	EnvRulMin          = "RUL_MIN"
	EnvRulMax          = "RUL_MAX"
	EnvMCWorkers       = "MC_WORKERS"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"
	EnvRemoteModelURL  = "REMOTE_MODEL_URL"
	EnvRemoteModelName = "REMOTE_MODEL_NAME"
	EnvRemoteTimeout   = "REMOTE_TIMEOUT"
	EnvONNXRuntimeLib  = "ONNXRUNTIME_LIB"
	EnvRegistryPath    = "REGISTRY_PATH"
	EnvMQTTBroker      = "MQTT_BROKER"
	EnvMQTTClientID    = "MQTT_CLIENT_ID"
	EnvMQTTRequest     = "MQTT_REQUEST_TOPIC"
	EnvMQTTResult      = "MQTT_RESULT_TOPIC"
	EnvDriftWindow     = "DRIFT_WINDOW"
	EnvDriftThreshold  = "DRIFT_THRESHOLD"
	EnvLogLevel        = "LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultAppVersion      = "1.0.0"
	DefaultModelDir        = "models/fd001_lstm_v1"
	DefaultPort            = 8000
	DefaultCalibA          = 1.0
	DefaultCalibB          = 0.0
	DefaultCalibMode       = "linear"
	DefaultCalibT          = 120.0
	DefaultCalibBLow       = 0.0
	DefaultCalibBHigh      = -8.0
	DefaultRulMin          = 0.0
	DefaultMCWorkers       = 1
	DefaultRemoteModelName = "rul"
	DefaultMQTTClientID    = "rul-service"
	DefaultMQTTRequest     = "rul/requests"
	DefaultMQTTResult      = "rul/predictions"
	DefaultLogLevel        = "info"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultRemoteTimeout   = 10 * time.Second
	DefaultDriftWindow     = 500
	DefaultDriftThreshold  = 2.0
)

// Validation constants
const (
	MinPort        = 1
	MaxPort        = 65535
	MaxMCWorkers   = 64
	MinTimeout     = time.Second
	MaxTimeout     = 5 * time.Minute
	MaxDriftWindow = 100000
)

// C-MAPSS benchmark defaults
const (
	DefaultBenchReport   = "predicoes_fd001.csv"
	DefaultPayloadPasses = 30
)
