package cfg

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"rul-service/internal/common"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	AppVersion     string
	ModelDir       string
	Port           int
	Calibration    Calibration
	MCWorkers      int
	RequestTimeout time.Duration
	Remote         RemoteSettings
	ONNXRuntimeLib string
	RegistryPath   string
	MQTT           MQTTSettings
	Drift          DriftSettings
	LogLevel       string
}

// Calibration holds the post-model correction and clamping bounds.
// RulMax is nil when predictions are unbounded above.
type Calibration struct {
	Mode   string
	A      float64
	B      float64
	T      float64
	BLow   float64
	BHigh  float64
	RulMin float64
	RulMax *float64
}

type RemoteSettings struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// MQTTSettings configure the optional broker bridge; an empty Broker disables it.
type MQTTSettings struct {
	Broker       string
	ClientID     string
	RequestTopic string
	ResultTopic  string
}

func (m MQTTSettings) Enabled() bool { return m.Broker != "" }

// DriftSettings configure input drift monitoring; a zero Window disables it.
type DriftSettings struct {
	Window    int
	Threshold float64
}

type ConfigFile struct {
	App struct {
		Version  string `yaml:"version"`
		Port     int    `yaml:"port"`
		LogLevel string `yaml:"logLevel"`
	} `yaml:"app"`

	Model struct {
		Dir            string `yaml:"dir"`
		RegistryPath   string `yaml:"registryPath"`
		ONNXRuntimeLib string `yaml:"onnxRuntimeLib"`
		MCWorkers      int    `yaml:"mcWorkers"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"model"`

	Calibration struct {
		Mode   *string  `yaml:"mode"`
		A      *float64 `yaml:"a"`
		B      *float64 `yaml:"b"`
		T      *float64 `yaml:"t"`
		BLow   *float64 `yaml:"bLow"`
		BHigh  *float64 `yaml:"bHigh"`
		RulMin *float64 `yaml:"rulMin"`
		RulMax *float64 `yaml:"rulMax"`
	} `yaml:"calibration"`

	Remote struct {
		URL     string `yaml:"url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"remote"`

	MQTT struct {
		Broker       string `yaml:"broker"`
		ClientID     string `yaml:"clientID"`
		RequestTopic string `yaml:"requestTopic"`
		ResultTopic  string `yaml:"resultTopic"`
	} `yaml:"mqtt"`

	Drift struct {
		Window    *int     `yaml:"window"`
		Threshold *float64 `yaml:"threshold"`
	} `yaml:"drift"`
}

// Load builds Settings from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables, and validates the result.
func Load() (Settings, error) {
	settings := Defaults()

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		if err := applyYAML(&settings, configPath); err != nil {
			return Settings{}, err
		}
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		AppVersion: common.DefaultAppVersion,
		ModelDir:   common.DefaultModelDir,
		Port:       common.DefaultPort,
		Calibration: Calibration{
			Mode:   common.DefaultCalibMode,
			A:      common.DefaultCalibA,
			B:      common.DefaultCalibB,
			T:      common.DefaultCalibT,
			BLow:   common.DefaultCalibBLow,
			BHigh:  common.DefaultCalibBHigh,
			RulMin: common.DefaultRulMin,
		},
		MCWorkers:      common.DefaultMCWorkers,
		RequestTimeout: common.DefaultRequestTimeout,
		Remote: RemoteSettings{
			Model:   common.DefaultRemoteModelName,
			Timeout: common.DefaultRemoteTimeout,
		},
		MQTT: MQTTSettings{
			ClientID:     common.DefaultMQTTClientID,
			RequestTopic: common.DefaultMQTTRequest,
			ResultTopic:  common.DefaultMQTTResult,
		},
		Drift: DriftSettings{
			Window:    common.DefaultDriftWindow,
			Threshold: common.DefaultDriftThreshold,
		},
		LogLevel: common.DefaultLogLevel,
	}
}

func applyYAML(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&s.AppVersion, config.App.Version)
	setInt(&s.Port, config.App.Port)
	setString(&s.LogLevel, config.App.LogLevel)

	setString(&s.ModelDir, config.Model.Dir)
	setString(&s.RegistryPath, config.Model.RegistryPath)
	setString(&s.ONNXRuntimeLib, config.Model.ONNXRuntimeLib)
	setInt(&s.MCWorkers, config.Model.MCWorkers)
	if err := setDuration(&s.RequestTimeout, "model.requestTimeout", config.Model.RequestTimeout); err != nil {
		return err
	}

	c := config.Calibration
	if c.Mode != nil {
		s.Calibration.Mode = *c.Mode
	}
	for _, f := range []struct {
		dst *float64
		src *float64
	}{
		{&s.Calibration.A, c.A},
		{&s.Calibration.B, c.B},
		{&s.Calibration.T, c.T},
		{&s.Calibration.BLow, c.BLow},
		{&s.Calibration.BHigh, c.BHigh},
		{&s.Calibration.RulMin, c.RulMin},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	if c.RulMax != nil {
		v := *c.RulMax
		s.Calibration.RulMax = &v
	}

	setString(&s.Remote.URL, config.Remote.URL)
	setString(&s.Remote.Model, config.Remote.Model)
	if err := setDuration(&s.Remote.Timeout, "remote.timeout", config.Remote.Timeout); err != nil {
		return err
	}

	setString(&s.MQTT.Broker, config.MQTT.Broker)
	setString(&s.MQTT.ClientID, config.MQTT.ClientID)
	setString(&s.MQTT.RequestTopic, config.MQTT.RequestTopic)
	setString(&s.MQTT.ResultTopic, config.MQTT.ResultTopic)

	if config.Drift.Window != nil {
		s.Drift.Window = *config.Drift.Window
	}
	if config.Drift.Threshold != nil {
		s.Drift.Threshold = *config.Drift.Threshold
	}

	return nil
}

// applyEnv overrides s with any environment variable that is set. Malformed
// values are reported rather than silently ignored.
func applyEnv(s *Settings) error {
	e := envReader{}

	s.AppVersion = getEnvOrDefault(common.EnvAppVersion, s.AppVersion)
	s.ModelDir = getEnvOrDefault(common.EnvModelDir, s.ModelDir)
	s.Port = e.int(common.EnvPort, s.Port)

	s.Calibration.Mode = strings.ToLower(getEnvOrDefault(common.EnvCalibMode, s.Calibration.Mode))
	s.Calibration.A = e.float(common.EnvCalibA, s.Calibration.A)
	s.Calibration.B = e.float(common.EnvCalibB, s.Calibration.B)
	s.Calibration.T = e.float(common.EnvCalibT, s.Calibration.T)
	s.Calibration.BLow = e.float(common.EnvCalibBLow, s.Calibration.BLow)
	s.Calibration.BHigh = e.float(common.EnvCalibBHigh, s.Calibration.BHigh)
	s.Calibration.RulMin = e.float(common.EnvRulMin, s.Calibration.RulMin)
	if os.Getenv(common.EnvRulMax) != "" {
		rulMax := e.float(common.EnvRulMax, 0)
		s.Calibration.RulMax = &rulMax
	}

	s.MCWorkers = e.int(common.EnvMCWorkers, s.MCWorkers)
	s.RequestTimeout = e.duration(common.EnvRequestTimeout, s.RequestTimeout)

	s.Remote.URL = getEnvOrDefault(common.EnvRemoteModelURL, s.Remote.URL)
	s.Remote.Model = getEnvOrDefault(common.EnvRemoteModelName, s.Remote.Model)
	s.Remote.Timeout = e.duration(common.EnvRemoteTimeout, s.Remote.Timeout)

	s.ONNXRuntimeLib = getEnvOrDefault(common.EnvONNXRuntimeLib, s.ONNXRuntimeLib)
	s.RegistryPath = getEnvOrDefault(common.EnvRegistryPath, s.RegistryPath)

	s.MQTT.Broker = getEnvOrDefault(common.EnvMQTTBroker, s.MQTT.Broker)
	s.MQTT.ClientID = getEnvOrDefault(common.EnvMQTTClientID, s.MQTT.ClientID)
	s.MQTT.RequestTopic = getEnvOrDefault(common.EnvMQTTRequest, s.MQTT.RequestTopic)
	s.MQTT.ResultTopic = getEnvOrDefault(common.EnvMQTTResult, s.MQTT.ResultTopic)

	s.Drift.Window = e.int(common.EnvDriftWindow, s.Drift.Window)
	s.Drift.Threshold = e.float(common.EnvDriftThreshold, s.Drift.Threshold)

	s.LogLevel = getEnvOrDefault(common.EnvLogLevel, s.LogLevel)

	return e.err
}

// envReader parses typed environment values and keeps the first failure.
type envReader struct {
	err error
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid value %q for %s: %w", v, key, err)
	}
}

func (e *envReader) int(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return defaultValue
	}
	return i
}

func (e *envReader) float(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return defaultValue
	}
	return f
}

func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := parseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return defaultValue
	}
	return d
}

// parseDuration accepts Go durations ("30s") and bare seconds ("30").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fmt.Errorf("config file %s: %w", field, err)
	}
	*dst = d
	return nil
}

// validateSettings checks ranges and cross-field constraints
func validateSettings(settings *Settings) error {
	if settings.ModelDir == "" {
		return fmt.Errorf("model directory cannot be empty")
	}
	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}

	c := settings.Calibration
	if c.Mode != "linear" && c.Mode != "piecewise" {
		return fmt.Errorf("calibration mode must be linear or piecewise, got %q", c.Mode)
	}
	for name, v := range map[string]float64{
		"calibration A":      c.A,
		"calibration B":      c.B,
		"calibration T":      c.T,
		"calibration B low":  c.BLow,
		"calibration B high": c.BHigh,
		"RUL min":            c.RulMin,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %v", name, v)
		}
	}
	if c.RulMax != nil {
		if math.IsNaN(*c.RulMax) || math.IsInf(*c.RulMax, 0) {
			return fmt.Errorf("RUL max must be finite, got %v", *c.RulMax)
		}
		if *c.RulMax < c.RulMin {
			return fmt.Errorf("RUL max (%g) is below RUL min (%g)", *c.RulMax, c.RulMin)
		}
	}

	if settings.MCWorkers < 1 || settings.MCWorkers > common.MaxMCWorkers {
		return fmt.Errorf("MC workers must be between 1 and %d, got %d", common.MaxMCWorkers, settings.MCWorkers)
	}

	for name, d := range map[string]time.Duration{
		"request timeout": settings.RequestTimeout,
		"remote timeout":  settings.Remote.Timeout,
	} {
		if d < common.MinTimeout || d > common.MaxTimeout {
			return fmt.Errorf("%s must be between %v and %v, got %v", name, common.MinTimeout, common.MaxTimeout, d)
		}
	}

	if settings.Drift.Window < 0 || settings.Drift.Window > common.MaxDriftWindow {
		return fmt.Errorf("drift window must be between 0 and %d, got %d", common.MaxDriftWindow, settings.Drift.Window)
	}
	if settings.Drift.Threshold <= 0 {
		return fmt.Errorf("drift threshold must be positive, got %g", settings.Drift.Threshold)
	}

	if settings.Remote.URL != "" && settings.Remote.Model == "" {
		return fmt.Errorf("remote model name is required when a remote model URL is set")
	}
	if settings.MQTT.Enabled() {
		if settings.MQTT.RequestTopic == "" || settings.MQTT.ResultTopic == "" {
			return fmt.Errorf("MQTT request and result topics are required when a broker is set")
		}
		if strings.ContainsAny(settings.MQTT.ResultTopic, "#+") {
			return fmt.Errorf("MQTT result topic cannot contain wildcards")
		}
	}

	return nil
}
