package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
	"github.com/relabs-tech/inertial_calibration/internal/orientation"
)

// Config holds all application configuration values.
type Config struct {
	// Calibration session
	InitStaticDuration float64 // seconds
	GravityMagnitude   float64
	IntervalSamples    int
	AccUseMeans        bool
	TimestampUnit      string // s, ms, us, ns
	Verbose            bool

	// Priors: misalignment XY, XZ, YZ; scale and bias X, Y, Z
	AccPriorMisalignment  [3]float64
	AccPriorScale         [3]float64
	AccPriorBias          [3]float64
	GyroPriorMisalignment [3]float64
	GyroPriorScale        [3]float64
	GyroPriorBias         [3]float64

	// Gyroscope stage
	GyroOptimizeBias  bool
	GyroBiasFromInit  bool
	GyroDataPeriod    float64 // seconds, 0 = use timestamps
	IntegrationMethod string  // axis_angle or rk4

	// Static interval detection
	DetectorWindow               int
	DetectorThreshold            float64 // 0 = automatic
	DetectorThresholdMultipliers []float64
	MinStaticSamples             int // 0 = INTERVAL_SAMPLES
	MinStaticIntervals           int

	// Least squares
	SolverMaxIterations      int
	SolverFunctionTolerance  float64
	SolverGradientTolerance  float64
	SolverParameterTolerance float64
	SolverWorkers            int // 0 = GOMAXPROCS

	// MQTT
	MQTTBroker            string
	MQTTClientIDCalibrate string
	MQTTClientIDConsole   string
	MQTTClientIDWeb       string

	// Topics
	TopicCalibration string

	// Web Server
	WebServerPort int

	// IMU Hardware
	IMUName      string
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte
	// Timing
	IMUSampleInterval int // milliseconds
}

// Package-level singleton state. External code uses InitGlobal() to set and
// Get() to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for keys a file does not set.
func Default() *Config {
	return &Config{
		InitStaticDuration: 30,
		GravityMagnitude:   9.81,
		IntervalSamples:    100,
		TimestampUnit:      "s",

		AccPriorScale:  [3]float64{1, 1, 1},
		GyroPriorScale: [3]float64{1, 1, 1},

		GyroBiasFromInit:  true,
		IntegrationMethod: "axis_angle",

		DetectorWindow:               101,
		DetectorThresholdMultipliers: []float64{2, 3, 4, 5, 6, 7, 8, 9, 10},
		MinStaticIntervals:           2,

		SolverMaxIterations:      500,
		SolverFunctionTolerance:  1e-10,
		SolverGradientTolerance:  1e-12,
		SolverParameterTolerance: 1e-12,

		MQTTClientIDCalibrate: "inertial-calibrate",
		MQTTClientIDConsole:   "inertial-calibration-console",
		MQTTClientIDWeb:       "inertial-calibration-web",
		TopicCalibration:      "inertial/calibration",

		WebServerPort: 8080,

		IMUName:           "imu",
		IMUCSPin:          "",
		IMUSampleInterval: 10,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default().
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// parseList splits "a,b,c" (commas and/or spaces).
func parseList(key, value string) ([]float64, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := parseFloat(key, f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseTriple(key, value string) ([3]float64, error) {
	vals, err := parseList(key, value)
	if err != nil {
		return [3]float64{}, err
	}
	if len(vals) != 3 {
		return [3]float64{}, fmt.Errorf("%s needs 3 values, got %d", key, len(vals))
	}
	return [3]float64{vals[0], vals[1], vals[2]}, nil
}

func parseRange(key, value, help string) (byte, error) {
	v, err := parseInt(key, value)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 3 {
		return 0, fmt.Errorf("%s must be 0-3 (%s), got %d", key, help, v)
	}
	return byte(v), nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Calibration session
	case "INIT_STATIC_DURATION":
		c.InitStaticDuration, err = parseFloat(key, value)
	case "GRAVITY_MAGNITUDE":
		c.GravityMagnitude, err = parseFloat(key, value)
	case "INTERVAL_SAMPLES":
		c.IntervalSamples, err = parseInt(key, value)
	case "ACC_USE_MEANS":
		c.AccUseMeans, err = parseBool(key, value)
	case "TIMESTAMP_UNIT":
		c.TimestampUnit = value
	case "VERBOSE":
		c.Verbose, err = parseBool(key, value)

	// Priors
	case "ACC_PRIOR_MISALIGNMENT":
		c.AccPriorMisalignment, err = parseTriple(key, value)
	case "ACC_PRIOR_SCALE":
		c.AccPriorScale, err = parseTriple(key, value)
	case "ACC_PRIOR_BIAS":
		c.AccPriorBias, err = parseTriple(key, value)
	case "GYRO_PRIOR_MISALIGNMENT":
		c.GyroPriorMisalignment, err = parseTriple(key, value)
	case "GYRO_PRIOR_SCALE":
		c.GyroPriorScale, err = parseTriple(key, value)
	case "GYRO_PRIOR_BIAS":
		c.GyroPriorBias, err = parseTriple(key, value)

	// Gyroscope stage
	case "GYRO_OPTIMIZE_BIAS":
		c.GyroOptimizeBias, err = parseBool(key, value)
	case "GYRO_BIAS_FROM_INIT":
		c.GyroBiasFromInit, err = parseBool(key, value)
	case "GYRO_DATA_PERIOD":
		c.GyroDataPeriod, err = parseFloat(key, value)
	case "INTEGRATION_METHOD":
		c.IntegrationMethod = value

	// Static interval detection
	case "DETECTOR_WINDOW":
		c.DetectorWindow, err = parseInt(key, value)
	case "DETECTOR_THRESHOLD":
		c.DetectorThreshold, err = parseFloat(key, value)
	case "DETECTOR_THRESHOLD_MULTIPLIERS":
		c.DetectorThresholdMultipliers, err = parseList(key, value)
	case "MIN_STATIC_SAMPLES":
		c.MinStaticSamples, err = parseInt(key, value)
	case "MIN_STATIC_INTERVALS":
		c.MinStaticIntervals, err = parseInt(key, value)

	// Least squares
	case "SOLVER_MAX_ITERATIONS":
		c.SolverMaxIterations, err = parseInt(key, value)
	case "SOLVER_FUNCTION_TOLERANCE":
		c.SolverFunctionTolerance, err = parseFloat(key, value)
	case "SOLVER_GRADIENT_TOLERANCE":
		c.SolverGradientTolerance, err = parseFloat(key, value)
	case "SOLVER_PARAMETER_TOLERANCE":
		c.SolverParameterTolerance, err = parseFloat(key, value)
	case "SOLVER_WORKERS":
		c.SolverWorkers, err = parseInt(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CALIBRATE":
		c.MQTTClientIDCalibrate = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)

	// IMU Hardware
	case "IMU_NAME":
		c.IMUName = value
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseRange(key, value, "0=±2g, 1=±4g, 2=±8g, 3=±16g")
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseRange(key, value, "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s")
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks value ranges that do not depend on which tool runs.
func (c *Config) validate() error {
	if c.InitStaticDuration <= 0 {
		return fmt.Errorf("INIT_STATIC_DURATION must be > 0, got %g", c.InitStaticDuration)
	}
	if c.GravityMagnitude <= 0 {
		return fmt.Errorf("GRAVITY_MAGNITUDE must be > 0, got %g", c.GravityMagnitude)
	}
	if c.IntervalSamples < 1 {
		return fmt.Errorf("INTERVAL_SAMPLES must be >= 1, got %d", c.IntervalSamples)
	}
	if c.DetectorWindow < 3 {
		return fmt.Errorf("DETECTOR_WINDOW must be >= 3, got %d", c.DetectorWindow)
	}
	if c.DetectorThreshold < 0 {
		return fmt.Errorf("DETECTOR_THRESHOLD must be >= 0 (0 = automatic), got %g", c.DetectorThreshold)
	}
	if c.DetectorThreshold == 0 && len(c.DetectorThresholdMultipliers) == 0 {
		return fmt.Errorf("DETECTOR_THRESHOLD_MULTIPLIERS is required when DETECTOR_THRESHOLD is 0")
	}
	for _, m := range c.DetectorThresholdMultipliers {
		if m <= 0 {
			return fmt.Errorf("DETECTOR_THRESHOLD_MULTIPLIERS must be > 0, got %g", m)
		}
	}
	if c.MinStaticIntervals < 2 {
		return fmt.Errorf("MIN_STATIC_INTERVALS must be >= 2, got %d", c.MinStaticIntervals)
	}
	if c.GyroDataPeriod < 0 {
		return fmt.Errorf("GYRO_DATA_PERIOD must be >= 0, got %g", c.GyroDataPeriod)
	}
	if c.SolverMaxIterations < 1 {
		return fmt.Errorf("SOLVER_MAX_ITERATIONS must be >= 1, got %d", c.SolverMaxIterations)
	}
	if c.IMUSampleInterval <= 0 {
		return fmt.Errorf("IMU_SAMPLE_INTERVAL must be > 0, got %d", c.IMUSampleInterval)
	}
	if _, err := imu.ParseTimestampUnit(c.TimestampUnit); err != nil {
		return fmt.Errorf("TIMESTAMP_UNIT: %w", err)
	}
	if _, err := orientation.ParseMethod(c.IntegrationMethod); err != nil {
		return fmt.Errorf("INTEGRATION_METHOD: %w", err)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
