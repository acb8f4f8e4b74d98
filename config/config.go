// Package config loads the gate node configuration from config.yaml, .env
// and TRUCKGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"TruckGate/Adhoc"
	"TruckGate/allowlist"
	"TruckGate/engine"
	"TruckGate/gate"
	"TruckGate/pipeline"
	"TruckGate/plate"
	"TruckGate/policy"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config.yaml"

	EnvConfig     = "TRUCKGATE_CONFIG"
	EnvSerialPort = "TRUCKGATE_SERIAL_PORT"
	EnvRedisAddr  = "TRUCKGATE_REDIS_ADDR"
	EnvNATSURL    = "TRUCKGATE_NATS_URL"
)

const (
	AllowFile  = "file"
	AllowRedis = "redis"
)

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type AllowConfig struct {
	Backend       string `yaml:"backend"`
	File          string `yaml:"file"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisKey      string `yaml:"redisKey"`
}

// AuditConfig enables the audit log when Dialect is set.
type AuditConfig struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
}

type EventsConfig struct {
	NATSURL string `yaml:"natsURL"`
}

type Config struct {
	HTTPPort    int    `yaml:"HTTPPort"`
	RPCPort     int    `yaml:"RPCPort"`
	MetricsPort int    `yaml:"MetricsPort"`
	WorkersNum  int    `yaml:"workersNum"`
	QueueSize   int    `yaml:"queueSize"`
	StaticDir   string `yaml:"staticDir"`
	ModelsDir   string `yaml:"modelsDir"`

	Log       LogConfig             `yaml:"log"`
	Engine    engine.Config         `yaml:"engine"`
	OCR       plate.TesseractConfig `yaml:"ocr"`
	Pipeline  pipeline.Config       `yaml:"pipeline"`
	Gate      gate.Config           `yaml:"gate"`
	Allow     AllowConfig           `yaml:"allowlist"`
	Audit     AuditConfig           `yaml:"audit"`
	Events    EventsConfig          `yaml:"events"`
	RegServer Adhoc.RegServerConfig `yaml:"regServer"`

	// Warnings collects values corrected during Load; logged once the
	// logger exists.
	Warnings []string `yaml:"-"`
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	return &Config{
		HTTPPort:    8080,
		RPCPort:     50051,
		MetricsPort: 50053,
		WorkersNum:  1,
		StaticDir:   "static",
		ModelsDir:   "models",
		Log:         LogConfig{Mode: "production"},
		Engine: engine.Config{
			Kind:      engine.KindONNX,
			ModelPath: "models/best.onnx",
			Names:     []string{"car", "truck", "license_plate"},
			Timeout:   5 * time.Second,
		},
		OCR:      plate.TesseractConfig{Language: "eng"},
		Pipeline: pipeline.Config{PlateFloor: pipeline.DefaultPlateFloor, MatchMode: policy.MatchExact},
		Gate: gate.Config{
			Kind:   gate.KindSerial,
			Serial: gate.SerialConfig{BaudRate: gate.DefaultBaudRate, Settle: 2 * time.Second},
			MQTT:   gate.MQTTConfig{ClientID: "truckgate", Topic: gate.DefaultMQTTTopic, QoS: 1},
		},
		Allow: AllowConfig{
			Backend:  AllowFile,
			File:     "allowed_plates.json",
			RedisKey: allowlist.DefaultRedisKey,
		},
		RegServer: Adhoc.RegServerConfig{Port: 8081, Interval: Adhoc.TimeOutSeconds * time.Second},
	}
}

// Path returns flagPath when it was given explicitly, else TRUCKGATE_CONFIG,
// else flagPath.
func Path(flagPath string, explicit bool) string {
	if explicit {
		return flagPath
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return flagPath
}

// LoadEnv reads .env into the process environment if it exists.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load parses path over Default, applies environment overrides and corrects
// invalid values. A missing file yields the defaults plus a warning.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.warn("config file %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSerialPort); v != "" {
		c.Gate.Serial.Port = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Allow.RedisAddr = v
		c.Allow.Backend = AllowRedis
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Events.NATSURL = v
	}
}

func (c *Config) normalize() error {
	for name, port := range map[string]int{"HTTPPort": c.HTTPPort, "RPCPort": c.RPCPort, "MetricsPort": c.MetricsPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s %d", name, port)
		}
	}

	cpuNum := runtime.NumCPU()
	if c.WorkersNum <= 0 {
		c.warn("invalid workersNum %d, defaulting to 1", c.WorkersNum)
		c.WorkersNum = 1
	} else if c.WorkersNum > cpuNum {
		c.warn("workersNum %d exceeds CPU cores %d, which may lead to performance degradation", c.WorkersNum, cpuNum)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.WorkersNum
	}

	mode, err := policy.ParseMatchMode(string(c.Pipeline.MatchMode))
	if err != nil {
		c.warn("%v, defaulting to %s", err, policy.MatchExact)
		mode = policy.MatchExact
	}
	c.Pipeline.MatchMode = mode
	if f := c.Pipeline.PlateFloor; f <= 0 || f >= 1 {
		c.warn("invalid plateFloor %v, defaulting to %v", f, pipeline.DefaultPlateFloor)
		c.Pipeline.PlateFloor = pipeline.DefaultPlateFloor
	}

	switch c.Allow.Backend {
	case AllowFile:
		if c.Allow.File == "" {
			return errors.New("allowlist.file must be set for the file backend")
		}
	case AllowRedis:
		if c.Allow.RedisAddr == "" {
			return errors.New("allowlist.redisAddr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("unknown allowlist backend %q", c.Allow.Backend)
	}

	if c.Gate.MQTT.QoS > 2 {
		c.warn("invalid mqtt qos %d, defaulting to 1", c.Gate.MQTT.QoS)
		c.Gate.MQTT.QoS = 1
	}
	if c.RegServer.Enabled && c.RegServer.Host == "" {
		c.warn("regServer enabled without host, registration disabled")
		c.RegServer.Enabled = false
	}
	return nil
}
