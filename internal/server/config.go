package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/sshdlink/internal/command"
	"github.com/shaunagostinho/sshdlink/internal/logger"
	"github.com/shaunagostinho/sshdlink/internal/realtime"
	"github.com/shaunagostinho/sshdlink/internal/sensor"
	"github.com/shaunagostinho/sshdlink/internal/transport"
)

// DefaultPath is where the service looks for its configuration.
const DefaultPath = "/etc/sshdlink/config.yaml"

// Config holds all service configuration.
type Config struct {
	mu sync.RWMutex

	// Sensor connection
	Sensor sensor.Config `yaml:"sensor" json:"sensor"`

	// Interval-data streaming
	Stream StreamConfig `yaml:"stream" json:"stream"`

	// Logging
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type StreamConfig struct {
	Request      command.RequestType    `yaml:"request" json:"request"` // 1 lane, 2 approach, 3 all
	Target       uint8                  `yaml:"target" json:"target"`   // 255 = every lane/approach
	Push         command.DataPushConfig `yaml:"push" json:"push"`
	StopOnNoData bool                   `yaml:"stop_on_no_data" json:"stopOnNoData"`
	AutoStart    bool                   `yaml:"auto_start" json:"autoStart"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sensor: sensor.Config{
			Transport: sensor.TransportDemo,
			Serial: transport.SerialConfig{
				PortPath: "/dev/ttyUSB0",
				BaudRate: 9600,
			},
			Link: transport.DefaultConfig(),
		},
		Stream: StreamConfig{
			Request: command.RequestAll,
			Target:  command.AllTargets,
			Push: command.DataPushConfig{
				DataInterval: 60,
				IntervalMode: command.IntervalCircular,
			},
		},
		Logging: logger.Config{
			Enabled:  false,
			Path:     "/var/log/sshdlink",
			MaxLines: 50_000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: SENSOR_TRANSPORT, SENSOR_PORT, SENSOR_BAUD, SENSOR_ADDR,
// SENSOR_ID, SENSOR_SUBNET, LISTEN_ADDR, LOG_ENABLED, LOG_PATH,
// LOG_MAX_LINES, STREAM_INTERVAL
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SENSOR_TRANSPORT"); v != "" {
		c.Sensor.Transport = v
	}
	if v := os.Getenv("SENSOR_PORT"); v != "" {
		c.Sensor.Serial.PortPath = v
	}
	if v := os.Getenv("SENSOR_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sensor.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("SENSOR_ADDR"); v != "" {
		c.Sensor.Address = v
	}
	if v := os.Getenv("SENSOR_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 16); err == nil {
			c.Sensor.Device.ID = uint16(n)
		}
	}
	if v := os.Getenv("SENSOR_SUBNET"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 8); err == nil {
			c.Sensor.Device.Subnet = uint8(n)
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_MAX_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.MaxLines = n
		}
	}
	// Streaming
	if v := os.Getenv("STREAM_INTERVAL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.Stream.Push.DataInterval = uint16(n)
		}
	}
}

// SensorConfig returns a copy of the sensor connection settings.
func (c *Config) SensorConfig() sensor.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Sensor
}

// StreamOptions builds session options from the stream settings.
func (c *Config) StreamOptions() realtime.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return realtime.Options{
		Request:      c.Stream.Request,
		Target:       c.Stream.Target,
		Push:         c.Stream.Push,
		StopOnNoData: c.Stream.StopOnNoData,
	}
}

// LinkConfig returns the link timeouts.
func (c *Config) LinkConfig() transport.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Sensor.Link
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = DefaultPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
