// Package config loads the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hqe-lab/labsync"
)

type Config struct {
	Log          LogConfig               `yaml:"log"`
	Serial       SerialConfig            `yaml:"serial"`
	PollInterval time.Duration           `yaml:"poll_interval"`
	Simulate     bool                    `yaml:"simulate"`
	Trace        bool                    `yaml:"trace"`
	Metrics      MetricsConfig           `yaml:"metrics"`
	Redis        RedisConfig             `yaml:"redis"`
	Devices      map[string]DeviceConfig `yaml:"devices"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type SerialConfig struct {
	Backend     string        `yaml:"backend"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// DeviceConfig locates one instrument. Port may be usb:<serial-number>.
type DeviceConfig struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	Address     string `yaml:"address"`
	AutoConnect bool   `yaml:"auto_connect"`
}

// Endpoint returns the connect target of the device.
func (d DeviceConfig) Endpoint() labsync.Endpoint {
	return labsync.Endpoint{Port: d.Port, Baud: d.Baud, Address: d.Address}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Serial: SerialConfig{
			Backend:     "bugst",
			ReadTimeout: time.Second,
		},
		PollInterval: labsync.DefaultPollInterval,
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "labsync",
		},
		Devices: map[string]DeviceConfig{
			labsync.StageID:     {Port: "/dev/ttyUSB0", Baud: 9600, AutoConnect: true},
			labsync.Laser1ID:    {Port: "/dev/ttyUSB1", Baud: 500000, AutoConnect: true},
			labsync.Laser2ID:    {Port: "/dev/ttyUSB2", Baud: 500000, AutoConnect: true},
			labsync.GeneratorID: {Port: "/dev/ttyUSB3", Baud: 9600, AutoConnect: true},
			labsync.AnalyzerID:  {Address: "TCPIP::192.168.1.20::INSTR", AutoConnect: true},
		},
	}
}

// Load reads path on top of the defaults, so a file only needs the keys it
// changes. Devices listed in the file replace the default entry of the
// same id.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	switch c.Serial.Backend {
	case "bugst", "jacobsa":
	default:
		return fmt.Errorf("unknown serial backend %q", c.Serial.Backend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	profiles := labsync.Profiles()
	for _, id := range c.DeviceIDs() {
		if _, ok := profiles[id]; !ok {
			return fmt.Errorf("%w: %s", labsync.ErrUnknownDevice, id)
		}
	}
	return nil
}

// DeviceIDs returns the configured device ids in sorted order.
func (c *Config) DeviceIDs() []string {
	ids := make([]string, 0, len(c.Devices))
	for id := range c.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
