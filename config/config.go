package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultFile is read when no config path is given and POLECTL_CONFIG is unset.
const DefaultFile = "polectl.yaml"

// Config represents the complete configuration for polectl
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Poles    PolesConfig    `yaml:"poles"`
	Models   ModelsConfig   `yaml:"models"`
	Transfer TransferConfig `yaml:"transfer"`
	Log      LogConfig      `yaml:"log"`
}

// BusConfig holds the CAN adapter settings
type BusConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baudRate"`
	Bitrate  int    `yaml:"bitrate"`
}

// PolesConfig describes the pole array
type PolesConfig struct {
	Count      int    `yaml:"count"`
	Proxy      []int  `yaml:"proxy"` // logical->physical, index 0 is pole 1
	LimitsFile string `yaml:"limitsFile"`
}

// ModelsConfig locates the posture file
type ModelsConfig struct {
	File string `yaml:"file"`
}

// TransferConfig holds posture transfer settings
type TransferConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Force        bool          `yaml:"force"`
	Block        bool          `yaml:"block"`
}

// LogConfig holds log output and rotation settings
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Verbose    bool   `yaml:"verbose"`
}

// Load loads configuration from file and environment variables. An empty
// path falls back to POLECTL_CONFIG, then DefaultFile. A missing default
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := getDefaultConfig()

	explicit := true
	if path == "" {
		path = os.Getenv("POLECTL_CONFIG")
	}
	if path == "" {
		path = DefaultFile
		explicit = false
	}

	if err := loadFromFile(cfg, path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// getDefaultConfig returns the default configuration
func getDefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
			Bitrate:  125000,
		},
		Models: ModelsConfig{
			File: "models.txt",
		},
		Transfer: TransferConfig{
			Timeout:      5 * time.Second,
			PollInterval: 200 * time.Millisecond,
			Block:        true,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("POLECTL_PORT"); port != "" {
		cfg.Bus.Port = port
	}

	if bitrate := os.Getenv("POLECTL_BITRATE"); bitrate != "" {
		if v, err := strconv.Atoi(bitrate); err == nil {
			cfg.Bus.Bitrate = v
		}
	}

	if models := os.Getenv("POLECTL_MODELS"); models != "" {
		cfg.Models.File = models
	}

	if timeout := os.Getenv("POLECTL_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Transfer.Timeout = d
		}
	}

	if force := os.Getenv("POLECTL_FORCE"); force != "" {
		if v, err := strconv.ParseBool(force); err == nil {
			cfg.Transfer.Force = v
		}
	}

	if logFile := os.Getenv("POLECTL_LOG_FILE"); logFile != "" {
		cfg.Log.File = logFile
	}
}

// Validate checks the configuration for values the controller cannot use
func (c *Config) Validate() error {
	if c.Bus.BaudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate %d", c.Bus.BaudRate)
	}

	if c.Bus.Bitrate <= 0 || c.Bus.Bitrate > 1000000 {
		return fmt.Errorf("CAN bitrate %d is outside range [1, 1000000]", c.Bus.Bitrate)
	}

	if c.Poles.Count < 0 || c.Poles.Count > 255 {
		return fmt.Errorf("pole count %d is outside range [0, 255]", c.Poles.Count)
	}

	if len(c.Poles.Proxy) > 0 && c.Poles.Count > 0 && len(c.Poles.Proxy) != c.Poles.Count {
		return fmt.Errorf("proxy table has %d entries, pole count is %d", len(c.Poles.Proxy), c.Poles.Count)
	}

	if c.Transfer.Interval < 0 {
		return fmt.Errorf("negative transfer interval %v", c.Transfer.Interval)
	}

	if c.Transfer.Timeout <= 0 {
		return fmt.Errorf("transfer timeout must be positive, got %v", c.Transfer.Timeout)
	}

	if c.Transfer.PollInterval <= 0 || c.Transfer.PollInterval > c.Transfer.Timeout {
		return fmt.Errorf("poll interval %v must be positive and not exceed timeout %v",
			c.Transfer.PollInterval, c.Transfer.Timeout)
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must not be negative")
	}

	return nil
}
