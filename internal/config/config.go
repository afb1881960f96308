// Package config loads session settings from defaults, an optional YAML
// file and IMU_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"imu-pubsub/internal/imu"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "IMU_CONFIG_FILE"

const (
	TransportLibp2p = "libp2p"
	TransportMemory = "memory"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Domain       int           `yaml:"domain"        env:"IMU_DOMAIN"`
	Topic        string        `yaml:"topic"         env:"IMU_TOPIC"`
	TypeName     string        `yaml:"type_name"     env:"IMU_TYPE_NAME"`
	FrameID      string        `yaml:"frame_id"      env:"IMU_FRAME_ID"`
	Period       time.Duration `yaml:"period"        env:"IMU_PUBLISH_PERIOD"`
	StatusEvery  uint64        `yaml:"status_every"  env:"IMU_STATUS_EVERY"`
	PollInterval time.Duration `yaml:"poll_interval" env:"IMU_POLL_INTERVAL"`
	HistoryDepth int           `yaml:"history_depth" env:"IMU_HISTORY_DEPTH"`

	Transport       string   `yaml:"transport"         env:"IMU_TRANSPORT"`
	ListenAddrs     []string `yaml:"listen_addrs"      env:"IMU_LISTEN_ADDRS"      envSeparator:","`
	Bootstrap       []string `yaml:"bootstrap"         env:"IMU_BOOTSTRAP"         envSeparator:","`
	Rendezvous      string   `yaml:"rendezvous"        env:"IMU_RENDEZVOUS"`
	EnableMDNS      bool     `yaml:"mdns"              env:"IMU_MDNS"`
	IdentityKeyFile string   `yaml:"identity_key_file" env:"IMU_IDENTITY_KEY_FILE"`

	StatusAddr      string        `yaml:"status_addr"      env:"IMU_STATUS_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"IMU_SHUTDOWN_TIMEOUT"`
	LogLevel        string        `yaml:"log_level"        env:"IMU_LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format"       env:"IMU_LOG_FORMAT"`
}

func Default() Config {
	return Config{
		Domain:          0,
		Topic:           "rt/imu",
		TypeName:        imu.TypeName,
		FrameID:         imu.FrameID,
		Period:          10 * time.Millisecond,
		StatusEvery:     100,
		PollInterval:    100 * time.Millisecond,
		HistoryDepth:    64,
		Transport:       TransportLibp2p,
		Rendezvous:      "imu-pubsub",
		EnableMDNS:      true,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load returns Default overlaid with the file named by IMU_CONFIG_FILE, if
// any, and then with environment variables. The result is validated.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.Domain < 0:
		return fmt.Errorf("%w: domain must be >= 0", ErrInvalid)
	case c.Topic == "":
		return fmt.Errorf("%w: topic required", ErrInvalid)
	case c.TypeName == "":
		return fmt.Errorf("%w: type name required", ErrInvalid)
	case c.Period <= 0:
		return fmt.Errorf("%w: publish period must be positive", ErrInvalid)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalid)
	case c.StatusEvery == 0:
		return fmt.Errorf("%w: status interval must be positive", ErrInvalid)
	case c.HistoryDepth <= 0:
		return fmt.Errorf("%w: history depth must be positive", ErrInvalid)
	case c.Transport != TransportLibp2p && c.Transport != TransportMemory:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalid)
	}
	return nil
}
