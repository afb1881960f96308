package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "rt/imu", cfg.Topic)
	assert.Equal(t, 10*time.Millisecond, cfg.Period)
	assert.Equal(t, uint64(100), cfg.StatusEvery)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
domain: 3
topic: rt/imu_left
period: 20ms
bootstrap:
  - /ip4/10.0.0.1/tcp/4001/p2p/12D3KooWabc
mdns: false
`), 0o600))

	t.Setenv(FileEnv, path)
	t.Setenv("IMU_TOPIC", "rt/imu_right")
	t.Setenv("IMU_LISTEN_ADDRS", "/ip4/0.0.0.0/tcp/4001,/ip4/0.0.0.0/udp/4001/quic-v1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Domain)
	assert.Equal(t, "rt/imu_right", cfg.Topic)
	assert.Equal(t, 20*time.Millisecond, cfg.Period)
	assert.False(t, cfg.EnableMDNS)
	assert.Equal(t, []string{"/ip4/10.0.0.1/tcp/4001/p2p/12D3KooWabc"}, cfg.Bootstrap)
	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001", "/ip4/0.0.0.0/udp/4001/quic-v1"}, cfg.ListenAddrs)
	assert.Equal(t, "imu-pubsub", cfg.Rendezvous)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("IMU_PUBLISH_PERIOD", "0s")
	_, err := Load()
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"negative domain": func(c *Config) { c.Domain = -1 },
		"empty topic":     func(c *Config) { c.Topic = "" },
		"empty type":      func(c *Config) { c.TypeName = "" },
		"zero poll":       func(c *Config) { c.PollInterval = 0 },
		"zero status":     func(c *Config) { c.StatusEvery = 0 },
		"zero depth":      func(c *Config) { c.HistoryDepth = 0 },
		"bad transport":   func(c *Config) { c.Transport = "carrier-pigeon" },
		"zero shutdown":   func(c *Config) { c.ShutdownTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
