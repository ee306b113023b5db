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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9000, cfg.VPro.Port)
	assert.Equal(t, 5*time.Second, cfg.VPro.ReadTimeout)
	assert.Equal(t, "pro8/Video-Matrix/Matrix", cfg.VPro.MatrixPath)
	assert.True(t, cfg.VPro.FetchLabels)
	assert.Zero(t, cfg.VPro.PollInterval)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 8181
vpro:
  read_timeout: 750ms
  matrix_path: "1.10.2"
  poll_interval: 2s
devices:
  inventory: devices.json
  list:
    - name: studio
      host: 10.1.1.1
      port: 9001
`), 0o644))

	t.Setenv("VPRO_SERVER_HTTP_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 750*time.Millisecond, cfg.VPro.ReadTimeout)
	assert.Equal(t, "1.10.2", cfg.VPro.MatrixPath)
	assert.Equal(t, 2*time.Second, cfg.VPro.PollInterval)
	assert.Equal(t, "devices.json", cfg.Devices.Inventory)

	require.Len(t, cfg.Devices.Devices, 1)
	assert.Equal(t, "studio", cfg.Devices.Devices[0].Name)
	assert.Equal(t, 9001, cfg.Devices.Devices[0].Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vpro:\n  port: 0\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestMQTTSettings(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "vpro", cfg.MQTT.TopicPrefix)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  enabled: true\n  qos: 3\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "mqtt.qos")
}
