package system

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/config"
	"github.com/KevinKickass/vprocontrol/internal/testutil"
	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.VPro.ReadTimeout = 500 * time.Millisecond
	return cfg
}

func TestLifecycleServesConfiguredDevices(t *testing.T) {
	dev := testutil.NewFakeVPRO(t, 4, 4)
	dev.SetRoute(2, 1)

	cfg := testConfig(t)
	cfg.Devices.Devices = []types.DeviceDefinition{{Name: "Studio", Host: dev.Host(), Port: dev.Port()}}

	lm, err := NewLifecycleManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, lm.State())

	rec := httptest.NewRecorder()
	lm.RESTHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matrix/studio", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]types.RouteEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body["2"].Sources[0].Index)

	status := lm.GetCurrentStatus()
	assert.Equal(t, "INITIALIZING", status.State)
	assert.Equal(t, 1, status.DeviceCount)
	assert.False(t, status.PollerRunning)
}

func TestLifecycleLoadsInventoryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vpro.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"VPro": {"A": "10.0.0.1", "B": "10.0.0.2"}}`), 0o644))

	cfg := testConfig(t)
	cfg.Devices.Inventory = path

	lm, err := NewLifecycleManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, lm.DeviceService().Manager().Count())
}

func TestLifecycleRejectsBadSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Devices.Inventory = filepath.Join(t.TempDir(), "missing.json")
	_, err := NewLifecycleManager(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.VPro.TargetLabelsPath = "1.x"
	_, err = NewLifecycleManager(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Devices.Devices = []types.DeviceDefinition{{Name: "A", Host: "10.0.0.1"}, {Name: "a", Host: "10.0.0.2"}}
	_, err = NewLifecycleManager(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestLifecycleShutdownOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.VPro.PollInterval = time.Hour

	lm, err := NewLifecycleManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, lm.Shutdown(ctx))
	require.NoError(t, lm.Shutdown(ctx))
	assert.Equal(t, StateStopped, lm.State())

	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = NewLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestStateMachine(t *testing.T) {
	var seen []SystemState
	m := newStateMachine(func(_, to SystemState) { seen = append(seen, to) })

	require.NoError(t, fire(m, EventStarted))
	require.NoError(t, fire(m, EventStop))
	require.NoError(t, fire(m, EventStopped))
	assert.Equal(t, []SystemState{StateRunning, StateStopping, StateStopped}, seen)

	assert.Error(t, fire(m, EventStarted))
	assert.Equal(t, StateStopped.String(), m.Current())
}

func TestStateMachineFailure(t *testing.T) {
	m := newStateMachine(nil)

	require.NoError(t, fire(m, EventFail))
	assert.Equal(t, StateError.String(), m.Current())

	require.NoError(t, fire(m, EventStop))
	require.NoError(t, fire(m, EventStopped))
	assert.Equal(t, StateStopped.String(), m.Current())
}
