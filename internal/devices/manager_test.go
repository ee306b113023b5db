package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadLegacyInventory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"VPro": {"Studio-A": "10.0.0.10", "studio-b": "10.0.0.11:9100"}}`)

	m, err := NewManager([]string{dir}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, m.LoadInventory("config.json"))

	assert.Equal(t, 2, m.Count())

	a, ok := m.GetDeviceByName("studio-a")
	require.True(t, ok)
	assert.Equal(t, "Studio-A", a.Name)
	assert.Equal(t, "10.0.0.10:9000", a.Address.String())

	b, ok := m.GetDeviceByName("STUDIO-B")
	require.True(t, ok)
	assert.Equal(t, 9100, b.Address.Port)

	list := m.ListDevices()
	require.Len(t, list, 2)
	assert.Equal(t, "Studio-A", list[0].Name)
	assert.Equal(t, "studio-b", list[1].Name)
}

func TestLoadYAMLInventory(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "devices.yaml", `
devices:
  - name: ob-van
    host: 192.168.5.20
    port: 9001
    matrix_path: "1.10.2"
    description: OB van router
  - name: mcr
    host: 192.168.5.21
`)

	m, err := NewManager(nil, 9500, nil)
	require.NoError(t, err)
	require.NoError(t, m.LoadInventory(path))

	van, ok := m.GetDeviceByName("ob-van")
	require.True(t, ok)
	assert.Equal(t, "192.168.5.20:9001", van.Address.String())
	assert.Equal(t, "1.10.2", van.MatrixPath)
	assert.Equal(t, "OB van router", van.Info().Description)

	mcr, ok := m.GetDeviceByName("mcr")
	require.True(t, ok)
	assert.Equal(t, 9500, mcr.Address.Port)
}

func TestLoadInventoryRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"empty.json":     `{}`,
		"noname.json":    `{"devices": [{"host": "10.0.0.1"}]}`,
		"badport.json":   `{"devices": [{"name": "x", "host": "10.0.0.1", "port": 70000}]}`,
		"unknown.json":   `{"devices": [{"name": "x", "host": "10.0.0.1", "ip": "y"}]}`,
		"emptyhost.json": `{"VPro": {"x": ""}}`,
		"notjson.json":   `{"VPro":`,
		"duplicate.json": `{"devices": [{"name": "x", "host": "10.0.0.1"}], "VPro": {"X": "10.0.0.2"}}`,
		"broken.yaml":    "devices: [",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			writeFile(t, dir, name, content)
			m, err := NewManager([]string{dir}, 0, nil)
			require.NoError(t, err)
			assert.Error(t, m.LoadInventory(name))
		})
	}

	m, err := NewManager([]string{dir}, 0, nil)
	require.NoError(t, err)
	assert.Error(t, m.LoadInventory("missing.json"))
}

func TestRegisterDuplicate(t *testing.T) {
	m, err := NewManager(nil, 0, nil)
	require.NoError(t, err)

	_, err = m.Register(types.DeviceDefinition{Name: "Main", Host: "10.0.0.1"})
	require.NoError(t, err)

	_, err = m.Register(types.DeviceDefinition{Name: "main", Host: "10.0.0.2"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = m.Register(types.DeviceDefinition{Name: " ", Host: "10.0.0.2"})
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	m, err := NewManager(nil, 9100, nil)
	require.NoError(t, err)
	_, err = m.Register(types.DeviceDefinition{Name: "main", Host: "10.0.0.1"})
	require.NoError(t, err)

	d, err := m.Resolve("MAIN")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9100", d.Address.String())

	d, err = m.Resolve("10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9:9100", d.Address.String())

	d, err = m.Resolve("10.0.0.9:9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, d.Address.Port)

	_, err = m.Resolve("studio")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestValidatorDefinition(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateDefinition(types.DeviceDefinition{Name: "a", Host: "b"}))
	assert.Error(t, v.ValidateDefinition(types.DeviceDefinition{Name: "a"}))
}

func TestValidatorReportsEveryIssue(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	err = v.ValidateInventory([]byte(`{"devices": [{"name": "a", "host": "b", "port": 70000}, {"host": "c"}]}`))

	var inv *InventoryError
	require.ErrorAs(t, err, &inv)
	assert.GreaterOrEqual(t, len(inv.Issues), 2)
	assert.Contains(t, inv.Error(), "/devices/0/port")
}

func TestRegisterRejectsInvalidPort(t *testing.T) {
	m, err := NewManager(nil, 0, nil)
	require.NoError(t, err)

	_, err = m.Register(types.DeviceDefinition{Name: "a", Host: "10.0.0.1", Port: -1})
	var inv *InventoryError
	assert.ErrorAs(t, err, &inv)
	assert.Zero(t, m.Count())
}
