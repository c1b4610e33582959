package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "service_config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadResolvesLegacyAliases(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"uavs": [
			{"name": "UAV_1", "ip": "127.0.0.1", "telemetry_port": 5557, "command_port": 5559}
		],
		"ui_ports": {
			"publish_port": 5560,
			"command_port": 5561,
			"udp_camera_port": 5570,
			"udp_mapping_port": 5571
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.UAVs, 1)
	assert.Equal(t, 5557, cfg.UAVs[0].RelTelemetryPort)
	assert.Equal(t, 5559, cfg.UAVs[0].RelCommandPort)
	assert.Equal(t, -1, cfg.UAVs[0].DgmTelemetryPort)
	assert.Equal(t, 5560, cfg.UI.RelPublishPort)
	assert.Equal(t, 5561, cfg.UI.RelCommandPort)
	assert.Equal(t, -1, cfg.UI.DgmCommandPort)
}

func TestLoadPrefersModernFieldNames(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"uavs": [
			{"name": "UAV_1", "ip": "127.0.0.1", "tcp_telemetry_port": 7000, "telemetry_port": 9999, "tcp_command_port": 7001}
		],
		"ui_ports": {"tcp_publish_port": 7100, "tcp_command_port": 7101}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.UAVs[0].RelTelemetryPort)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{not json`)
	_, err := Load(path)
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		UAVs: []UAVEntry{
			{Name: "UAV_1", IP: "127.0.0.1", RelTelemetryPort: 5557, RelCommandPort: 5559, DgmTelemetryPort: -1},
			{Name: "UAV_2", IP: "127.0.0.2", RelTelemetryPort: -1, RelCommandPort: 5569, DgmTelemetryPort: 5576},
		},
		UI: UIPorts{
			RelPublishPort: 5560,
			RelCommandPort: 5561,
			DgmCameraPort:  5570,
			DgmMappingPort: 5571,
			DgmCommandPort: -1,
		},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := validConfig()
	cfg.UAVs[1].Name = "UAV_1"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicatePorts(t *testing.T) {
	cfg := validConfig()
	cfg.UAVs[1].RelCommandPort = cfg.UAVs[0].RelCommandPort
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNoTelemetryTransport(t *testing.T) {
	cfg := validConfig()
	cfg.UAVs[0].RelTelemetryPort = -1
	cfg.UAVs[0].DgmTelemetryPort = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingName(t *testing.T) {
	cfg := validConfig()
	cfg.UAVs[0].Name = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyUAVList(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}

func TestValidateAllowsReservedCommandPortButFlagsIt(t *testing.T) {
	cfg := validConfig()
	cfg.UI.DgmCommandPort = 5580
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.UsesReservedCommandPort())
}

func TestResolvePathPrefersEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"uavs":[]}`)
	t.Setenv(EnvVar, path)
	assert.Equal(t, path, ResolvePath())
}

func TestResolvePathFallsBackToCurrentDirectory(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(cwd)
	require.NoError(t, os.Chdir(dir))

	t.Setenv(EnvVar, "")
	writeConfig(t, dir, `{"uavs":[]}`)

	assert.Equal(t, defaultFileName, ResolvePath())
}
