// Package config loads the broker's static JSON configuration document,
// the way Protei_Monitoring's pkg/config.Config does (a typed struct plus a
// package-level Load/Validate), but the schema, legacy field aliases, and
// file-resolution order follow spec.md §4.1/§6 and the original C++
// TelemetryService::resolveConfigPath/Config::loadFromFile exactly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UAVEntry describes one configured vehicle (spec.md §3).
type UAVEntry struct {
	Name             string `json:"name"`
	IP               string `json:"ip"`
	RelTelemetryPort int    `json:"tcp_telemetry_port"`
	RelCommandPort   int    `json:"tcp_command_port"`
	DgmTelemetryPort int    `json:"udp_telemetry_port"`
}

// UIPorts describes the single UI-facing port set (spec.md §3).
type UIPorts struct {
	RelPublishPort int `json:"tcp_publish_port"`
	RelCommandPort int `json:"tcp_command_port"`
	DgmCameraPort  int `json:"udp_camera_port"`
	DgmMappingPort int `json:"udp_mapping_port"`
	DgmCommandPort int `json:"udp_command_port"`
}

// Config is the full parsed document.
type Config struct {
	UAVs    []UAVEntry `json:"uavs"`
	UI      UIPorts    `json:"ui_ports"`
	LogFile string     `json:"log_file"`
}

// rawUAV and rawUIPorts mirror the wire schema with pointer fields for both
// the current and the legacy field names (nil when absent), so aliasing can
// be resolved with plain encoding/json instead of a hand-rolled tolerant
// unmarshaller.
type rawUAV struct {
	Name             string `json:"name"`
	IP               string `json:"ip"`
	RelTelemetryPort *int   `json:"tcp_telemetry_port"`
	LegacyTelemetry  *int   `json:"telemetry_port"`
	RelCommandPort   *int   `json:"tcp_command_port"`
	LegacyCommand    *int   `json:"command_port"`
	DgmTelemetryPort *int   `json:"udp_telemetry_port"`
}

type rawUIPorts struct {
	RelPublishPort *int `json:"tcp_publish_port"`
	LegacyPublish  *int `json:"publish_port"`
	RelCommandPort *int `json:"tcp_command_port"`
	LegacyCommand  *int `json:"command_port"`
	DgmCameraPort  *int `json:"udp_camera_port"`
	DgmMappingPort *int `json:"udp_mapping_port"`
	DgmCommandPort *int `json:"udp_command_port"`
}

type rawDoc struct {
	UAVs    []rawUAV   `json:"uavs"`
	UI      rawUIPorts `json:"ui_ports"`
	LogFile string     `json:"log_file"`
}

// EnvVar is the override consulted before any file-based resolution.
const EnvVar = "SERVICE_CONFIG"

const defaultFileName = "service_config.json"

// ResolvePath implements spec.md §4.1's resolution order: SERVICE_CONFIG env
// var, then ./service_config.json, then the executable's directory, then
// its parent directory. The first existing file wins; if none exist, the
// literal default name is returned so Load still produces a clean
// "file not found" error instead of a resolver error.
func ResolvePath() string {
	if env := os.Getenv(EnvVar); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env
		}
	}

	candidates := []string{defaultFileName}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, defaultFileName),
			filepath.Join(filepath.Dir(exeDir), defaultFileName),
		)
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return defaultFileName
}

// Load reads and parses the configuration document at path, resolving
// legacy field aliases and defaulting disabled ports to -1.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	var doc rawDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	cfg := &Config{LogFile: doc.LogFile}

	for _, u := range doc.UAVs {
		entry := UAVEntry{
			Name:             u.Name,
			IP:               u.IP,
			RelTelemetryPort: firstOr(-1, u.RelTelemetryPort, u.LegacyTelemetry),
			RelCommandPort:   firstOr(-1, u.RelCommandPort, u.LegacyCommand),
			DgmTelemetryPort: firstOr(-1, u.DgmTelemetryPort),
		}
		if entry.Name == "" || entry.IP == "" {
			return nil, fmt.Errorf("uav entry missing required name/ip fields")
		}
		cfg.UAVs = append(cfg.UAVs, entry)
	}

	cfg.UI = UIPorts{
		RelPublishPort: firstOr(-1, doc.UI.RelPublishPort, doc.UI.LegacyPublish),
		RelCommandPort: firstOr(-1, doc.UI.RelCommandPort, doc.UI.LegacyCommand),
		DgmCameraPort:  firstOr(-1, doc.UI.DgmCameraPort),
		DgmMappingPort: firstOr(-1, doc.UI.DgmMappingPort),
		DgmCommandPort: firstOr(-1, doc.UI.DgmCommandPort),
	}

	if cfg.LogFile == "" {
		cfg.LogFile = "telemetry_log.txt"
	}

	return cfg, nil
}

func firstOr(fallback int, candidates ...*int) int {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return fallback
}

// Validate enforces spec.md §3's invariants: unique UAV names, every
// configured port unique across the whole document, required UAV fields
// present, and at least one telemetry transport enabled per UAV.
func (c *Config) Validate() error {
	if len(c.UAVs) == 0 {
		return fmt.Errorf("config: at least one UAV must be configured")
	}

	names := make(map[string]bool, len(c.UAVs))
	ports := make(map[int]string)

	claim := func(port int, owner string) error {
		if port < 0 {
			return nil
		}
		if existing, taken := ports[port]; taken {
			return fmt.Errorf("config: port %d used by both %s and %s", port, existing, owner)
		}
		ports[port] = owner
		return nil
	}

	for _, u := range c.UAVs {
		if u.Name == "" {
			return fmt.Errorf("config: uav entry missing name")
		}
		if u.IP == "" {
			return fmt.Errorf("config: uav %q missing ip", u.Name)
		}
		if u.RelCommandPort < 0 {
			return fmt.Errorf("config: uav %q missing tcp_command_port", u.Name)
		}
		if u.RelTelemetryPort < 0 && u.DgmTelemetryPort < 0 {
			return fmt.Errorf("config: uav %q has no telemetry transport enabled", u.Name)
		}
		if names[u.Name] {
			return fmt.Errorf("config: duplicate uav name %q", u.Name)
		}
		names[u.Name] = true

		if err := claim(u.RelTelemetryPort, fmt.Sprintf("uav %s rel telemetry", u.Name)); err != nil {
			return err
		}
		if err := claim(u.RelCommandPort, fmt.Sprintf("uav %s rel command", u.Name)); err != nil {
			return err
		}
		if err := claim(u.DgmTelemetryPort, fmt.Sprintf("uav %s dgm telemetry", u.Name)); err != nil {
			return err
		}
	}

	if err := claim(c.UI.RelPublishPort, "ui rel publish"); err != nil {
		return err
	}
	if err := claim(c.UI.RelCommandPort, "ui rel command"); err != nil {
		return err
	}
	if err := claim(c.UI.DgmCameraPort, "ui dgm camera"); err != nil {
		return err
	}
	if err := claim(c.UI.DgmMappingPort, "ui dgm mapping"); err != nil {
		return err
	}
	// udp_command_port is reserved-but-unused (spec.md §9); it is allowed
	// to collide with nothing because the broker never binds it, but it is
	// still validated against the rest of the table so an operator can't
	// silently point it at a live socket.
	if err := claim(c.UI.DgmCommandPort, "ui dgm command (reserved, unused)"); err != nil {
		return err
	}

	return nil
}

// UsesReservedCommandPort reports whether the config sets the reserved,
// currently-unimplemented UDP command ingress port (spec.md §9).
func (c *Config) UsesReservedCommandPort() bool {
	return c.UI.DgmCommandPort >= 0
}

// FallbackUAV is the legacy default target for UI commands sent without a
// "TARGET:" prefix (spec.md §3, §4.4).
const FallbackUAV = "UAV_1"
