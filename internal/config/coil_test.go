package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/serialmux"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalJSON = `{"field_coeffs": {"X": [1.369, -0.0175], "Y": [2.136, 0.0259], "Z": [1.244, -0.0124]}}`

func TestEmptyCoilConfig_Defaults(t *testing.T) {
	cfg := EmptyCoilConfig()

	if got := cfg.GetLimits(); got != field.SharedLimits(-3, 3) {
		t.Errorf("GetLimits() = %v, want shared [-3, 3]", got)
	}
	if cfg.GetVoltageMax() != 3 {
		t.Errorf("GetVoltageMax() = %v, want 3", cfg.GetVoltageMax())
	}
	if cfg.GetSettleWait() != 500*time.Millisecond {
		t.Errorf("GetSettleWait() = %v, want 500ms", cfg.GetSettleWait())
	}
	if cfg.GetCommandTimeout() != 3*time.Second {
		t.Errorf("GetCommandTimeout() = %v, want 3s", cfg.GetCommandTimeout())
	}
	if cfg.GetStatePollInterval() != 2*time.Second {
		t.Errorf("GetStatePollInterval() = %v, want 2s", cfg.GetStatePollInterval())
	}
	if cfg.GetRelayPort() != "/dev/ttyACM0" || cfg.GetSourceAddress() != "/dev/ttyUSB0" {
		t.Errorf("ports = %q, %q", cfg.GetRelayPort(), cfg.GetSourceAddress())
	}
	if cfg.GetRelayOptions() != (serialmux.PortOptions{BaudRate: 9600}) {
		t.Errorf("GetRelayOptions() = %+v", cfg.GetRelayOptions())
	}
	if cfg.GetSourceOptions() != (serialmux.PortOptions{BaudRate: 115200}) {
		t.Errorf("GetSourceOptions() = %+v", cfg.GetSourceOptions())
	}

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "field_coeffs is required") {
		t.Errorf("Validate() = %v, want missing field_coeffs", err)
	}
}

func TestLoadCoilConfig_JSON(t *testing.T) {
	path := writeConfig(t, "coil.json", `{
  "field_coeffs": {"x": [1.0, 0.1], "Y": [2.0, 0.2], "Z": [3.0, 0.3]},
  "current_min": -2,
  "current_max": 2.5,
  "axis_limits": {"Z": {"max": 1}},
  "settle_wait": "1s",
  "state_poll_interval": "0",
  "source_address": "tcp://10.0.0.5:5025",
  "source_baud_rate": 57600
}`)
	cfg, err := LoadCoilConfig(path)
	if err != nil {
		t.Fatalf("LoadCoilConfig() error = %v", err)
	}

	cal, err := cfg.GetCalibration()
	if err != nil {
		t.Fatalf("GetCalibration() error = %v", err)
	}
	want := field.Calibration{
		field.X: {Slope: 1, Intercept: 0.1},
		field.Y: {Slope: 2, Intercept: 0.2},
		field.Z: {Slope: 3, Intercept: 0.3},
	}
	if diff := cmp.Diff(want, cal); diff != "" {
		t.Errorf("calibration mismatch (-want +got):\n%s", diff)
	}

	wantLimits := field.AxisLimits{
		{Min: -2, Max: 2.5},
		{Min: -2, Max: 2.5},
		{Min: -2, Max: 1},
	}
	if diff := cmp.Diff(wantLimits, cfg.GetLimits()); diff != "" {
		t.Errorf("limits mismatch (-want +got):\n%s", diff)
	}
	if cfg.GetSettleWait() != time.Second {
		t.Errorf("GetSettleWait() = %v", cfg.GetSettleWait())
	}
	if cfg.GetStatePollInterval() != 0 {
		t.Errorf("GetStatePollInterval() = %v, want 0 (disabled)", cfg.GetStatePollInterval())
	}
	if cfg.GetSourceAddress() != "tcp://10.0.0.5:5025" || cfg.GetSourceOptions().BaudRate != 57600 {
		t.Errorf("source = %q %+v", cfg.GetSourceAddress(), cfg.GetSourceOptions())
	}
}

func TestLoadCoilConfig_YAML(t *testing.T) {
	path := writeConfig(t, "coil.yml", `
field_coeffs:
  X: [1.369, -0.0175]
  Y: [2.136, 0.0259]
  Z: [1.244, -0.0124]
axis_limits:
  Z: {min: -2, max: 2}
voltage_max: 4.5
relay_baud_rate: 19200
`)
	cfg, err := LoadCoilConfig(path)
	if err != nil {
		t.Fatalf("LoadCoilConfig() error = %v", err)
	}
	if cfg.GetVoltageMax() != 4.5 {
		t.Errorf("GetVoltageMax() = %v", cfg.GetVoltageMax())
	}
	if cfg.GetRelayOptions().BaudRate != 19200 {
		t.Errorf("relay baud = %d", cfg.GetRelayOptions().BaudRate)
	}
	if got := cfg.GetLimits()[field.Z]; got != (field.Limits{Min: -2, Max: 2}) {
		t.Errorf("Z limits = %v", got)
	}
}

func TestLoadCoilConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"extension", "coil.toml", minimalJSON, "extension"},
		{"bad json", "coil.json", "{", "failed to parse config json"},
		{"bad yaml", "coil.yaml", "field_coeffs: [", "failed to parse config yaml"},
		{"missing axis", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0]}}`, "missing axis Z"},
		{"unknown axis", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0], "Z": [1, 0], "W": [1, 0]}}`, "unknown axis"},
		{"zero slope", "coil.json", `{"field_coeffs": {"X": [0, 0], "Y": [1, 0], "Z": [1, 0]}}`, "slope must be non-zero"},
		{"short pair", "coil.json", `{"field_coeffs": {"X": [1], "Y": [1, 0], "Z": [1, 0]}}`, "expected [slope, intercept]"},
		{"inverted limits", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0], "Z": [1, 0]}, "current_min": 3, "current_max": -3}`, "current limits"},
		{"axis limit key", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0], "Z": [1, 0]}, "axis_limits": {"Q": {"max": 1}}}`, "axis_limits"},
		{"duration", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0], "Z": [1, 0]}, "settle_wait": "soon"}`, "invalid settle_wait"},
		{"negative duration", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0], "Z": [1, 0]}, "settle_wait": "-1s"}`, "non-negative"},
		{"zero timeout", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0], "Z": [1, 0]}, "command_timeout": "0s"}`, "command_timeout must be positive"},
		{"voltage", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0], "Z": [1, 0]}, "voltage_max": 0}`, "voltage_max"},
		{"baud", "coil.json", `{"field_coeffs": {"X": [1, 0], "Y": [1, 0], "Z": [1, 0]}, "relay_baud_rate": -5}`, "relay_baud_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCoilConfig(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatalf("LoadCoilConfig() succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCoilConfig_TooLarge(t *testing.T) {
	path := writeConfig(t, "big.json", minimalJSON+strings.Repeat(" ", maxFileSize))
	if _, err := LoadCoilConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("LoadCoilConfig() = %v, want size error", err)
	}
}

func TestLoadCoilConfig_MissingFile(t *testing.T) {
	if _, err := LoadCoilConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected stat error")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	cal, err := cfg.GetCalibration()
	if err != nil {
		t.Fatalf("GetCalibration() error = %v", err)
	}
	if cal[field.Y].Slope != 2.136 {
		t.Errorf("Y slope = %v, want 2.136", cal[field.Y].Slope)
	}
}

func TestExampleYAMLConfigLoads(t *testing.T) {
	cfg, err := LoadCoilConfig("../../config/coil.example.yaml")
	if err != nil {
		t.Fatalf("LoadCoilConfig() error = %v", err)
	}
	if !serialmux.IsNetworkAddress(cfg.GetSourceAddress()) {
		t.Errorf("example source should be a network address, got %q", cfg.GetSourceAddress())
	}
}

func TestPointerOverrides(t *testing.T) {
	cfg := &CoilConfig{
		CurrentMax:     ptrFloat64(1.5),
		CommandTimeout: ptrString("250ms"),
		SourceBaudRate: ptrInt(9600),
	}
	if cfg.GetCurrentMax() != 1.5 || cfg.GetCurrentMin() != -3 {
		t.Errorf("limits = %v, %v", cfg.GetCurrentMin(), cfg.GetCurrentMax())
	}
	if cfg.GetCommandTimeout() != 250*time.Millisecond {
		t.Errorf("GetCommandTimeout() = %v", cfg.GetCommandTimeout())
	}
	if cfg.GetSourceOptions().BaudRate != 9600 {
		t.Errorf("source baud = %d", cfg.GetSourceOptions().BaudRate)
	}
}
