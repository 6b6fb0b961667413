package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/serialmux"
)

// DefaultConfigPath is the path to the bench coil defaults file.
const DefaultConfigPath = "config/coil.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// CoilConfig is the daemon configuration. Every field is optional in the
// file; the Get* methods supply defaults for anything omitted.
type CoilConfig struct {
	// FieldCoeffs maps an axis letter to [slope, intercept].
	FieldCoeffs map[string][]float64 `json:"field_coeffs,omitempty" yaml:"field_coeffs,omitempty"`

	// Shared current limits in amperes.
	CurrentMin *float64 `json:"current_min,omitempty" yaml:"current_min,omitempty"`
	CurrentMax *float64 `json:"current_max,omitempty" yaml:"current_max,omitempty"`
	// AxisLimits overrides the shared limits per axis.
	AxisLimits map[string]LimitConfig `json:"axis_limits,omitempty" yaml:"axis_limits,omitempty"`

	VoltageMax *float64 `json:"voltage_max,omitempty" yaml:"voltage_max,omitempty"`

	SettleWait        *string `json:"settle_wait,omitempty" yaml:"settle_wait,omitempty"`                 // duration string like "500ms"
	CommandTimeout    *string `json:"command_timeout,omitempty" yaml:"command_timeout,omitempty"`         // per hardware step
	StatePollInterval *string `json:"state_poll_interval,omitempty" yaml:"state_poll_interval,omitempty"` // "0" disables polling

	RelayPort      *string `json:"relay_port,omitempty" yaml:"relay_port,omitempty"`
	RelayBaudRate  *int    `json:"relay_baud_rate,omitempty" yaml:"relay_baud_rate,omitempty"`
	SourceAddress  *string `json:"source_address,omitempty" yaml:"source_address,omitempty"`
	SourceBaudRate *int    `json:"source_baud_rate,omitempty" yaml:"source_baud_rate,omitempty"`
}

// LimitConfig is a per-axis limit override. A nil bound keeps the shared one.
type LimitConfig struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyCoilConfig returns a CoilConfig with all fields unset.
func EmptyCoilConfig() *CoilConfig {
	return &CoilConfig{}
}

// LoadCoilConfig loads a CoilConfig from a .json, .yaml or .yml file no
// larger than 1MB and validates it.
func LoadCoilConfig(path string) (*CoilConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCoilConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent directories
// so tests can run from any package. Panics if the file cannot be loaded.
func MustLoadDefaultConfig() *CoilConfig {
	for _, prefix := range []string{"", "../", "../../", "../../../"} {
		if cfg, err := LoadCoilConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CoilConfig) Validate() error {
	if _, err := c.GetCalibration(); err != nil {
		return err
	}
	for key := range c.AxisLimits {
		if _, err := field.ParseAxis(key); err != nil {
			return fmt.Errorf("axis_limits: %w", err)
		}
	}
	if err := c.GetLimits().Validate(); err != nil {
		return fmt.Errorf("current limits: %w", err)
	}
	if c.VoltageMax != nil && *c.VoltageMax <= 0 {
		return fmt.Errorf("voltage_max must be positive, got %v", *c.VoltageMax)
	}

	for name, v := range map[string]*string{
		"settle_wait":         c.SettleWait,
		"command_timeout":     c.CommandTimeout,
		"state_poll_interval": c.StatePollInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}
	if c.CommandTimeout != nil && c.GetCommandTimeout() == 0 {
		return fmt.Errorf("command_timeout must be positive")
	}

	for name, v := range map[string]*int{
		"relay_baud_rate":  c.RelayBaudRate,
		"source_baud_rate": c.SourceBaudRate,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	return nil
}

// GetCalibration converts field_coeffs into a validated Calibration. All
// three axes are required.
func (c *CoilConfig) GetCalibration() (field.Calibration, error) {
	var cal field.Calibration
	if len(c.FieldCoeffs) == 0 {
		return cal, fmt.Errorf("field_coeffs is required")
	}
	seen := map[field.Axis]bool{}
	keys := make([]string, 0, len(c.FieldCoeffs))
	for k := range c.FieldCoeffs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		a, err := field.ParseAxis(key)
		if err != nil {
			return cal, fmt.Errorf("field_coeffs: %w", err)
		}
		pair := c.FieldCoeffs[key]
		if len(pair) != 2 {
			return cal, fmt.Errorf("field_coeffs.%s: expected [slope, intercept], got %d values", key, len(pair))
		}
		cal[a] = field.Coefficients{Slope: pair[0], Intercept: pair[1]}
		seen[a] = true
	}
	for _, a := range field.Axes {
		if !seen[a] {
			return cal, fmt.Errorf("field_coeffs: missing axis %s", a)
		}
	}
	if err := cal.Validate(); err != nil {
		return cal, fmt.Errorf("field_coeffs: %w", err)
	}
	return cal, nil
}

// GetCurrentMin returns current_min or the default of -3 A.
func (c *CoilConfig) GetCurrentMin() float64 {
	if c.CurrentMin == nil {
		return -3
	}
	return *c.CurrentMin
}

// GetCurrentMax returns current_max or the default of 3 A.
func (c *CoilConfig) GetCurrentMax() float64 {
	if c.CurrentMax == nil {
		return 3
	}
	return *c.CurrentMax
}

// GetLimits returns the shared limits with any per-axis overrides applied.
// Unknown axis keys are ignored here and rejected by Validate.
func (c *CoilConfig) GetLimits() field.AxisLimits {
	limits := field.SharedLimits(c.GetCurrentMin(), c.GetCurrentMax())
	for key, override := range c.AxisLimits {
		a, err := field.ParseAxis(key)
		if err != nil {
			continue
		}
		if override.Min != nil {
			limits[a].Min = *override.Min
		}
		if override.Max != nil {
			limits[a].Max = *override.Max
		}
	}
	return limits
}

// GetVoltageMax returns voltage_max or the default of 3 V.
func (c *CoilConfig) GetVoltageMax() float64 {
	if c.VoltageMax == nil {
		return 3
	}
	return *c.VoltageMax
}

// GetSettleWait returns settle_wait or the default of 500ms.
func (c *CoilConfig) GetSettleWait() time.Duration {
	return parseDurationOr(c.SettleWait, 500*time.Millisecond)
}

// GetCommandTimeout returns command_timeout or the default of 3s.
func (c *CoilConfig) GetCommandTimeout() time.Duration {
	return parseDurationOr(c.CommandTimeout, 3*time.Second)
}

// GetStatePollInterval returns state_poll_interval or the default of 2s.
// Zero disables polling.
func (c *CoilConfig) GetStatePollInterval() time.Duration {
	return parseDurationOr(c.StatePollInterval, 2*time.Second)
}

// GetRelayPort returns relay_port or /dev/ttyACM0.
func (c *CoilConfig) GetRelayPort() string {
	if c.RelayPort == nil || *c.RelayPort == "" {
		return "/dev/ttyACM0"
	}
	return *c.RelayPort
}

// GetRelayOptions returns the relay's serial parameters, 9600 8N1 by default.
func (c *CoilConfig) GetRelayOptions() serialmux.PortOptions {
	baud := 9600
	if c.RelayBaudRate != nil {
		baud = *c.RelayBaudRate
	}
	return serialmux.PortOptions{BaudRate: baud}
}

// GetSourceAddress returns source_address or /dev/ttyUSB0.
func (c *CoilConfig) GetSourceAddress() string {
	if c.SourceAddress == nil || *c.SourceAddress == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SourceAddress
}

// GetSourceOptions returns the source's serial parameters, 115200 8N1 by
// default. They are ignored for tcp:// addresses.
func (c *CoilConfig) GetSourceOptions() serialmux.PortOptions {
	baud := 115200
	if c.SourceBaudRate != nil {
		baud = *c.SourceBaudRate
	}
	return serialmux.PortOptions{BaudRate: baud}
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
