// Package supply drives a three-channel SCPI current source (Keithley 2230
// family) over a serial or TCP line link.
package supply

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/helmholtz/internal/coil"
	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/serialmux"
)

// DefaultVoltageMax is the per-channel compliance voltage written at init.
const DefaultVoltageMax = 3.0

// Link is the part of serialmux.SerialMuxInterface the supply needs.
type Link interface {
	SendCommand(command string) error
	Query(ctx context.Context, command string) (string, error)
}

// Supply is the coil.CurrentSource implementation for a SCPI supply.
// Channel n+1 drives axis n.
type Supply struct {
	link Link
}

// New returns a Supply using link.
func New(link Link) *Supply {
	return &Supply{link: link}
}

// InitCommands returns the start-up sequence: remote mode, reset, the
// compliance voltage on all channels and zero current.
func InitCommands(voltageMax float64) []string {
	if voltageMax <= 0 {
		voltageMax = DefaultVoltageMax
	}
	return []string{
		"SYST:REM",
		"*RST;*CLS",
		fmt.Sprintf("APP:VOLT %s", triple(voltageMax, voltageMax, voltageMax)),
		"APP:CURR 0,0,0",
	}
}

func (s *Supply) EnableOutput(ctx context.Context) error {
	return s.send(ctx, "OUTP:STAT:ALL ON")
}

func (s *Supply) DisableOutput(ctx context.Context) error {
	return s.send(ctx, "OUTP:STAT:ALL OFF")
}

// SetChannelCurrents writes all three setpoints in one APP:CURR command.
func (s *Supply) SetChannelCurrents(ctx context.Context, c field.CurrentTriple) error {
	for _, a := range field.Axes {
		v := c.Get(a)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("supply: channel %d current must be finite and non-negative, got %v", int(a)+1, v)
		}
	}
	return s.send(ctx, "APP:CURR "+triple(c.X, c.Y, c.Z))
}

// ReadChannelCurrents selects and measures each channel in turn.
func (s *Supply) ReadChannelCurrents(ctx context.Context) (field.CurrentTriple, error) {
	var out field.CurrentTriple
	for _, a := range field.Axes {
		ch := int(a) + 1
		if err := s.send(ctx, fmt.Sprintf("INST:NSEL %d", ch)); err != nil {
			return field.CurrentTriple{}, err
		}
		line, err := s.query(ctx, "MEAS:CURR?")
		if err != nil {
			return field.CurrentTriple{}, err
		}
		v, err := serialmux.ParseNumber(line)
		if err != nil {
			return field.CurrentTriple{}, fmt.Errorf("supply: channel %d: %w", ch, err)
		}
		out.Set(a, v)
	}
	return out, nil
}

// MagnetState queries the combined output state.
func (s *Supply) MagnetState(ctx context.Context) (coil.MagnetState, error) {
	line, err := s.query(ctx, "OUTP:STAT:ALL?")
	if err != nil {
		return coil.MagnetUnknown, err
	}
	return parseOutputState(line), nil
}

// SetMagnetState maps ON and OFF onto the output switch.
func (s *Supply) SetMagnetState(ctx context.Context, state coil.MagnetState) error {
	switch state {
	case coil.MagnetOn:
		return s.EnableOutput(ctx)
	case coil.MagnetOff:
		return s.DisableOutput(ctx)
	}
	return fmt.Errorf("supply: cannot command output state %s", state)
}

// Identify returns the *IDN? string.
func (s *Supply) Identify(ctx context.Context) (string, error) {
	return s.query(ctx, "*IDN?")
}

func parseOutputState(line string) coil.MagnetState {
	switch strings.ToUpper(strings.TrimSpace(line)) {
	case "1", "ON":
		return coil.MagnetOn
	case "0", "OFF":
		return coil.MagnetOff
	}
	return coil.MagnetUnknown
}

func (s *Supply) send(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("supply %q: %w", command, err)
	}
	if err := s.link.SendCommand(command); err != nil {
		return fmt.Errorf("supply %q: %w", command, err)
	}
	return nil
}

func (s *Supply) query(ctx context.Context, command string) (string, error) {
	line, err := s.link.Query(ctx, command)
	if err != nil {
		return "", fmt.Errorf("supply %q: %w", command, err)
	}
	return line, nil
}

func triple(x, y, z float64) string {
	return fmt.Sprintf("%.6f,%.6f,%.6f", x, y, z)
}
