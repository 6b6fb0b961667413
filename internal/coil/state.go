package coil

import (
	"fmt"
	"strings"
)

// MagnetState is the output state of the current source. The source is
// authoritative; the controller only caches the last observation.
type MagnetState int

const (
	MagnetOff MagnetState = iota
	MagnetOn
	// MagnetSetting is reported by some sources while an output change is
	// in progress.
	MagnetSetting
	// MagnetUnknown marks an unreconciled or faulted read. It is never a
	// valid command target.
	MagnetUnknown
)

func (s MagnetState) String() string {
	switch s {
	case MagnetOff:
		return "off"
	case MagnetOn:
		return "on"
	case MagnetSetting:
		return "setting"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its lower-case name.
func (s MagnetState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *MagnetState) UnmarshalText(b []byte) error {
	parsed, err := ParseMagnetState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseMagnetState accepts the names produced by String, case-insensitively.
func ParseMagnetState(v string) (MagnetState, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "off":
		return MagnetOff, nil
	case "on":
		return MagnetOn, nil
	case "setting":
		return MagnetSetting, nil
	case "unknown":
		return MagnetUnknown, nil
	}
	return MagnetUnknown, fmt.Errorf("unknown magnet state %q", v)
}

// State is the controller's own cycle state.
type State int

const (
	StateIdle State = iota
	StateSetting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSetting:
		return "setting"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state as its lower-case name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
