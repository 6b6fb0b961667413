package supply

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/helmholtz/internal/field"
)

// Simulator emulates a three-channel SCPI supply for dev mode and tests. Its
// Respond method plugs into serialmux.NewLinePort. Measured currents equal
// the setpoints while the output is on and zero while it is off.
type Simulator struct {
	mu sync.Mutex

	remote    bool
	on        bool
	selected  int
	setpoints [field.NumAxes]float64
	voltages  [field.NumAxes]float64
	errors    []string

	// Measure, when set, maps a channel index and setpoint to the measured
	// current while the output is on.
	Measure func(channel int, setpoint float64) float64
}

// NewSimulator returns a simulated supply with the output off.
func NewSimulator() *Simulator {
	return &Simulator{selected: 1}
}

// Output reports whether the simulated output is on.
func (s *Simulator) Output() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Setpoints returns the programmed channel currents.
func (s *Simulator) Setpoints() field.CurrentTriple {
	s.mu.Lock()
	defer s.mu.Unlock()
	return field.CurrentTriple{X: s.setpoints[0], Y: s.setpoints[1], Z: s.setpoints[2]}
}

// Voltages returns the programmed compliance voltages.
func (s *Simulator) Voltages() [field.NumAxes]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voltages
}

// Remote reports whether SYST:REM was received.
func (s *Simulator) Remote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Respond answers one command line. Several commands may be joined with ';'.
func (s *Simulator) Respond(line string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var replies []string
	for _, cmd := range strings.Split(line, ";") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if reply, ok := s.executeLocked(cmd); ok {
			replies = append(replies, reply)
		}
	}
	return replies
}

func (s *Simulator) executeLocked(cmd string) (string, bool) {
	header, arg, _ := strings.Cut(cmd, " ")
	header = strings.ToUpper(header)
	arg = strings.TrimSpace(arg)

	switch header {
	case "*IDN?":
		return "SIMULATED,2230-30-1,0,1.0", true
	case "*RST":
		s.on = false
		s.selected = 1
		s.setpoints = [field.NumAxes]float64{}
	case "*CLS":
		s.errors = nil
	case "SYST:REM":
		s.remote = true
	case "SYST:ERR?":
		if len(s.errors) == 0 {
			return `0,"No error"`, true
		}
		e := s.errors[0]
		s.errors = s.errors[1:]
		return e, true
	case "APP:CURR":
		if v, ok := s.parseTripleLocked(arg); ok {
			s.setpoints = v
		}
	case "APP:VOLT":
		if v, ok := s.parseTripleLocked(arg); ok {
			s.voltages = v
		}
	case "OUTP:STAT:ALL":
		switch strings.ToUpper(arg) {
		case "ON", "1":
			s.on = true
		case "OFF", "0":
			s.on = false
		default:
			s.pushErrorLocked(-224, "Illegal parameter value")
		}
	case "OUTP:STAT:ALL?":
		if s.on {
			return "1", true
		}
		return "0", true
	case "INST:NSEL":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > field.NumAxes {
			s.pushErrorLocked(-222, "Data out of range")
			break
		}
		s.selected = n
	case "MEAS:CURR?":
		return fmt.Sprintf("%+.6E", s.measureLocked()), true
	default:
		s.pushErrorLocked(-113, "Undefined header")
	}
	return "", false
}

func (s *Simulator) measureLocked() float64 {
	if !s.on {
		return 0
	}
	i := s.selected - 1
	if s.Measure != nil {
		return s.Measure(i, s.setpoints[i])
	}
	return s.setpoints[i]
}

func (s *Simulator) parseTripleLocked(arg string) ([field.NumAxes]float64, bool) {
	var out [field.NumAxes]float64
	parts := strings.Split(arg, ",")
	if len(parts) != field.NumAxes {
		s.pushErrorLocked(-109, "Missing parameter")
		return out, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v < 0 {
			s.pushErrorLocked(-224, "Illegal parameter value")
			return out, false
		}
		out[i] = v
	}
	return out, true
}

func (s *Simulator) pushErrorLocked(code int, msg string) {
	s.errors = append(s.errors, fmt.Sprintf("%d,%q", code, msg))
}
