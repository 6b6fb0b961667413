package relay

import (
	"strings"
	"sync"

	"github.com/banshee-data/helmholtz/internal/polarity"
)

// Simulator emulates the relay firmware for dev mode and tests. Its Respond
// method plugs into serialmux.NewLinePort.
type Simulator struct {
	mu   sync.Mutex
	code polarity.Code

	// Separator is placed between digits in replies, e.g. "," gives "0,1,0".
	Separator string
	// Stuck, when set, makes the board ignore set commands and keep
	// reporting its current code.
	Stuck bool
}

// NewSimulator returns a simulated board with every axis positive.
func NewSimulator() *Simulator {
	return &Simulator{code: "000"}
}

// Code returns the simulated relay state.
func (s *Simulator) Code() polarity.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Respond answers one command line.
func (s *Simulator) Respond(command string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := strings.Fields(strings.ToLower(command))
	switch {
	case len(fields) == 2 && fields[0] == "set":
		code := polarity.Code(fields[1])
		if !code.Valid() {
			return []string{"ERR bad code"}
		}
		if !s.Stuck {
			s.code = code
		}
		return []string{s.formatLocked()}
	case len(fields) == 1 && fields[0] == "get":
		return []string{s.formatLocked()}
	}
	return []string{"ERR unknown command"}
}

func (s *Simulator) formatLocked() string {
	digits := make([]string, len(s.code))
	for i := range digits {
		digits[i] = string(s.code[i])
	}
	return strings.Join(digits, s.Separator)
}
