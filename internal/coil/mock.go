package coil

import (
	"context"
	"sync"

	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/polarity"
)

// MockCurrentSource is an in-memory CurrentSource for tests. By default it
// reads back exactly what was written and tracks the output state.
type MockCurrentSource struct {
	mu sync.Mutex

	State   MagnetState
	Written []field.CurrentTriple
	Calls   []string

	// Measure, when set, replaces the read-back of the last written currents.
	Measure func(written field.CurrentTriple) field.CurrentTriple
	// Hook, when set, runs at the start of every call with the call name.
	Hook func(call string)

	EnableErr   error
	DisableErr  error
	WriteErr    error
	ReadErr     error
	QueryErr    error
	SetStateErr error
	// EnableResult is the state reported after EnableOutput. Defaults to
	// MagnetOn.
	EnableResult *MagnetState
}

// NewMockCurrentSource returns a source whose output starts in state s.
func NewMockCurrentSource(s MagnetState) *MockCurrentSource {
	return &MockCurrentSource{State: s}
}

func (m *MockCurrentSource) record(call string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	hook := m.Hook
	m.mu.Unlock()
	if hook != nil {
		hook(call)
	}
}

func (m *MockCurrentSource) EnableOutput(ctx context.Context) error {
	m.record("enable")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnableErr != nil {
		return m.EnableErr
	}
	m.State = MagnetOn
	if m.EnableResult != nil {
		m.State = *m.EnableResult
	}
	return nil
}

func (m *MockCurrentSource) DisableOutput(ctx context.Context) error {
	m.record("disable")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DisableErr != nil {
		return m.DisableErr
	}
	m.State = MagnetOff
	return nil
}

func (m *MockCurrentSource) SetChannelCurrents(ctx context.Context, c field.CurrentTriple) error {
	m.record("write")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Written = append(m.Written, c)
	return nil
}

func (m *MockCurrentSource) ReadChannelCurrents(ctx context.Context) (field.CurrentTriple, error) {
	m.record("read")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return field.CurrentTriple{}, m.ReadErr
	}
	var last field.CurrentTriple
	if n := len(m.Written); n > 0 {
		last = m.Written[n-1]
	}
	if m.Measure != nil {
		return m.Measure(last), nil
	}
	return last, nil
}

func (m *MockCurrentSource) MagnetState(ctx context.Context) (MagnetState, error) {
	m.record("query")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return MagnetUnknown, m.QueryErr
	}
	return m.State, nil
}

func (m *MockCurrentSource) SetMagnetState(ctx context.Context, s MagnetState) error {
	m.record("set-state")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetStateErr != nil {
		return m.SetStateErr
	}
	m.State = s
	return nil
}

// CallLog returns a copy of the recorded call names.
func (m *MockCurrentSource) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// Writes returns a copy of the written current triples.
func (m *MockCurrentSource) Writes() []field.CurrentTriple {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]field.CurrentTriple, len(m.Written))
	copy(out, m.Written)
	return out
}

// SetQueryErr changes the error returned by MagnetState.
func (m *MockCurrentSource) SetQueryErr(err error) {
	m.mu.Lock()
	m.QueryErr = err
	m.mu.Unlock()
}

// MockRelay is an in-memory Relay. It stores the last commanded code and
// reports it back unless Override is set.
type MockRelay struct {
	mu sync.Mutex

	Code     polarity.Code
	Commands []polarity.Code
	// Override, when non-empty, is reported by Polarity instead of Code.
	Override polarity.Code

	SetErr  error
	ReadErr error
}

// NewMockRelay returns a relay with every axis positive.
func NewMockRelay() *MockRelay {
	return &MockRelay{Code: "000"}
}

func (r *MockRelay) SetPolarity(ctx context.Context, code polarity.Code) (polarity.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, code)
	if r.SetErr != nil {
		return "", r.SetErr
	}
	r.Code = code
	return r.reportLocked(), nil
}

func (r *MockRelay) Polarity(ctx context.Context) (polarity.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ReadErr != nil {
		return "", r.ReadErr
	}
	return r.reportLocked(), nil
}

func (r *MockRelay) reportLocked() polarity.Code {
	if r.Override != "" {
		return r.Override
	}
	return r.Code
}

// CommandLog returns a copy of the commanded codes.
func (r *MockRelay) CommandLog() []polarity.Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]polarity.Code, len(r.Commands))
	copy(out, r.Commands)
	return out
}
