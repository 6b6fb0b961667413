package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// LinePort is an in-memory SerialPorter for simulators and tests. Every line
// written to it is passed to Respond and the returned lines become readable.
// Reads block until data arrives or the port is closed.
type LinePort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuffer bytes.Buffer
	partial    string
	written    []string
	closed     bool

	// Respond produces the device's reply lines for one command line.
	Respond func(command string) []string

	// WriteError is returned by the next Write call if set.
	WriteError error
	// CloseError is returned by Close if set.
	CloseError error
}

// NewLinePort creates a LinePort answering with respond, which may be nil.
func NewLinePort(respond func(command string) []string) *LinePort {
	p := &LinePort{Respond: respond}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read returns buffered reply data, blocking while the buffer is empty.
func (p *LinePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && p.readBuffer.Len() == 0 {
		p.readCond.Wait()
	}
	if p.readBuffer.Len() == 0 {
		return 0, errors.New("serial port closed")
	}
	return p.readBuffer.Read(b)
}

// Write records complete lines and queues the replies to each of them.
func (p *LinePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}

	data := p.partial + string(b)
	lines := strings.Split(data, "\n")
	p.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimRight(line, "\r")
		p.written = append(p.written, line)
		if p.Respond == nil {
			continue
		}
		for _, reply := range p.Respond(line) {
			p.readBuffer.WriteString(reply + "\n")
		}
	}
	p.readCond.Broadcast()
	return len(b), nil
}

// Inject queues an unsolicited line from the device.
func (p *LinePort) Inject(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuffer.WriteString(line + "\n")
	p.readCond.Broadcast()
}

// Close marks the port as closed and wakes blocked readers.
func (p *LinePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return p.CloseError
}

// Written returns the command lines received so far.
func (p *LinePort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.written))
	copy(out, p.written)
	return out
}

// Closed reports whether Close was called.
func (p *LinePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MockOpener records Open calls and returns a fixed port or error.
type MockOpener struct {
	mu sync.Mutex

	Port  SerialPorter
	Error error
	Calls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Address string
	Options PortOptions
}

// Open implements PortOpener.
func (m *MockOpener) Open(address string, opts PortOptions) (SerialPorter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockOpenCall{Address: address, Options: opts})
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (m *MockOpener) LastCall() *MockOpenCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return &m.Calls[len(m.Calls)-1]
}
