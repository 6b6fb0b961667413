package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a device port.
// A go.bug.st/serial Port, a net.Conn and LinePort all satisfy it.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens the port at address with the given options.
type PortOpener func(address string, opts PortOptions) (SerialPorter, error)
