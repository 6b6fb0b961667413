package serialmux

import (
	"fmt"
	"net"
	"strings"
	"time"

	"go.bug.st/serial"
)

// networkScheme prefixes addresses of instruments reached over TCP, such as
// a LAN-attached current source.
const networkScheme = "tcp://"

// DialTimeout bounds connecting to a network instrument.
var DialTimeout = 5 * time.Second

// IsNetworkAddress reports whether address names a TCP instrument.
func IsNetworkAddress(address string) bool {
	return strings.HasPrefix(address, networkScheme)
}

// DefaultOpener opens tcp://host:port addresses with net.Dial and anything
// else as a serial device path.
func DefaultOpener(address string, opts PortOptions) (SerialPorter, error) {
	if address == "" {
		return nil, fmt.Errorf("empty device address")
	}
	if IsNetworkAddress(address) {
		hostport := strings.TrimPrefix(address, networkScheme)
		if _, _, err := net.SplitHostPort(hostport); err != nil {
			return nil, fmt.Errorf("invalid network address %q: %w", address, err)
		}
		conn, err := net.DialTimeout("tcp", hostport, DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", hostport, err)
		}
		return conn, nil
	}

	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", address, err)
	}
	return port, nil
}

// Open opens address with opener (DefaultOpener when nil) and wraps the port
// in a SerialMux called name.
func Open(name, address string, opts PortOptions, opener PortOpener) (*SerialMux[SerialPorter], error) {
	if opener == nil {
		opener = DefaultOpener
	}
	port, err := opener(address, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return NewSerialMux(port, name), nil
}

// ListPorts returns the serial device paths present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
