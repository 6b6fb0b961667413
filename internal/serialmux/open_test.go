package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestOpen_UsesOpener(t *testing.T) {
	port := NewLinePort(nil)
	opener := &MockOpener{Port: port}
	opts := PortOptions{BaudRate: 115200}

	m, err := Open("supply", "/dev/ttyUSB0", opts, opener.Open)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if m.Name() != "supply" {
		t.Errorf("Name() = %q", m.Name())
	}
	call := opener.LastCall()
	if call == nil || call.Address != "/dev/ttyUSB0" || call.Options != opts {
		t.Errorf("LastCall() = %+v", call)
	}

	opener.Error = errors.New("busy")
	if _, err := Open("relay", "/dev/ttyACM0", opts, opener.Open); err == nil || !strings.Contains(err.Error(), "relay") {
		t.Errorf("Open() error = %v, want wrapped error naming the device", err)
	}
}

func TestDefaultOpener_Network(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// A one-shot SCPI-ish instrument.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		line, _ := r.ReadString('\n')
		if strings.TrimSpace(line) == "*IDN?" {
			conn.Write([]byte("SIM,PSU,0,1.0\n"))
		}
	}()

	m, err := Open("supply", "tcp://"+ln.Addr().String(), PortOptions{}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go m.Monitor(ctx)

	got, err := m.Query(ctx, "*IDN?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != "SIM,PSU,0,1.0" {
		t.Errorf("Query() = %q", got)
	}
}

func TestDefaultOpener_InvalidAddresses(t *testing.T) {
	for _, addr := range []string{"", "tcp://nohostport"} {
		if _, err := DefaultOpener(addr, PortOptions{}); err == nil {
			t.Errorf("DefaultOpener(%q) should fail", addr)
		}
	}
	if _, err := DefaultOpener("/dev/null", PortOptions{Parity: "?"}); err == nil {
		t.Error("invalid options should fail before opening")
	}
}

func TestIsNetworkAddress(t *testing.T) {
	if !IsNetworkAddress("tcp://10.0.0.5:5025") {
		t.Error("tcp address not detected")
	}
	if IsNetworkAddress("/dev/ttyUSB0") {
		t.Error("device path detected as network")
	}
}
