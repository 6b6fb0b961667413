package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// echoResponder answers queries (commands ending in '?') with "re:<cmd>".
func echoResponder(cmd string) []string {
	if strings.HasSuffix(cmd, "?") {
		return []string{"re:" + cmd}
	}
	return nil
}

// startMonitor runs Monitor in the background and returns a stop function
// that waits for it to exit.
func startMonitor(t *testing.T, m *SerialMux[*LinePort]) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("Monitor did not exit")
		}
	}
}

func TestNewSerialMux_DefaultName(t *testing.T) {
	m := NewSerialMux(NewLinePort(nil), "")
	if m.Name() != "serial" {
		t.Errorf("Name() = %q, want %q", m.Name(), "serial")
	}
}

func TestSendCommand_AppendsNewline(t *testing.T) {
	port := NewLinePort(nil)
	m := NewSerialMux(port, "test")

	if err := m.SendCommand("OUTP:STAT:ALL ON"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if err := m.SendCommand("*CLS\n"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	got := port.Written()
	want := []string{"OUTP:STAT:ALL ON", "*CLS"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Written() = %q, want %q", got, want)
	}
}

func TestSendCommand_WriteError(t *testing.T) {
	port := NewLinePort(nil)
	port.WriteError = errors.New("device unplugged")
	m := NewSerialMux(port, "test")

	if err := m.SendCommand("get"); err == nil {
		t.Fatal("expected write error")
	}
	// The error is one-shot.
	if err := m.SendCommand("get"); err != nil {
		t.Errorf("second SendCommand() error = %v", err)
	}
}

func TestQuery_ReturnsReply(t *testing.T) {
	port := NewLinePort(echoResponder)
	m := NewSerialMux(port, "test")
	defer startMonitor(t, m)()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, cmd := range []string{"MEAS:CURR?", "OUTP:STAT:ALL?"} {
		got, err := m.Query(ctx, cmd)
		if err != nil {
			t.Fatalf("Query(%q) error = %v", cmd, err)
		}
		if got != "re:"+cmd {
			t.Errorf("Query(%q) = %q, want %q", cmd, got, "re:"+cmd)
		}
	}
}

func TestQuery_TimesOutWithoutReply(t *testing.T) {
	port := NewLinePort(nil)
	m := NewSerialMux(port, "relay")
	defer startMonitor(t, m)()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Query(ctx, "get")
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("Query() error = %v, want ErrNoReply", err)
	}
	if !strings.Contains(err.Error(), "relay") {
		t.Errorf("error %q should name the mux", err)
	}
}

func TestQuery_LateReplyIsDiscarded(t *testing.T) {
	port := NewLinePort(nil)
	m := NewSerialMux(port, "relay")
	id, lines := m.Subscribe()
	defer m.Unsubscribe(id)
	defer startMonitor(t, m)()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Query(ctx, "set 111"); !errors.Is(err, ErrNoReply) {
		t.Fatalf("Query() error = %v, want ErrNoReply", err)
	}

	port.Inject("111")
	select {
	case <-lines:
	case <-time.After(time.Second):
		t.Fatal("late line never reached subscribers")
	}

	port.Respond = func(cmd string) []string { return []string{"000"} }
	getCtx, getCancel := context.WithTimeout(context.Background(), time.Second)
	defer getCancel()
	got, err := m.Query(getCtx, "get")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != "000" {
		t.Errorf("Query() = %q, want the device's answer to get, not the late %q", got, "111")
	}
}

func TestQuery_LateReplyArrivingDuringNextQuery(t *testing.T) {
	port := NewLinePort(func(cmd string) []string {
		switch cmd {
		case "set 111":
			return nil
		case "get":
			return []string{"111", "000"}
		}
		return nil
	})
	m := NewSerialMux(port, "relay")
	defer startMonitor(t, m)()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Query(ctx, "set 111"); !errors.Is(err, ErrNoReply) {
		t.Fatalf("Query() error = %v, want ErrNoReply", err)
	}

	getCtx, getCancel := context.WithTimeout(context.Background(), time.Second)
	defer getCancel()
	got, err := m.Query(getCtx, "get")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != "000" {
		t.Errorf("Query() = %q, want %q", got, "000")
	}
}

func TestQuery_RecoversAfterMissedReply(t *testing.T) {
	// The device never answers "a?" but answers everything after it.
	port := NewLinePort(func(cmd string) []string {
		if cmd == "a?" {
			return nil
		}
		return echoResponder(cmd)
	})
	m := NewSerialMux(port, "supply")
	defer startMonitor(t, m)()

	for _, cmd := range []string{"a?", "b?"} {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, err := m.Query(ctx, cmd)
		cancel()
		if !errors.Is(err, ErrNoReply) {
			t.Fatalf("Query(%q) error = %v, want ErrNoReply", cmd, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := m.Query(ctx, "c?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != "re:c?" {
		t.Errorf("Query() = %q, want %q", got, "re:c?")
	}
}

func TestMonitor_FansOutToSubscribers(t *testing.T) {
	port := NewLinePort(nil)
	m := NewSerialMux(port, "test")
	id, ch := m.Subscribe()
	defer startMonitor(t, m)()

	port.Inject("  hello  ")
	port.Inject("")
	port.Inject("world")

	for _, want := range []string{"hello", "world"} {
		select {
		case got := <-ch:
			if got != want {
				t.Errorf("got line %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	m.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestMonitor_StopsOnContextCancel(t *testing.T) {
	m := NewSerialMux(NewLinePort(nil), "test")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop")
	}
}

func TestInitialize_SendsInitCommandsInOrder(t *testing.T) {
	port := NewLinePort(nil)
	m := NewSerialMux(port, "supply")
	m.SetInitCommands("SYST:REM", "*RST;*CLS")

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	got := strings.Join(port.Written(), "|")
	if got != "SYST:REM|*RST;*CLS" {
		t.Errorf("Written() = %q", got)
	}

	port.WriteError = errors.New("boom")
	if err := m.Initialize(); err == nil || !strings.Contains(err.Error(), "SYST:REM") {
		t.Errorf("Initialize() error = %v, want failure naming the command", err)
	}
}

func TestClose_ClosesSubscribersAndPort(t *testing.T) {
	port := NewLinePort(nil)
	m := NewSerialMux(port, "test")
	_, ch := m.Subscribe()

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.Closed() {
		t.Error("port should be closed")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := m.SendCommand("get"); !errors.Is(err, ErrClosed) {
		t.Errorf("SendCommand after Close = %v, want ErrClosed", err)
	}
}
