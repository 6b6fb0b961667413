// Serialmux provides an abstraction over a line-oriented instrument link
// (a serial port or a TCP socket) with the ability for multiple clients to
// subscribe to lines from the device while commands and queries to the single
// device are serialised.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/helmholtz/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrNoReply is returned by Query when the device does not answer before
	// the context is done.
	ErrNoReply = errors.New("no reply from device")
	ErrClosed  = errors.New("serial mux closed")
)

// subscriberBuffer is the number of lines a subscriber may lag behind.
const subscriberBuffer = 16

// SerialMux is a generic line multiplexer over a single device port.
type SerialMux[T SerialPorter] struct {
	port T
	name string

	subscribers  map[string]chan string
	subscriberMu sync.Mutex

	commandMu sync.Mutex
	// queryMu holds a command and its reply together.
	queryMu sync.Mutex
	replyMu sync.Mutex
	reply   chan string
	// late counts replies still owed to queries that timed out. Monitor
	// discards that many lines before filling the next reply slot.
	late int
	// discarded is set when a late line is dropped while a query waits.
	discarded bool

	guard Guard

	initCommands []string

	closing   bool
	closingMu sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving lines from the device.
	// The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the device.
	SendCommand(string) error
	// Query writes the command and returns the next line from the device.
	// Monitor must be running for replies to be delivered.
	Query(ctx context.Context, command string) (string, error)
	// Monitor reads lines from the device and sends them to the pending
	// query and to subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the port.
	Close() error
	// Initialize sends the configured start-up commands.
	Initialize() error
	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux backed by port. name prefixes the admin
// routes and log lines and defaults to "serial".
func NewSerialMux[T SerialPorter](port T, name string) *SerialMux[T] {
	if name == "" {
		name = "serial"
	}
	return &SerialMux[T]{
		port:        port,
		name:        name,
		subscribers: make(map[string]chan string),
	}
}

// Guard serialises admin route traffic with the owner of the device.
type Guard interface {
	Exclusive(ctx context.Context, fn func(ctx context.Context) error) error
}

// SetGuard makes the admin command and query routes run inside g, so a
// console command cannot split a multi-command exchange of the owner.
func (s *SerialMux[T]) SetGuard(g Guard) {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	s.guard = g
}

func (s *SerialMux[T]) exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	s.commandMu.Lock()
	g := s.guard
	s.commandMu.Unlock()
	if g == nil {
		return fn(ctx)
	}
	return g.Exclusive(ctx, fn)
}

// Name returns the mux name.
func (s *SerialMux[T]) Name() string { return s.name }

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SetInitCommands replaces the commands sent by Initialize.
func (s *SerialMux[T]) SetInitCommands(commands ...string) {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	s.initCommands = append([]string(nil), commands...)
}

// Initialize sends the start-up commands in order.
func (s *SerialMux[T]) Initialize() error {
	s.commandMu.Lock()
	commands := append([]string(nil), s.initCommands...)
	s.commandMu.Unlock()

	for _, command := range commands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand sends a command to the device, appending a newline if needed.
func (s *SerialMux[T]) SendCommand(command string) error {
	if s.isClosing() {
		return ErrClosed
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Query sends command and waits for the next line from the device. When
// ctx ends first, the reply is still expected and is discarded on arrival so
// it cannot answer a later query.
func (s *SerialMux[T]) Query(ctx context.Context, command string) (string, error) {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()

	reply := make(chan string, 1)
	s.replyMu.Lock()
	s.reply = reply
	s.discarded = false
	s.replyMu.Unlock()

	if err := s.SendCommand(command); err != nil {
		s.replyMu.Lock()
		s.reply = nil
		s.replyMu.Unlock()
		return "", err
	}
	select {
	case line := <-reply:
		return line, nil
	case <-ctx.Done():
	}

	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	if s.reply == nil {
		// answered while ctx was ending
		return <-reply, nil
	}
	s.reply = nil
	// A line dropped during this wait shows the device is answering, and it
	// may have been this query's own reply. Owing another line here could
	// starve every following query.
	if !s.discarded {
		s.late++
	}
	return "", fmt.Errorf("%s: %w to %q: %v", s.name, ErrNoReply, strings.TrimSpace(command), ctx.Err())
}

// Monitor reads lines from the device and sends them to the pending
	// query and to subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the port.
	Close() error
	// Initialize sends the configured start-up commands.
	Initialize() error
	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux backed by port. name prefixes the admin
// routes and log lines and defaults to "serial".
func NewSerialMux[T SerialPorter](port T, name string) *SerialMux[T] {
	if name == "" {
		name = "serial"
	}
	return &SerialMux[T]{
		port:        port,
		name:        name,
		subscribers: make(map[string]chan string),
	}
}

// Name returns the mux name.
func (s *SerialMux[T]) Name() string { return s.name }

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SetInitCommands replaces the commands sent by Initialize.
func (s *SerialMux[T]) SetInitCommands(commands ...string) {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	s.initCommands = append([]string(nil), commands...)
}

// Initialize sends the start-up commands in order.
func (s *SerialMux[T]) Initialize() error {
	s.commandMu.Lock()
	commands := append([]string(nil), s.initCommands...)
	s.commandMu.Unlock()

	for _, command := range commands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand sends a command to the device, appending a newline if needed.
func (s *SerialMux[T]) SendCommand(command string) error {
	if s.isClosing() {
		return ErrClosed
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Query sends command and waits for the next line from the device.
func (s *SerialMux[T]) Query(ctx context.Context, command string) (string, error) {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()

	reply := make(chan string, 1)
	s.replyMu.Lock()
	s.reply = reply
	s.replyMu.Unlock()
	defer func() {
		s.replyMu.Lock()
		s.reply = nil
		s.replyMu.Unlock()
	}()

	if err := s.SendCommand(command); err != nil {
		return "", err
	}
	select {
	case line := <-reply:
		return line, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w to %q: %v", s.name, ErrNoReply, strings.TrimSpace(command), ctx.Err())
	}
}

// Monitor reads lines from the device until ctx is done or the port fails.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs in its own goroutine so the outer loop can
	// still observe context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			if s.isClosing() {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			s.dispatch(line)
		}
	}
}

func (s *SerialMux[T]) dispatch(line string) {
	s.replyMu.Lock()
	switch {
	case s.late > 0:
		s.late--
		if s.reply != nil {
			s.discarded = true
		}
		monitoring.Logf("[%s] discarding late reply: %q", s.name, line)
	case s.reply != nil:
		select {
		case s.reply <- line:
		default:
		}
		s.reply = nil
	default:
		monitoring.Logf("[%s] unsolicited line: %q", s.name, line)
	}
	s.replyMu.Unlock()

	s.subscriberMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// a lagging subscriber must not block the read loop
		}
	}
	s.subscriberMu.Unlock()
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

var consoleTemplate = template.Must(template.New("console").Parse(`<!doctype html>
<html><head><title>{{.Name}} console</title></head>
<body>
<h1>{{.Name}}</h1>
<form id="cmd"><input name="command" size="40" autofocus> <button>query</button></form>
<pre id="out"></pre>
<script>
const out = document.getElementById("out");
const log = (s) => { out.textContent += s + "\n"; };
document.getElementById("cmd").addEventListener("submit", async (e) => {
  e.preventDefault();
  const body = new FormData(e.target);
  const res = await fetch("{{.Name}}-query-api", {method: "POST", body});
  log("> " + body.get("command") + "\n< " + await res.text());
});
const tail = new EventSource("{{.Name}}-tail");
for (const kind of ["number", "error", "text"]) {
  tail.addEventListener(kind, (e) => log("# [" + kind + "] " + e.data));
}
</script>
</body></html>
`))

// AttachAdminRoutes registers a console, a command and query API and a live
// tail of device lines under /debug/<name>-*.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc(s.name+"-console", "send commands to the "+s.name+" device", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := consoleTemplate.Execute(w, struct{ Name string }{s.name}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc(s.name+"-send-command-api", func(w http.ResponseWriter, r *http.Request) {
		command, ok := commandFromForm(w, r)
		if !ok {
			return
		}
		if err := s.exclusive(r.Context(), func(context.Context) error {
			return s.SendCommand(command)
		}); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to %s", command, s.name)
	})

	debug.HandleSilentFunc(s.name+"-query-api", func(w http.ResponseWriter, r *http.Request) {
		command, ok := commandFromForm(w, r)
		if !ok {
			return
		}
		var reply string
		err := s.exclusive(r.Context(), func(ctx context.Context) error {
			var err error
			reply, err = s.Query(ctx, command)
			return err
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		w.Write([]byte(reply))
	})

	debug.HandleSilentFunc(s.name+"-tail", func(w http.ResponseWriter, r *http.Request) {
		ServeTail(w, r, s)
	})
}

func commandFromForm(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return "", false
	}
	return command, true
}

// ServeTail streams lines from m as Server-Sent Events until the client goes
// away or the mux closes. Each event is typed with ClassifyReply.
func ServeTail(w http.ResponseWriter, r *http.Request, m SerialMuxInterface) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case line, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ClassifyReply(line), line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
