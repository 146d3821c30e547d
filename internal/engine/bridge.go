package engine

import (
	"bufio"
	"log"
	"net"
	"strconv"
	"sync"
	"time"
)

// Sender delivers outbound messages to a client connection. Implemented by
// the ws hub; delivery is best effort and never returns an error.
type Sender interface {
	SendTo(connID string, msg map[string]any)
}

// Config holds the engine endpoint and execution limits.
type Config struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	TimeLimitSec   int
	MemoryLimitMB  int
}

// watchdogFloor is the minimum forced-termination bound regardless of the
// configured time limit.
const watchdogFloor = 10 * time.Minute

// watchdogPoll is the liveness polling interval of the completion watchdog.
const watchdogPoll = time.Second

// execution is one live engine session for a connection.
type execution struct {
	connID    string
	socket    net.Conn
	writer    *bufio.Writer
	startedAt time.Time

	mu     sync.Mutex
	closed bool
}

// close releases the socket exactly once. Returns false if the execution
// was already closed.
func (e *execution) close() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	e.mu.Unlock()

	e.socket.Close()
	return true
}

// isClosed reports whether the execution has been released.
func (e *execution) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Bridge runs code-execution requests end to end: one TCP socket, one
// stream reader and one watchdog per active execution, at most one
// execution per connection id.
type Bridge struct {
	cfg    Config
	sender Sender

	mu    sync.Mutex
	execs map[string]*execution
}

// NewBridge creates a bridge for the configured engine endpoint.
func NewBridge(cfg Config, sender Sender) *Bridge {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.TimeLimitSec == 0 {
		cfg.TimeLimitSec = 30
	}
	if cfg.MemoryLimitMB == 0 {
		cfg.MemoryLimitMB = 256
	}
	return &Bridge{
		cfg:    cfg,
		sender: sender,
		execs:  make(map[string]*execution),
	}
}

// Execute opens a socket to the engine and runs one request for the
// connection. A still-active previous execution for the same connection is
// torn down first. Connect failure is terminal: the client gets a single
// ERROR and no session is registered.
func (b *Bridge) Execute(connID string, code, filePath string, files map[string]string) {
	b.Release(connID)

	addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(b.cfg.Port))
	log.Printf("Connecting to execution engine at %s for %s", addr, connID)

	socket, err := net.DialTimeout("tcp", addr, b.cfg.ConnectTimeout)
	if err != nil {
		log.Printf("Cannot connect to execution engine at %s: %v", addr, err)
		b.sender.SendTo(connID, newEngineMessage("ERROR", "Execution engine unavailable", 0))
		return
	}

	exec := &execution{
		connID:    connID,
		socket:    socket,
		writer:    bufio.NewWriter(socket),
		startedAt: time.Now(),
	}

	// Registration is a swap: if another Execute for the same connection
	// raced past the Release above, its execution is torn down here rather
	// than leaking its socket.
	b.mu.Lock()
	prev := b.execs[connID]
	b.execs[connID] = exec
	b.mu.Unlock()
	if prev != nil {
		b.teardown(prev)
	}

	b.sender.SendTo(connID, newEngineMessage("EXECUTION_STARTED", "Connected to execution engine", 0))

	go b.readLoop(exec)
	go b.watchdog(exec)

	request, err := encodeRequest(code, files, b.cfg.TimeLimitSec, b.cfg.MemoryLimitMB)
	if err != nil {
		log.Printf("Failed to encode request for %s: %v", connID, err)
		b.sender.SendTo(connID, newEngineMessage("ERROR", "Failed to send code to execution engine", 0))
		b.teardown(exec)
		return
	}

	if filePath != "" {
		log.Printf("Executing %s for %s (%d bytes)", filePath, connID, len(request))
	}

	exec.mu.Lock()
	_, err = exec.writer.Write(request)
	if err == nil {
		err = exec.writer.Flush()
	}
	exec.mu.Unlock()

	if err != nil {
		log.Printf("Failed to send request for %s: %v", connID, err)
		b.sender.SendTo(connID, newEngineMessage("ERROR", "Failed to send code to execution engine", 0))
		b.teardown(exec)
	}
}

// readLoop reconstructs framed units from the engine's byte stream and
// forwards each to the originating connection. Reads are unbounded once
// the connection is up; the watchdog is the only time bound.
func (b *Bridge) readLoop(exec *execution) {
	log.Printf("Starting engine output reader for %s", exec.connID)

	scanner := NewScanner()
	buf := make([]byte, 8192)

	for {
		n, err := exec.socket.Read(buf)
		if n > 0 {
			for _, unit := range scanner.Feed(buf[:n]) {
				if b.dispatch(exec, unit) {
					return
				}
			}
		}
		if err != nil {
			break
		}
	}

	// A read error caused by our own teardown means the execution was
	// stopped or released; its buffered remainder must not reach the client.
	if !exec.isClosed() {
		if remainder, ok := scanner.Flush(); ok {
			if b.dispatch(exec, remainder) {
				return
			}
		}
	}

	log.Printf("Engine stream ended for %s", exec.connID)
	b.teardown(exec)
}

// dispatch classifies one unit and sends it to the origin connection.
// Returns true when the unit was terminal and the execution is done.
func (b *Bridge) dispatch(exec *execution, unit string) bool {
	msg, terminal := classify(unit)
	if msg == nil {
		return false
	}

	b.sender.SendTo(exec.connID, msg)

	if terminal {
		b.teardown(exec)
	}
	return terminal
}

// SendInput forwards raw interactive input to the running execution. No
// newline is added; the client controls line endings.
func (b *Bridge) SendInput(connID, input string) {
	b.mu.Lock()
	exec := b.execs[connID]
	b.mu.Unlock()

	if exec == nil {
		b.sender.SendTo(connID, newEngineMessage("ERROR", "No active execution session", 0))
		return
	}

	exec.mu.Lock()
	closed := exec.closed
	var err error
	if !closed {
		if _, err = exec.writer.WriteString(input); err == nil {
			err = exec.writer.Flush()
		}
	}
	exec.mu.Unlock()

	if closed {
		b.sender.SendTo(connID, newEngineMessage("ERROR", "No active execution session", 0))
		return
	}
	if err != nil {
		log.Printf("Failed to send input for %s: %v", connID, err)
		b.sender.SendTo(connID, newEngineMessage("ERROR", "Failed to send input: "+err.Error(), 0))
		return
	}

	b.sender.SendTo(connID, newEngineMessage("INPUT_SENT", "Input sent: "+input, 0))
}

// Stop force-closes the execution for a connection and confirms it.
// Idempotent: stopping an already-finished execution just re-confirms.
func (b *Bridge) Stop(connID string) {
	log.Printf("Stopping execution for %s", connID)
	b.release(connID)
	b.sender.SendTo(connID, newEngineMessage("EXECUTION_STOPPED", "Execution stopped by user", 0))
}

// Release tears down an active execution without notifying the client.
// Called when the owning connection goes away; safe to call with no
// execution active.
func (b *Bridge) Release(connID string) {
	b.release(connID)
}

func (b *Bridge) release(connID string) {
	b.mu.Lock()
	exec := b.execs[connID]
	b.mu.Unlock()

	if exec != nil {
		b.teardown(exec)
	}
}

// teardown releases the execution's socket and registry slot exactly once.
// The socket close is what unblocks the reader; there is no cooperative
// cancellation signal into the read loop.
func (b *Bridge) teardown(exec *execution) {
	if !exec.close() {
		return
	}

	b.mu.Lock()
	if b.execs[exec.connID] == exec {
		delete(b.execs, exec.connID)
	}
	b.mu.Unlock()

	log.Printf("Execution released for %s", exec.connID)
}

// watchdog bounds runaway executions whose engine side never reports a
// terminal event: past max(2x time limit, a fixed floor) the execution is
// forcibly failed.
func (b *Bridge) watchdog(exec *execution) {
	maxWait := 2 * time.Duration(b.cfg.TimeLimitSec) * time.Second
	if maxWait < watchdogFloor {
		maxWait = watchdogFloor
	}

	ticker := time.NewTicker(watchdogPoll)
	defer ticker.Stop()

	for range ticker.C {
		if exec.isClosed() {
			return
		}
		if time.Since(exec.startedAt) > maxWait {
			log.Printf("Execution for %s exceeded maximum wait time, forcing termination", exec.connID)
			b.sender.SendTo(exec.connID, newEngineMessage("ERROR", "Execution exceeded maximum wait time", 0))
			b.teardown(exec)
			return
		}
	}
}

// Active reports whether a connection has a live execution.
func (b *Bridge) Active(connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.execs[connID]
	return ok
}

// Close tears down every active execution. Used on server shutdown.
func (b *Bridge) Close() {
	b.mu.Lock()
	execs := make([]*execution, 0, len(b.execs))
	for _, exec := range b.execs {
		execs = append(execs, exec)
	}
	b.mu.Unlock()

	for _, exec := range execs {
		b.teardown(exec)
	}
}
