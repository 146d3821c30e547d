package engine

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender collects messages per connection id for assertions.
type recordingSender struct {
	mu   sync.Mutex
	msgs map[string][]map[string]any
}

func newRecordingSender() *recordingSender {
	return &recordingSender{msgs: make(map[string][]map[string]any)}
}

func (s *recordingSender) SendTo(connID string, msg map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[connID] = append(s.msgs[connID], msg)
}

func (s *recordingSender) messages(connID string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.msgs[connID]))
	copy(out, s.msgs[connID])
	return out
}

func (s *recordingSender) typesSeen(connID string) []string {
	var types []string
	for _, msg := range s.messages(connID) {
		if t, ok := msg["type"].(string); ok {
			types = append(types, t)
		}
	}
	return types
}

// fakeEngine is a loopback TCP stand-in for the execution engine. The
// serve callback receives each accepted connection.
func fakeEngine(t *testing.T, serve func(conn net.Conn)) (host string, port int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serve(conn)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func newTestBridge(sender Sender, host string, port int) *Bridge {
	return NewBridge(Config{
		Host:           host,
		Port:           port,
		ConnectTimeout: 500 * time.Millisecond,
		TimeLimitSec:   5,
		MemoryLimitMB:  64,
	}, sender)
}

func TestExecuteAgainstUnreachableEngine(t *testing.T) {
	// Grab a port with nothing listening on it.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	sender := newRecordingSender()
	bridge := newTestBridge(sender, "127.0.0.1", port)

	bridge.Execute("conn-1", "int main() {}", "main.cpp", nil)

	msgs := sender.messages("conn-1")
	require.Len(t, msgs, 1, "exactly one ERROR expected")
	assert.Equal(t, "ERROR", msgs[0]["type"])
	assert.Equal(t, "Execution engine unavailable", msgs[0]["message"])
	assert.False(t, bridge.Active("conn-1"), "no session may remain registered")
}

func TestExecuteStreamsResultsBackToOrigin(t *testing.T) {
	host, port := fakeEngine(t, func(conn net.Conn) {
		defer conn.Close()

		// Drain the request, then emit interleaved output: a plain
		// line, a JSON object split mid-stream, and the terminal
		// result back to back with it.
		buf := make([]byte, 4096)
		conn.Read(buf)

		conn.Write([]byte("COMPILE_SUCCESS\n"))
		conn.Write([]byte(`{"type":"OUTPUT","mess`))
		time.Sleep(20 * time.Millisecond)
		conn.Write([]byte(`age":"hello"}{"type":"EXECUTION_RESULT","message":"done","status":"success","exit_code":0}`))
	})

	sender := newRecordingSender()
	bridge := newTestBridge(sender, host, port)

	bridge.Execute("conn-1", "int main() {}", "main.cpp", nil)

	require.Eventually(t, func() bool {
		types := sender.typesSeen("conn-1")
		return len(types) > 0 && types[len(types)-1] == "EXECUTION_RESULT"
	}, 2*time.Second, 10*time.Millisecond, "terminal result not received")

	types := sender.typesSeen("conn-1")
	assert.Equal(t, []string{"EXECUTION_STARTED", "COMPILE_SUCCESS", "OUTPUT", "EXECUTION_RESULT"}, types)

	// EXECUTION_RESULT is terminal: the session must be gone.
	require.Eventually(t, func() bool {
		return !bridge.Active("conn-1")
	}, 2*time.Second, 10*time.Millisecond)

	// Stopping after the terminal result is a harmless no-op.
	bridge.Stop("conn-1")
	assert.Equal(t, 1, countOf(sender.typesSeen("conn-1"), "EXECUTION_STOPPED"))
	assert.Zero(t, countOf(sender.typesSeen("conn-1"), "ERROR"))
}

func TestExecuteReplacesActiveExecution(t *testing.T) {
	host, port := fakeEngine(t, func(conn net.Conn) {
		// Hold the connection open until the bridge closes it.
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				conn.Close()
				return
			}
		}
	})

	sender := newRecordingSender()
	bridge := newTestBridge(sender, host, port)

	bridge.Execute("conn-1", "first", "", nil)
	require.True(t, bridge.Active("conn-1"))

	bridge.Execute("conn-1", "second", "", nil)
	assert.True(t, bridge.Active("conn-1"), "replacement execution must be registered")

	types := sender.typesSeen("conn-1")
	assert.Equal(t, 2, countOf(types, "EXECUTION_STARTED"))
}

func TestConcurrentExecutesLeaveOneSocket(t *testing.T) {
	var open int32
	host, port := fakeEngine(t, func(conn net.Conn) {
		atomic.AddInt32(&open, 1)
		defer atomic.AddInt32(&open, -1)
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				conn.Close()
				return
			}
		}
	})

	sender := newRecordingSender()
	bridge := newTestBridge(sender, host, port)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bridge.Execute("conn-1", "loop forever", "", nil)
		}()
	}
	wg.Wait()

	assert.True(t, bridge.Active("conn-1"))

	// The losing registration's socket must be torn down, not leaked.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&open) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopSuppressesBufferedRemainder(t *testing.T) {
	host, port := fakeEngine(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		conn.Read(buf)

		// A complete line, then a dangling partial with no newline.
		conn.Write([]byte("line1\ndangling"))
		for {
			if _, err := conn.Read(buf); err != nil {
				conn.Close()
				return
			}
		}
	})

	sender := newRecordingSender()
	bridge := newTestBridge(sender, host, port)

	bridge.Execute("conn-1", "loop forever", "", nil)

	require.Eventually(t, func() bool {
		return countOf(sender.typesSeen("conn-1"), "OUTPUT") == 1
	}, 2*time.Second, 10*time.Millisecond, "complete line not delivered")

	bridge.Stop("conn-1")

	// Give the reader time to observe the closed socket; the buffered
	// partial must not surface as a late frame.
	time.Sleep(150 * time.Millisecond)
	types := sender.typesSeen("conn-1")
	assert.Equal(t, 1, countOf(types, "OUTPUT"), "no output after EXECUTION_STOPPED")
	assert.Equal(t, "EXECUTION_STOPPED", types[len(types)-1])
}

func TestSendInputWithoutActiveExecution(t *testing.T) {
	sender := newRecordingSender()
	bridge := newTestBridge(sender, "127.0.0.1", 1)

	bridge.SendInput("conn-1", "42\n")

	msgs := sender.messages("conn-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "ERROR", msgs[0]["type"])
	assert.Equal(t, "No active execution session", msgs[0]["message"])
}

func TestSendInputForwardsRawBytes(t *testing.T) {
	received := make(chan []byte, 8)
	host, port := fakeEngine(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				received <- data
			}
			if err != nil {
				conn.Close()
				return
			}
		}
	})

	sender := newRecordingSender()
	bridge := newTestBridge(sender, host, port)

	bridge.Execute("conn-1", "int main() {}", "", nil)

	// First read is the request object.
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never received the request")
	}

	bridge.SendInput("conn-1", "7 11")

	select {
	case data := <-received:
		assert.Equal(t, "7 11", string(data), "input forwarded verbatim, no newline added")
	case <-time.After(2 * time.Second):
		t.Fatal("engine never received the input")
	}

	types := sender.typesSeen("conn-1")
	assert.Contains(t, types, "INPUT_SENT")
}

func TestStopIsIdempotent(t *testing.T) {
	host, port := fakeEngine(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				conn.Close()
				return
			}
		}
	})

	sender := newRecordingSender()
	bridge := newTestBridge(sender, host, port)

	bridge.Execute("conn-1", "loop forever", "", nil)
	require.True(t, bridge.Active("conn-1"))

	bridge.Stop("conn-1")
	assert.False(t, bridge.Active("conn-1"))

	// Second stop: no panic, no error, still confirmed.
	bridge.Stop("conn-1")

	types := sender.typesSeen("conn-1")
	assert.Equal(t, 2, countOf(types, "EXECUTION_STOPPED"))
	assert.Zero(t, countOf(types, "ERROR"))
}

func TestReleaseIsSilent(t *testing.T) {
	host, port := fakeEngine(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				conn.Close()
				return
			}
		}
	})

	sender := newRecordingSender()
	bridge := newTestBridge(sender, host, port)

	bridge.Execute("conn-1", "loop forever", "", nil)
	before := len(sender.messages("conn-1"))

	bridge.Release("conn-1")
	assert.False(t, bridge.Active("conn-1"))
	assert.Equal(t, before, len(sender.messages("conn-1")), "release must not notify the client")

	// Releasing again is a no-op.
	bridge.Release("conn-1")
}

func TestEngineAddrFormatting(t *testing.T) {
	addr := net.JoinHostPort("localhost", strconv.Itoa(8884))
	assert.Equal(t, "localhost:8884", addr)
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}
