package elevate

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakePort is a scripted io.ReadWriteCloser standing in for the serial
// device. Tests feed inbound bytes and inspect written frames; an onWrite
// hook lets a test play the amplifier's side of the exchange.
type fakePort struct {
	mu       sync.Mutex
	wrote    []string
	writeErr error
	onWrite  func(frame string)

	inbox   chan []byte
	pending []byte
	closed  chan struct{}
	once    sync.Once
	brk     sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	select {
	case data, ok := <-p.inbox:
		if !ok {
			return 0, io.ErrUnexpectedEOF
		}
		n := copy(b, data)
		p.pending = data[n:]
		return n, nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	frame := string(b)
	p.wrote = append(p.wrote, frame)
	cb := p.onWrite
	p.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) feed(s string) { p.inbox <- []byte(s) }

// breakPipe simulates the device side dying: reads start failing while the
// port object itself was never closed by us.
func (p *fakePort) breakPipe() { p.brk.Do(func() { close(p.inbox) }) }

func (p *fakePort) setOnWrite(cb func(string)) {
	p.mu.Lock()
	p.onWrite = cb
	p.mu.Unlock()
}

func (p *fakePort) setWriteErr(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

// commandFrames returns everything written except the bare wake terminator.
func (p *fakePort) commandFrames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := []string{}
	for _, f := range p.wrote {
		if f != "\r" {
			frames = append(frames, f)
		}
	}
	return frames
}

// echoResponder answers every command frame with its literal echo, the way
// the Elevate acknowledges commands.
func echoResponder(p *fakePort) func(string) {
	return func(frame string) {
		if !strings.HasPrefix(frame, "*") {
			return
		}
		p.feed("#" + strings.TrimSuffix(strings.TrimPrefix(frame, "*"), "\r") + "\r")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nopLog() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func readLine(t *testing.T, tr *Transport) string {
	t.Helper()
	select {
	case line, ok := <-tr.Lines():
		if !ok {
			t.Fatal("lines channel closed")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}
	return ""
}

func TestTransportSplitsChunkedFrames(t *testing.T) {
	port := newFakePort()
	tr := NewTransport(port, nopLog())
	defer tr.Close()

	port.feed("#Z01PWRON\r#Z02PWRO")
	port.feed("FF\r")

	if got := readLine(t, tr); got != "#Z01PWRON" {
		t.Errorf("Wanted %q got %q", "#Z01PWRON", got)
	}
	if got := readLine(t, tr); got != "#Z02PWROFF" {
		t.Errorf("Wanted %q got %q", "#Z02PWROFF", got)
	}
}

func TestTransportSkipsPaddingBytes(t *testing.T) {
	port := newFakePort()
	tr := NewTransport(port, nopLog())
	defer tr.Close()

	port.feed("\x00#Z03MUTON\r\n")
	if got := readLine(t, tr); got != "#Z03MUTON" {
		t.Errorf("Wanted %q got %q", "#Z03MUTON", got)
	}
}

func TestTransportDiscardsUnterminatedLine(t *testing.T) {
	port := newFakePort()
	tr := NewTransport(port, nopLog())
	defer tr.Close()

	port.feed(strings.Repeat("A", 300))
	port.feed("\r#Z01PWRON\r")

	if got := readLine(t, tr); got != "#Z01PWRON" {
		t.Errorf("Wanted %q got %q", "#Z01PWRON", got)
	}
}

func TestTransportSignalsFailureOnce(t *testing.T) {
	port := newFakePort()
	tr := NewTransport(port, nopLog())
	defer tr.Close()

	port.breakPipe()

	select {
	case err := <-tr.Failed():
		if !errors.Is(err, ErrLinkLost) {
			t.Errorf("Wanted ErrLinkLost got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failure signal")
	}

	// the lines stream ends with the connection
	waitFor(t, "lines channel to close", func() bool {
		select {
		case _, ok := <-tr.Lines():
			return !ok
		default:
			return false
		}
	})

	select {
	case err := <-tr.Failed():
		t.Errorf("second failure signal: %v", err)
	default:
	}
}

func TestTransportWriteFailure(t *testing.T) {
	port := newFakePort()
	tr := NewTransport(port, nopLog())
	defer tr.Close()

	port.setWriteErr(errors.New("EIO"))
	err := tr.WriteFrame("*Z01QST\r")
	if !errors.Is(err, ErrLinkWrite) {
		t.Fatalf("Wanted ErrLinkWrite got %v", err)
	}

	select {
	case <-tr.Failed():
	case <-time.After(2 * time.Second):
		t.Fatal("write failure not signalled")
	}
}

func TestTransportCloseIsNotFailure(t *testing.T) {
	port := newFakePort()
	tr := NewTransport(port, nopLog())

	tr.Close()
	waitFor(t, "lines channel to close", func() bool {
		select {
		case _, ok := <-tr.Lines():
			return !ok
		default:
			return false
		}
	})

	select {
	case err := <-tr.Failed():
		t.Errorf("explicit close reported as failure: %v", err)
	default:
	}
}
