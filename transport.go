package elevate

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

const (
	defaultBaud = 9600

	// maxLineLen bounds buffer growth when a noisy line never terminates.
	maxLineLen = 256
)

// SerialConfig identifies the RS-232 device. Framing is fixed at
// 8 data bits, no parity, 1 stop bit per the Elevate documentation.
type SerialConfig struct {
	Port string
	Baud int
}

// OpenPort opens the serial device. Failures are wrapped in
// ErrLinkUnavailable so the supervisor can retry them.
func OpenPort(cfg SerialConfig) (io.ReadWriteCloser, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = defaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:     cfg.Port,
		Baud:     baud,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
	}
	return port, nil
}

// Transport owns one open connection. It splits the inbound byte stream on
// the carriage-return terminator and surfaces at most one failure signal per
// connection; it never retries on its own.
type Transport struct {
	port   io.ReadWriteCloser
	lines  chan string
	failed chan error
	once   sync.Once
	closed atomic.Bool
	log    *zap.SugaredLogger
}

// NewTransport wraps an already-open port and starts the read loop. Tests
// inject an in-memory port here the same way production injects the device.
func NewTransport(port io.ReadWriteCloser, log *zap.SugaredLogger) *Transport {
	t := &Transport{
		port:   port,
		lines:  make(chan string, 32),
		failed: make(chan error, 1),
		log:    log,
	}
	go t.readLoop()
	return t
}

// Lines yields decoded text lines until the connection ends, then closes.
func (t *Transport) Lines() <-chan string { return t.lines }

// Failed delivers the single failure that ended this connection. Explicit
// Close does not count as a failure.
func (t *Transport) Failed() <-chan error { return t.failed }

// WriteFrame sends one already-encoded frame. A write error is both
// returned and reported through Failed.
func (t *Transport) WriteFrame(frame string) error {
	if _, err := t.port.Write([]byte(frame)); err != nil {
		werr := fmt.Errorf("%w: %v", ErrLinkWrite, err)
		t.fail(werr)
		return werr
	}
	t.log.Debugw("tx", "frame", strings.TrimRight(frame, "\r"))
	return nil
}

// Close tears the connection down without signalling a failure.
func (t *Transport) Close() {
	t.closed.Store(true)
	t.port.Close()
}

func (t *Transport) fail(err error) {
	t.once.Do(func() { t.failed <- err })
}

func (t *Transport) readLoop() {
	defer close(t.lines)

	buf := make([]byte, 0, maxLineLen)
	chunk := make([]byte, 128)
	overflow := false
	for {
		n, err := t.port.Read(chunk)
		for _, b := range chunk[:n] {
			switch {
			case b == '\r':
				if overflow {
					overflow = false
					buf = buf[:0]
					continue
				}
				line := strings.TrimSpace(string(buf))
				buf = buf[:0]
				if line == "" {
					continue
				}
				t.log.Debugw("rx", "line", line)
				t.lines <- line
			case b == '\n' || b == 0:
				// the device pads with NULs and an occasional LF
			case overflow:
				// drop until the next terminator
			case len(buf) >= maxLineLen:
				t.log.Debugw("discarding unterminated line", "len", len(buf))
				overflow = true
				buf = buf[:0]
			default:
				buf = append(buf, b)
			}
		}
		if err != nil {
			if !t.closed.Load() {
				t.fail(fmt.Errorf("%w: %v", ErrLinkLost, err))
			}
			return
		}
	}
}
