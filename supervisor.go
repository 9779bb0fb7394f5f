package elevate

import (
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LinkState is the controller's belief about serial connection health.
type LinkState int32

const (
	Disconnected LinkState = iota
	Connecting
	Connected
	// Degraded means the port is open but commands have stopped getting
	// answers. Polling continues so the link can prove itself again.
	Degraded
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// Dialer opens the underlying port. Production dials the serial device;
// tests hand back an in-memory pipe.
type Dialer func() (io.ReadWriteCloser, error)

// supervisor owns the connection lifecycle: it dials with exponential
// backoff, runs the per-connection read/decode/route goroutine, and gates
// the dispatcher. Reconnect attempts are unbounded; the amplifier may be
// power-cycled at any time and this is the only path back to it.
type supervisor struct {
	dial     Dialer
	disp     *dispatcher
	store    *Store
	lastZone *atomic.Int32
	log      *zap.SugaredLogger

	backoffBase  time.Duration
	backoffCap   time.Duration
	probeTimeout time.Duration

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}
}

func newSupervisor(dial Dialer, disp *dispatcher, store *Store, lastZone *atomic.Int32, base, limit, probe time.Duration, log *zap.SugaredLogger) *supervisor {
	s := &supervisor{
		dial:         dial,
		disp:         disp,
		store:        store,
		lastZone:     lastZone,
		backoffBase:  base,
		backoffCap:   limit,
		probeTimeout: probe,
		log:          log,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	disp.health = s.reportHealth
	return s
}

func (s *supervisor) linkState() LinkState {
	return LinkState(s.state.Load())
}

func (s *supervisor) setState(next LinkState) {
	prev := LinkState(s.state.Swap(int32(next)))
	if prev != next {
		s.log.Infow("link state", "from", prev.String(), "to", next.String())
	}
}

// reportHealth is called by the dispatcher after each command concludes.
// Timeouts on an open port demote Connected to Degraded; a correlated
// response promotes it back.
func (s *supervisor) reportHealth(ok bool) {
	if ok {
		s.state.CompareAndSwap(int32(Degraded), int32(Connected))
	} else {
		s.state.CompareAndSwap(int32(Connected), int32(Degraded))
	}
}

func (s *supervisor) stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *supervisor) run() {
	defer close(s.doneCh)
	backoff := s.backoffBase
	probeFrame, _ := Command{Zone: MinZone, Kind: QueryStatus}.Encode()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.setState(Connecting)
		port, err := s.dial()
		if err != nil {
			s.log.Warnw("connect failed", "err", err)
			s.setState(Disconnected)
			if !s.sleep(backoff) {
				return
			}
			backoff = s.nextBackoff(backoff)
			continue
		}

		tr := NewTransport(port, s.log)
		ln := &link{tr: tr, events: make(chan Event, 32), down: make(chan struct{})}
		first := make(chan struct{})
		routed := make(chan struct{})
		go s.route(tr, ln, first, routed)

		// a bare terminator flushes any half-typed command the device
		// buffered across the outage; the status query completes the
		// round-trip that proves something is listening
		probeErr := tr.WriteFrame("\r")
		if probeErr == nil {
			probeErr = tr.WriteFrame(probeFrame)
		}

		answered := false
		stopping := false
		if probeErr == nil {
			select {
			case <-first:
				answered = true
			case err := <-tr.Failed():
				s.log.Warnw("link failed during probe", "err", err)
			case <-time.After(s.probeTimeout):
				s.log.Warnw("no answer to connect probe")
			case <-s.stopCh:
				stopping = true
			}
		}
		if !answered {
			tr.Close()
			<-routed
			s.setState(Disconnected)
			if stopping || !s.sleep(backoff) {
				return
			}
			backoff = s.nextBackoff(backoff)
			continue
		}

		backoff = s.backoffBase
		s.setState(Connected)
		s.disp.attach(ln)

		select {
		case err := <-tr.Failed():
			s.log.Warnw("link failure", "err", err)
		case <-s.stopCh:
			stopping = true
		}

		s.disp.detach()
		s.setState(Disconnected)
		tr.Close()
		<-routed

		if stopping {
			return
		}
		if !s.sleep(backoff) {
			return
		}
		backoff = s.nextBackoff(backoff)
	}
}

// route is the read/decode loop for one connection. It never stops draining
// while a command waits: decoded events go to the store first, then to the
// dispatcher for correlation. first is closed on the first well-formed frame.
func (s *supervisor) route(tr *Transport, ln *link, first, done chan struct{}) {
	defer close(done)
	defer close(ln.events)
	answered := false
	for line := range tr.Lines() {
		ev, err := DecodeEvent(line, int(s.lastZone.Load()))
		if err != nil {
			s.log.Debugw("ignoring unparsed frame", "line", line)
			continue
		}
		if !answered {
			answered = true
			close(first)
		}
		s.store.Apply(ev)
		select {
		case ln.events <- ev:
		default:
			s.log.Debugw("correlation buffer full, dropping event", "zone", ev.Zone)
		}
	}
}

func (s *supervisor) sleep(d time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	select {
	case <-time.After(d + jitter):
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *supervisor) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > s.backoffCap {
		next = s.backoffCap
	}
	return next
}
