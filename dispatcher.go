package elevate

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// AckPolicy selects how a non-query command is considered answered.
type AckPolicy int

const (
	// AckEcho waits for the amplifier to echo a frame for the commanded
	// zone. This is what the Elevate does.
	AckEcho AckPolicy = iota

	// AckNone treats a completed write as provisional success, for units
	// that only push status spontaneously. Queries still wait.
	AckNone
)

// request is one queued command. done is buffered so a finished request
// never blocks on an absent caller.
type request struct {
	cmd      Command
	frame    string
	poll     bool
	enqueued time.Time
	done     chan error
}

func (r *request) finish(err error) {
	select {
	case r.done <- err:
	default:
	}
}

// link is one live connection as seen by the dispatcher: the transport to
// write to, the decoded events routed back for correlation, and a channel
// closed when the supervisor tears the connection down.
type link struct {
	tr     *Transport
	events chan Event
	down   chan struct{}
}

// dispatcher enforces the single-writer rule: exactly one goroutine
// (run) writes frames, one at a time, waiting out each command's response
// or timeout before touching the next. Interactive commands always dequeue
// ahead of poll queries; within a class order is strict FIFO.
type dispatcher struct {
	mu          sync.Mutex
	cond        *sync.Cond
	interactive []*request
	polls       []*request
	conn        *link
	closed      bool

	timeout    time.Duration
	retries    int
	staleAfter time.Duration
	ack        AckPolicy
	lastZone   *atomic.Int32
	health     func(ok bool)
	log        *zap.SugaredLogger
}

func newDispatcher(timeout time.Duration, retries int, staleAfter time.Duration, ack AckPolicy, lastZone *atomic.Int32, log *zap.SugaredLogger) *dispatcher {
	d := &dispatcher{
		timeout:    timeout,
		retries:    retries,
		staleAfter: staleAfter,
		ack:        ack,
		lastZone:   lastZone,
		log:        log,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// submit queues a request. While the link is down the queue is preserved,
// not rejected; entries are replayed on reconnect subject to staleAfter.
func (d *dispatcher) submit(req *request) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if req.poll {
		d.polls = append(d.polls, req)
	} else {
		d.interactive = append(d.interactive, req)
	}
	d.mu.Unlock()
	d.cond.Broadcast()
	return nil
}

// cancel removes a request that has not been dequeued yet. A request
// already written to the wire cannot be cancelled, only timed out.
func (d *dispatcher) cancel(req *request) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	queue := &d.interactive
	if req.poll {
		queue = &d.polls
	}
	for i, r := range *queue {
		if r == req {
			*queue = append((*queue)[:i], (*queue)[i+1:]...)
			return true
		}
	}
	return false
}

// attach hands the dispatcher a live connection and wakes the writer.
func (d *dispatcher) attach(ln *link) {
	d.mu.Lock()
	d.conn = ln
	d.mu.Unlock()
	d.cond.Broadcast()
}

// detach revokes the current connection. Anything in flight observes the
// closed down channel and fails with ErrLinkLost; queued requests stay put.
func (d *dispatcher) detach() {
	d.mu.Lock()
	if d.conn != nil {
		close(d.conn.down)
		d.conn = nil
	}
	d.mu.Unlock()
	d.cond.Broadcast()
}

// close fails every queued request and stops the writer.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	pending := append(d.interactive, d.polls...)
	d.interactive, d.polls = nil, nil
	d.mu.Unlock()
	d.cond.Broadcast()
	for _, r := range pending {
		r.finish(ErrClosed)
	}
}

// run is the single writer. It owns every byte that goes to the transport.
func (d *dispatcher) run() {
	for {
		req, ln := d.next()
		if req == nil {
			return
		}
		if age := time.Since(req.enqueued); d.staleAfter > 0 && age > d.staleAfter {
			d.log.Warnw("dropping stale command", "zone", req.cmd.Zone, "kind", req.cmd.Kind.String(), "age", age)
			req.finish(fmt.Errorf("%w: queued %s", ErrStaleCommand, age.Round(time.Second)))
			continue
		}
		d.execute(req, ln)
	}
}

// next blocks until a request can be dequeued on a live link, or the
// dispatcher is closed (nil return).
func (d *dispatcher) next() (*request, *link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if d.closed {
			return nil, nil
		}
		if d.conn != nil {
			if len(d.interactive) > 0 {
				req := d.interactive[0]
				d.interactive = d.interactive[1:]
				return req, d.conn
			}
			if len(d.polls) > 0 {
				req := d.polls[0]
				d.polls = d.polls[1:]
				return req, d.conn
			}
		}
		d.cond.Wait()
	}
}

// execute writes the frame and correlates the response. The protocol has no
// request ids: the next well-formed frame for the commanded zone is the
// answer, anything else passes through to the store untouched. Retries are
// immediate; they address a busy amplifier, not a broken link.
func (d *dispatcher) execute(req *request, ln *link) {
	d.lastZone.Store(int32(req.cmd.Zone))

	for attempt := 0; attempt <= d.retries; attempt++ {
		// correlation starts at the write: a frame buffered before it is
		// already in the store and must not pass for an answer
	drain:
		for {
			select {
			case _, ok := <-ln.events:
				if !ok {
					req.finish(ErrLinkLost)
					return
				}
			default:
				break drain
			}
		}
		if err := ln.tr.WriteFrame(req.frame); err != nil {
			// the transport signals the supervisor separately
			req.finish(ErrLinkLost)
			return
		}
		if d.ack == AckNone && req.cmd.Kind != QueryStatus {
			req.finish(nil)
			return
		}

		timer := time.NewTimer(d.timeout)
	wait:
		for {
			select {
			case ev, ok := <-ln.events:
				if !ok {
					timer.Stop()
					req.finish(ErrLinkLost)
					return
				}
				if ev.Zone == req.cmd.Zone {
					timer.Stop()
					if d.health != nil {
						d.health(true)
					}
					req.finish(nil)
					return
				}
				// unsolicited frame for another zone, already applied
				// to the store upstream
			case <-ln.down:
				timer.Stop()
				req.finish(ErrLinkLost)
				return
			case <-timer.C:
				break wait
			}
		}
		d.log.Debugw("no response, retrying", "zone", req.cmd.Zone, "kind", req.cmd.Kind.String(), "attempt", attempt+1)
	}

	if d.health != nil {
		d.health(false)
	}
	req.finish(fmt.Errorf("%w: %s zone %02d", ErrCommandTimeout, req.cmd.Kind, req.cmd.Zone))
}
