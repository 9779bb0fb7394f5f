package elevate

import (
	"time"

	"go.uber.org/zap"
)

// minPollSpacing floors the gap between consecutive zone queries so a sweep
// never bursts the whole zone set at once.
const minPollSpacing = 100 * time.Millisecond

// poller keeps zone state fresh by submitting low-priority status queries,
// one sweep per interval. Queries are spaced across the interval so
// interactive commands always find the queue nearly empty. An overdue sweep
// is skipped, not doubled up.
type poller struct {
	disp     *dispatcher
	zones    int
	interval time.Duration
	state    func() LinkState
	log      *zap.SugaredLogger

	stopCh chan struct{}
	doneCh chan struct{}
}

func newPoller(disp *dispatcher, zones int, interval time.Duration, state func() LinkState, log *zap.SugaredLogger) *poller {
	return &poller{
		disp:     disp,
		zones:    zones,
		interval: interval,
		state:    state,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (p *poller) stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *poller) run() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if st := p.state(); st != Connected && st != Degraded {
				continue // paused while the link is down
			}
			p.sweep()
			// a tick that fired mid-sweep is overdue; drop it
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

func (p *poller) sweep() {
	spacing := p.interval / time.Duration(p.zones)
	if spacing < minPollSpacing {
		spacing = minPollSpacing
	}

	for id := 1; id <= p.zones; id++ {
		frame, err := Command{Zone: id, Kind: QueryStatus}.Encode()
		if err != nil {
			p.log.Errorw("unencodable poll", "zone", id, "err", err)
			continue
		}
		req := &request{
			cmd:      Command{Zone: id, Kind: QueryStatus},
			frame:    frame,
			poll:     true,
			enqueued: time.Now(),
			done:     make(chan error, 1),
		}
		if err := p.disp.submit(req); err != nil {
			return
		}
		// failures are logged only; the dispatcher already retried
		go func(id int, done <-chan error) {
			if err := <-done; err != nil {
				p.log.Debugw("poll failed", "zone", id, "err", err)
			}
		}(id, req.done)

		select {
		case <-p.stopCh:
			return
		case <-time.After(spacing):
		}
	}
}
