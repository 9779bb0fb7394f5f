// Package elevate drives a Breathe Audio Elevate 6.6 multi-zone amplifier
// over its RS-232 command protocol. The controller serializes outbound
// commands onto the half-duplex link, correlates echoes and unsolicited
// feedback to zones, keeps zone state fresh by polling, and reconnects with
// backoff when the link drops.
package elevate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config describes one amplifier connection. Zero fields take documented
// defaults; Baud is fixed at 9600 by the protocol but kept configurable for
// bench setups.
type Config struct {
	Port           string
	Baud           int
	Zones          int
	PollInterval   time.Duration
	CommandTimeout time.Duration
	Retries        int
	StaleAfter     time.Duration
	ReconnectBase  time.Duration
	ReconnectCap   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Baud == 0 {
		c.Baud = defaultBaud
	}
	if c.Zones == 0 {
		c.Zones = MaxZone
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 1500 * time.Millisecond
	}
	if c.Retries == 0 {
		c.Retries = 2
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = time.Minute
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectCap == 0 {
		c.ReconnectCap = 30 * time.Second
	}
	return c
}

// Option adjusts a Controller at construction.
type Option func(*Controller)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithDialer replaces the serial dialer, used by tests to inject an
// in-memory port.
func WithDialer(dial Dialer) Option {
	return func(c *Controller) { c.dial = dial }
}

// WithAckPolicy selects the response-correlation policy.
func WithAckPolicy(p AckPolicy) Option {
	return func(c *Controller) { c.ack = p }
}

// Controller is the public face of the protocol core. All state lives for
// the lifetime of one Start/Stop cycle; nothing is persisted.
type Controller struct {
	cfg  Config
	log  *zap.SugaredLogger
	dial Dialer
	ack  AckPolicy

	store *Store
	disp  *dispatcher
	sup   *supervisor
	poll  *poller

	lastZone atomic.Int32

	mu      sync.Mutex
	started bool
	stopped bool
}

// New assembles a controller for the configured zones. Start must be called
// before commands flow.
func New(cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg: cfg,
		log: zap.NewNop().Sugar(),
		ack: AckEcho,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = func() (io.ReadWriteCloser, error) {
			return OpenPort(SerialConfig{Port: cfg.Port, Baud: cfg.Baud})
		}
	}

	c.store = NewStore(cfg.Zones, c.log)
	c.disp = newDispatcher(cfg.CommandTimeout, cfg.Retries, cfg.StaleAfter, c.ack, &c.lastZone, c.log)
	c.sup = newSupervisor(c.dial, c.disp, c.store, &c.lastZone, cfg.ReconnectBase, cfg.ReconnectCap, cfg.CommandTimeout, c.log)
	c.poll = newPoller(c.disp, cfg.Zones, cfg.PollInterval, c.sup.linkState, c.log)
	return c
}

// Start launches the writer, connection supervisor, and poll scheduler.
func (c *Controller) Start() error {
	if c.cfg.Zones < MinZone || c.cfg.Zones > MaxZone {
		return fmt.Errorf("%w: zone count %d", ErrInvalidCommand, c.cfg.Zones)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("controller already started")
	}
	c.started = true
	go c.disp.run()
	go c.sup.run()
	go c.poll.run()
	return nil
}

// Stop tears everything down. Queued commands fail with ErrClosed, the
// in-flight command (if any) with ErrLinkLost.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.poll.stop()
	c.sup.stop()
	c.disp.close()
}

// SendCommand submits and waits for the outcome. While the link is down the
// command queues rather than failing; ctx bounds the caller's patience. A
// command not yet written is withdrawn on ctx expiry; one already on the
// wire runs to its own timeout in the background.
func (c *Controller) SendCommand(ctx context.Context, zone int, kind CommandKind, value int) error {
	req, err := c.newRequest(zone, kind, value, false)
	if err != nil {
		return err
	}
	if err := c.disp.submit(req); err != nil {
		return err
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		if c.disp.cancel(req) {
			return ctx.Err()
		}
		select {
		case err := <-req.done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// QueueCommand submits fire-and-forget. The returned channel delivers the
// eventual outcome exactly once.
func (c *Controller) QueueCommand(zone int, kind CommandKind, value int) <-chan error {
	req, err := c.newRequest(zone, kind, value, false)
	if err == nil {
		err = c.disp.submit(req)
	}
	if err != nil {
		failed := make(chan error, 1)
		failed <- err
		return failed
	}
	return req.done
}

func (c *Controller) newRequest(zone int, kind CommandKind, value int, poll bool) (*request, error) {
	cmd := Command{Zone: zone, Kind: kind, Value: value}
	frame, err := cmd.Encode()
	if err != nil {
		return nil, err
	}
	return &request{
		cmd:      cmd,
		frame:    frame,
		poll:     poll,
		enqueued: time.Now(),
		done:     make(chan error, 1),
	}, nil
}

// State returns the last known snapshot for a zone, even while disconnected.
func (c *Controller) State(zone int) (Zone, bool) {
	return c.store.Get(zone)
}

// Zones returns snapshots of all configured zones in ascending id order.
func (c *Controller) Zones() []Zone {
	return c.store.All()
}

// Changes subscribes to zone change notifications. Callers must Close the
// subscription when done.
func (c *Controller) Changes(buffer int) *Subscription {
	return c.store.Subscribe(buffer)
}

// LinkState reports current connection health.
func (c *Controller) LinkState() LinkState {
	return c.sup.linkState()
}

// RestoreZone replays a saved snapshot to the device: power, mute, volume,
// source, then the tone settings. Useful after the amplifier loses settings
// to a power cycle.
func (c *Controller) RestoreZone(ctx context.Context, z Zone) error {
	steps := []Command{
		{Zone: z.ID, Kind: powerKind(z.Power)},
		{Zone: z.ID, Kind: muteKind(z.Muted)},
		{Zone: z.ID, Kind: SetVolume, Value: z.Volume},
		{Zone: z.ID, Kind: SetSource, Value: z.Source},
		{Zone: z.ID, Kind: SetBass, Value: z.Bass},
		{Zone: z.ID, Kind: SetTreble, Value: z.Treble},
		{Zone: z.ID, Kind: SetBalance, Value: z.Balance},
	}
	for _, cmd := range steps {
		if cmd.Kind == SetSource && cmd.Value == 0 {
			continue // no source ever observed for this zone
		}
		if err := c.SendCommand(ctx, cmd.Zone, cmd.Kind, cmd.Value); err != nil {
			return err
		}
	}
	return nil
}

func powerKind(on bool) CommandKind {
	if on {
		return PowerOn
	}
	return PowerOff
}

func muteKind(on bool) CommandKind {
	if on {
		return MuteOn
	}
	return MuteOff
}
