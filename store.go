package elevate

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Zone is one addressable output's last known state. Values are snapshots:
// the store replaces the whole record on update, so a copy handed out by
// Get or a Change is never mutated underneath the caller.
type Zone struct {
	ID      int  `json:"id"`
	Power   bool `json:"power"`
	Volume  int  `json:"volume"`
	Muted   bool `json:"muted"`
	Source  int  `json:"source"`
	Bass    int  `json:"bass"`
	Treble  int  `json:"treble"`
	Balance int  `json:"balance"`
}

// Field names a Zone attribute in change notifications.
type Field string

const (
	FieldPower   Field = "power"
	FieldVolume  Field = "volume"
	FieldMuted   Field = "muted"
	FieldSource  Field = "source"
	FieldBass    Field = "bass"
	FieldTreble  Field = "treble"
	FieldBalance Field = "balance"
)

// Change describes one store mutation: which zone, which fields moved, and
// the resulting snapshot.
type Change struct {
	Zone   int     `json:"zone"`
	Fields []Field `json:"fields"`
	State  Zone    `json:"state"`
}

// Subscription is one subscriber's change feed. A subscriber that stops
// draining C loses notifications rather than stalling the decode loop.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Change

	store *Store
	ch    chan Change
}

// Close detaches the subscription from the store.
func (s *Subscription) Close() {
	if s.store != nil {
		s.store.unsubscribe(s.ID)
	}
}

// Store holds the authoritative in-memory state for the configured zones.
// Apply is called only from the read/decode goroutine; Get, All and
// Subscribe may be called from anywhere.
type Store struct {
	mu    sync.RWMutex
	zones map[int]Zone
	subs  map[uuid.UUID]chan Change
	log   *zap.SugaredLogger
}

// NewStore creates records for zones 1..count with unset (zero) values.
func NewStore(count int, log *zap.SugaredLogger) *Store {
	s := &Store{
		zones: make(map[int]Zone, count),
		subs:  make(map[uuid.UUID]chan Change),
		log:   log,
	}
	for id := 1; id <= count; id++ {
		s.zones[id] = Zone{ID: id}
	}
	return s
}

// Get returns the current snapshot for a zone. It never blocks on I/O and
// keeps answering (stale-but-available) while the link is down.
func (s *Store) Get(id int) (Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	return z, ok
}

// All returns snapshots of every configured zone in ascending id order.
func (s *Store) All() []Zone {
	s.mu.RLock()
	zones := make([]Zone, 0, len(s.zones))
	for _, z := range s.zones {
		zones = append(zones, z)
	}
	s.mu.RUnlock()
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones
}

// Subscribe registers a change feed with the given buffer (minimum 1).
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 16
	}
	sub := &Subscription{
		ID:    uuid.New(),
		store: s,
		ch:    make(chan Change, buffer),
	}
	sub.C = sub.ch
	s.mu.Lock()
	s.subs[sub.ID] = sub.ch
	s.mu.Unlock()
	return sub
}

func (s *Store) unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// Apply merges an event's present fields into the named zone, enforcing the
// documented bounds per field. A merge that changes nothing produces no
// notification; polling frequently reports unchanged state.
func (s *Store) Apply(ev Event) []Field {
	s.mu.Lock()
	zone, ok := s.zones[ev.Zone]
	if !ok {
		s.mu.Unlock()
		s.log.Debugw("status for unconfigured zone", "zone", ev.Zone)
		return nil
	}

	next := zone
	var changed []Field
	if ev.Power != nil && *ev.Power != next.Power {
		next.Power = *ev.Power
		changed = append(changed, FieldPower)
	}
	if ev.Muted != nil && *ev.Muted != next.Muted {
		next.Muted = *ev.Muted
		changed = append(changed, FieldMuted)
	}
	if ev.Volume != nil {
		if v := *ev.Volume; v < MinVolume || v > MaxVolume {
			s.log.Warnw("volume out of range, ignoring", "zone", ev.Zone, "volume", v)
		} else if v != next.Volume {
			next.Volume = v
			changed = append(changed, FieldVolume)
		}
	}
	if ev.Source != nil {
		if v := *ev.Source; v < MinSource || v > MaxSource {
			s.log.Warnw("source out of range, ignoring", "zone", ev.Zone, "source", v)
		} else if v != next.Source {
			next.Source = v
			changed = append(changed, FieldSource)
		}
	}
	if ev.Bass != nil {
		if v := *ev.Bass; v < MinTone || v > MaxTone {
			s.log.Warnw("bass out of range, ignoring", "zone", ev.Zone, "bass", v)
		} else if v != next.Bass {
			next.Bass = v
			changed = append(changed, FieldBass)
		}
	}
	if ev.Treble != nil {
		if v := *ev.Treble; v < MinTone || v > MaxTone {
			s.log.Warnw("treble out of range, ignoring", "zone", ev.Zone, "treble", v)
		} else if v != next.Treble {
			next.Treble = v
			changed = append(changed, FieldTreble)
		}
	}
	if ev.Balance != nil {
		if v := *ev.Balance; v < MinBalance || v > MaxBalance {
			s.log.Warnw("balance out of range, ignoring", "zone", ev.Zone, "balance", v)
		} else if v != next.Balance {
			next.Balance = v
			changed = append(changed, FieldBalance)
		}
	}

	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.zones[ev.Zone] = next

	feeds := make([]chan Change, 0, len(s.subs))
	for _, ch := range s.subs {
		feeds = append(feeds, ch)
	}
	s.mu.Unlock()

	change := Change{Zone: ev.Zone, Fields: changed, State: next}
	for _, ch := range feeds {
		select {
		case ch <- change:
		default:
			s.log.Debugw("subscriber buffer full, dropping change", "zone", ev.Zone)
		}
	}
	return changed
}
