package elevate

import (
	"fmt"
	"strconv"
	"strings"
)

// Event is one decoded feedback frame. The amplifier may report a partial
// snapshot, so every field is a pointer; nil means the frame said nothing
// about that field and the store merges instead of overwriting.
type Event struct {
	Zone    int
	Power   *bool
	Volume  *int
	Muted   *bool
	Source  *int
	Bass    *int
	Treble  *int
	Balance *int
}

// Empty reports whether the event carries no state fields at all, which is
// the case for bare command echoes like #Z03QST.
func (ev Event) Empty() bool {
	return ev.Power == nil && ev.Volume == nil && ev.Muted == nil &&
		ev.Source == nil && ev.Bass == nil && ev.Treble == nil && ev.Balance == nil
}

// DecodeEvent parses a feedback line of the form #Z<zz><payload>. The
// payload is a comma-separated token list (PWRON, VOL20, SRC3, ...) or a
// bare zero-padded number, which the amplifier uses as a volume report.
//
// The device occasionally emits a doubled hash or drops the #Z<zz> prefix
// from a power echo; a prefix-less PWR frame is attributed to lastZone when
// one is known (pass 0 for no hint). Unknown tokens are skipped
// field-by-field rather than failing the whole line.
func DecodeEvent(line string, lastZone int) (Event, error) {
	text := strings.TrimSpace(line)
	text = strings.ReplaceAll(text, "##", "#")
	text = strings.TrimPrefix(text, "#")

	var ev Event
	switch {
	case len(text) >= 3 && text[0] == 'Z' && isDigits(text[1:3]):
		ev.Zone, _ = strconv.Atoi(text[1:3])
		text = text[3:]
	case lastZone != 0 && strings.Contains(strings.ToUpper(text), "PWR"):
		ev.Zone = lastZone
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}

	if ev.Zone < MinZone || ev.Zone > MaxZone {
		return Event{}, fmt.Errorf("%w: zone %02d in %q", ErrMalformedLine, ev.Zone, line)
	}

	for _, token := range strings.Split(text, ",") {
		ev.applyToken(strings.ToUpper(strings.TrimSpace(token)))
	}
	return ev, nil
}

func (ev *Event) applyToken(tok string) {
	switch {
	case tok == "" || tok == "QST":
		// query echo, no state
	case strings.HasPrefix(tok, "PWR"):
		v := tok[3:] == "ON"
		ev.Power = &v
	case strings.HasPrefix(tok, "MUT"):
		v := tok[3:] == "ON"
		ev.Muted = &v
	case strings.HasPrefix(tok, "VOL"):
		// the device reports attenuation as VOL-62; the sign is framing,
		// not arithmetic
		if n, err := strconv.Atoi(strings.TrimLeft(tok[3:], "+-")); err == nil {
			ev.Volume = &n
		}
	case strings.HasPrefix(tok, "SRC"):
		if n, err := strconv.Atoi(tok[3:]); err == nil {
			ev.Source = &n
		}
	case strings.HasPrefix(tok, "BAS"):
		if n, err := strconv.Atoi(strings.TrimPrefix(tok[3:], "+")); err == nil {
			ev.Bass = &n
		}
	case strings.HasPrefix(tok, "TRE"):
		if n, err := strconv.Atoi(strings.TrimPrefix(tok[3:], "+")); err == nil {
			ev.Treble = &n
		}
	case strings.HasPrefix(tok, "BAL"):
		if n, err := strconv.Atoi(strings.TrimPrefix(tok[3:], "+")); err == nil {
			ev.Balance = &n
		}
	case isDigits(tok):
		if n, err := strconv.Atoi(tok); err == nil {
			ev.Volume = &n
		}
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
