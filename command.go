package elevate

import "fmt"

// Protocol bounds documented for the Elevate 6.6.
const (
	MinZone    = 1
	MaxZone    = 12
	MinVolume  = 0
	MaxVolume  = 99
	MinSource  = 1
	MaxSource  = 6
	MinTone    = -10
	MaxTone    = 10
	MinBalance = -10
	MaxBalance = 10
)

// CommandKind enumerates the operations in the documented command set.
type CommandKind int

const (
	PowerOn CommandKind = iota
	PowerOff
	SetVolume
	VolumeUp
	VolumeDown
	MuteOn
	MuteOff
	SetSource
	SetBass
	SetTreble
	SetBalance
	QueryStatus
)

func (k CommandKind) String() string {
	switch k {
	case PowerOn:
		return "power-on"
	case PowerOff:
		return "power-off"
	case SetVolume:
		return "set-volume"
	case VolumeUp:
		return "volume-up"
	case VolumeDown:
		return "volume-down"
	case MuteOn:
		return "mute-on"
	case MuteOff:
		return "mute-off"
	case SetSource:
		return "select-source"
	case SetBass:
		return "set-bass"
	case SetTreble:
		return "set-treble"
	case SetBalance:
		return "set-balance"
	case QueryStatus:
		return "query-status"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is one request destined for the amplifier. Value is only
// meaningful for SetVolume and SetSource.
type Command struct {
	Zone  int
	Kind  CommandKind
	Value int
}

// Encode renders the exact wire frame *Z<zz><OP><args>\r. Out-of-range
// zones and values fail with ErrInvalidCommand; nothing is clamped.
func (c Command) Encode() (string, error) {
	if c.Zone < MinZone || c.Zone > MaxZone {
		return "", fmt.Errorf("%w: zone %d", ErrInvalidCommand, c.Zone)
	}

	var op string
	switch c.Kind {
	case PowerOn:
		op = "PWRON"
	case PowerOff:
		op = "PWROFF"
	case SetVolume:
		if c.Value < MinVolume || c.Value > MaxVolume {
			return "", fmt.Errorf("%w: volume %d", ErrInvalidCommand, c.Value)
		}
		op = fmt.Sprintf("VOL%02d", c.Value)
	case VolumeUp:
		op = "VOL+"
	case VolumeDown:
		op = "VOL-"
	case MuteOn:
		op = "MUTON"
	case MuteOff:
		op = "MUTOFF"
	case SetSource:
		if c.Value < MinSource || c.Value > MaxSource {
			return "", fmt.Errorf("%w: source %d", ErrInvalidCommand, c.Value)
		}
		op = fmt.Sprintf("SRC%d", c.Value)
	case SetBass:
		if c.Value < MinTone || c.Value > MaxTone {
			return "", fmt.Errorf("%w: bass %d", ErrInvalidCommand, c.Value)
		}
		op = "BAS" + signedLevel(c.Value)
	case SetTreble:
		if c.Value < MinTone || c.Value > MaxTone {
			return "", fmt.Errorf("%w: treble %d", ErrInvalidCommand, c.Value)
		}
		op = "TRE" + signedLevel(c.Value)
	case SetBalance:
		if c.Value < MinBalance || c.Value > MaxBalance {
			return "", fmt.Errorf("%w: balance %d", ErrInvalidCommand, c.Value)
		}
		op = "BAL" + signedLevel(c.Value)
	case QueryStatus:
		op = "QST"
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidCommand, c.Kind)
	}

	return fmt.Sprintf("*Z%02d%s\r", c.Zone, op), nil
}

// signedLevel renders a tone or balance setting; the device expects an
// explicit plus sign on non-negative levels.
func signedLevel(v int) string {
	if v >= 0 {
		return fmt.Sprintf("+%02d", v)
	}
	return fmt.Sprintf("%02d", v)
}
