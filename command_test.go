package elevate

import (
	"errors"
	"testing"
)

func TestCommandEncode(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		want    string
		wantErr error
	}{
		{"power on", Command{Zone: 3, Kind: PowerOn}, "*Z03PWRON\r", nil},
		{"power off", Command{Zone: 10, Kind: PowerOff}, "*Z10PWROFF\r", nil},
		{"set volume", Command{Zone: 12, Kind: SetVolume, Value: 99}, "*Z12VOL99\r", nil},
		{"set volume padded", Command{Zone: 1, Kind: SetVolume, Value: 5}, "*Z01VOL05\r", nil},
		{"volume up", Command{Zone: 4, Kind: VolumeUp}, "*Z04VOL+\r", nil},
		{"volume down", Command{Zone: 4, Kind: VolumeDown}, "*Z04VOL-\r", nil},
		{"mute on", Command{Zone: 7, Kind: MuteOn}, "*Z07MUTON\r", nil},
		{"mute off", Command{Zone: 7, Kind: MuteOff}, "*Z07MUTOFF\r", nil},
		{"select source", Command{Zone: 2, Kind: SetSource, Value: 6}, "*Z02SRC6\r", nil},
		{"set bass", Command{Zone: 5, Kind: SetBass, Value: 3}, "*Z05BAS+03\r", nil},
		{"set bass negative", Command{Zone: 5, Kind: SetBass, Value: -3}, "*Z05BAS-3\r", nil},
		{"set treble floor", Command{Zone: 6, Kind: SetTreble, Value: -10}, "*Z06TRE-10\r", nil},
		{"set balance center", Command{Zone: 8, Kind: SetBalance, Value: 0}, "*Z08BAL+00\r", nil},
		{"query", Command{Zone: 11, Kind: QueryStatus}, "*Z11QST\r", nil},
		{"zone too low", Command{Zone: 0, Kind: PowerOn}, "", ErrInvalidCommand},
		{"zone too high", Command{Zone: 13, Kind: PowerOn}, "", ErrInvalidCommand},
		{"volume too high", Command{Zone: 1, Kind: SetVolume, Value: 100}, "", ErrInvalidCommand},
		{"volume negative", Command{Zone: 1, Kind: SetVolume, Value: -1}, "", ErrInvalidCommand},
		{"source too high", Command{Zone: 1, Kind: SetSource, Value: 7}, "", ErrInvalidCommand},
		{"source too low", Command{Zone: 1, Kind: SetSource, Value: 0}, "", ErrInvalidCommand},
		{"bass too high", Command{Zone: 1, Kind: SetBass, Value: 11}, "", ErrInvalidCommand},
		{"treble too low", Command{Zone: 1, Kind: SetTreble, Value: -11}, "", ErrInvalidCommand},
		{"balance too low", Command{Zone: 1, Kind: SetBalance, Value: -11}, "", ErrInvalidCommand},
		{"unknown kind", Command{Zone: 1, Kind: CommandKind(42)}, "", ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotErr := tt.cmd.Encode()
			if !errors.Is(gotErr, tt.wantErr) {
				t.Fatalf("Wanted error %v got %v", tt.wantErr, gotErr)
			}
			if got != tt.want {
				t.Errorf("Wanted %q got %q", tt.want, got)
			}
		})
	}
}
