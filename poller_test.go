package elevate

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollerSweepsZonesInAscendingOrder(t *testing.T) {
	d, store := newTestDispatcher(t, 500*time.Millisecond, 0)
	port := newFakePort()
	port.setOnWrite(echoResponder(port))
	attachPort(t, d, store, port)

	p := newPoller(d, 3, 300*time.Millisecond, func() LinkState { return Connected }, nopLog())
	go p.run()
	t.Cleanup(p.stop)

	waitFor(t, "one full sweep", func() bool {
		return len(port.commandFrames()) >= 3
	})

	want := []string{"*Z01QST\r", "*Z02QST\r", "*Z03QST\r"}
	got := port.commandFrames()[:3]
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sweep position %d: wanted %q got %q", i, want[i], got[i])
		}
	}
}

func TestPollerSpacingHasFloor(t *testing.T) {
	d, store := newTestDispatcher(t, 500*time.Millisecond, 0)
	port := newFakePort()
	port.setOnWrite(echoResponder(port))
	attachPort(t, d, store, port)

	// 12 zones in 100ms would burst without the floor; the first sweep
	// must still be pacing itself well after the interval elapses
	p := newPoller(d, 12, 100*time.Millisecond, func() LinkState { return Connected }, nopLog())
	go p.run()
	t.Cleanup(p.stop)

	time.Sleep(350 * time.Millisecond)
	frames := port.commandFrames()
	if len(frames) == 0 {
		t.Fatal("no polls issued")
	}
	if len(frames) >= 12 {
		t.Errorf("sweep burst %d queries in 350ms", len(frames))
	}
	for i, f := range frames {
		if !strings.HasSuffix(f, "QST\r") {
			t.Errorf("frame %d not a status query: %q", i, f)
		}
	}
}

func TestPollerPausedWhileDisconnected(t *testing.T) {
	d, store := newTestDispatcher(t, 500*time.Millisecond, 0)
	port := newFakePort()
	port.setOnWrite(echoResponder(port))
	attachPort(t, d, store, port)

	state := Disconnected
	p := newPoller(d, 2, 50*time.Millisecond, func() LinkState { return state }, nopLog())
	go p.run()
	t.Cleanup(p.stop)

	time.Sleep(200 * time.Millisecond)
	if frames := port.commandFrames(); len(frames) != 0 {
		t.Errorf("polled while disconnected: %q", frames)
	}
}

func TestPollerResumesWhenConnected(t *testing.T) {
	d, store := newTestDispatcher(t, 500*time.Millisecond, 0)
	port := newFakePort()
	port.setOnWrite(echoResponder(port))
	attachPort(t, d, store, port)

	var state atomic.Int32 // Disconnected
	stateFn := func() LinkState { return LinkState(state.Load()) }
	p := newPoller(d, 1, 50*time.Millisecond, stateFn, nopLog())
	go p.run()
	t.Cleanup(p.stop)

	time.Sleep(120 * time.Millisecond)
	state.Store(int32(Connected))

	waitFor(t, "polling to resume", func() bool {
		return len(port.commandFrames()) > 0
	})
}
