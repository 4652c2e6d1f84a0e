package motion

import (
	"context"
	"errors"
	"testing"
	"time"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/lanproto"
)

func bright(level uint16) lanproto.LightState {
	return lanproto.LightState{Hue: 1000, Saturation: 2000, Brightness: level, Kelvin: 4000, Power: 0xFFFF}
}

func TestDarkLevel(t *testing.T) {
	dark := Dark
	if want := uint16(dark * 0xFFFF); DarkLevel != want {
		t.Errorf("DarkLevel = %d, want %d", DarkLevel, want)
	}
}

func TestInactivityDimsOnce(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)

	h.c.MotionCleared()
	h.clock.Advance(999 * time.Millisecond)
	if n := len(h.tr.commands(t)); n != 0 {
		t.Fatalf("commands before delay = %d, want 0", n)
	}

	h.clock.Advance(time.Millisecond)
	cmds := h.tr.commands(t)
	if len(cmds) != 1 {
		t.Fatalf("commands after delay = %d, want 1", len(cmds))
	}
	if cmds[0].msgType != lanproto.TypeSetColor {
		t.Errorf("type = %d, want SetColor", cmds[0].msgType)
	}
	if cmds[0].brightness != uint64(DarkLevel) {
		t.Errorf("brightness = %d, want %d", cmds[0].brightness, DarkLevel)
	}
	if cmds[0].duration != time.Second {
		t.Errorf("duration = %s, want 1s", cmds[0].duration)
	}
	st := h.c.Status()
	if st.Activity != "dimmed" || !st.Fading {
		t.Errorf("status = %+v, want dimmed and fading", st)
	}

	h.clock.Advance(time.Second)
	if n := len(h.tr.commands(t)); n != 1 {
		t.Errorf("commands by 2s = %d, want 1", n)
	}
	if st := h.c.Status(); st.Fading {
		t.Error("still fading after fade duration")
	}
	if h.count(events.Dimmed) != 1 || h.count(events.FadeSettled) != 1 {
		t.Errorf("dimmed=%d fade_settled=%d, want 1 1", h.count(events.Dimmed), h.count(events.FadeSettled))
	}
}

func TestRestoreUsesCachedBrightness(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)

	if !h.c.Observe(bright(40000)) {
		t.Fatal("Observe rejected bright state")
	}
	h.c.MotionCleared()
	h.clock.Advance(time.Second)
	h.c.MotionDetected()

	cmds := h.tr.commands(t)
	if len(cmds) != 2 {
		t.Fatalf("commands = %d, want dim + restore", len(cmds))
	}
	dim, restore := cmds[0], cmds[1]
	if dim.hue != 1000 || dim.saturation != 2000 || dim.kelvin != 4000 {
		t.Errorf("dim changed color: %+v", dim)
	}
	if restore.brightness != 40000 {
		t.Errorf("restore brightness = %d, want 40000", restore.brightness)
	}
	if restore.duration != RestoreRamp {
		t.Errorf("restore duration = %s, want %s", restore.duration, RestoreRamp)
	}
	if restore.kelvin != 4000 {
		t.Errorf("restore kelvin = %d, want 4000", restore.kelvin)
	}
	st := h.c.Status()
	if st.Activity != "active" || st.Fading {
		t.Errorf("status = %+v, want active, not fading", st)
	}
	if h.clock.pending() != 0 {
		t.Errorf("pending timers = %d, want 0", h.clock.pending())
	}
}

func TestRestoreWithoutCache(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)

	h.c.MotionCleared()
	h.clock.Advance(time.Second)
	h.c.MotionDetected()

	cmds := h.tr.commands(t)
	if len(cmds) != 2 {
		t.Fatalf("commands = %d, want 2", len(cmds))
	}
	r := cmds[1]
	if r.brightness != 0xFFFF || r.hue != 0 || r.saturation != 0 || r.kelvin != DefaultKelvin {
		t.Errorf("restore = %+v, want full white at %dK", r, DefaultKelvin)
	}
	// Each command without a cache tries one live query.
	if h.tr.queries != 2 {
		t.Errorf("queries = %d, want 2", h.tr.queries)
	}
}

func TestLiveQuerySuppliesColor(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	h.tr.queryErr = nil
	h.tr.state = lanproto.LightState{Hue: 7, Saturation: 8, Brightness: 500, Kelvin: 2700, Power: 0xFFFF}

	if err := h.c.SetBrightness(context.Background(), 30000, 0); err != nil {
		t.Fatal(err)
	}
	cmds := h.tr.commands(t)
	if len(cmds) != 1 {
		t.Fatalf("commands = %d", len(cmds))
	}
	if c := cmds[0]; c.hue != 7 || c.saturation != 8 || c.kelvin != 2700 || c.brightness != 30000 {
		t.Errorf("command = %+v", c)
	}
}

func TestMotionWithinWindowCancelsDim(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)

	h.c.MotionDetected()
	h.c.MotionCleared()
	h.clock.Advance(500 * time.Millisecond)
	h.c.MotionDetected()
	h.clock.Advance(5 * time.Second)

	if n := len(h.tr.commands(t)); n != 0 {
		t.Errorf("commands = %d, want 0", n)
	}
	if st := h.c.Status(); st.InactivityPending {
		t.Error("inactivity timer still pending")
	}
}

func TestMotionClearedRearms(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)

	h.c.MotionCleared()
	h.clock.Advance(800 * time.Millisecond)
	h.c.MotionCleared()
	if h.clock.pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.clock.pending())
	}
	h.clock.Advance(800 * time.Millisecond)
	if n := len(h.tr.commands(t)); n != 0 {
		t.Fatalf("dimmed at 1.6s, want 1.8s")
	}
	h.clock.Advance(200 * time.Millisecond)
	if n := len(h.tr.commands(t)); n != 1 {
		t.Errorf("commands = %d, want 1", n)
	}
}

func TestDimSuppressedWhileFading(t *testing.T) {
	h := newHarness(t, time.Second, 5*time.Second)

	h.c.MotionCleared()
	h.clock.Advance(time.Second)
	h.c.MotionCleared()
	h.clock.Advance(time.Second)

	if n := len(h.tr.commands(t)); n != 1 {
		t.Errorf("commands = %d, want 1", n)
	}
	if st := h.c.Status(); st.Activity != "dimmed" || !st.Fading {
		t.Errorf("status = %+v", st)
	}
}

func TestStaleTimerIsIgnored(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	h.c.MotionCleared()

	// A callback that raced with a cancel carries an old generation.
	h.c.mu.Lock()
	old := h.c.inactivity.gen
	h.c.mu.Unlock()
	h.c.MotionCleared()
	h.c.onInactivity(old)

	if n := len(h.tr.commands(t)); n != 0 {
		t.Errorf("stale callback sent %d commands", n)
	}
}

func TestDimDroppedWhenMotionWinsRace(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	gate := newGatedTransport(h.tr)
	h.c.transport = gate

	h.c.MotionCleared()
	fired := make(chan struct{})
	go func() {
		defer close(fired)
		h.clock.Advance(time.Second)
	}()

	// The dim is stuck looking up the base color when motion arrives.
	<-gate.entered
	h.c.MotionDetected()
	close(gate.release)
	<-fired

	cmds := h.tr.commands(t)
	if len(cmds) != 1 {
		t.Fatalf("commands = %+v, want the restore only", cmds)
	}
	if cmds[0].brightness != 0xFFFF {
		t.Errorf("brightness = %d, want 65535", cmds[0].brightness)
	}
	st := h.c.Status()
	if st.Activity != "active" || st.Fading || st.InactivityPending {
		t.Errorf("status = %+v, want active and idle", st)
	}
	if h.count(events.Dimmed) != 0 || h.count(events.Restored) != 1 {
		t.Errorf("dimmed=%d restored=%d, want 0 1", h.count(events.Dimmed), h.count(events.Restored))
	}
	if n := h.clock.pending(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}
}

func TestDimSentWhenNoMotionDuringLookup(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	gate := newGatedTransport(h.tr)
	h.c.transport = gate

	h.c.MotionCleared()
	fired := make(chan struct{})
	go func() {
		defer close(fired)
		h.clock.Advance(time.Second)
	}()
	<-gate.entered
	close(gate.release)
	<-fired

	cmds := h.tr.commands(t)
	if len(cmds) != 1 || cmds[0].brightness != uint64(DarkLevel) {
		t.Fatalf("commands = %+v, want one dim", cmds)
	}
	if h.count(events.Dimmed) != 1 {
		t.Errorf("dimmed events = %d, want 1", h.count(events.Dimmed))
	}
}

func TestObserveGuard(t *testing.T) {
	tests := []struct {
		name  string
		state lanproto.LightState
		want  bool
	}{
		{"bright and on", bright(30000), true},
		{"power off", lanproto.LightState{Brightness: 30000, Power: 0}, false},
		{"ramping power", lanproto.LightState{Brightness: 30000, Power: 0x8000}, false},
		{"ten times dark level", bright(10 * DarkLevel), false},
		{"below fractional floor", bright(6553), false},
		{"just above floor", bright(6554), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Second, time.Second)
			if got := h.c.Observe(tt.state); got != tt.want {
				t.Errorf("Observe = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObserveSameBrightness(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	if !h.c.Observe(bright(30000)) {
		t.Fatal("first observe rejected")
	}
	if h.c.Observe(bright(30000)) {
		t.Error("same brightness accepted twice")
	}
	if h.count(events.StateCached) != 1 {
		t.Errorf("state_cached events = %d, want 1", h.count(events.StateCached))
	}
}

func TestObserveRejectedWhileDimmed(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	h.c.Observe(bright(40000))
	h.c.MotionCleared()
	h.clock.Advance(time.Second)

	if h.c.Observe(bright(20000)) {
		t.Error("accepted while dimmed and fading")
	}
	h.clock.Advance(time.Second)
	if h.c.Observe(bright(20000)) {
		t.Error("accepted while dimmed")
	}
	if st := h.c.Status(); st.Cached == nil || st.Cached.Brightness != 40000 {
		t.Errorf("cached = %+v, want 40000", st.Cached)
	}
}

func TestTransportFailureKeepsState(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	h.c.Observe(bright(40000))
	h.tr.sendErr = errors.New("network unreachable")

	h.c.MotionCleared()
	h.clock.Advance(time.Second)

	if st := h.c.Status(); st.Activity != "dimmed" || !st.Fading {
		t.Errorf("status after failed dim = %+v", st)
	}
	if h.count(events.CommandFailed) != 1 {
		t.Errorf("command_failed events = %d, want 1", h.count(events.CommandFailed))
	}
	if h.count(events.Dimmed) != 0 {
		t.Error("dimmed emitted for a failed command")
	}

	// The next motion still restores once the network is back.
	h.tr.sendErr = nil
	h.c.MotionDetected()
	if cmds := h.tr.commands(t); len(cmds) != 1 || cmds[0].brightness != 40000 {
		t.Errorf("commands = %+v, want one restore to 40000", cmds)
	}
}

func TestTimerPanicIsRecovered(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	h.bus.On(events.Dimmed, func(events.Event) { panic("handler bug") })
	h.c.arm(&timerSlot{}, time.Millisecond, "test", func(uint64) { panic("boom") })

	h.clock.Advance(time.Millisecond)

	// Timers still work after a panicking callback.
	h.c.MotionCleared()
	h.clock.Advance(time.Second)
	if n := len(h.tr.commands(t)); n != 1 {
		t.Errorf("commands = %d, want 1", n)
	}
}

func TestSequenceIncrements(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	h.c.Observe(bright(40000))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.c.SetBrightness(ctx, 20000, 0); err != nil {
			t.Fatal(err)
		}
	}
	cmds := h.tr.commands(t)
	for i := 1; i < len(cmds); i++ {
		if cmds[i].sequence != cmds[i-1].sequence+1 {
			t.Errorf("sequence %d after %d", cmds[i].sequence, cmds[i-1].sequence)
		}
	}
}

func TestSetPower(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	if err := h.c.SetPower(context.Background(), false, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	cmds := h.tr.commands(t)
	if len(cmds) != 1 || cmds[0].msgType != lanproto.TypeSetLightPower {
		t.Fatalf("commands = %+v", cmds)
	}
	if cmds[0].level != 0 || cmds[0].duration != 2*time.Second {
		t.Errorf("command = %+v", cmds[0])
	}
}

func TestToggle(t *testing.T) {
	tests := []struct {
		name      string
		state     lanproto.LightState
		want      uint16
		wantPower bool
	}{
		{"lit goes dark", bright(30000), 0, false},
		{"dark goes full", bright(0), 0xFFFF, false},
		{"off powers on", lanproto.LightState{Brightness: 30000, Kelvin: 3000}, 0xFFFF, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Second, time.Second)
			h.tr.queryErr = nil
			h.tr.state = tt.state

			got, err := h.c.Toggle(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Toggle = %d, want %d", got, tt.want)
			}
			cmds := h.tr.commands(t)
			if cmds[0].brightness != uint64(tt.want) || cmds[0].kelvin != uint64(tt.state.Kelvin) {
				t.Errorf("set color = %+v", cmds[0])
			}
			hasPower := len(cmds) == 2 && cmds[1].msgType == lanproto.TypeSetLightPower
			if hasPower != tt.wantPower {
				t.Errorf("power command sent = %v, want %v", hasPower, tt.wantPower)
			}
		})
	}
}

func TestToggleQueryFails(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	if _, err := h.c.Toggle(context.Background()); err == nil {
		t.Fatal("Toggle succeeded without a reply")
	}
	if n := len(h.tr.commands(t)); n != 0 {
		t.Errorf("commands = %d, want 0", n)
	}
}
