package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/lan"
	"lifx-go-home/internal/lanproto"
	"lifx-go-home/internal/motion"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedSource struct {
	mu       sync.Mutex
	readings []lanproto.LightState
	errs     []error
	i        int
}

func (s *scriptedSource) QueryState(context.Context) (lanproto.LightState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.i
	if i >= len(s.readings) {
		i = len(s.readings) - 1
	}
	s.i++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.readings[i], err
}

type recordingSink struct {
	mu  sync.Mutex
	got []lanproto.LightState
}

func (r *recordingSink) Observe(s lanproto.LightState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return true
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func on(level uint16) lanproto.LightState {
	return lanproto.LightState{Brightness: level, Kelvin: 3500, Power: 0xFFFF}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}, nil, &recordingSink{}, nil, testLogger()); err == nil {
		t.Error("New without source succeeded")
	}
	if _, err := New(Config{Interval: -time.Second}, &scriptedSource{}, &recordingSink{}, nil, testLogger()); err == nil {
		t.Error("New with negative interval succeeded")
	}
	p, err := New(Config{}, &scriptedSource{}, &recordingSink{}, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if p.cfg.Interval != DefaultInterval {
		t.Errorf("interval = %s, want %s", p.cfg.Interval, DefaultInterval)
	}
}

func TestSteadyFilter(t *testing.T) {
	src := &scriptedSource{readings: []lanproto.LightState{on(10000), on(20000), on(20000), on(20000), on(5000)}}
	sink := &recordingSink{}
	p, err := New(Config{Device: "lamp"}, src, sink, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	wantSteady := []bool{false, false, true, true, false}
	for i, want := range wantSteady {
		res := p.PollOnce(context.Background())
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		if res.Steady != want {
			t.Errorf("poll %d: steady = %v, want %v", i, res.Steady, want)
		}
	}
	if sink.count() != 2 {
		t.Errorf("forwarded %d readings, want 2", sink.count())
	}
}

func TestErrorBreaksRun(t *testing.T) {
	src := &scriptedSource{
		readings: []lanproto.LightState{on(20000), {}, on(20000), on(20000)},
		errs:     []error{nil, lan.ErrTimeout},
	}
	sink := &recordingSink{}
	p, _ := New(Config{}, src, sink, nil, testLogger())

	for i := 0; i < 3; i++ {
		p.PollOnce(context.Background())
	}
	if sink.count() != 0 {
		t.Fatalf("forwarded across a failed poll")
	}
	p.PollOnce(context.Background())
	if sink.count() != 1 {
		t.Errorf("forwarded %d, want 1", sink.count())
	}
}

func TestPollEmitsEvent(t *testing.T) {
	bus := events.NewBus(testLogger())
	var got []events.Event
	bus.On(events.StatePolled, func(e events.Event) { got = append(got, e) })

	src := &scriptedSource{readings: []lanproto.LightState{on(1234)}}
	p, _ := New(Config{Device: "lamp"}, src, &recordingSink{}, bus, testLogger())
	p.PollOnce(context.Background())

	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Device != "lamp" || got[0].Data["brightness"] != uint16(1234) {
		t.Errorf("event = %+v", got[0])
	}
}

// fakeLight answers GetColor with a State datagram built from its fields.
type fakeLight struct {
	mu    sync.Mutex
	state lanproto.LightState
}

func (f *fakeLight) set(s lanproto.LightState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeLight) Send(_ context.Context, _ lan.Device, d []byte) (int, error) {
	return len(d), nil
}

func (f *fakeLight) SendReceive(context.Context, lan.Device, []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := lanproto.BuildState(f.state, lanproto.Header{})
	if err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

func TestExternalChangeReachesCache(t *testing.T) {
	light := &fakeLight{}
	dev := lan.Device{Name: "lamp", Host: netip.MustParseAddr("127.0.0.1"), Port: lan.DefaultPort}
	ctrl := motion.New(motion.Config{Device: dev, InactivityDelay: time.Hour, FadeDuration: time.Hour}, light, nil, testLogger())
	p, err := New(Config{Device: "lamp"}, ctrl, ctrl, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// A switch turns the light off: never cached.
	light.set(lanproto.LightState{Brightness: 30000, Power: 0})
	p.PollOnce(ctx)
	p.PollOnce(ctx)
	if ctrl.Status().Cached != nil {
		t.Fatalf("cached a powered-off reading")
	}

	// Mid ramp, then steady at 30000 for two polls.
	light.set(on(12000))
	p.PollOnce(ctx)
	light.set(on(30000))
	p.PollOnce(ctx)
	if ctrl.Status().Cached != nil {
		t.Fatalf("cached a single reading")
	}
	res := p.PollOnce(ctx)
	if !res.Cached {
		t.Error("steady reading not cached")
	}
	if c := ctrl.Status().Cached; c == nil || c.Brightness != 30000 {
		t.Errorf("cached = %+v, want brightness 30000", c)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &scriptedSource{readings: []lanproto.LightState{on(20000)}}
	sink := &recordingSink{}
	p, _ := New(Config{Interval: 5 * time.Millisecond}, src, sink, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no reading forwarded")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunSurvivesPanic(t *testing.T) {
	p, _ := New(Config{}, panicSource{}, &recordingSink{}, nil, testLogger())
	p.runOnce(context.Background())
	if p.hasPrev {
		t.Error("run of readings kept after panic")
	}
}

type panicSource struct{}

func (panicSource) QueryState(context.Context) (lanproto.LightState, error) {
	panic(errors.New("decoder bug"))
}
