package motion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"testing"
	"time"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/lan"
	"lifx-go-home/internal/lanproto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock runs AfterFunc callbacks when Advance moves past their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at < c.timers[j].at })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && t.at <= target {
				next = t
				break
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// pending counts timers that have neither fired nor been stopped.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeTransport records sent datagrams and answers queries with state.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	state    lanproto.LightState
	queries  int
	sendErr  error
	queryErr error
}

func (f *fakeTransport) Send(_ context.Context, _ lan.Device, datagram []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), datagram...))
	return len(datagram), nil
}

func (f *fakeTransport) SendReceive(_ context.Context, _ lan.Device, _ []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	p, err := lanproto.BuildState(f.state, lanproto.Header{})
	if err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

// gatedTransport blocks the first SendReceive until release is closed.
type gatedTransport struct {
	*fakeTransport
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedTransport(f *fakeTransport) *gatedTransport {
	return &gatedTransport{fakeTransport: f, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedTransport) SendReceive(ctx context.Context, dev lan.Device, datagram []byte) ([]byte, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeTransport.SendReceive(ctx, dev, datagram)
}

type sentCommand struct {
	msgType    uint16
	hue        uint64
	saturation uint64
	brightness uint64
	kelvin     uint64
	level      uint64
	duration   time.Duration
	sequence   uint64
}

func (f *fakeTransport) commands(t *testing.T) []sentCommand {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCommand
	for _, d := range f.sent {
		h, err := lanproto.DecodeHeader(d)
		if err != nil {
			t.Fatal(err)
		}
		payload := lanproto.SetColorSchema
		if uint16(h["type"]) == lanproto.TypeSetLightPower {
			payload = lanproto.SetPowerSchema
		}
		schema := append(append([]lanproto.SchemaField{}, lanproto.HeaderSchema...), payload...)
		m, err := lanproto.Deconstruct(d, schema)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, sentCommand{
			msgType:    uint16(m["type"]),
			hue:        m["hue"],
			saturation: m["saturation"],
			brightness: m["brightness"],
			kelvin:     m["kelvin"],
			level:      m["level"],
			duration:   time.Duration(m["duration"]) * time.Millisecond,
			sequence:   m["sequence"],
		})
	}
	return out
}

type harness struct {
	c     *Controller
	clock *fakeClock
	tr    *fakeTransport
	bus   *events.Bus
	seen  []events.Event
	mu    sync.Mutex
}

func newHarness(t *testing.T, delay, fade time.Duration) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{}, tr: &fakeTransport{queryErr: errors.New("no reply")}}
	h.bus = events.NewBus(testLogger())
	h.bus.OnAll(func(e events.Event) {
		h.mu.Lock()
		h.seen = append(h.seen, e)
		h.mu.Unlock()
	})
	h.c = New(Config{
		Device:          lan.Device{Name: "lamp", Host: netip.MustParseAddr("127.0.0.1"), Port: lan.DefaultPort},
		InactivityDelay: delay,
		FadeDuration:    fade,
		Source:          0x1234,
	}, h.tr, h.bus, testLogger())
	h.c.afterFunc = h.clock.AfterFunc
	return h
}

func (h *harness) count(typ string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.seen {
		if e.Type == typ {
			n++
		}
	}
	return n
}
