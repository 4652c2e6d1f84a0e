// Package motion dims a light after a period without motion and restores
// it when motion is seen again.
//
// The controller holds two single-shot timers. The inactivity timer is armed
// when motion clears and dims the light to a dark floor when it fires. The
// fade timer then runs for the length of the dim ramp; while it runs, further
// dim triggers are ignored. Motion cancels both and, if the light was dimmed,
// restores the last bright state seen by the poll loop.
package motion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/lan"
	"lifx-go-home/internal/lanproto"
)

const (
	// Dark is the dim floor as a fraction of full brightness.
	Dark = 0.01

	// RestoreRamp is the transition used when motion brings the light back.
	RestoreRamp = 100 * time.Millisecond

	// DefaultKelvin is used when neither a cache nor a live reading exists.
	DefaultKelvin = 3500
)

// DarkLevel is Dark expressed as a 16-bit brightness, truncated.
const DarkLevel uint16 = 655

// brightFloor is ten times the dark floor on the 16-bit scale. The cache
// only accepts brightness strictly above it.
const brightFloor = Dark * 10 * 0xFFFF

// Activity is the macro state of the controller.
type Activity int

const (
	Active Activity = iota
	Dimmed
)

func (a Activity) String() string {
	switch a {
	case Active:
		return "active"
	case Dimmed:
		return "dimmed"
	default:
		return fmt.Sprintf("activity(%d)", int(a))
	}
}

// Config configures a Controller.
type Config struct {
	Device          lan.Device
	InactivityDelay time.Duration
	FadeDuration    time.Duration
	Source          uint32
}

type timer interface {
	Stop() bool
}

type timerSlot struct {
	t   timer
	gen uint64
}

// Controller is the motion-driven brightness state machine. All methods are
// safe for concurrent use.
type Controller struct {
	cfg       Config
	transport lan.Transport
	bus       *events.Bus
	logger    *slog.Logger
	afterFunc func(time.Duration, func()) timer

	// sendMu orders commands on the wire. Lock order: sendMu, then mu.
	sendMu sync.Mutex

	mu         sync.Mutex
	motions    uint64 // motion edges seen, for dropping superseded dims
	activity   Activity
	fading     bool
	cached     *lanproto.LightState
	inactivity timerSlot
	fade       timerSlot
	gen        uint64
	seq        uint8
}

// New creates a controller. bus may be nil.
func New(cfg Config, transport lan.Transport, bus *events.Bus, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		transport: transport,
		bus:       bus,
		logger:    logger.With("component", "motion", "device", cfg.Device.Name),
		afterFunc: func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
	}
}

// Status is a snapshot of the controller state.
type Status struct {
	Device            string               `json:"device"`
	Activity          string               `json:"activity"`
	Fading            bool                 `json:"fading"`
	InactivityPending bool                 `json:"inactivity_pending"`
	Cached            *lanproto.LightState `json:"cached,omitempty"`
	InactivityDelay   string               `json:"inactivity_delay"`
	FadeDuration      string               `json:"fade_duration"`
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Device:            c.cfg.Device.Name,
		Activity:          c.activity.String(),
		Fading:            c.fading,
		InactivityPending: c.inactivity.t != nil,
		InactivityDelay:   c.cfg.InactivityDelay.String(),
		FadeDuration:      c.cfg.FadeDuration.String(),
	}
	if c.cached != nil {
		cp := *c.cached
		s.Cached = &cp
	}
	return s
}

// Device returns the controlled device.
func (c *Controller) Device() lan.Device {
	return c.cfg.Device
}

// MotionDetected cancels both timers and, if the light was dimmed, restores
// the cached brightness (full brightness without a cache).
func (c *Controller) MotionDetected() {
	wasDimmed, cached := c.onMotion()
	c.emit(events.MotionDetected, nil)
	if !wasDimmed {
		return
	}

	level := uint16(0xFFFF)
	if cached != nil {
		level = cached.Brightness
	}
	ctx := context.Background()
	if err := c.sendBrightness(ctx, "restore", level, RestoreRamp, nil); err != nil {
		return
	}
	c.emit(events.Restored, map[string]any{"brightness": level})
}

func (c *Controller) onMotion() (bool, *lanproto.LightState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.motions++
	c.cancel(&c.inactivity)
	c.cancel(&c.fade)
	wasDimmed := c.activity == Dimmed
	c.activity = Active
	c.fading = false
	if c.cached == nil {
		return wasDimmed, nil
	}
	cp := *c.cached
	return wasDimmed, &cp
}

// MotionCleared (re)arms the inactivity timer.
func (c *Controller) MotionCleared() {
	c.mu.Lock()
	c.cancel(&c.inactivity)
	c.arm(&c.inactivity, c.cfg.InactivityDelay, "inactivity", c.onInactivity)
	c.mu.Unlock()

	c.logger.Debug("inactivity timer armed", "delay", c.cfg.InactivityDelay)
	c.emit(events.MotionCleared, map[string]any{"delay": c.cfg.InactivityDelay.String()})
}

func (c *Controller) onInactivity(gen uint64) {
	motions, ok := c.startDim(gen)
	if !ok {
		return
	}
	c.logger.Info("no motion, dimming", "fade", c.cfg.FadeDuration)
	if err := c.sendBrightness(context.Background(), "dim", DarkLevel, c.cfg.FadeDuration, c.stillDimmed(motions)); err != nil {
		return
	}
	c.emit(events.Dimmed, map[string]any{"brightness": DarkLevel, "fade": c.cfg.FadeDuration.String()})
}

// startDim moves to Dimmed and arms the fade timer. It returns the motion
// count at that moment, and false when the firing timer is stale or a fade
// is already in progress.
func (c *Controller) startDim(gen uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inactivity.t == nil || c.inactivity.gen != gen {
		return 0, false
	}
	c.inactivity = timerSlot{}
	if c.fading {
		c.logger.Debug("dim suppressed while fading")
		return 0, false
	}
	c.activity = Dimmed
	c.fading = true
	c.cancel(&c.fade)
	c.arm(&c.fade, c.cfg.FadeDuration, "fade", c.onFade)
	return c.motions, true
}

// stillDimmed reports, at send time, whether the dim started at motion count
// motions is still wanted. Motion in between means a restore owns the light.
func (c *Controller) stillDimmed(motions uint64) func() bool {
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.activity == Dimmed && c.motions == motions
	}
}

func (c *Controller) onFade(gen uint64) {
	c.mu.Lock()
	if c.fade.t == nil || c.fade.gen != gen {
		c.mu.Unlock()
		return
	}
	c.fade = timerSlot{}
	c.fading = false
	c.mu.Unlock()

	c.emit(events.FadeSettled, nil)
}

// Observe offers a freshly polled state to the cache. The state is accepted
// only while the controller is Active, the light is on and bright, and the
// brightness differs from the cached one. It reports whether the cache
// changed.
func (c *Controller) Observe(s lanproto.LightState) bool {
	if !c.accept(s) {
		return false
	}
	c.logger.Debug("cached state", "brightness", s.Brightness)
	c.emit(events.StateCached, map[string]any{"brightness": s.Brightness, "kelvin": s.Kelvin})
	return true
}

func (c *Controller) accept(s lanproto.LightState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case float64(s.Brightness) <= brightFloor:
		return false
	case !s.On():
		return false
	case c.cached != nil && c.cached.Brightness == s.Brightness:
		return false
	case c.activity != Active:
		return false
	}
	c.cached = &s
	return true
}

// Stop cancels any pending timers.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel(&c.inactivity)
	c.cancel(&c.fade)
}

// cancel stops the timer in slot. Stopping an idle slot is a no-op.
// Must hold c.mu.
func (c *Controller) cancel(slot *timerSlot) {
	if slot.t != nil {
		slot.t.Stop()
	}
	*slot = timerSlot{}
}

// arm starts a new timer in slot. The callback only acts if the slot still
// holds the same generation when it runs. Must hold c.mu.
func (c *Controller) arm(slot *timerSlot, d time.Duration, name string, fire func(gen uint64)) {
	c.gen++
	gen := c.gen
	slot.gen = gen
	slot.t = c.afterFunc(d, func() {
		c.supervise(name, func() { fire(gen) })
	})
}

// supervise runs f, logging instead of propagating any panic.
func (c *Controller) supervise(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in timer callback", "timer", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	f()
}

func (c *Controller) emit(typ string, data map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(events.Event{Type: typ, Device: c.cfg.Device.Name, Data: data})
}
