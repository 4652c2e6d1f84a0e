// Package poller periodically reads the light so the controller notices
// changes made elsewhere, such as a wall switch or the vendor app.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/lanproto"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 5 * time.Second

// Source reads the light.
type Source interface {
	QueryState(ctx context.Context) (lanproto.LightState, error)
}

// Sink receives steady readings.
type Sink interface {
	Observe(s lanproto.LightState) bool
}

// Config is the runtime config the poller needs.
type Config struct {
	Device   string
	Interval time.Duration
}

// Result is the outcome of one poll cycle.
type Result struct {
	State  lanproto.LightState
	At     time.Time
	Steady bool // brightness matched the previous reading
	Cached bool // the sink accepted the reading
	Err    error
}

// Poller is a clock-driven reader. Run and PollOnce must not be called
// concurrently.
type Poller struct {
	cfg    Config
	src    Source
	sink   Sink
	bus    *events.Bus
	logger *slog.Logger

	prev    uint16
	hasPrev bool
}

// New creates a poller. bus may be nil.
func New(cfg Config, src Source, sink Sink, bus *events.Bus, logger *slog.Logger) (*Poller, error) {
	if src == nil || sink == nil {
		return nil, errors.New("poller: source and sink required")
	}
	if cfg.Interval < 0 {
		return nil, errors.New("poller: interval must be >= 0")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		cfg:    cfg,
		src:    src,
		sink:   sink,
		bus:    bus,
		logger: logger.With("component", "poller", "device", cfg.Device),
	}, nil
}

// PollOnce performs one poll cycle. A reading is handed to the sink only when
// its brightness equals the previous reading, so a light caught mid ramp is
// never cached. A failed read breaks the run of readings.
func (p *Poller) PollOnce(ctx context.Context) Result {
	res := Result{At: time.Now()}
	s, err := p.src.QueryState(ctx)
	if err != nil {
		p.hasPrev = false
		res.Err = err
		return res
	}
	res.State = s
	res.Steady = p.hasPrev && p.prev == s.Brightness
	p.prev, p.hasPrev = s.Brightness, true

	if res.Steady {
		res.Cached = p.sink.Observe(s)
	}
	if p.bus != nil {
		p.bus.Emit(events.Event{
			Type:   events.StatePolled,
			Device: p.cfg.Device,
			Time:   res.At,
			Data: map[string]any{
				"brightness": s.Brightness,
				"power":      s.Power,
				"kelvin":     s.Kelvin,
				"steady":     res.Steady,
			},
		})
	}
	return res
}

// Run polls every interval until ctx is done. No overlap, no retries.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("polling", "interval", p.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

// runOnce polls inside a recover so one bad cycle cannot stop the loop.
func (p *Poller) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.hasPrev = false
			p.logger.Error("panic in poll cycle", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	res := p.PollOnce(ctx)
	switch {
	case res.Err != nil && ctx.Err() == nil:
		p.logger.Warn("poll failed", "err", res.Err)
	case res.Cached:
		p.logger.Info("cached new bright state", "brightness", res.State.Brightness)
	}
}
