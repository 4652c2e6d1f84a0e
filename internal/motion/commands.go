package motion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/lanproto"
)

// errSuperseded is returned for a command dropped at send time because its
// guard no longer holds.
var errSuperseded = errors.New("motion: command superseded")

func (c *Controller) header() lanproto.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return lanproto.Header{Source: c.cfg.Source, Sequence: c.seq}
}

// QueryState asks the light for its current state. The cache is not touched.
func (c *Controller) QueryState(ctx context.Context) (lanproto.LightState, error) {
	pkt, err := lanproto.BuildGetState(c.header())
	if err != nil {
		return lanproto.LightState{}, fmt.Errorf("query %s: %w", c.cfg.Device.Name, err)
	}
	resp, err := c.transport.SendReceive(ctx, c.cfg.Device, pkt.Bytes())
	if err != nil {
		return lanproto.LightState{}, fmt.Errorf("query %s: %w", c.cfg.Device.Name, err)
	}
	s, err := lanproto.DecodeStateResponse(resp)
	if err != nil {
		return lanproto.LightState{}, fmt.Errorf("query %s: %w", c.cfg.Device.Name, err)
	}
	return s, nil
}

// baseColor returns the hue, saturation and kelvin to send with a brightness
// change: the cached ones, else a live reading, else a neutral white.
func (c *Controller) baseColor(ctx context.Context) lanproto.HSBK {
	c.mu.Lock()
	cached := c.cached
	c.mu.Unlock()
	if cached != nil {
		return cached.HSBK()
	}

	s, err := c.QueryState(ctx)
	if err != nil {
		c.logger.Warn("no cached color, using default", "err", err)
		return lanproto.HSBK{Kelvin: DefaultKelvin}
	}
	return s.HSBK()
}

// sendBrightness changes only brightness, keeping the base color. A non-nil
// guard is checked just before the datagram goes out.
func (c *Controller) sendBrightness(ctx context.Context, reason string, level uint16, d time.Duration, guard func() bool) error {
	color := c.baseColor(ctx)
	color.Brightness = int(level)
	return c.sendColor(ctx, reason, color, d, guard)
}

func (c *Controller) sendColor(ctx context.Context, reason string, color lanproto.HSBK, d time.Duration, guard func() bool) error {
	pkt, err := lanproto.BuildSetColor(color, d, c.header())
	if err != nil {
		c.failed(reason, err)
		return err
	}
	return c.send(ctx, reason, pkt, map[string]any{"brightness": color.Brightness, "duration": d.String()}, guard)
}

func (c *Controller) send(ctx context.Context, reason string, pkt *lanproto.Packet, data map[string]any, guard func() bool) error {
	if err := c.transmit(ctx, reason, pkt, guard); err != nil {
		if errors.Is(err, errSuperseded) {
			c.logger.Debug("command dropped, superseded by motion", "command", reason)
		} else {
			c.failed(reason, err)
		}
		return err
	}
	data["command"] = reason
	c.emit(events.CommandSent, data)
	return nil
}

// transmit checks guard and writes the datagram under sendMu, so a command
// that passed its guard reaches the wire before any later one.
func (c *Controller) transmit(ctx context.Context, reason string, pkt *lanproto.Packet, guard func() bool) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if guard != nil && !guard() {
		return errSuperseded
	}
	if c.logger.Enabled(ctx, slog.LevelDebug) {
		c.logger.Debug("sending packet", "reason", reason, "packet", pkt.String())
	}
	_, err := c.transport.Send(ctx, c.cfg.Device, pkt.Bytes())
	return err
}

// failed logs a command error. Controller state is left as is; the next
// motion event or poll cycle will act again.
func (c *Controller) failed(reason string, err error) {
	c.logger.Warn("command failed", "command", reason, "err", err)
	c.emit(events.CommandFailed, map[string]any{"command": reason, "error": err.Error()})
}

// SetBrightness sets the light to level over d, keeping its color.
func (c *Controller) SetBrightness(ctx context.Context, level uint16, d time.Duration) error {
	return c.sendBrightness(ctx, "set_brightness", level, d, nil)
}

// SetPower switches the light on or off over d.
func (c *Controller) SetPower(ctx context.Context, on bool, d time.Duration) error {
	pkt, err := lanproto.BuildSetPower(on, d, c.header())
	if err != nil {
		c.failed("set_power", err)
		return err
	}
	return c.send(ctx, "set_power", pkt, map[string]any{"on": on, "duration": d.String()}, nil)
}

// Toggle reads the light and turns it dark if it is lit, or to full
// brightness otherwise. It returns the brightness it set.
func (c *Controller) Toggle(ctx context.Context) (uint16, error) {
	s, err := c.QueryState(ctx)
	if err != nil {
		c.failed("toggle", err)
		return 0, err
	}
	color := s.HSBK()
	lit := s.On() && s.Brightness > DarkLevel
	if lit {
		color.Brightness = 0
	} else {
		color.Brightness = 0xFFFF
	}
	if err := c.sendColor(ctx, "toggle", color, RestoreRamp, nil); err != nil {
		return 0, err
	}
	if !s.On() {
		if err := c.SetPower(ctx, true, RestoreRamp); err != nil {
			return 0, err
		}
	}
	return uint16(color.Brightness), nil
}
