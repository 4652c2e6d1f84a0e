package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// DefaultBaud is used when SerialConfig.Baud is zero.
const DefaultBaud = 9600

// SerialConfig names the port a PIR bridge microcontroller writes to.
type SerialConfig struct {
	Port string
	Baud int
}

// openPort is replaced in tests.
var openPort = func(name string, baud int) (io.ReadCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// dtrSetter is the part of serial.Port used to wake the bridge board.
type dtrSetter interface {
	SetDTR(dtr bool) error
}

// Serial reads motion lines from a serial port and forwards edges.
type Serial struct {
	cfg    SerialConfig
	edges  *Edges
	logger *slog.Logger
	retry  time.Duration
}

// NewSerial creates a serial sensor. Nothing is opened until Run.
func NewSerial(cfg SerialConfig, h Handler, logger *slog.Logger) (*Serial, error) {
	if cfg.Port == "" {
		return nil, errors.New("sensor: serial port required")
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	return &Serial{
		cfg:    cfg,
		edges:  NewEdges(h),
		logger: logger.With("component", "sensor", "port", cfg.Port),
		retry:  2 * time.Second,
	}, nil
}

// Run reads until ctx is done, reopening the port after errors. USB serial
// adapters disappear and come back when the bridge resets.
func (s *Serial) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := s.readPort(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("serial sensor lost, reopening", "attempt", attempt, "err", err)
		select {
		case <-time.After(s.retry):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Serial) readPort(ctx context.Context) error {
	port, err := openPort(s.cfg.Port, s.cfg.Baud)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Port, err)
	}
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()
	s.logger.Info("serial sensor open", "baud", s.cfg.Baud)
	if p, ok := port.(dtrSetter); ok {
		// Some boards only start reporting once DTR is raised.
		if err := p.SetDTR(true); err != nil {
			s.logger.Debug("set DTR", "err", err)
		}
	}

	sc := bufio.NewScanner(port)
	for sc.Scan() {
		line := sc.Text()
		present, ok := ParseLine(line)
		if !ok {
			if line != "" {
				s.logger.Debug("ignoring line", "line", line)
			}
			continue
		}
		if s.edges.Set(present) {
			s.logger.Debug("motion edge", "present", present)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
