// Package lan sends LIFX datagrams to configured devices over UDP.
package lan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// DefaultTimeout bounds every exchange when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// maxDatagram is large enough for any reply the light sends.
const maxDatagram = 512

// ErrTimeout is returned when a device does not answer in time.
var ErrTimeout = errors.New("lan: timeout")

// Transport exchanges datagrams with a single device.
type Transport interface {
	// Send writes datagram to dev and returns the number of bytes sent.
	Send(ctx context.Context, dev Device, datagram []byte) (int, error)
	// SendReceive writes datagram to dev and waits for one reply.
	SendReceive(ctx context.Context, dev Device, datagram []byte) ([]byte, error)
}

// UDPTransport implements Transport with one short-lived socket per call.
type UDPTransport struct {
	timeout time.Duration
	dialer  net.Dialer
	logger  *slog.Logger
}

// NewUDPTransport creates a transport. A zero timeout means DefaultTimeout.
func NewUDPTransport(timeout time.Duration, logger *slog.Logger) *UDPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &UDPTransport{
		timeout: timeout,
		logger:  logger.With("component", "lan"),
	}
}

// Timeout returns the per-call deadline.
func (t *UDPTransport) Timeout() time.Duration {
	return t.timeout
}

func (t *UDPTransport) dial(ctx context.Context, dev Device) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	conn, err := t.dialer.DialContext(ctx, "udp4", dev.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s (%s): %w", dev.Name, dev.Addr(), err)
	}
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	return conn, nil
}

// Send implements Transport.
func (t *UDPTransport) Send(ctx context.Context, dev Device, datagram []byte) (int, error) {
	conn, err := t.dial(ctx, dev)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	n, err := conn.Write(datagram)
	if err != nil {
		return n, t.wrap(dev, "send", err)
	}
	t.logger.Debug("sent", "device", dev.Name, "bytes", n)
	return n, nil
}

// SendReceive implements Transport. The first datagram that arrives on the
// connected socket is returned.
func (t *UDPTransport) SendReceive(ctx context.Context, dev Device, datagram []byte) ([]byte, error) {
	conn, err := t.dial(ctx, dev)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Unblock the read if the caller gives up before the deadline.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(datagram); err != nil {
		return nil, t.wrap(dev, "send", err)
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("receive from %s: %w", dev.Name, ctx.Err())
		}
		return nil, t.wrap(dev, "receive", err)
	}
	t.logger.Debug("received", "device", dev.Name, "bytes", n)
	return buf[:n], nil
}

func (t *UDPTransport) wrap(dev Device, op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s %s after %s: %w", op, dev.Name, t.timeout, ErrTimeout)
	}
	return fmt.Errorf("%s %s: %w", op, dev.Name, err)
}
