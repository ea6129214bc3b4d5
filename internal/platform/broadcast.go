package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// readSlice is the per-read deadline inside Recv; short enough that a
	// context cancel is observed promptly.
	readSlice = 250 * time.Millisecond

	defaultDatagramBuffer = 65535
)

// BroadcastConfig configures the UDP broadcaster.
type BroadcastConfig struct {
	Logger *slog.Logger
	// Port is bound for receiving and targeted for sending.
	Port int
	// Addr is the destination for outgoing datagrams. Defaults to the
	// limited broadcast address; tests override it with a unicast
	// address.
	Addr string
	// BufferSize is the per-datagram read buffer, default 65535.
	BufferSize int
}

func (c *BroadcastConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Addr == "" {
		c.Addr = "255.255.255.255"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultDatagramBuffer
	}
	return nil
}

// UDPBroadcaster sends and receives discovery datagrams through a single
// socket bound to the discovery port. SO_REUSEADDR allows several engines
// on one host; SO_BROADCAST is set explicitly rather than relying on
// platform defaults.
type UDPBroadcaster struct {
	log        *slog.Logger
	conn       *net.UDPConn
	dst        *net.UDPAddr
	bufferSize int
}

// NewUDPBroadcaster binds the discovery socket. A bind failure here aborts
// startup; the engine cannot run without its discovery transport.
func NewUDPBroadcaster(ctx context.Context, cfg BroadcastConfig) (*UDPBroadcaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broadcast config: %w", err)
	}

	ip := net.ParseIP(cfg.Addr)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid broadcast address: %s", cfg.Addr)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				for _, opt := range []int{unix.SO_REUSEADDR, unix.SO_REUSEPORT, unix.SO_BROADCAST} {
					opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1)
					if opErr != nil {
						return
					}
				}
			}); err != nil {
				return err
			}
			return opErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind discovery socket on port %d: %w", cfg.Port, err)
	}
	conn := pc.(*net.UDPConn)

	dst := &net.UDPAddr{IP: ip.To4(), Port: cfg.Port}
	if dst.Port == 0 {
		// Ephemeral bind: target the port the kernel picked.
		dst.Port = conn.LocalAddr().(*net.UDPAddr).Port
	}

	return &UDPBroadcaster{
		log:        cfg.Logger,
		conn:       conn,
		dst:        dst,
		bufferSize: cfg.BufferSize,
	}, nil
}

// Send writes one datagram to the broadcast address.
func (b *UDPBroadcaster) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.conn.WriteToUDP(payload, b.dst); err != nil {
		return fmt.Errorf("failed to send broadcast datagram: %w", err)
	}
	return nil
}

// Recv collects datagrams arriving within the window, reading under short
// deadlines so ctx cancellation is observed between reads.
func (b *UDPBroadcaster) Recv(ctx context.Context, window time.Duration) ([][]byte, error) {
	var payloads [][]byte
	buf := make([]byte, b.bufferSize)
	end := time.Now().Add(window)

	for {
		select {
		case <-ctx.Done():
			return payloads, ctx.Err()
		default:
		}

		remaining := time.Until(end)
		if remaining <= 0 {
			return payloads, nil
		}
		slice := readSlice
		if remaining < slice {
			slice = remaining
		}

		if err := b.conn.SetReadDeadline(time.Now().Add(slice)); err != nil {
			return payloads, fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, _, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return payloads, nil
			}
			b.log.Error("error reading discovery datagram", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		payloads = append(payloads, data)
	}
}

func (b *UDPBroadcaster) Close() error {
	return b.conn.Close()
}

// LocalPort reports the bound port, which differs from the configured one
// only when the config requested port 0.
func (b *UDPBroadcaster) LocalPort() int {
	return b.conn.LocalAddr().(*net.UDPAddr).Port
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
