package channel

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialOpts tunes the TCP connection this package establishes to a
// backend endpoint.
type DialOpts struct {
	Timeout         time.Duration
	KeepAlive       time.Duration
	ReceiveBufBytes int
}

// Dial opens a TCP connection to addr, applying keepalive, no-delay and
// (where supported) an enlarged SO_RCVBUF so a single channel can
// absorb bursty pipelined replies without extra read syscalls.
func Dial(ctx context.Context, addr string, opts DialOpts) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: opts.KeepAlive,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", addr, err)
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return conn, nil
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		return conn, fmt.Errorf("channel: set no-delay on %s: %w", addr, err)
	}
	if opts.ReceiveBufBytes > 0 {
		raw, err := tcpConn.SyscallConn()
		if err == nil {
			var sockErr error
			_ = raw.Control(func(fd uintptr) {
				sockErr = setReceiveBuffer(int(fd), opts.ReceiveBufBytes)
			})
			_ = sockErr // best-effort: platforms without tuning support silently no-op
		}
	}
	return conn, nil
}
