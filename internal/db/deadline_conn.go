package db

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// deadlineConn bounds every Read and Write on a physical link. Deadlines set
// by pgconn itself (context cancellation) are remembered and win when they
// are earlier than the per-call timeout.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

func newDeadlineConn(c net.Conn, read, write time.Duration) net.Conn {
	if read <= 0 && write <= 0 {
		return c
	}
	return &deadlineConn{Conn: c, readTimeout: read, writeTimeout: write}
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		c.mu.Lock()
		d := earliest(c.readDeadline, time.Now().Add(c.readTimeout))
		c.mu.Unlock()
		if err := c.Conn.SetReadDeadline(d); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		c.mu.Lock()
		d := earliest(c.writeDeadline, time.Now().Add(c.writeTimeout))
		c.mu.Unlock()
		if err := c.Conn.SetWriteDeadline(d); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

func (c *deadlineConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline, c.writeDeadline = t, t
	c.mu.Unlock()
	return c.Conn.SetDeadline(t)
}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return c.Conn.SetReadDeadline(t)
}

func (c *deadlineConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	return c.Conn.SetWriteDeadline(t)
}

// earliest returns the earlier of a caller deadline (zero = none) and limit.
func earliest(deadline, limit time.Time) time.Time {
	if deadline.IsZero() || limit.Before(deadline) {
		return limit
	}
	return deadline
}

// withTimeouts wraps dial so every link it opens enforces read/write timeouts.
func withTimeouts(dial pgconn.DialFunc, read, write time.Duration) pgconn.DialFunc {
	if read <= 0 && write <= 0 {
		return dial
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return newDeadlineConn(c, read, write), nil
	}
}
