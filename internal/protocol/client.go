package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"firestige.xyz/pcapminer/internal/core"
)

// DefaultDialTimeout bounds connection setup and the wait for the ack.
const DefaultDialTimeout = 5 * time.Second

// heartbeatWriteTimeout bounds one heartbeat write so a dead peer cannot
// block the caller.
const heartbeatWriteTimeout = 5 * time.Second

// Client opens sessions with a coordinator.
type Client struct {
	addr        string
	dialTimeout time.Duration
}

// NewClient creates a client for the coordinator at addr.
func NewClient(addr string, dialTimeout time.Duration) *Client {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Client{addr: addr, dialTimeout: dialTimeout}
}

// Connect dials the coordinator and waits for its ack. The returned Conn
// carries exactly one submission.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", core.ErrSubmissionLost, c.addr, err)
	}

	stop := context.AfterFunc(dialCtx, func() { nc.Close() })
	defer stop()

	codec := NewCodec(nc)
	_ = nc.SetReadDeadline(time.Now().Add(c.dialTimeout))
	msg, err := codec.Read()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: await ack: %v", core.ErrSubmissionLost, ctxErr(ctx, err))
	}
	if msg.Type != TypeAck {
		nc.Close()
		return nil, fmt.Errorf("%w: expected ack, got %q", core.ErrSubmissionLost, msg.Type)
	}
	_ = nc.SetReadDeadline(time.Time{})

	slog.Debug("coordinator acknowledged", "addr", c.addr)
	return &Conn{conn: nc, codec: codec}, nil
}

// Submit runs a whole session at once: Connect, then Conn.Submit.
func (c *Client) Submit(ctx context.Context, sub *Submission) error {
	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Submit(ctx, sub)
}

// Conn is an acknowledged session. Heartbeat may be called from another
// goroutine than Submit; heartbeats after Submit are dropped.
type Conn struct {
	conn  net.Conn
	codec *Codec

	mu        sync.Mutex // serializes writes
	submitted bool
}

// Heartbeat reports decode progress and keeps the coordinator's idle
// deadline from expiring.
func (c *Conn) Heartbeat(workerID, source string, frames uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitted {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(heartbeatWriteTimeout))
	err := c.codec.Write(Message{Type: TypeHeartbeat, WorkerID: workerID, Source: source, Frames: frames})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSubmissionLost, err)
	}
	return nil
}

// Submit sends the submission, then waits for the coordinator to close
// the connection. The close is the only confirmation. Cancelling ctx
// abandons the session.
func (c *Conn) Submit(ctx context.Context, sub *Submission) error {
	c.mu.Lock()
	if c.submitted {
		c.mu.Unlock()
		return fmt.Errorf("%w: session already carried a submission", core.ErrSessionState)
	}
	c.submitted = true
	_ = c.conn.SetWriteDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	err := c.codec.Write(sub.Message())
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSubmissionLost, ctxErr(ctx, err))
	}

	// Drain until close. A reject or abort arrives as the last message.
	for {
		msg, err := c.codec.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: await close: %v", core.ErrSubmissionLost, ctxErr(ctx, err))
		}
		switch msg.Type {
		case TypeReject:
			return fmt.Errorf("%w: %s", core.ErrSubmissionRejected, msg.Reason)
		case TypeAbort:
			return fmt.Errorf("%w: coordinator aborted session: %s", core.ErrSubmissionLost, msg.Reason)
		}
		slog.Warn("unexpected message after submission", "type", msg.Type)
	}
}

// Close releases the connection. A session closed before Submit is
// recorded by the coordinator as lost.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
