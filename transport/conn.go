package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dots-platform/skrecovery-app/interfaces"
)

// DefaultTimeout applies to channel IO when the context carries no deadline.
const DefaultTimeout = 30 * time.Second

// Conn is a duplex channel carrying length-prefixed envelopes.
type Conn struct {
	conn net.Conn

	rmu sync.Mutex
	wmu sync.Mutex
}

// NewConn wraps a stream connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c}
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(DefaultTimeout)
}

// WriteEnvelope writes one frame. It fails with ErrFraming before touching
// the wire if the envelope is too large.
func (c *Conn) WriteEnvelope(ctx context.Context, env Envelope) error {
	body, err := env.MarshalBinary()
	if err != nil {
		return err
	}

	frame := make([]byte, lengthSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthSize], uint32(len(body)))
	copy(frame[lengthSize:], body)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline(ctx)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadEnvelope reads one frame. A length prefix above MaxFrameSize is
// rejected without reading the body.
func (c *Conn) ReadEnvelope(ctx context.Context) (Envelope, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if err := c.conn.SetReadDeadline(deadline(ctx)); err != nil {
		return Envelope{}, err
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	var prefix [lengthSize]byte
	if _, err := io.ReadFull(c.conn, prefix[:]); err != nil {
		return Envelope{}, fmt.Errorf("read frame length: %w", err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return Envelope{}, fmt.Errorf("%w: frame of %d bytes exceeds %d", interfaces.ErrFraming, size, MaxFrameSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}

	var env Envelope
	if err := env.UnmarshalBinary(body); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
