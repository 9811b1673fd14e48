// Package transfer implements the C4 asynchronous pipelined file-transfer
// protocol of spec.md §4.4: framed control/data exchange over a TCP stream,
// outstanding-ack windowing, heartbeat keepalive, and post-transfer source
// disposition.
package transfer

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Chunk is the maximum size of one data frame's payload (spec.md §4.4
// "CHUNK = 1024").
const Chunk = 1024

// FrameType distinguishes a control frame (tagged fields) from a data frame
// (raw file-body bytes), per spec.md §4.4: "All control decisions are made
// on frames, not on bytes of file content".
type FrameType byte

const (
	FrameControl FrameType = 'C'
	FrameData    FrameType = 'D'
)

// writeFrame writes one length-delimited frame: 1 type byte, a 4-byte
// big-endian length, then payload.
func writeFrame(w io.Writer, typ FrameType, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(typ)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transfer: write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("transfer: write frame payload: %w", err)
		}
	}
	return nil
}

// readFrame reads one frame, returning its type and payload.
func readFrame(r io.Reader) (FrameType, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	typ := FrameType(header[0])
	n := binary.BigEndian.Uint32(header[1:])

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("transfer: read frame payload: %w", err)
		}
	}

	return typ, payload, nil
}

// Conn wraps a net.Conn with the frame primitives both sender and receiver
// build on, including the non-blocking poll spec.md §5 calls out as the
// only zero-timeout read permitted anywhere in the system.
type Conn struct {
	nc net.Conn
}

// NewConn wraps an established TCP connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Close closes the underlying connection, unblocking any in-flight IO.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// SendControl writes a control frame containing the wire-grammar string s.
func (c *Conn) SendControl(s string) error {
	c.nc.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return writeFrame(c.nc, FrameControl, []byte(s))
}

// RecvControl blocks (subject to timeout, 0 = no deadline) for the next
// control frame and returns its text.
func (c *Conn) RecvControl(timeout time.Duration) (string, error) {
	if timeout > 0 {
		c.nc.SetReadDeadline(time.Now().Add(timeout))
		defer c.nc.SetReadDeadline(time.Time{})
	}

	typ, payload, err := readFrame(c.nc)
	if err != nil {
		return "", err
	}
	if typ != FrameControl {
		return "", fmt.Errorf("transfer: expected control frame, got %c", typ)
	}
	return string(payload), nil
}

// PollControl performs the non-blocking poll of spec.md §4.4 step 2d: if a
// control frame is immediately available, it is returned; otherwise ok is
// false and err is nil. This is the only permitted zero-timeout read
// (spec.md §5).
func (c *Conn) PollControl() (text string, ok bool, err error) {
	c.nc.SetReadDeadline(time.Now())
	defer c.nc.SetReadDeadline(time.Time{})

	typ, payload, err := readFrame(c.nc)
	if err != nil {
		if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
			return "", false, nil
		}
		return "", false, err
	}
	if typ != FrameControl {
		return "", false, fmt.Errorf("transfer: expected control frame, got %c", typ)
	}
	return string(payload), true, nil
}

// SendBody streams r's content as data frames of up to Chunk bytes.
func (c *Conn) SendBody(r io.Reader, size int64) error {
	buf := make([]byte, Chunk)
	var sent int64

	for sent < size {
		n, err := io.ReadFull(r, buf)
		if err == io.ErrUnexpectedEOF {
			// Last, short chunk (spec.md §4.4: "the last possibly short").
		} else if err != nil && err != io.EOF {
			return fmt.Errorf("transfer: read body: %w", err)
		}

		c.nc.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if err := writeFrame(c.nc, FrameData, buf[:n]); err != nil {
			return err
		}
		sent += int64(n)
	}

	return nil
}

// RecvBody reads exactly size bytes of body across data frames and writes
// them to w.
func (c *Conn) RecvBody(w io.Writer, size int64) error {
	var received int64

	for received < size {
		c.nc.SetReadDeadline(time.Now().Add(60 * time.Second))
		typ, payload, err := readFrame(c.nc)
		if err != nil {
			return fmt.Errorf("transfer: read body frame: %w", err)
		}
		if typ != FrameData {
			return fmt.Errorf("transfer: expected data frame, got %c", typ)
		}

		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("transfer: write body: %w", err)
		}
		received += int64(len(payload))
	}

	return nil
}
