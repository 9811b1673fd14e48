package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/canonical/dcxfer/internal/dclog"
)

// ReceiverConfig configures one receiver-role run (spec.md §4.4 Receiver
// loop).
type ReceiverConfig struct {
	DestRoot string
}

// Receiver implements the C4 receiver role.
type Receiver struct {
	cfg ReceiverConfig
	log *dclog.Logger
}

// NewReceiver builds a Receiver for cfg.
func NewReceiver(cfg ReceiverConfig, log *dclog.Logger) *Receiver {
	return &Receiver{cfg: cfg, log: log}
}

// Serve processes control frames until the stream closes or a stream-level
// fault occurs (spec.md §4.4 Receiver loop, §5 "any stream-level read/write
// failure terminates the process").
func (r *Receiver) Serve(conn *Conn) error {
	for {
		text, err := conn.RecvControl(0)
		if err != nil {
			return fmt.Errorf("transfer: receiver recv: %w", err)
		}

		if isActiveTest(text) {
			if err := conn.SendControl(activeTestReply); err != nil {
				return fmt.Errorf("transfer: receiver keepalive reply: %w", err)
			}
			continue
		}

		req, err := ParseFileRequest(text)
		if err != nil {
			return fmt.Errorf("transfer: receiver parse request: %w", err)
		}

		ack := r.receiveFile(conn, req)
		if err := conn.SendControl(ack.Encode()); err != nil {
			return fmt.Errorf("transfer: receiver send ack: %w", err)
		}
		// A failed ack does not terminate the session (spec.md §4.4): the
		// loop continues to the next control frame regardless of ack.Result.
	}
}

// receiveFile performs open/write/rename/setmtime and returns the
// resulting ack; any step failing yields AckFailed without aborting the
// session (spec.md §4.4).
func (r *Receiver) receiveFile(conn *Conn, req FileRequest) Ack {
	tmp := filepath.Join(r.cfg.DestRoot, ".tmp."+req.Filename)
	final := filepath.Join(r.cfg.DestRoot, req.Filename)

	f, err := os.Create(tmp)
	if err != nil {
		r.warn(req.Filename, "open", err)
		// Body must still be drained so the stream stays in sync even
		// though this file fails, since a control decision (body length)
		// was already committed by the sender.
		r.drain(conn, req.FileSize)
		return Ack{Filename: req.Filename, Result: AckFailed}
	}

	writeErr := conn.RecvBody(f, req.FileSize)
	closeErr := f.Close()

	if writeErr != nil {
		r.warn(req.Filename, "write", writeErr)
		os.Remove(tmp)
		return Ack{Filename: req.Filename, Result: AckFailed}
	}
	if closeErr != nil {
		r.warn(req.Filename, "close", closeErr)
		os.Remove(tmp)
		return Ack{Filename: req.Filename, Result: AckFailed}
	}

	if err := os.Rename(tmp, final); err != nil {
		r.warn(req.Filename, "rename", err)
		os.Remove(tmp)
		return Ack{Filename: req.Filename, Result: AckFailed}
	}

	if req.MTime != "" {
		if ts, err := time.Parse("20060102150405", req.MTime); err == nil {
			if err := os.Chtimes(final, ts, ts); err != nil {
				r.warn(req.Filename, "setmtime", err)
				return Ack{Filename: req.Filename, Result: AckFailed}
			}
		}
	}

	return Ack{Filename: req.Filename, Result: AckSuccess}
}

// drain reads and discards size bytes of body so a failed local open does
// not desynchronize the frame stream for the next control frame.
func (r *Receiver) drain(conn *Conn, size int64) {
	_ = conn.RecvBody(discard{}, size)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (r *Receiver) warn(filename, step string, err error) {
	if r.log == nil {
		return
	}
	r.log.WithFields(dclog.Ctx{"filename": filename, "step": step, "err": err}).Warn("transfer: receiver file failed")
}
