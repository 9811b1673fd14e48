package transfer

import (
	"container/list"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dirwalk"
)

// MaxWindow bounds the number of files sent but not yet acknowledged.
// spec.md §4.4 allows an unbounded window but notes implementations MAY
// cap it; §9's design note asks for an explicit cap (e.g. 64) rather than
// the source's implicit unbounded one, so this package always applies one.
const MaxWindow = 64

// SenderConfig configures one sender-role run (spec.md §4.4 sender loop).
type SenderConfig struct {
	SourceRoot   string
	MatchName    string
	Recurse      bool
	ScanInterval time.Duration
	Disposition  Disposition
	BackupRoot   string
}

// Sender implements the C4 sender role's per-file state machine
// (IDLE -> SENT_META -> SENT_BODY -> ACKED+disposition -> IDLE).
type Sender struct {
	cfg SenderConfig
	log *dclog.Logger
}

// NewSender builds a Sender for cfg.
func NewSender(cfg SenderConfig, log *dclog.Logger) *Sender {
	return &Sender{cfg: cfg, log: log}
}

// outstanding tracks a file sent but not yet acknowledged.
type outstanding struct {
	filename string
	fullpath string
}

// RunOnce performs one enumerate-send-drain cycle of spec.md §4.4 steps
// 1-4. It returns an error on a stream-level fault (spec.md §4.4 "Failure
// semantics") and also when enumerating the source root, opening a source
// file or applying the disposition fails locally. Receiver-side per-file
// failures arrive as failed acks and are only logged.
func (s *Sender) RunOnce(conn *Conn, beat func()) error {
	entries, err := dirwalk.Open(s.cfg.SourceRoot, s.cfg.MatchName, 0, s.cfg.Recurse, true)
	if err != nil {
		return fmt.Errorf("transfer: sender enumerate: %w", err)
	}

	if len(entries) == 0 {
		time.Sleep(s.cfg.ScanInterval)
		return s.keepalive(conn)
	}

	window := list.New()

	for _, e := range entries {
		for window.Len() >= MaxWindow {
			if err := s.waitOneAck(conn, window, 10*time.Second); err != nil {
				return err
			}
		}

		if err := s.sendFile(conn, e); err != nil {
			return err
		}
		window.PushBack(outstanding{filename: e.Name, fullpath: e.FullPath})

		if beat != nil {
			beat()
		}

		// Non-blocking poll of any acks already available (spec.md §4.4
		// step 2d), the only zero-timeout read the system performs.
		for {
			text, ok, err := conn.PollControl()
			if err != nil {
				return fmt.Errorf("transfer: sender poll ack: %w", err)
			}
			if !ok {
				break
			}
			if err := s.handleAck(text, window); err != nil {
				return err
			}
		}
	}

	// Drain remaining acks with a bounded wait per ack (spec.md §4.4 step
	// 3). This is the "later version" the spec's Open Question singles out
	// as authoritative: service every outstanding ack before returning,
	// then let the caller decide whether to loop again or exit cleanly.
	for window.Len() > 0 {
		if err := s.waitOneAck(conn, window, 10*time.Second); err != nil {
			return err
		}
	}

	return nil
}

func (s *Sender) sendFile(conn *Conn, e dirwalk.Entry) error {
	f, err := os.Open(e.FullPath)
	if err != nil {
		return fmt.Errorf("transfer: sender open %s: %w", e.FullPath, err)
	}
	defer f.Close()

	req := FileRequest{
		Filename: e.Name,
		FileSize: e.Size,
		MTime:    time.Unix(e.ModTime, 0).UTC().Format("20060102150405"),
	}
	if err := conn.SendControl(req.Encode()); err != nil {
		return fmt.Errorf("transfer: sender send meta: %w", err)
	}

	if err := conn.SendBody(f, e.Size); err != nil {
		return fmt.Errorf("transfer: sender send body: %w", err)
	}

	return nil
}

// waitOneAck blocks up to timeout for the next ack and applies it.
func (s *Sender) waitOneAck(conn *Conn, window *list.List, timeout time.Duration) error {
	text, err := conn.RecvControl(timeout)
	if err != nil {
		return fmt.Errorf("transfer: sender wait ack: %w", err)
	}
	return s.handleAck(text, window)
}

func (s *Sender) handleAck(text string, window *list.List) error {
	ack, err := ParseAck(text)
	if err != nil {
		return fmt.Errorf("transfer: sender parse ack: %w", err)
	}

	var matched *list.Element
	for e := window.Front(); e != nil; e = e.Next() {
		if e.Value.(outstanding).filename == ack.Filename {
			matched = e
			break
		}
	}
	if matched == nil {
		if s.log != nil {
			s.log.WithFields(dclog.Ctx{"filename": ack.Filename}).Warn("transfer: ack for unknown outstanding file")
		}
		return nil
	}

	item := matched.Value.(outstanding)
	window.Remove(matched)

	if ack.Result != AckSuccess {
		// spec.md §9 Open Question: a failed ack neither deletes nor
		// re-queues the source file. The next run will naturally retry it
		// because it is still present in the source directory.
		if s.log != nil {
			s.log.WithFields(dclog.Ctx{"filename": ack.Filename}).Warn("transfer: receiver reported failed ack")
		}
		return nil
	}

	return s.applyDisposition(item)
}

func (s *Sender) applyDisposition(item outstanding) error {
	switch s.cfg.Disposition {
	case DispositionDelete:
		if err := os.Remove(item.fullpath); err != nil {
			return fmt.Errorf("transfer: sender disposition delete %s: %w", item.fullpath, err)
		}
	case DispositionMove:
		dst := filepath.Join(s.cfg.BackupRoot, item.filename)
		if err := moveFile(item.fullpath, dst); err != nil {
			return fmt.Errorf("transfer: sender disposition move %s: %w", item.fullpath, err)
		}
	}
	return nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device rename: fall back to copy + remove.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (s *Sender) keepalive(conn *Conn) error {
	if err := conn.SendControl(activeTestRequest); err != nil {
		return fmt.Errorf("transfer: sender keepalive send: %w", err)
	}
	reply, err := conn.RecvControl(30 * time.Second)
	if err != nil {
		return fmt.Errorf("transfer: sender keepalive recv: %w", err)
	}
	if reply != activeTestReply {
		return fmt.Errorf("transfer: sender keepalive unexpected reply %q", reply)
	}
	return nil
}
