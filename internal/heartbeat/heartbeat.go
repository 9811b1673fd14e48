// Package heartbeat implements the process-wide liveness registry (C2):
// a fixed-size table of ProcessInfo slots backed by a memory-mapped file, so
// that every dcxfer daemon on a host and one external scanner process can
// see the same table without running their own server. This is the
// mechanism spec.md §9 calls for in place of raw shared memory: "model this
// as a memory-mapped fixed-size array of POD records". Single-writer-per-
// slot discipline (spec.md §4.2) is preserved: only the owning pid ever
// writes its own slot; the scanner only zeroes a slot after proving the pid
// is gone or after killing it.
package heartbeat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MaxSlots bounds how many daemons one host's registry can track
// concurrently. The spec leaves this unspecified; 256 is a conservative
// ceiling (see DESIGN.md).
const MaxSlots = 256

const (
	pnameLen = 64
	slotSize = 4 + 4 + pnameLen + 8 + 8 + 8 // pid, pad, pname, start, lastbeat, timeout
)

// ErrSlotsExhausted is returned by Register when every slot is occupied by
// a live process (spec.md §4.2 "slot exhaustion is fatal to the caller").
var ErrSlotsExhausted = errors.New("heartbeat: no free slot")

// ProcessInfo is the decoded view of one table slot (spec.md §3).
type ProcessInfo struct {
	Pid       int32
	PName     string
	StartTime time.Time
	LastBeat  time.Time
	Timeout   time.Duration
}

// Table is a handle onto the memory-mapped slot array. Both a registering
// daemon and the external scanner open the same backing file with Open.
type Table struct {
	f    *os.File
	data []byte
}

// Open mmaps (creating if necessary) the table backed by path.
func Open(path string) (*Table, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: open %s: %w", path, err)
	}

	size := int64(MaxSlots * slotSize)
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("heartbeat: truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("heartbeat: mmap %s: %w", path, err)
	}

	return &Table{f: f, data: data}, nil
}

// Close unmaps and closes the backing file. It does not remove any slot.
func (t *Table) Close() error {
	err := unix.Munmap(t.data)
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *Table) slotBytes(i int) []byte {
	return t.data[i*slotSize : (i+1)*slotSize]
}

func (t *Table) pidPtr(i int) *int32 {
	return (*int32)(unsafe.Pointer(&t.slotBytes(i)[0]))
}

func (t *Table) lastBeatPtr(i int) *int64 {
	off := 4 + 4 + pnameLen + 8
	return (*int64)(unsafe.Pointer(&t.slotBytes(i)[off]))
}

func (t *Table) readSlot(i int) ProcessInfo {
	b := t.slotBytes(i)
	pid := atomic.LoadInt32((*int32)(unsafe.Pointer(&b[0])))
	name := decodeName(b[8 : 8+pnameLen])
	start := int64(binary.LittleEndian.Uint64(b[8+pnameLen : 8+pnameLen+8]))
	lastBeat := atomic.LoadInt64(t.lastBeatPtr(i))
	timeout := int64(binary.LittleEndian.Uint64(b[8+pnameLen+16 : 8+pnameLen+24]))

	return ProcessInfo{
		Pid:       pid,
		PName:     name,
		StartTime: time.Unix(start, 0),
		LastBeat:  time.Unix(lastBeat, 0),
		Timeout:   time.Duration(timeout) * time.Second,
	}
}

func decodeName(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func encodeName(name string) [pnameLen]byte {
	var out [pnameLen]byte
	copy(out[:], name)
	return out
}

// Handle is returned by Register and used by the owning process to beat and
// deregister.
type Handle struct {
	t   *Table
	idx int
	pid int32
}

// Register claims a slot for the calling process. Re-registering the same
// pid (idempotent re-registration, spec.md §4.2) reuses its existing slot.
func Register(t *Table, pname string, timeout time.Duration) (*Handle, error) {
	pid := int32(os.Getpid())
	now := time.Now().Unix()

	free := -1
	for i := 0; i < MaxSlots; i++ {
		cur := atomic.LoadInt32(t.pidPtr(i))
		if cur == pid {
			free = i
			break
		}
		if cur == 0 && free == -1 {
			free = i
		}
	}
	if free == -1 {
		return nil, ErrSlotsExhausted
	}

	b := t.slotBytes(free)
	name := encodeName(pname)
	copy(b[8:8+pnameLen], name[:])
	binary.LittleEndian.PutUint64(b[8+pnameLen:8+pnameLen+8], uint64(now))
	binary.LittleEndian.PutUint64(b[8+pnameLen+16:8+pnameLen+24], uint64(timeout/time.Second))
	atomic.StoreInt64(t.lastBeatPtr(free), now)
	atomic.StoreInt32(t.pidPtr(free), pid)

	return &Handle{t: t, idx: free, pid: pid}, nil
}

// Beat updates last_beat to now (spec.md §4.2 "last_beat is monotonically
// non-decreasing per pid").
func (h *Handle) Beat() {
	atomic.StoreInt64(h.t.lastBeatPtr(h.idx), time.Now().Unix())
}

// Deregister zeroes the slot on normal exit. Best-effort: shutdown paths may
// call this after other cleanup has already started failing.
func (h *Handle) Deregister() {
	atomic.StoreInt32(h.t.pidPtr(h.idx), 0)
}

// Scanner walks the table looking for stale or dead slots (spec.md §4.2
// scan()). It is a separate process from every registered daemon.
type Scanner struct {
	t             *Table
	GraceInterval time.Duration // how long to wait after TERM before KILL; defaults to 5s.
}

// NewScanner wraps t for periodic scanning.
func NewScanner(t *Table) *Scanner {
	return &Scanner{t: t, GraceInterval: 5 * time.Second}
}

// Scan performs one pass over the table, killing and clearing stale slots.
// It returns the set of pids it reaped, for logging. The scanner snapshots
// each slot before acting on it, closing the TOCTOU window spec.md §4.2
// calls out: the decision to kill is made on a local copy, not on live
// memory that the owner could be mutating concurrently.
func (s *Scanner) Scan() []int32 {
	var reaped []int32

	for i := 0; i < MaxSlots; i++ {
		snap := s.t.readSlot(i)
		if snap.Pid == 0 {
			continue
		}

		if err := syscall.Kill(int(snap.Pid), 0); err != nil {
			// Owner is gone; slot is stale.
			atomic.CompareAndSwapInt32(s.t.pidPtr(i), snap.Pid, 0)
			reaped = append(reaped, snap.Pid)
			continue
		}

		if time.Since(snap.LastBeat) <= snap.Timeout {
			continue
		}

		s.kill(snap, i)
		reaped = append(reaped, snap.Pid)
	}

	return reaped
}

func (s *Scanner) kill(snap ProcessInfo, idx int) {
	_ = syscall.Kill(int(snap.Pid), syscall.SIGTERM)

	deadline := time.Now().Add(s.GraceInterval)
	for time.Now().Before(deadline) {
		if syscall.Kill(int(snap.Pid), 0) != nil {
			break
		}
		time.Sleep(time.Second)
	}

	if syscall.Kill(int(snap.Pid), 0) == nil {
		_ = syscall.Kill(int(snap.Pid), syscall.SIGKILL)
	}

	atomic.CompareAndSwapInt32(s.t.pidPtr(idx), snap.Pid, 0)
}
