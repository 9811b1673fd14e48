package heartbeat

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestTable(t *testing.T) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heartbeat.tbl")
	tbl, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestRegisterBeatDeregister(t *testing.T) {
	tbl := openTestTable(t)

	h, err := Register(tbl, "dcminer", 30*time.Second)
	require.NoError(t, err)

	snap := tbl.readSlot(h.idx)
	assert.Equal(t, int32(os.Getpid()), snap.Pid)
	assert.Equal(t, "dcminer", snap.PName)
	assert.Equal(t, 30*time.Second, snap.Timeout)

	before := snap.LastBeat
	time.Sleep(1100 * time.Millisecond)
	h.Beat()

	after := tbl.readSlot(h.idx)
	assert.True(t, after.LastBeat.After(before) || after.LastBeat.Equal(before))

	h.Deregister()
	assert.Equal(t, int32(0), tbl.readSlot(h.idx).Pid)
}

func TestRegisterIdempotentForSamePid(t *testing.T) {
	tbl := openTestTable(t)

	h1, err := Register(tbl, "dcingest", 10*time.Second)
	require.NoError(t, err)

	h2, err := Register(tbl, "dcingest", 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, h1.idx, h2.idx)
}

func TestRegisterSlotsExhausted(t *testing.T) {
	tbl := openTestTable(t)

	// Fill every slot directly with a fake live pid, bypassing Register
	// (which would just keep returning the caller's own slot).
	for i := 0; i < MaxSlots; i++ {
		atomic.StoreInt32(tbl.pidPtr(i), int32(i+2))
	}

	_, err := Register(tbl, "overflow", time.Second)
	assert.ErrorIs(t, err, ErrSlotsExhausted)
}

func TestScanReapsDeadPid(t *testing.T) {
	tbl := openTestTable(t)

	// A pid essentially guaranteed not to be live in any test sandbox.
	const deadPid = int32(1<<30 - 1)

	b := tbl.slotBytes(0)
	name := encodeName("ghost")
	copy(b[8:8+pnameLen], name[:])
	atomic.StoreInt64(tbl.lastBeatPtr(0), time.Now().Unix())
	atomic.StoreInt32(tbl.pidPtr(0), deadPid)

	sc := NewScanner(tbl)
	reaped := sc.Scan()

	assert.Contains(t, reaped, deadPid)
	assert.Equal(t, int32(0), tbl.readSlot(0).Pid)
}

func TestScanSkipsLiveWithinTimeout(t *testing.T) {
	tbl := openTestTable(t)

	h, err := Register(tbl, "dcminer", time.Hour)
	require.NoError(t, err)

	sc := NewScanner(tbl)
	reaped := sc.Scan()

	assert.Empty(t, reaped)
	assert.Equal(t, int32(os.Getpid()), tbl.readSlot(h.idx).Pid)
}
