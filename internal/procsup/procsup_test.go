package procsup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceSpawnsAndWaits(t *testing.T) {
	markerFile := filepath.Join(t.TempDir(), "ran")

	s := New(Config{
		IntervalSec: 10 * time.Millisecond,
		Program:     "/bin/sh",
		Argv:        []string{"-c", "touch " + markerFile},
	}, nil)

	require.NoError(t, s.runOnce())

	_, err := os.Stat(markerFile)
	assert.NoError(t, err)
}

func TestRunStopsWhenToldTo(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	require.NoError(t, os.WriteFile(countFile, []byte("0"), 0644))

	s := New(Config{
		IntervalSec: 5 * time.Millisecond,
		Program:     "/bin/sh",
		Argv:        []string{"-c", "true"},
	}, nil)

	calls := 0
	err := s.Run(func() bool {
		calls++
		return calls > 2
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunOnceReportsChildFailure(t *testing.T) {
	s := New(Config{
		IntervalSec: time.Millisecond,
		Program:     "/bin/sh",
		Argv:        []string{"-c", "exit 1"},
	}, nil)

	err := s.runOnce()
	assert.Error(t, err)
}
