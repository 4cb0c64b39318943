package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager(t *testing.T) {
	t.Run("should write and remove the PID file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		lm := NewLifecycleManager(dir, zerolog.Nop())
		assert.Equal(t, filepath.Join(dir, PIDFileName), lm.PIDFile())

		require.NoError(t, lm.Start())
		pid, err := ReadPID(lm.PIDFile())
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
		assert.True(t, IsRunning(lm.PIDFile()))

		require.NoError(t, lm.Stop())
		_, err = os.Stat(lm.PIDFile())
		assert.True(t, os.IsNotExist(err))

		assert.NoError(t, lm.Stop(), "stopping twice is harmless")
	})

	t.Run("should refuse when another live process owns the PID file", func(t *testing.T) {
		dir := t.TempDir()
		ppid := os.Getppid()
		require.NoError(t, os.WriteFile(PIDFilePath(dir), []byte(strconv.Itoa(ppid)), 0644))

		lm := NewLifecycleManager(dir, zerolog.Nop())
		err := lm.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already running")
	})

	t.Run("should take over a stale PID file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(PIDFilePath(dir), []byte("999999999"), 0644))

		lm := NewLifecycleManager(dir, zerolog.Nop())
		require.NoError(t, lm.Start())
		defer lm.Stop()

		pid, err := ReadPID(lm.PIDFile())
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})
}

func TestReadPID(t *testing.T) {
	t.Run("should fail on a missing file", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(t.TempDir(), "none.pid"))
		assert.Error(t, err)
		assert.False(t, IsRunning(filepath.Join(t.TempDir(), "none.pid")))
	})

	t.Run("should fail on garbage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.pid")
		require.NoError(t, os.WriteFile(path, []byte("invalid"), 0644))

		_, err := ReadPID(path)
		assert.Error(t, err)
		assert.False(t, IsRunning(path))
	})

	t.Run("should tolerate a trailing newline", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nl.pid")
		require.NoError(t, os.WriteFile(path, []byte("42\n"), 0644))

		pid, err := ReadPID(path)
		require.NoError(t, err)
		assert.Equal(t, 42, pid)
	})
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}
