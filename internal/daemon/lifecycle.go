package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
)

// PIDFileName is the PID file created in the data directory while serving.
const PIDFileName = "sqlask.pid"

// LifecycleManager owns the PID file of a serving process.
type LifecycleManager struct {
	dataDir string
	pidFile string
	logger  zerolog.Logger
}

// NewLifecycleManager creates a lifecycle manager rooted at dataDir.
func NewLifecycleManager(dataDir string, logger zerolog.Logger) *LifecycleManager {
	return &LifecycleManager{
		dataDir: dataDir,
		pidFile: PIDFilePath(dataDir),
		logger:  logger,
	}
}

// PIDFilePath returns the PID file location for dataDir.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, PIDFileName)
}

// Start writes the PID file, refusing when another live process owns it.
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(l.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if pid, err := ReadPID(l.pidFile); err == nil && pid != os.Getpid() && ProcessAlive(pid) {
		return fmt.Errorf("sqlask is already running (PID %d)", pid)
	}

	if err := os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.logger.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop removes the PID file.
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	l.logger.Info().Msg("Lifecycle manager stopped")
	return nil
}

// PIDFile returns the managed PID file path.
func (l *LifecycleManager) PIDFile() string {
	return l.pidFile
}

// ReadPID parses the PID stored in pidFile.
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// ProcessAlive reports whether pid names a live process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}

// IsRunning reports whether the process recorded in pidFile is alive.
func IsRunning(pidFile string) bool {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return false
	}
	return ProcessAlive(pid)
}
