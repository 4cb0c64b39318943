package daemon

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/sqlask/internal/config"
	"github.com/harun/sqlask/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestDaemon creates a daemon over a temporary SQLite database.
func createTestDaemon(t *testing.T) (*Daemon, *config.Config) {
	t.Helper()
	tmpDir := t.TempDir()

	dbPath := filepath.Join(tmpDir, "pagila.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE film (film_id INTEGER PRIMARY KEY, title TEXT NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Database.URI = dbPath
	cfg.AI.OpenAIAPIKey = "sk-test-key-0123456789abcdef"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ModelsURL = ""
	cfg.Tracing.Enabled = false
	cfg.Logging.AuditFile = filepath.Join(tmpDir, "audit.log")

	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d, cfg
}

func TestNew(t *testing.T) {
	t.Run("should wire every component", func(t *testing.T) {
		d, _ := createTestDaemon(t)
		defer d.release()

		assert.NotNil(t, d.Store())
		assert.NotNil(t, d.toolExecutor)
		assert.NotNil(t, d.Runner())
		assert.NotNil(t, d.apiServer)
		assert.NotNil(t, d.lifecycle)
		assert.Equal(t, "sqlite3", d.Store().Driver())
		assert.Equal(t, "mistralai/mistral-7b-instruct:free", d.Runner().DefaultModel())
	})

	t.Run("should fail on an unreachable database", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Database.URI = "mysql://nope"
		cfg.Tracing.Enabled = false
		cfg.Logging.AuditFile = ""

		log, err := logger.New(logger.Config{Level: "error"})
		require.NoError(t, err)
		defer log.Close()

		_, err = New(cfg, log)
		assert.Error(t, err)
	})

	t.Run("should fail on a missing prompt file", func(t *testing.T) {
		d, cfg := createTestDaemon(t)
		d.release()

		cfg.Agent.SystemPromptFile = filepath.Join(cfg.DataDir, "missing.txt")
		log, err := logger.New(logger.Config{Level: "error"})
		require.NoError(t, err)
		defer log.Close()

		_, err = New(cfg, log)
		assert.Error(t, err)
	})
}

func TestDaemonStartStop(t *testing.T) {
	d, cfg := createTestDaemon(t)

	require.NoError(t, d.Start())

	status := d.Status()
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.Addr)

	pidFile := PIDFilePath(cfg.DataDir)
	pid, err := ReadPID(pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	resp, err := http.Get("http://" + status.Addr + "/health")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, "ok", body["database"])

	assert.Error(t, d.Start(), "second start must fail")

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, d.Stop(), "second stop must fail")
}

func TestDaemonStatusUptime(t *testing.T) {
	d, _ := createTestDaemon(t)
	require.NoError(t, d.Start())
	defer d.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, d.Status().Uptime >= 20*time.Millisecond)
	assert.False(t, d.Status().StartTime.IsZero())
}
