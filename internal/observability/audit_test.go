package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAuditLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	return lines
}

func TestAuditLogger(t *testing.T) {
	t.Run("should record queries and runs to the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "audit.log")
		require.NoError(t, InitAuditLogger(path))

		ctx := context.Background()
		RecordQueryAudit(ctx, "agent", "success", "SELECT 1 LIMIT 50", map[string]interface{}{"rows": 1})
		RecordQueryAudit(ctx, "agent", "rejected", "DROP TABLE film", nil)
		RecordRunAudit(ctx, "agent", "gpt-4o", "fallback", 5)
		require.NoError(t, GetAuditLogger().Close())

		lines := readAuditLines(t, path)
		require.Len(t, lines, 3)

		assert.Equal(t, "query", lines[0]["type"])
		assert.Equal(t, "query:executed", lines[0]["action"])
		assert.Equal(t, "success", lines[0]["status"])
		meta := lines[0]["metadata"].(map[string]interface{})
		assert.Equal(t, "SELECT 1 LIMIT 50", meta["query"])
		assert.Equal(t, float64(1), meta["rows"])

		assert.Equal(t, "query:rejected", lines[1]["action"])
		assert.Equal(t, "rejected", lines[1]["status"])

		assert.Equal(t, "agent", lines[2]["type"])
		assert.Equal(t, "run:fallback", lines[2]["action"])
		assert.Equal(t, "success", lines[2]["status"])
	})

	t.Run("should mark failed runs", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		require.NoError(t, InitAuditLogger(path))

		RecordRunAudit(context.Background(), "agent", "gpt-4o", "error", 1)
		require.NoError(t, GetAuditLogger().Close())

		lines := readAuditLines(t, path)
		require.Len(t, lines, 1)
		assert.Equal(t, "failure", lines[0]["status"])
	})

	t.Run("should tolerate closing twice and recording after close", func(t *testing.T) {
		require.NoError(t, InitAuditLogger(filepath.Join(t.TempDir(), "audit.log")))

		require.NoError(t, GetAuditLogger().Close())
		assert.NoError(t, GetAuditLogger().Close())
		assert.NotPanics(t, func() {
			RecordRunAudit(context.Background(), "agent", "m", "answer", 1)
		})
	})
}
