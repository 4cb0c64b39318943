package store

import (
	"fmt"
	"strings"
)

type dialect struct {
	driver      string
	listTables  string
	listColumns string
}

var postgresDialect = dialect{
	driver: "postgres",
	listTables: `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
	listColumns: `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND table_name = $1
		ORDER BY ordinal_position`,
}

var sqliteDialect = dialect{
	driver: "sqlite3",
	listTables: `SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`,
	listColumns: `SELECT name, type, CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END, dflt_value
		FROM pragma_table_info(?)
		ORDER BY cid`,
}

// resolveDialect maps a database URI to a dialect and the DSN its driver expects.
func resolveDialect(uri string) (dialect, string, error) {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return postgresDialect, uri, nil
	case strings.HasPrefix(lower, "sqlite://"):
		return sqliteDialect, uri[len("sqlite://"):], nil
	case strings.HasPrefix(lower, "file:"), strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"):
		return sqliteDialect, uri, nil
	default:
		return dialect{}, "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
}
