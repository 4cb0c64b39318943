package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harun/sqlask/internal/observability"
	"github.com/harun/sqlask/internal/tracing"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/harun/sqlask/pkg/store"

var (
	// ErrMissingURI is returned by Open when no database URI is configured.
	ErrMissingURI = errors.New("POSTGRES_DB_URI is missing")
	// ErrUnsupportedURI is returned for URIs that map to no known driver.
	ErrUnsupportedURI = errors.New("unsupported database uri")
)

// Column describes one column of a table, in the shape the catalog reports it.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable string  `json:"nullable"`
	Default  *string `json:"default"`
}

// ResultSet is the outcome of a query: column names plus row values.
// Values are already JSON friendly.
type ResultSet struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// Config holds pool settings.
type Config struct {
	URI             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a pooled read-only view over the database.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  zerolog.Logger
}

// Open creates the pool and verifies connectivity.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.URI == "" {
		return nil, ErrMissingURI
	}

	d, dsn, err := resolveDialect(cfg.URI)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info().
		Str("driver", d.driver).
		Int("max_open_conns", maxOpen).
		Msg("Database pool ready")

	return &Store{db: db, dialect: d, logger: logger}, nil
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.dialect.driver
}

// Acquire checks a connection out of the pool. The caller must invoke release
// exactly once, on every path.
func (s *Store) Acquire(ctx context.Context) (*sql.Conn, func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	observability.SetPoolStats(s.db.Stats())

	release := func() {
		if err := conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to release connection")
		}
		observability.SetPoolStats(s.db.Stats())
	}
	return conn, release, nil
}

// ListTables returns user table names sorted by name.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "store.list_tables")
	tables, err := s.listTables(ctx)
	tracing.EndSpan(span, err)
	return tables, err
}

func (s *Store) listTables(ctx context.Context) ([]string, error) {
	conn, release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(ctx, s.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns returns the columns of table in their natural order. An unknown
// table yields an empty slice and no error.
func (s *Store) Columns(ctx context.Context, table string) ([]Column, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "store.columns", attribute.String("table", table))
	cols, err := s.columns(ctx, table)
	tracing.EndSpan(span, err)
	return cols, err
}

func (s *Store) columns(ctx context.Context, table string) ([]Column, error) {
	conn, release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(ctx, s.dialect.listColumns, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	defer rows.Close()

	cols := []Column{}
	for rows.Next() {
		var (
			c   Column
			def sql.NullString
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &def); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		if def.Valid {
			v := def.String
			c.Default = &v
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Query executes an already sanitized statement and materializes at most
// maxRows rows. A non-positive maxRows reads the whole result.
func (s *Store) Query(ctx context.Context, query string, maxRows int) (*ResultSet, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "store.query", attribute.Int("max_rows", maxRows))
	rs, err := s.query(ctx, query, maxRows)
	if rs != nil {
		span.SetAttributes(attribute.Int("rows", len(rs.Rows)))
	}
	tracing.EndSpan(span, err)
	return rs, err
}

func (s *Store) query(ctx context.Context, query string, maxRows int) (*ResultSet, error) {
	conn, release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	rs := &ResultSet{Columns: columns, Rows: [][]interface{}{}}
	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			s.logger.Warn().Int("max_rows", maxRows).Msg("Query produced more rows than its limit, discarding the rest")
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			values[i] = jsonValue(v)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// jsonValue renders driver values that have no natural JSON form as strings.
func jsonValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, bool, int64, float64, string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stats reports pool statistics and refreshes the pool gauges.
func (s *Store) Stats() sql.DBStats {
	stats := s.db.Stats()
	observability.SetPoolStats(stats)
	return stats
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
