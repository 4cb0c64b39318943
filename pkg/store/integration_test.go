//go:build integration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a disposable Postgres container and returns its URI.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "pagila",
			"POSTGRES_PASSWORD": "pagila",
			"POSTGRES_DB":       "pagila",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://pagila:pagila@%s:%s/pagila?sslmode=disable", host, port.Port())
}

func TestPostgresCatalog(t *testing.T) {
	uri := startPostgres(t)

	seed, err := sql.Open("postgres", uri)
	require.NoError(t, err)
	_, err = seed.Exec(`
		CREATE TABLE film (film_id serial PRIMARY KEY, title text NOT NULL, rental_rate numeric(4,2) DEFAULT 4.99, last_update timestamptz DEFAULT now());
		CREATE TABLE actor (actor_id serial PRIMARY KEY, first_name text NOT NULL);
		CREATE VIEW film_titles AS SELECT title FROM film;
		INSERT INTO film (title, rental_rate) VALUES ('ACADEMY DINOSAUR', 0.99);
	`)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	s, err := Open(context.Background(), Config{URI: uri, MaxOpenConns: 5, MaxIdleConns: 1}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	t.Run("should list base tables only", func(t *testing.T) {
		tables, err := s.ListTables(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"actor", "film"}, tables)
	})

	t.Run("should describe columns in ordinal order", func(t *testing.T) {
		cols, err := s.Columns(context.Background(), "film")
		require.NoError(t, err)
		require.Len(t, cols, 4)
		assert.Equal(t, "film_id", cols[0].Name)
		assert.Equal(t, "integer", cols[0].Type)
		assert.Equal(t, "NO", cols[1].Nullable)
		assert.Equal(t, "numeric", cols[2].Type)
	})

	t.Run("should render numerics and timestamps as strings", func(t *testing.T) {
		rs, err := s.Query(context.Background(), "SELECT rental_rate, last_update FROM film LIMIT 1", 1)
		require.NoError(t, err)
		require.Len(t, rs.Rows, 1)
		assert.Equal(t, "0.99", rs.Rows[0][0])
		assert.IsType(t, "", rs.Rows[0][1])
	})
}
