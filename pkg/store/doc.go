// Package store provides pooled, read-only access to the relational database
// the assistant answers questions about.
//
// Two dialects are supported. Postgres URIs (postgres:// or postgresql://) are
// opened with lib/pq and introspected through information_schema; everything
// under pg_catalog and information_schema is hidden. SQLite URIs (sqlite://,
// file: or a bare *.db path) are opened with go-sqlite3 and introspected
// through sqlite_master and pragma_table_info.
//
// Every statement runs on a connection checked out with Acquire and returned
// through the release func, so the pool bound (max open connections) is the
// only limit on concurrent database work.
package store
