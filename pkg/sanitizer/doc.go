// Package sanitizer guards the read-only query path used by the run_sql tool.
//
// Invariants:
// - Accepted queries start with SELECT and never contain a write or DDL keyword.
// - Accepted queries always carry a LIMIT bounded by the requested row limit.
//
// The guard is lexical, not a SQL parser. A denylisted word anywhere in the text,
// including inside a string literal such as WHERE note = 'please update', rejects the
// query. It also misses things a parser would catch: a LIMIT inside a comment is
// taken at face value, and statements joined by an inner semicolon are not split,
// so lib/pq runs every one of them. Running the connection under a read-only role
// remains the real protection.
package sanitizer
