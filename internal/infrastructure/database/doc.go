// Package database manages the SQLite connection for UnitKey Core.
//
// It owns connection configuration (WAL mode, busy timeout, foreign keys),
// file permissions, health checks, and the embedded migration runner.
// Repositories in other packages receive the *sql.DB and own their SQL.
package database
