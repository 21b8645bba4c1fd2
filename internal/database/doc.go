// Package database provides PostgreSQL connection pool management.
//
// The pool is optional: it backs the metrics sample writer and the
// daemon's health check when a database is configured.
package database
