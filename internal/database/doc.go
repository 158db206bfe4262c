// Package database provides connection pool construction for the relay's
// PostgreSQL store.
package database
