// Package db opens the PostgreSQL connection and keeps its schema current.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// InitPostgres opens a connection pool to dsn and verifies it with a ping.
// The schema is applied separately by RunMigrations.
func InitPostgres(dsn string) (*sql.DB, error) {
	return openAndPing("postgres", dsn)
}

// openAndPing returns a pool that answered a ping. A pool that did not is
// closed before returning.
func openAndPing(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}
