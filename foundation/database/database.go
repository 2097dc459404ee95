// Package database provides support for access the database.
package database

import (
	"context"
	"errors"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Supported values for Config.Driver
const (
	DriverPostgres = "pgx"
	DriverSqlite   = "sqlite3"
)

// Config is the required properties to use the database.
type Config struct {
	// Driver is DriverPostgres when empty
	Driver       string
	User         string
	Password     string
	Host         string
	Name         string
	DisableTLS   bool
	MaxOpenConns int
	// Path is the database file used by DriverSqlite, ":memory:" for an in memory database
	Path string
}

// Open knows how to open a database connection based on the configuration.
func Open(cfg Config) (*sqlx.DB, error) {
	if cfg.Driver == DriverSqlite {
		db, err := sqlx.Connect(DriverSqlite, cfg.Path)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers, and every connection to ":memory:" is a different database
		db.SetMaxOpenConns(1)
		return db, nil
	}

	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	db, err := sqlx.Connect(DriverPostgres, u.String())
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// StatusCheck returns nil if it can successfully talk to the database. It
// retries with a short backoff until ctx is done.
func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return errors.New("no database configured")
	}
	var pingError error
	for attempts := 1; ; attempts++ {
		pingError = db.PingContext(ctx)
		if pingError == nil {
			break
		}
		select {
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	const q = `SELECT true`
	var tmp bool
	return db.QueryRowContext(ctx, q).Scan(&tmp)
}
