// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package db opens the relational store that backs the appliance registry.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-gorp/gorp"
	"github.com/go-logr/logr"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sapcc/go-bits/easypg"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite3"
)

// Config holds database connection settings. Password is never read from the
// config file.
type Config struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	// Path is the sqlite database file
	Path string `yaml:"path"`

	Password string `yaml:"-"`
}

// DB wraps gorp.DbMap with table setup helpers
type DB struct {
	*gorp.DbMap
	log logr.Logger
}

// Table is a row type stored in its own table
type Table interface {
	TableName() string
}

// Open connects to the configured database and waits until it answers
func Open(ctx context.Context, cfg Config, log logr.Logger) (*DB, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		return NewPostgresDB(ctx, cfg, log)
	case DriverSqlite:
		return NewSqliteDB(cfg.Path, log)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// NewPostgresDB connects to postgres and pings it with bounded retries
func NewPostgresDB(ctx context.Context, cfg Config, log logr.Logger) (*DB, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dbURL, err := easypg.URLFrom(easypg.URLParts{
		HostName:          strings.TrimSpace(cfg.Host),
		Port:              strings.TrimSpace(cfg.Port),
		UserName:          strings.TrimSpace(cfg.User),
		Password:          cfg.Password,
		ConnectionOptions: "sslmode=" + sslMode,
		DatabaseName:      strings.TrimSpace(cfg.Database),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build database URL: %w", err)
	}

	log.Info("connecting to database", "host", cfg.Host, "database", cfg.Database)
	sqlDB, err := sql.Open(DriverPostgres, dbURL.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, sqlDB.PingContext(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(time.Second)),
		backoff.WithMaxTries(10),
		backoff.WithNotify(func(err error, _ time.Duration) {
			log.Error(err, "failed to connect to database, retrying")
		}),
	)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB.SetMaxOpenConns(16)
	log.Info("database is ready")
	return &DB{DbMap: &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}, log: log}, nil
}

// NewSqliteDB opens a sqlite database file
func NewSqliteDB(path string, log logr.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	sqlDB, err := sql.Open(DriverSqlite, path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers
	sqlDB.SetMaxOpenConns(1)
	return &DB{DbMap: &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}, log: log}, nil
}

// AddTable registers a row type with the database map
func (d *DB) AddTable(t Table) *gorp.TableMap {
	d.log.V(1).Info("adding table", "table", t.TableName())
	return d.AddTableWithName(t, t.TableName())
}

// BeginTx starts a transaction bound to ctx
func (d *DB) BeginTx(ctx context.Context) (*gorp.Transaction, error) {
	dbmap, ok := d.DbMap.WithContext(ctx).(*gorp.DbMap)
	if !ok {
		return d.DbMap.Begin()
	}
	return dbmap.Begin()
}

// Migrate creates the registered tables if missing and then applies the
// embedded migrations in file-name order
func (d *DB) Migrate(ctx context.Context) error {
	d.log.Info("creating tables")
	if err := d.CreateTablesIfNotExists(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	tx, err := d.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	exec := tx.WithContext(ctx)
	for _, m := range migrations {
		d.log.Info("executing migration", "name", m.name)
		if _, err := exec.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() {
	if err := d.DbMap.Db.Close(); err != nil {
		d.log.Error(err, "failed to close database connection")
	}
}

// IsUniqueViolation reports whether err is a unique constraint violation from
// postgres or sqlite
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
