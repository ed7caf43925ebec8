package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-wearables/migrations"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type databaseConfig struct {
	driver string
	dsn    string
}

func (c databaseConfig) GetDebug() bool                { return false }
func (c databaseConfig) GetDriver() string             { return c.driver }
func (c databaseConfig) GetServer() string             { return c.dsn }
func (c databaseConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c databaseConfig) GetOtelIdentifier() string     { return "wearablesctl" }

// openDatabase returns the persistence client together with the migration
// dialect that matches driver.
func openDatabase(driver string, dsn string) (*persistence.Client, string, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, "", fmt.Errorf("database dsn is required")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case driverPostgres, "postgresql":
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		client, err := persistence.New(databaseConfig{driver: "postgres", dsn: dsn}, sqlDB, pgdialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, "", fmt.Errorf("persistence client: %w", err)
		}
		return client, migrations.DialectPostgres, nil
	case driverSQLite, "sqlite3":
		sqlDB, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		client, err := persistence.New(databaseConfig{driver: "sqlite3", dsn: dsn}, sqlDB, sqlitedialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, "", fmt.Errorf("persistence client: %w", err)
		}
		return client, migrations.DialectSQLite, nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
