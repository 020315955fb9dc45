// Package database opens the PostgreSQL connection backing the
// authoritative patient record store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/clinsync/patient-registry/pkg/config"
	"github.com/clinsync/patient-registry/pkg/logger"
)

const connectTimeout = 10 * time.Second

// DB wraps the pooled connection to the authoritative store
type DB struct {
	*sql.DB
	logger *logger.Logger
}

// NewConnection opens the authoritative store and verifies it is
// reachable before returning. Pool limits come from the validated
// configuration.
func NewConnection(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database unreachable at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	log.WithFields(map[string]interface{}{
		"host":           cfg.Host,
		"database":       cfg.Name,
		"max_open_conns": cfg.MaxOpenConns,
	}).Info("Database connection established")

	return &DB{DB: sqlDB, logger: log}, nil
}

// Close closes the connection pool
func (db *DB) Close() error {
	db.logger.Debug("Closing database connection")
	return db.DB.Close()
}

func dsn(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d application_name=patient-registry",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
		int(connectTimeout.Seconds()),
	)
}
