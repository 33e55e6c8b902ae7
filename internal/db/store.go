package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/everclearorg/mark-sub001/internal/config"
)

// Store wraps a GORM connection pool and exposes the persistence contracts
// of spec §4.1. The connection lifecycle (pool size, idle/connect timeouts,
// retrying connect, health checks, graceful shutdown) follows the teacher's
// NewMySQLRecorder, generalized from a single hardcoded DSN to configured
// pool parameters and from MySQL to Postgres (native JSONB).
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// Open establishes a pooled Postgres connection and runs AutoMigrate, the
// way the teacher's NewMySQLRecorder did for AssetSnapshotRecord.
func Open(cfg config.DatabaseConfig, log *zap.SugaredLogger) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.PoolSize)
	sqlDB.SetMaxIdleConns(cfg.PoolSize)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.IdleTimeoutSec) * time.Second)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: gdb, log: log}, nil
}

// ConnectWithRetry retries Open up to attempts times, delay apart,
// surfacing a single terminal error if every attempt fails.
func ConnectWithRetry(cfg config.DatabaseConfig, log *zap.SugaredLogger, attempts int, delay time.Duration) (*Store, error) {
	op := func() (*Store, error) {
		s, err := Open(cfg, log)
		if err != nil {
			log.Warnw("database connect attempt failed", "error", err)
			return nil, err
		}
		return s, nil
	}

	result, err := backoff.Retry(context.Background(), op,
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, err)
	}
	return result, nil
}

// HealthStatus is the result of CheckHealth.
type HealthStatus struct {
	Healthy bool
	Latency time.Duration
	Error   string
}

// CheckHealth runs a trivial round-trip query and reports latency.
func (s *Store) CheckHealth(ctx context.Context) HealthStatus {
	start := time.Now()
	sqlDB, err := s.db.DB()
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return HealthStatus{Healthy: false, Latency: time.Since(start), Error: err.Error()}
	}
	return HealthStatus{Healthy: true, Latency: time.Since(start)}
}

// GracefulShutdown closes the pool, escalating to a forced close if timeout
// elapses first.
func (s *Store) GracefulShutdown(timeout time.Duration) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sqlDB.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		s.log.Warnw("database shutdown exceeded timeout, forcing close", "timeout", timeout)
		return sqlDB.Close()
	}
}

// DB exposes the underlying *gorm.DB for the rare advanced query a typed
// method doesn't cover, mirroring the teacher's GetDB.
func (s *Store) DB() *gorm.DB { return s.db }
