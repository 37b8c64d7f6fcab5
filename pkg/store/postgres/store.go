package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/servicehub/orchestrator/pkg/config"
	"github.com/servicehub/orchestrator/pkg/model"
)

type Store struct {
	db *gorm.DB
}

// NewStore opens the database named by cfg. PostgreSQL is the production
// backend; the sqlite driver exists for single-node runs and tests.
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	switch cfg.Driver {
	case "", "postgres":
		return open(postgres.Open(cfg.DSN()), cfg.MaxOpenConns, cfg.MaxIdleConns)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a SQLite database at path. SQLite serialises writers, so
// the pool is pinned to one connection.
func OpenSQLite(path string) (*Store, error) {
	return open(sqlite.Open(path), 1, 1)
}

// newGormLogger reports slow queries and real errors. Lookups that miss are
// expected on every 404 and every new workflow, so they stay quiet.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

func open(dialector gorm.Dialector, maxOpen, maxIdle int) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: newGormLogger(log.New(os.Stdout, "\r\n", log.LstdFlags)),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}

	return &Store{db: db}, nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&model.Event{},
		&model.DeadLetterRecord{},
		&model.WorkflowExecution{},
	)
}

func (s *Store) Events() *EventRepository {
	return NewEventRepository(s.db)
}

func (s *Store) DeadLetters() *DeadLetterRepository {
	return NewDeadLetterRepository(s.db)
}

func (s *Store) Relay() *RelayRepository {
	return NewRelayRepository(s.db)
}

func (s *Store) Workflows() *WorkflowRepository {
	return NewWorkflowRepository(s.db)
}

func isPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
