// Package pgstore is the Postgres ledger backend.
//
// It implements store.Ledger on gorm with the pgx driver and reports failures
// with the same typed errors as the SQLite store, so components never need to
// know which backend they are talking to.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/store"
)

// ConnectTimeout bounds the initial ping.
const ConnectTimeout = 5 * time.Second

// Store is a Postgres-backed ledger.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

var _ store.Ledger = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for failed operations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used to stamp created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Connect opens a Postgres ledger, verifies it is reachable and creates the
// ledger tables when missing.
func Connect(dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", store.NewUnavailableError("connect", err))
	}

	if err := db.WithContext(ctx).AutoMigrate(&ledgerModel{}, &voteModel{}, &systemStatusModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres ledger: %w", err)
	}

	return New(db, opts...), nil
}

// New wraps an already opened gorm handle. The schema is assumed to exist.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
		newID:  store.NewUUIDv7,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return store.NewUnavailableError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return s.fail("ledger_ping_failed", "ping", err)
	}
	return nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// fail logs a failed operation and returns it classified.
func (s *Store) fail(event, op string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"event", event,
		"module", "store/pgstore",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("ledger operation failed", fields...)
	return classify(op, err)
}
