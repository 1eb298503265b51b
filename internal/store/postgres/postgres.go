// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := open(databaseURL)
	if err != nil {
		return nil, err
	}

	if err := migrateDB(db, true); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewFromDB wraps an already-open database without running migrations.
func NewFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies (up) or reverts (down) all embedded migrations.
func Migrate(databaseURL string, up bool) error {
	db, err := open(databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrateDB(db, up)
}

func open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func migrateDB(db *sql.DB, up bool) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return queryGetPayment(ctx, s.db, id)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return queryGetOrder(ctx, s.db, id)
}

func (s *PostgresStore) GetSubTransactions(ctx context.Context, paymentID string) ([]*model.SubTransaction, error) {
	return queryGetSubTransactions(ctx, s.db, paymentID)
}

func (s *PostgresStore) ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int, error) {
	return queryListPayments(ctx, s.db, filter)
}

// Begin starts a database transaction wrapped in a txStore.
func (s *PostgresStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &txStore{tx: tx}, nil
}

// txStore implements store.Tx using a *sql.Tx. It is not safe for
// concurrent use; a run owns its transaction.
type txStore struct {
	tx   *sql.Tx
	done bool
}

// Compile-time check that txStore implements store.Tx.
var _ store.Tx = (*txStore)(nil)

func (s *txStore) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	if s.done {
		return nil, store.ErrTxDone
	}
	return queryGetPayment(ctx, s.tx, id)
}

func (s *txStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if s.done {
		return nil, store.ErrTxDone
	}
	return queryGetOrder(ctx, s.tx, id)
}

func (s *txStore) GetSubTransactions(ctx context.Context, paymentID string) ([]*model.SubTransaction, error) {
	if s.done {
		return nil, store.ErrTxDone
	}
	return queryGetSubTransactions(ctx, s.tx, paymentID)
}

func (s *txStore) SavePayment(ctx context.Context, p *model.Payment) error {
	if s.done {
		return store.ErrTxDone
	}
	return querySavePayment(ctx, s.tx, p)
}

func (s *txStore) SaveOrder(ctx context.Context, o *model.Order) error {
	if s.done {
		return store.ErrTxDone
	}
	return querySaveOrder(ctx, s.tx, o)
}

func (s *txStore) SaveSubTransaction(ctx context.Context, st *model.SubTransaction) error {
	if s.done {
		return store.ErrTxDone
	}
	return querySaveSubTransaction(ctx, s.tx, st)
}

// Commit commits the transaction. Deferred foreign keys are checked here, so
// a dangling reference surfaces as store.ErrConflict.
func (s *txStore) Commit() error {
	if s.done {
		return store.ErrTxDone
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// Abort rolls the transaction back. Calling it after Commit or a previous
// Abort is a no-op.
func (s *txStore) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
