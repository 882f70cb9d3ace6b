package solidapi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DatabaseSettings holds the DSN components and pool bounds. The password is
// not part of the settings: it is resolved from the secrets store by name.
type DatabaseSettings struct {
	Host           string
	Port           int
	Name           string
	User           string
	SSLMode        string
	PasswordSecret string
	MaxOpenConns   int
	MaxIdleConns   int
	AcquireTimeout time.Duration
}

// dsn renders the libpq connection string with the resolved password.
func (s DatabaseSettings) dsn(password string) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		s.Host, s.Port, s.Name, s.User, password, s.SSLMode)
}

// connectFunc opens a pool for the given DSN. Swapped out in tests.
type connectFunc func(dsn string) (*sqlx.DB, error)

func defaultConnect(dsn string) (*sqlx.DB, error) {
	return sqlx.Open("postgres", dsn)
}

// SessionFactory builds a pooled connection engine from resolved settings and
// issues request-scoped sessions with transactional unit-of-work semantics.
//
// The DSN password is resolved through the [SecretProvider] at construction
// and again on every [SessionFactory.Rotate]. Rotation swaps in a fresh pool
// without dropping in-flight sessions: the old pool drains as its connections
// are returned.
type SessionFactory struct {
	settings DatabaseSettings
	secrets  *SecretProvider
	tracer   trace.Tracer
	log      *zap.Logger
	connect  connectFunc

	// sem bounds concurrent checkouts across rotations; the per-pool limits
	// of database/sql only bound a single pool.
	sem chan struct{}

	mu sync.RWMutex
	db *sqlx.DB

	open atomic.Int64
}

// NewSessionFactory resolves the database credential and constructs the pool.
// The pool connects lazily; a failure to resolve the credential fails startup.
func NewSessionFactory(
	ctx context.Context,
	settings DatabaseSettings,
	secrets *SecretProvider,
	tp trace.TracerProvider,
	log *zap.Logger,
) (*SessionFactory, error) {
	return newSessionFactory(ctx, settings, secrets, tp, log, defaultConnect)
}

func newSessionFactory(
	ctx context.Context,
	settings DatabaseSettings,
	secrets *SecretProvider,
	tp trace.TracerProvider,
	log *zap.Logger,
	connect connectFunc,
) (*SessionFactory, error) {
	f := &SessionFactory{
		settings: settings,
		secrets:  secrets,
		tracer:   tp.Tracer(tracerName),
		log:      log.Named("db"),
		connect:  connect,
		sem:      make(chan struct{}, settings.MaxOpenConns),
	}

	db, err := f.build(ctx)
	if err != nil {
		return nil, err
	}
	f.db = db

	return f, nil
}

// build resolves the password and opens a configured pool.
func (f *SessionFactory) build(ctx context.Context) (*sqlx.DB, error) {
	password, err := f.secrets.GetString(ctx, f.settings.PasswordSecret)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve database password")
	}

	db, err := f.connect(f.settings.dsn(password))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to open database pool"), ErrDatabase)
	}

	db.SetMaxOpenConns(f.settings.MaxOpenConns)
	db.SetMaxIdleConns(f.settings.MaxIdleConns)

	return db, nil
}

// OpenSession checks a connection out of the pool and begins a transaction.
// It blocks up to the configured acquire timeout when the pool is at
// capacity, then fails marked [ErrPoolExhausted]. The returned session must
// see exactly one terminal action: Commit or Rollback.
func (f *SessionFactory) OpenSession(ctx context.Context) (*Session, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, f.settings.AcquireTimeout)
	defer cancel()

	select {
	case f.sem <- struct{}{}:
	case <-acquireCtx.Done():
		return nil, errors.Mark(
			errors.Wrap(acquireCtx.Err(), "timed out waiting for pool capacity"),
			ErrPoolExhausted)
	}

	ctx, span := f.tracer.Start(ctx, "db.session")

	tx, err := f.current().BeginTxx(ctx, nil)
	if err != nil {
		<-f.sem
		span.SetStatus(codes.Error, "begin failed")
		span.SetAttributes(attribute.String("error.kind", "database"))
		span.End()
		return nil, errors.Mark(errors.Wrap(err, "failed to begin transaction"), ErrDatabase)
	}

	f.open.Add(1)

	return &Session{tx: tx, factory: f, span: span}, nil
}

func (f *SessionFactory) current() *sqlx.DB {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.db
}

// Rotate re-resolves the database credential and swaps in a fresh pool. The
// previous pool is drained, not killed: sqlx's Close waits for checked-out
// connections to finish, so in-flight sessions complete on the old credential
// while new checkouts use the refreshed one.
func (f *SessionFactory) Rotate(ctx context.Context) error {
	f.secrets.Invalidate(f.settings.PasswordSecret)

	fresh, err := f.build(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to rebuild pool with rotated credential")
	}

	f.mu.Lock()
	old := f.db
	f.db = fresh
	f.mu.Unlock()

	f.log.Info("database pool rotated",
		zap.String("secret", f.settings.PasswordSecret))

	go func() {
		old.SetMaxIdleConns(0)
		if err := old.Close(); err != nil {
			f.log.Warn("failed to close drained pool", zap.Error(err))
		}
	}()

	return nil
}

// Leaked returns the number of sessions that have been opened but not yet
// committed or rolled back. After every request it must be zero.
func (f *SessionFactory) Leaked() int64 {
	return f.open.Load()
}

// Close shuts the pool down. Registered as an fx OnStop hook.
func (f *SessionFactory) Close() error {
	return f.current().Close()
}

// Session is one request's exclusive, transactional database connection
// lease. It is owned by the request scope that created it and must never be
// shared across requests.
type Session struct {
	tx      *sqlx.Tx
	factory *SessionFactory
	span    trace.Span
	done    atomic.Bool
}

// Tx exposes the underlying transaction for query execution.
func (s *Session) Tx() *sqlx.Tx {
	return s.tx
}

// Commit finalizes the unit of work. It is a no-op if a terminal action
// already happened. A commit failure is surfaced marked [ErrDatabase] after
// the session is released.
func (s *Session) Commit() error {
	if !s.done.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.tx.Commit(); err != nil {
		s.span.SetStatus(codes.Error, "commit failed")
		s.span.SetAttributes(attribute.String("error.kind", "database"))
		s.release("commit_failed")
		return errors.Mark(errors.Wrap(err, "failed to commit"), ErrDatabase)
	}

	s.release("committed")
	return nil
}

// Rollback discards the unit of work. It is a no-op if a terminal action
// already happened.
func (s *Session) Rollback() error {
	if !s.done.CompareAndSwap(false, true) {
		return nil
	}
	defer s.release("rolled_back")

	if err := s.tx.Rollback(); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to roll back"), ErrDatabase)
	}

	return nil
}

// release returns capacity and closes the session span. It runs after the
// terminal action so the commit/rollback always happens-before span closure.
func (s *Session) release(outcome string) {
	s.factory.open.Add(-1)
	<-s.factory.sem
	s.span.SetAttributes(attribute.String("db.session.outcome", outcome))
	s.span.End()
}
