package solidapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// mockConnector records every DSN it is asked to open and hands out a fresh
// sqlmock-backed pool per call, so rotation can be observed end to end.
type mockConnector struct {
	dsns  []string
	mocks []sqlmock.Sqlmock
}

func (c *mockConnector) connect(dsn string) (*sqlx.DB, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	c.dsns = append(c.dsns, dsn)
	c.mocks = append(c.mocks, mock)
	return sqlx.NewDb(db, "sqlmock"), nil
}

func testDatabaseSettings() DatabaseSettings {
	return DatabaseSettings{
		Host:           "localhost",
		Port:           5432,
		Name:           "app",
		User:           "app",
		SSLMode:        "disable",
		PasswordSecret: "db-password",
		MaxOpenConns:   2,
		MaxIdleConns:   1,
		AcquireTimeout: time.Second,
	}
}

func newTestFactory(t *testing.T, settings DatabaseSettings, reader SecretReader) (*SessionFactory, *mockConnector) {
	t.Helper()

	conn := &mockConnector{}
	secrets := NewSecretProvider(reader, time.Minute, noop.NewTracerProvider())

	factory, err := newSessionFactory(
		context.Background(), settings, secrets,
		noop.NewTracerProvider(), zap.NewNop(), conn.connect)
	if err != nil {
		t.Fatalf("failed to build session factory: %v", err)
	}

	return factory, conn
}

func TestSessionFactoryBuildsDSNFromSecret(t *testing.T) {
	reader := &countingReader{secrets: map[string]string{"db-password": "initial-pw"}}
	_, conn := newTestFactory(t, testDatabaseSettings(), reader)

	if len(conn.dsns) != 1 {
		t.Fatalf("connect calls = %d, want 1", len(conn.dsns))
	}
	if !strings.Contains(conn.dsns[0], "password=initial-pw") {
		t.Fatalf("dsn %q does not carry the resolved password", conn.dsns[0])
	}
	if !strings.Contains(conn.dsns[0], "sslmode=disable") {
		t.Fatalf("dsn %q does not carry sslmode", conn.dsns[0])
	}
}

func TestSessionFactorySecretFailureFailsConstruction(t *testing.T) {
	reader := &countingReader{secrets: map[string]string{}, fails: 10}
	conn := &mockConnector{}
	secrets := NewSecretProvider(reader, time.Minute, noop.NewTracerProvider())

	_, err := newSessionFactory(
		context.Background(), testDatabaseSettings(), secrets,
		noop.NewTracerProvider(), zap.NewNop(), conn.connect)
	if err == nil {
		t.Fatal("expected construction to fail")
	}
	if !errors.Is(err, ErrSecretUnavailable) {
		t.Fatalf("expected ErrSecretUnavailable, got %v", err)
	}
	if len(conn.dsns) != 0 {
		t.Fatalf("connect calls = %d, want 0", len(conn.dsns))
	}
}

func TestSessionCommitExactlyOnce(t *testing.T) {
	reader := &countingReader{secrets: map[string]string{"db-password": "pw"}}
	factory, conn := newTestFactory(t, testDatabaseSettings(), reader)

	conn.mocks[0].ExpectBegin()
	conn.mocks[0].ExpectCommit()

	session, err := factory.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	if got := factory.Leaked(); got != 1 {
		t.Fatalf("open sessions = %d, want 1", got)
	}

	if err := session.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	// A second terminal action is a no-op, in either order.
	if err := session.Commit(); err != nil {
		t.Fatalf("repeated commit should be a no-op, got: %v", err)
	}
	if err := session.Rollback(); err != nil {
		t.Fatalf("rollback after commit should be a no-op, got: %v", err)
	}

	if got := factory.Leaked(); got != 0 {
		t.Fatalf("open sessions = %d, want 0", got)
	}
	if err := conn.mocks[0].ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRollback(t *testing.T) {
	reader := &countingReader{secrets: map[string]string{"db-password": "pw"}}
	factory, conn := newTestFactory(t, testDatabaseSettings(), reader)

	conn.mocks[0].ExpectBegin()
	conn.mocks[0].ExpectRollback()

	session, err := factory.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}

	if err := session.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if err := session.Commit(); err != nil {
		t.Fatalf("commit after rollback should be a no-op, got: %v", err)
	}

	if got := factory.Leaked(); got != 0 {
		t.Fatalf("open sessions = %d, want 0", got)
	}
	if err := conn.mocks[0].ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOpenSessionBeginFailureReleasesCapacity(t *testing.T) {
	settings := testDatabaseSettings()
	settings.MaxOpenConns = 1

	reader := &countingReader{secrets: map[string]string{"db-password": "pw"}}
	factory, conn := newTestFactory(t, settings, reader)

	conn.mocks[0].ExpectBegin().WillReturnError(errors.New("begin refused"))
	conn.mocks[0].ExpectBegin()
	conn.mocks[0].ExpectRollback()

	_, err := factory.OpenSession(context.Background())
	if err == nil {
		t.Fatal("expected begin to fail")
	}
	if !errors.Is(err, ErrDatabase) {
		t.Fatalf("expected ErrDatabase, got %v", err)
	}
	if got := factory.Leaked(); got != 0 {
		t.Fatalf("open sessions = %d, want 0", got)
	}

	// The single capacity slot must be free again for the next checkout.
	session, err := factory.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("failed to open session after begin failure: %v", err)
	}
	if err := session.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
}

func TestSessionCommitFailure(t *testing.T) {
	reader := &countingReader{secrets: map[string]string{"db-password": "pw"}}
	factory, conn := newTestFactory(t, testDatabaseSettings(), reader)

	conn.mocks[0].ExpectBegin()
	conn.mocks[0].ExpectCommit().WillReturnError(errors.New("serialization failure"))

	session, err := factory.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}

	err = session.Commit()
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	if !errors.Is(err, ErrDatabase) {
		t.Fatalf("expected ErrDatabase, got %v", err)
	}

	// A failed commit is still a terminal action: the lease is released.
	if got := factory.Leaked(); got != 0 {
		t.Fatalf("open sessions = %d, want 0", got)
	}
}

func TestOpenSessionPoolExhausted(t *testing.T) {
	settings := testDatabaseSettings()
	settings.MaxOpenConns = 1
	settings.AcquireTimeout = 50 * time.Millisecond

	reader := &countingReader{secrets: map[string]string{"db-password": "pw"}}
	factory, conn := newTestFactory(t, settings, reader)

	conn.mocks[0].ExpectBegin()
	conn.mocks[0].ExpectRollback()

	held, err := factory.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}

	start := time.Now()
	_, err = factory.OpenSession(context.Background())
	if err == nil {
		t.Fatal("expected pool exhaustion")
	}
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if waited := time.Since(start); waited < settings.AcquireTimeout {
		t.Fatalf("gave up after %v, want at least %v", waited, settings.AcquireTimeout)
	}

	if err := held.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
}

// sessionSpanOutcome returns the db.session.outcome attribute of the first
// recorded session span.
func sessionSpanOutcome(t *testing.T, exporter *tracetest.InMemoryExporter) string {
	t.Helper()

	for _, span := range exporter.GetSpans() {
		if span.Name != "db.session" {
			continue
		}
		for _, attr := range span.Attributes {
			if attr.Key == "db.session.outcome" {
				return attr.Value.AsString()
			}
		}
	}

	t.Fatal("no db.session span with an outcome attribute recorded")
	return ""
}

func TestSessionSpanOutcome(t *testing.T) {
	tests := []struct {
		name        string
		expect      func(sqlmock.Sqlmock)
		act         func(*testing.T, *Session)
		wantOutcome string
	}{
		{
			name: "commit",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit()
			},
			act: func(t *testing.T, s *Session) {
				if err := s.Commit(); err != nil {
					t.Fatalf("commit failed: %v", err)
				}
			},
			wantOutcome: "committed",
		},
		{
			name: "commit failure",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
			},
			act: func(t *testing.T, s *Session) {
				if err := s.Commit(); err == nil {
					t.Fatal("expected commit to fail")
				}
			},
			wantOutcome: "commit_failed",
		},
		{
			name: "rollback",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			act: func(t *testing.T, s *Session) {
				if err := s.Rollback(); err != nil {
					t.Fatalf("rollback failed: %v", err)
				}
			},
			wantOutcome: "rolled_back",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := tracetest.NewInMemoryExporter()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

			reader := &countingReader{secrets: map[string]string{"db-password": "pw"}}
			conn := &mockConnector{}
			secrets := NewSecretProvider(reader, time.Minute, noop.NewTracerProvider())

			factory, err := newSessionFactory(
				context.Background(), testDatabaseSettings(), secrets,
				tp, zap.NewNop(), conn.connect)
			if err != nil {
				t.Fatalf("failed to build session factory: %v", err)
			}

			tt.expect(conn.mocks[0])

			session, err := factory.OpenSession(context.Background())
			if err != nil {
				t.Fatalf("failed to open session: %v", err)
			}
			tt.act(t, session)

			if got := sessionSpanOutcome(t, exporter); got != tt.wantOutcome {
				t.Errorf("span outcome = %q, want %q", got, tt.wantOutcome)
			}
		})
	}
}

func TestSessionFactoryRotate(t *testing.T) {
	reader := &countingReader{secrets: map[string]string{"db-password": "old-pw"}}
	factory, conn := newTestFactory(t, testDatabaseSettings(), reader)

	conn.mocks[0].ExpectBegin()
	conn.mocks[0].ExpectCommit()
	conn.mocks[0].ExpectClose()

	// A session checked out before rotation keeps working on the old pool.
	inflight, err := factory.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}

	reader.set("db-password", "new-pw")
	if err := factory.Rotate(context.Background()); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	if len(conn.dsns) != 2 {
		t.Fatalf("connect calls = %d, want 2", len(conn.dsns))
	}
	if !strings.Contains(conn.dsns[1], "password=new-pw") {
		t.Fatalf("rotated dsn %q does not carry the new password", conn.dsns[1])
	}

	if err := inflight.Commit(); err != nil {
		t.Fatalf("in-flight commit after rotation failed: %v", err)
	}

	// New checkouts land on the fresh pool.
	conn.mocks[1].ExpectBegin()
	conn.mocks[1].ExpectRollback()

	session, err := factory.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("failed to open session on rotated pool: %v", err)
	}
	if err := session.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	if got := factory.Leaked(); got != 0 {
		t.Fatalf("open sessions = %d, want 0", got)
	}

	// The old pool drains in the background once its sessions return.
	deadline := time.Now().Add(time.Second)
	for conn.mocks[0].ExpectationsWereMet() != nil {
		if time.Now().After(deadline) {
			t.Fatalf("old pool not drained: %v", conn.mocks[0].ExpectationsWereMet())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
