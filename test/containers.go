package test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/joao-fontenele/orderdesk/internal/messaging"
	"github.com/joao-fontenele/orderdesk/internal/storeapi"
	"github.com/joao-fontenele/orderdesk/internal/telemetry"
)

const gatewaySecret = "integration-secret-with-at-least-32-characters"

type PostgresSetup struct {
	ConnStr string
	cleanup func()
}

func (p *PostgresSetup) Cleanup() {
	p.cleanup()
}

func SetupPostgres(ctx context.Context, t *testing.T) *PostgresSetup {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("orderdesk"),
		postgres.WithUsername("orderdesk"),
		postgres.WithPassword("orderdesk"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := runMigrations(connStr); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}

	return &PostgresSetup{ConnStr: connStr, cleanup: cleanup}
}

func runMigrations(connStr string) error {
	m, err := migrate.New(migrationsPath(), connStr)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func migrationsPath() string {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filename))
	return "file://" + filepath.Join(projectRoot, "migrations")
}

func SetupKafka(ctx context.Context, t *testing.T) ([]string, func()) {
	t.Helper()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.8.0",
		tckafka.WithClusterID("test-cluster"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers, cleanup
}

// CreateTopic creates topic up front so readers can seek to its end before
// anything has been written.
func CreateTopic(ctx context.Context, t *testing.T, brokers []string, topic string, partitions int) {
	t.Helper()

	if err := messaging.EnsureTopic(ctx, brokers, topic, partitions); err != nil {
		t.Fatalf("failed to create topic %s: %v", topic, err)
	}
}

type Gateway struct {
	URL    string
	APIKey string
	DB     *sql.DB
}

// StartGateway serves the orders REST surface over the migrated database.
// When brokers is non-empty, writes are published to topic.
func StartGateway(ctx context.Context, t *testing.T, connStr string, brokers []string, topic string) *Gateway {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := telemetry.OpenPostgres(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var publisher storeapi.ChangePublisher
	if len(brokers) > 0 {
		producer := messaging.NewProducer(brokers, topic)
		t.Cleanup(func() { _ = producer.Close() })
		publisher = producer
	}

	handler := storeapi.NewHandler(storeapi.NewOrderRepository(db), publisher, logger)
	auth := storeapi.NewAuthenticator(gatewaySecret, logger)

	api := http.NewServeMux()
	handler.Register(api)
	mux := http.NewServeMux()
	mux.Handle("/rest/v1/", auth.Middleware(api))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	apiKey, err := storeapi.SignAPIKey(gatewaySecret, "authenticated", 0)
	if err != nil {
		t.Fatalf("failed to sign api key: %v", err)
	}

	return &Gateway{URL: server.URL, APIKey: apiKey, DB: db}
}
