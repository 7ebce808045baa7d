//go:build integration

// Package storagetest starts a throwaway PostgreSQL container with the
// repository migrations applied, for integration tests in other packages.
package storagetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sungwon/newsletter/internal/storage"
)

// Postgres is a running container plus a pool connected to it.
type Postgres struct {
	DB        *storage.DB
	DSN       string
	container testcontainers.Container
}

// Start launches postgres:15-alpine and applies every *.up.sql migration.
func Start(ctx context.Context) (*Postgres, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	pg := &Postgres{container: container}

	host, err := container.Host(ctx)
	if err != nil {
		pg.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		pg.Terminate(ctx)
		return nil, fmt.Errorf("container port: %w", err)
	}
	pg.DSN = fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())

	if err := execMigrations(ctx, pg.DSN); err != nil {
		pg.Terminate(ctx)
		return nil, err
	}

	pg.DB, err = storage.NewDB(ctx, pg.DSN, 2, 20, 10*time.Second)
	if err != nil {
		pg.Terminate(ctx)
		return nil, err
	}
	return pg, nil
}

// Terminate closes the pool and removes the container.
func (p *Postgres) Terminate(ctx context.Context) {
	if p.DB != nil {
		p.DB.Close()
	}
	if err := p.container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
}

// MustStart is the TestMain form of Start: it exits the process on failure.
func MustStart(ctx context.Context) *Postgres {
	pg, err := Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres setup: %v\n", err)
		os.Exit(1)
	}
	return pg
}

// Reset empties every table so each test starts from a clean schema.
func (p *Postgres) Reset(t *testing.T) {
	t.Helper()
	_, err := p.DB.Pool.Exec(context.Background(),
		`TRUNCATE issue_delivery_queue, newsletter_issues, idempotency, subscriptions`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

// AddSubscriber inserts a subscription row with the given status.
func (p *Postgres) AddSubscriber(t *testing.T, email, status string) {
	t.Helper()
	_, err := p.DB.Pool.Exec(context.Background(),
		`INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		 VALUES ($1, $2, $3, now(), $4)`,
		uuid.New(), email, strings.Split(email, "@")[0], status)
	if err != nil {
		t.Fatalf("insert subscriber %s: %v", email, err)
	}
}

// Count returns SELECT count(*) for the given query.
func (p *Postgres) Count(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := p.DB.Pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func execMigrations(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect for migrations: %w", err)
	}
	defer pool.Close()

	_, filename, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(filename), "..", "..", "..", "migrations")

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	var upFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, f := range upFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
	}

	return nil
}
