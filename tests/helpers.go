package tests

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BuzzLyutic/taskboard/internal/model"
)

// SetupTestDB создает тестовую БД с помощью testcontainers
func SetupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	// Находим путь к миграциям
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filename))
	migrationsPath := filepath.Join(projectRoot, "migrations")

	// Создаем PostgreSQL контейнер
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.WithInitScripts(filepath.Join(migrationsPath, "001_create_tasks.up.sql")),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	cleanup := func() {
		pool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// TruncateTables очищает все таблицы
func TruncateTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, "TRUNCATE tasks, idempotency_keys RESTART IDENTITY CASCADE")
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}

// SeedColumn создает задачи в одной колонке с заданными рангами
func SeedColumn(t *testing.T, pool *pgxpool.Pool, projectID int64, status model.Status, ranks ...float64) []int64 {
	t.Helper()
	ctx := context.Background()

	ids := make([]int64, 0, len(ranks))
	for i, r := range ranks {
		var id int64
		err := pool.QueryRow(ctx, `
			INSERT INTO tasks (project_id, title, priority, status, rank)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, projectID, fmt.Sprintf("%s %d", status, i+1), (i%10)+1, string(status), r).Scan(&id)

		if err != nil {
			t.Fatalf("Failed to seed task: %v", err)
		}
		ids = append(ids, id)
	}

	return ids
}

// RequireUniqueRanks проверяет, что в каждой колонке ранги различны
func RequireUniqueRanks(t *testing.T, pool *pgxpool.Pool, projectID int64) {
	t.Helper()

	var dupes int
	err := pool.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM (
			SELECT status, rank FROM tasks
			WHERE project_id = $1
			GROUP BY status, rank
			HAVING COUNT(*) > 1
		) d
	`, projectID).Scan(&dupes)
	if err != nil {
		t.Fatalf("Failed to check ranks: %v", err)
	}
	if dupes != 0 {
		t.Fatalf("found %d duplicated ranks in project %d", dupes, projectID)
	}
}

// WaitForCondition ждет выполнения условия с таймаутом
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
