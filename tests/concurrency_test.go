package tests

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BuzzLyutic/taskboard/internal/auth"
	"github.com/BuzzLyutic/taskboard/internal/model"
	"github.com/BuzzLyutic/taskboard/internal/repo"
	"github.com/BuzzLyutic/taskboard/internal/service"
)

const projectID = int64(1)

var manager = model.Actor{ID: "pm"}

func newService(r repo.TaskRepository) *service.TaskService {
	return service.NewTaskService(r, auth.StaticProvider{
		manager.ID: {ManagedProjects: []int64{projectID}},
	})
}

func TestConcurrent_MovesIntoOneColumn(t *testing.T) {
	pool, cleanup := SetupTestDB(t)
	defer cleanup()

	TruncateTables(t, pool)
	sources := SeedColumn(t, pool, projectID, model.StatusNew, 0, 10, 20, 30, 40, 50, 60, 70, 80, 90)
	SeedColumn(t, pool, projectID, model.StatusDone, 0, 10)

	taskService := newService(repo.NewTaskRepo(pool))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, len(sources))

	// Все вставляют в одну и ту же щель между первыми двумя задачами
	for i, id := range sources {
		wg.Add(1)
		go func(idx int, taskID int64) {
			defer wg.Done()
			_, errs[idx] = taskService.Move(ctx, manager, model.MoveRequest{
				TaskID:       taskID,
				TargetStatus: model.StatusDone,
				TargetIndex:  1,
			})
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "move %d", i)
	}
	RequireUniqueRanks(t, pool, projectID)

	board, err := taskService.Board(ctx, projectID)
	require.NoError(t, err)
	assert.Empty(t, board[0].TaskIDs)
	assert.Len(t, board[3].TaskIDs, 12)
}

func TestConcurrent_OppositeCrossColumnMoves(t *testing.T) {
	pool, cleanup := SetupTestDB(t)
	defer cleanup()

	TruncateTables(t, pool)
	left := SeedColumn(t, pool, projectID, model.StatusBlocked, 0, 10, 20, 30, 40)
	right := SeedColumn(t, pool, projectID, model.StatusInProgress, 0, 10, 20, 30, 40)

	taskService := newService(repo.NewTaskRepo(pool))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	move := func(taskID int64, target model.Status) {
		defer wg.Done()
		_, err := taskService.Move(ctx, manager, model.MoveRequest{TaskID: taskID, TargetStatus: target, TargetIndex: 0})
		assert.NoError(t, err)
	}
	for i := range left {
		wg.Add(2)
		go move(left[i], model.StatusInProgress)
		go move(right[i], model.StatusBlocked)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("opposite moves did not finish, possible deadlock")
	}

	RequireUniqueRanks(t, pool, projectID)
	var blocked, inProgress int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM tasks WHERE status = 'BLOCKED'").Scan(&blocked)
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM tasks WHERE status = 'IN_PROGRESS'").Scan(&inProgress)
	assert.Equal(t, 5, blocked)
	assert.Equal(t, 5, inProgress)
}

func TestConcurrent_CreatesAppendWithUniqueRanks(t *testing.T) {
	pool, cleanup := SetupTestDB(t)
	defer cleanup()

	TruncateTables(t, pool)
	taskService := newService(repo.NewTaskRepo(pool))
	ctx := context.Background()

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := taskService.Create(ctx, model.Task{
				ProjectID: projectID,
				Title:     fmt.Sprintf("Concurrent Task %d", idx),
				Priority:  5,
			}, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	RequireUniqueRanks(t, pool, projectID)
	var count int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM tasks").Scan(&count)
	assert.Equal(t, goroutines, count)
}

func TestConcurrent_CompactionWhileMoving(t *testing.T) {
	pool, cleanup := SetupTestDB(t)
	defer cleanup()

	TruncateTables(t, pool)
	dense := SeedColumn(t, pool, projectID, model.StatusNew, 1, 1.0000001, 1.0000002, 1.0000003, 1.0000004)

	taskService := newService(repo.NewTaskRepo(pool))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			_, err := taskService.CompactDense(ctx, 10)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_, err := taskService.Move(ctx, manager, model.MoveRequest{
				TaskID:       dense[i%len(dense)],
				TargetStatus: model.StatusNew,
				TargetIndex:  i % 3,
			})
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	RequireUniqueRanks(t, pool, projectID)
	board, err := taskService.Board(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, board[0].TaskIDs, len(dense))
}
