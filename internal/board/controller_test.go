package board

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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

// serviceClient talks to an in-process move coordinator as a fixed actor.
type serviceClient struct {
	svc   *service.TaskService
	actor model.Actor
}

func (c serviceClient) Move(ctx context.Context, req model.MoveRequest) (model.MoveResult, error) {
	res, err := c.svc.Move(ctx, c.actor, req)
	return res, translateErr(err)
}

func (c serviceClient) Board(ctx context.Context, id int64) ([]model.Column, error) {
	cols, err := c.svc.Board(ctx, id)
	return cols, translateErr(err)
}

func translateErr(err error) error {
	var fe *service.ForbiddenError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fe):
		return &ForbiddenError{Reason: fe.Reason}
	case errors.Is(err, repo.ErrorNotFound):
		return ErrNotFound
	case errors.Is(err, repo.ErrorConflict):
		return ErrConflict
	}
	return err
}

type backend struct {
	svc   *service.TaskService
	store *repo.MemoryRepo
	ids   map[string]int64
}

func newBackend(t *testing.T) backend {
	t.Helper()
	store := repo.NewMemoryRepo()
	svc := service.NewTaskService(store, auth.StaticProvider{
		"pm": {ManagedProjects: []int64{projectID}},
	})
	b := backend{svc: svc, store: store, ids: make(map[string]int64)}

	alice := "alice"
	for _, seed := range []struct {
		title    string
		status   model.Status
		assignee *string
	}{
		{"A", model.StatusInProgress, &alice},
		{"B", model.StatusInProgress, nil},
		{"C", model.StatusInProgress, nil},
		{"D", model.StatusNew, nil},
		{"X", model.StatusDone, nil},
	} {
		created, err := svc.Create(context.Background(), model.Task{
			ProjectID: projectID, Title: seed.title, Status: seed.status, Priority: 3, AssigneeID: seed.assignee,
		}, "")
		require.NoError(t, err)
		b.ids[seed.title] = created.ID
	}
	return b
}

func (b backend) controller(t *testing.T, client MoveClient, opts ...Option) *Controller {
	t.Helper()
	c := NewController(New(projectID), client, opts...)
	require.NoError(t, c.Load(context.Background()))
	return c
}

func (b backend) as(actor string) serviceClient {
	return serviceClient{svc: b.svc, actor: model.Actor{ID: actor}}
}

func await(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o, ok := <-ch:
		require.True(t, ok, "outcome channel closed without a value")
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("move did not finish")
	}
	return Outcome{}
}

func drag(t *testing.T, c *Controller, taskID int64, status model.Status, index int) Outcome {
	t.Helper()
	require.NoError(t, c.BeginDrag(taskID))
	ch, err := c.Drop(context.Background(), DragEnd{TaskID: taskID, Column: status, Index: index})
	require.NoError(t, err)
	return await(t, ch)
}

func TestController_SuccessAdoptsServerTruth(t *testing.T) {
	b := newBackend(t)
	c := b.controller(t, b.as("pm"))

	o := drag(t, c, b.ids["C"], model.StatusInProgress, 0)
	require.True(t, o.Applied)

	server, err := b.svc.Board(context.Background(), projectID)
	require.NoError(t, err)
	snap := c.Snapshot()
	for _, col := range server {
		assert.Equal(t, col.TaskIDs, ids(snap[col.Status]), "column %s", col.Status)
		assert.Equal(t, col.Tasks, snap[col.Status])
	}
	assert.Equal(t, []int64{b.ids["C"], b.ids["A"], b.ids["B"]}, ids(snap[model.StatusInProgress]))
	assert.Equal(t, Idle, c.State())

	// повторное применение того же ответа ничего не меняет
	before := c.Snapshot()
	c.mu.Lock()
	c.board.Replace(o.Result.Source, o.Result.Destination)
	c.mu.Unlock()
	assert.Equal(t, before, c.Snapshot())
}

func TestController_ForbiddenRollsBack(t *testing.T) {
	b := newBackend(t)
	c := b.controller(t, b.as("bob"))
	before := c.Snapshot()

	var mu sync.Mutex
	var seen []Snapshot
	c.OnChange(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	o := drag(t, c, b.ids["A"], model.StatusDone, 0)
	assert.True(t, o.RolledBack)
	assert.Equal(t, model.ReasonNotYourTask, o.Reason)
	assert.Equal(t, "not your task", o.Message)
	assert.False(t, o.Retryable)
	assert.Equal(t, before, c.Snapshot())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	// сначала оптимистичное состояние, потом откат
	assert.Contains(t, ids(seen[0][model.StatusDone]), b.ids["A"])
	assert.Equal(t, before, seen[1])
}

func TestController_AssigneeReorderDenied(t *testing.T) {
	b := newBackend(t)
	c := b.controller(t, b.as("alice"))
	before := c.Snapshot()

	o := drag(t, c, b.ids["A"], model.StatusInProgress, 2)
	assert.True(t, o.RolledBack)
	assert.Equal(t, model.ReasonReorderRequiresManager, o.Reason)
	assert.Equal(t, before, c.Snapshot())

	o = drag(t, c, b.ids["A"], model.StatusBlocked, 0)
	assert.True(t, o.Applied)
	assert.Equal(t, []int64{b.ids["A"]}, ids(c.Snapshot()[model.StatusBlocked]))
}

type blockingClient struct {
	MoveClient
	calls atomic.Int32
}

func (c *blockingClient) Move(ctx context.Context, req model.MoveRequest) (model.MoveResult, error) {
	c.calls.Add(1)
	<-ctx.Done()
	return model.MoveResult{}, ctx.Err()
}

func TestController_TimeoutRollsBack(t *testing.T) {
	assert.Equal(t, 5*time.Second, DefaultTimeout)

	b := newBackend(t)
	client := &blockingClient{MoveClient: b.as("pm")}
	c := b.controller(t, client, WithTimeout(200*time.Millisecond))
	before := c.Snapshot()

	require.NoError(t, c.BeginDrag(b.ids["D"]))
	ch, err := c.Drop(context.Background(), DragEnd{TaskID: b.ids["D"], Column: model.StatusDone, Index: EndOfColumn})
	require.NoError(t, err)

	assert.Equal(t, Optimistic, c.State())
	assert.NotEqual(t, before, c.Snapshot())
	assert.ErrorIs(t, c.BeginDrag(b.ids["A"]), ErrMoveInFlight)

	o := await(t, ch)
	assert.True(t, o.RolledBack)
	assert.True(t, o.Retryable)
	assert.Equal(t, MessageRetry, o.Message)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, int32(1), client.calls.Load())
}

type conflictClient struct {
	MoveClient
	failures int
	moves    atomic.Int32
	boards   atomic.Int32
}

func (c *conflictClient) Move(ctx context.Context, req model.MoveRequest) (model.MoveResult, error) {
	if int(c.moves.Add(1)) <= c.failures {
		return model.MoveResult{}, ErrConflict
	}
	return c.MoveClient.Move(ctx, req)
}

func (c *conflictClient) Board(ctx context.Context, id int64) ([]model.Column, error) {
	c.boards.Add(1)
	return c.MoveClient.Board(ctx, id)
}

func TestController_ConflictRetriesOnce(t *testing.T) {
	t.Run("retry succeeds", func(t *testing.T) {
		b := newBackend(t)
		client := &conflictClient{MoveClient: b.as("pm"), failures: 1}
		c := b.controller(t, client)

		o := drag(t, c, b.ids["D"], model.StatusDone, 0)
		assert.True(t, o.Applied)
		assert.Equal(t, int32(2), client.moves.Load())
		assert.Equal(t, int32(2), client.boards.Load()) // загрузка + обновление
		assert.Equal(t, []int64{b.ids["D"], b.ids["X"]}, ids(c.Snapshot()[model.StatusDone]))
	})

	t.Run("second conflict rolls back", func(t *testing.T) {
		b := newBackend(t)
		client := &conflictClient{MoveClient: b.as("pm"), failures: 2}
		c := b.controller(t, client)
		before := c.Snapshot()

		o := drag(t, c, b.ids["D"], model.StatusDone, 0)
		assert.True(t, o.RolledBack)
		assert.True(t, o.Retryable)
		assert.Equal(t, int32(2), client.moves.Load())
		assert.Equal(t, before, c.Snapshot())
	})
}

func TestController_NotFoundRemovesTask(t *testing.T) {
	b := newBackend(t)
	c := b.controller(t, b.as("pm"))
	require.NoError(t, b.svc.Delete(context.Background(), b.ids["B"]))

	o := drag(t, c, b.ids["B"], model.StatusDone, 0)
	assert.True(t, o.Removed)
	assert.False(t, o.RolledBack)

	snap := c.Snapshot()
	assert.Equal(t, []int64{b.ids["A"], b.ids["C"]}, ids(snap[model.StatusInProgress]))
	assert.Equal(t, []int64{b.ids["X"]}, ids(snap[model.StatusDone]))
}

func TestController_DropOutsideIsNoop(t *testing.T) {
	b := newBackend(t)
	c := b.controller(t, b.as("pm"))
	before := c.Snapshot()

	require.NoError(t, c.BeginDrag(b.ids["A"]))
	ch, err := c.Drop(context.Background(), DragEnd{TaskID: b.ids["A"]})
	require.NoError(t, err)

	o := await(t, ch)
	assert.True(t, o.Noop)
	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, Idle, c.State())
}

func TestController_DragLifecycle(t *testing.T) {
	b := newBackend(t)
	c := b.controller(t, b.as("pm"))

	_, err := c.Drop(context.Background(), DragEnd{TaskID: b.ids["A"], Column: model.StatusDone})
	assert.ErrorIs(t, err, ErrNotDragging)

	assert.ErrorIs(t, c.BeginDrag(12345), ErrUnknownTask)

	require.NoError(t, c.BeginDrag(b.ids["A"]))
	assert.Equal(t, Dragging, c.State())
	c.CancelDrag()
	assert.Equal(t, Idle, c.State())

	// task id берется из текущего перетаскивания, если UI его не передал
	require.NoError(t, c.BeginDrag(b.ids["D"]))
	ch, err := c.Drop(context.Background(), DragEnd{Column: model.StatusBlocked, Index: 0})
	require.NoError(t, err)
	o := await(t, ch)
	assert.True(t, o.Applied)
	assert.Equal(t, b.ids["D"], o.Request.TaskID)
}
