package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskboard/internal/model"
	"github.com/BuzzLyutic/taskboard/internal/rank"
)

// DefaultTimeout bounds a single move request.
const DefaultTimeout = 5 * time.Second

type State int

const (
	Idle State = iota
	Dragging
	Optimistic
	Reconciling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Optimistic:
		return "optimistic"
	case Reconciling:
		return "reconciling"
	}
	return "unknown"
}

// Outcome reports how a dropped move ended. Exactly one of Applied,
// Removed, RolledBack or Noop is set.
type Outcome struct {
	Request model.MoveRequest
	Result  model.MoveResult

	Applied    bool
	Removed    bool
	RolledBack bool
	Noop       bool

	Err error
	// Reason is set for denials.
	Reason model.DenyReason
	// Message is what to show the user after a rollback.
	Message   string
	Retryable bool
}

type Controller struct {
	mu        sync.Mutex
	board     *Board
	client    MoveClient
	policy    rank.Policy
	timeout   time.Duration
	logger    *zap.Logger
	state     State
	dragging  int64
	listeners []func(Snapshot)
}

type Option func(*Controller)

func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

func WithPolicy(p rank.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func NewController(b *Board, client MoveClient, opts ...Option) *Controller {
	c := &Controller{
		board:   b,
		client:  client,
		policy:  rank.Default(),
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers a listener called with a fresh snapshot after every
// visible change of the board.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Snapshot()
}

// Load hydrates the board from the server.
func (c *Controller) Load(ctx context.Context) error {
	cols, err := c.client.Board(ctx, c.board.ProjectID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == Optimistic || c.state == Reconciling {
		c.mu.Unlock()
		return ErrMoveInFlight
	}
	c.board.Hydrate(cols)
	snap := c.board.Snapshot()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

func (c *Controller) BeginDrag(taskID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Optimistic || c.state == Reconciling {
		return ErrMoveInFlight
	}
	if _, _, ok := c.board.Locate(taskID); !ok {
		return ErrUnknownTask
	}
	c.state = Dragging
	c.dragging = taskID
	return nil
}

func (c *Controller) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Dragging {
		c.state = Idle
		c.dragging = 0
	}
}

// Drop finishes the current drag. A drop on a column is applied to the
// board immediately and sent to the server; the returned channel yields the
// final Outcome once the board holds server truth or has been rolled back.
func (c *Controller) Drop(ctx context.Context, d DragEnd) (<-chan Outcome, error) {
	out := make(chan Outcome, 1)

	c.mu.Lock()
	if c.state != Dragging {
		st := c.state
		c.mu.Unlock()
		if st == Optimistic || st == Reconciling {
			return nil, ErrMoveInFlight
		}
		return nil, ErrNotDragging
	}
	if d.TaskID == 0 {
		d.TaskID = c.dragging
	}
	c.dragging = 0

	req, ok := Translate(d)
	if !ok {
		// Бросили мимо колонок - ничего не делаем
		c.state = Idle
		c.mu.Unlock()
		out <- Outcome{Request: req, Noop: true}
		close(out)
		return out, nil
	}

	before := c.board.Snapshot()
	source, ok := c.board.apply(c.policy, req.TaskID, req.TargetStatus, req.TargetIndex)
	if !ok {
		c.state = Idle
		c.mu.Unlock()
		return nil, ErrUnknownTask
	}
	c.state = Optimistic
	snap := c.board.Snapshot()
	c.mu.Unlock()

	c.notify(snap)
	go c.run(ctx, req, before, source, out)
	return out, nil
}

func (c *Controller) run(ctx context.Context, req model.MoveRequest, before Snapshot, source model.Status, out chan<- Outcome) {
	defer close(out)

	res, err := c.send(ctx, req)
	if errors.Is(err, ErrConflict) {
		c.logger.Info("move conflict, refreshing board", zap.Int64("task_id", req.TaskID))
		res, err = c.retry(ctx, req)
	}

	c.mu.Lock()
	c.state = Reconciling
	o := c.reconcile(req, res, err, before, source)
	c.state = Idle
	snap := c.board.Snapshot()
	c.mu.Unlock()

	c.notify(snap)
	out <- o
}

// retry refreshes the board from the server and sends the move once more.
// The refreshed board is adopted only if the retry succeeds.
func (c *Controller) retry(ctx context.Context, req model.MoveRequest) (model.MoveResult, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	cols, err := c.client.Board(rctx, c.board.ProjectID)
	cancel()
	if err != nil {
		return model.MoveResult{}, err
	}

	res, err := c.send(ctx, req)
	if err != nil {
		return res, err
	}
	c.mu.Lock()
	c.board.Hydrate(cols)
	c.mu.Unlock()
	return res, nil
}

func (c *Controller) send(ctx context.Context, req model.MoveRequest) (model.MoveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Move(ctx, req)
}

// reconcile is called with c.mu held.
func (c *Controller) reconcile(req model.MoveRequest, res model.MoveResult, err error, before Snapshot, source model.Status) Outcome {
	o := Outcome{Request: req, Err: err}

	var fe *ForbiddenError
	switch {
	case err == nil:
		c.board.Replace(res.Source, res.Destination)
		o.Result = res
		o.Applied = true
	case errors.Is(err, ErrNotFound):
		// Задачи уже нет на сервере: откатывать нечего, просто убираем ее
		c.board.restore(before, source, req.TargetStatus)
		c.board.Remove(req.TaskID)
		o.Removed = true
	case errors.As(err, &fe):
		c.board.restore(before, source, req.TargetStatus)
		o.RolledBack = true
		o.Reason = fe.Reason
		o.Message = fe.Error()
	default:
		c.board.restore(before, source, req.TargetStatus)
		o.RolledBack = true
		o.Message = MessageRetry
		o.Retryable = true
	}

	if err != nil {
		c.logger.Info("move not applied",
			zap.Int64("task_id", req.TaskID),
			zap.String("target_status", string(req.TargetStatus)),
			zap.Bool("removed", o.Removed),
			zap.Error(err),
		)
	}
	return o
}

func (c *Controller) notify(snap Snapshot) {
	c.mu.Lock()
	listeners := append([]func(Snapshot){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
