package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskboard/internal/authz"
	"github.com/BuzzLyutic/taskboard/internal/model"
	"github.com/BuzzLyutic/taskboard/internal/rank"
	"github.com/BuzzLyutic/taskboard/internal/repo"
)

var (
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")
)

// ForbiddenError carries the enumerated denial reason.
type ForbiddenError struct {
	Reason model.DenyReason
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason.Message() }

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// CapabilityProvider is the authorization collaborator.
type CapabilityProvider interface {
	Capabilities(ctx context.Context, actor model.Actor) (model.Capabilities, error)
}

const tracerName = "github.com/BuzzLyutic/taskboard/internal/service"

type TaskService struct {
	repo   repo.TaskRepository
	caps   CapabilityProvider
	authz  authz.Authorizer
	policy rank.Policy
	logger *zap.Logger
	tracer trace.Tracer
}

type Option func(*TaskService)

func WithPolicy(p rank.Policy) Option {
	return func(s *TaskService) { s.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *TaskService) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *TaskService) { s.tracer = t }
}

func NewTaskService(r repo.TaskRepository, caps CapabilityProvider, opts ...Option) *TaskService {
	s := &TaskService{
		repo:   r,
		caps:   caps,
		authz:  authz.New(),
		policy: rank.Default(),
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Move applies a drag of one task to targetIndex of targetStatus. The index
// is resolved against the live column order under the partition locks.
func (s *TaskService) Move(ctx context.Context, actor model.Actor, req model.MoveRequest) (res model.MoveResult, err error) {
	ctx, span := s.tracer.Start(ctx, "board.move", trace.WithAttributes(
		attribute.Int64("task.id", req.TaskID),
		attribute.String("board.target_status", string(req.TargetStatus)),
		attribute.Int("board.target_index", req.TargetIndex),
		attribute.String("actor.id", actor.ID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("board.renumbered", res.Renumbered))
		}
		span.End()
	}()

	task, err := s.repo.Get(ctx, req.TaskID)
	if err != nil {
		return res, err
	}
	span.SetAttributes(attribute.Int64("project.id", task.ProjectID))

	res, err = s.move(ctx, actor, task, req.TargetStatus, req.TargetIndex, true)
	if err != nil {
		s.logger.Info("move rejected",
			zap.Int64("task_id", req.TaskID),
			zap.String("actor", actor.ID),
			zap.String("target_status", string(req.TargetStatus)),
			zap.Error(err),
		)
		return res, err
	}

	s.logger.Info("task moved",
		zap.Int64("task_id", task.ID),
		zap.Int64("project_id", task.ProjectID),
		zap.String("from", string(task.Status)),
		zap.String("to", string(req.TargetStatus)),
		zap.Int("index", req.TargetIndex),
		zap.Float64("rank", res.Task.Rank),
		zap.Bool("renumbered", res.Renumbered),
	)
	return res, nil
}

// ChangeStatus is the non-drag status edit: the task goes to the end of the
// new column through the same authorization and ranking path as a drag.
func (s *TaskService) ChangeStatus(ctx context.Context, actor model.Actor, taskID int64, status model.Status) (model.MoveResult, error) {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return model.MoveResult{}, err
	}
	return s.move(ctx, actor, task, status, model.EndOfColumn, false)
}

// staleAttempts bounds how often a move is recomputed when the task changes
// column between the initial read and taking the partition locks.
const staleAttempts = 3

var errStaleSource = errors.New("task changed column before lock")

// move runs steps 2-6 of a move. index is clamped to the column unless it is
// model.EndOfColumn; positional
// is false for status edits that never ask for a position.
func (s *TaskService) move(ctx context.Context, actor model.Actor, task model.Task, target model.Status, index int, positional bool) (model.MoveResult, error) {
	caps, err := s.caps.Capabilities(ctx, actor)
	if err != nil {
		return model.MoveResult{}, fmt.Errorf("capabilities for %q: %w", actor.ID, err)
	}

	// Предварительная проверка без учета позиции, до захвата блокировок
	if d := s.authz.CanMove(actor, caps, task, authz.Proposal{TargetStatus: target}); !d.Allowed {
		return model.MoveResult{}, &ForbiddenError{Reason: d.Reason}
	}

	for attempt := 1; ; attempt++ {
		res, err := s.moveLocked(ctx, actor, caps, task, target, index, positional)
		if !errors.Is(err, errStaleSource) {
			return res, err
		}
		if attempt == staleAttempts {
			return model.MoveResult{}, fmt.Errorf("%w: task %d keeps changing column", repo.ErrorConflict, task.ID)
		}
		if task, err = s.repo.Get(ctx, task.ID); err != nil {
			return model.MoveResult{}, err
		}
	}
}

func (s *TaskService) moveLocked(ctx context.Context, actor model.Actor, caps model.Capabilities, task model.Task, target model.Status, index int, positional bool) (model.MoveResult, error) {
	var res model.MoveResult
	err := s.repo.WithPartitions(ctx, task.ProjectID, []model.Status{task.Status, target}, func(tx repo.PartitionTx) error {
		// Перечитываем под блокировкой: задачу могли удалить или переместить
		current, err := tx.Get(ctx, task.ID)
		if err != nil {
			return err
		}
		if current.Status != task.Status {
			return errStaleSource
		}

		dest, err := tx.Column(ctx, target)
		if err != nil {
			return err
		}
		others := without(dest, current.ID)

		at := len(others)
		if index != model.EndOfColumn {
			at = rank.Clamp(index, len(others))
		}
		reorders := false
		if target == current.Status && positional {
			reorders = at != indexOf(dest, current.ID)
		}

		decision := s.authz.CanMove(actor, caps, current, authz.Proposal{TargetStatus: target, Reorders: reorders})
		if !decision.Allowed {
			return &ForbiddenError{Reason: decision.Reason}
		}
		if decision.StatusOnly {
			at = len(others)
		}
		if target == current.Status && !reorders {
			// Позиция не меняется - ранг не трогаем
			col := model.NewColumn(target, dest)
			res = model.MoveResult{Task: current, Source: col, Destination: col}
			return nil
		}

		ranks := make([]float64, len(others))
		for i, t := range others {
			ranks[i] = t.Rank
		}
		placement := s.policy.Place(ranks, at)
		if placement.Renumbered != nil {
			updates := make([]repo.RankUpdate, len(others))
			for i, t := range others {
				updates[i] = repo.RankUpdate{TaskID: t.ID, Rank: placement.Renumbered[i]}
			}
			if err := tx.SetRanks(ctx, updates); err != nil {
				return err
			}
		}

		moved, err := tx.ApplyMove(ctx, current.ID, target, placement.Rank)
		if err != nil {
			return err
		}

		res, err = s.columns(ctx, tx, current.Status, target)
		if err != nil {
			return err
		}
		res.Task = moved
		res.Renumbered = placement.Renumbered != nil
		return nil
	})
	return res, err
}

func (s *TaskService) columns(ctx context.Context, tx repo.PartitionTx, source, dest model.Status) (model.MoveResult, error) {
	destTasks, err := tx.Column(ctx, dest)
	if err != nil {
		return model.MoveResult{}, err
	}
	res := model.MoveResult{Destination: model.NewColumn(dest, destTasks)}
	if source == dest {
		res.Source = res.Destination
		return res, nil
	}

	srcTasks, err := tx.Column(ctx, source)
	if err != nil {
		return model.MoveResult{}, err
	}
	res.Source = model.NewColumn(source, srcTasks)
	return res, nil
}

// Board returns every column of a project in display order, empty ones included.
func (s *TaskService) Board(ctx context.Context, projectID int64) ([]model.Column, error) {
	byStatus, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	cols := make([]model.Column, 0, len(model.Statuses()))
	for _, st := range model.Statuses() {
		cols = append(cols, model.NewColumn(st, byStatus[st]))
	}
	return cols, nil
}

func (s *TaskService) Get(ctx context.Context, id int64) (model.Task, error) {
	return s.repo.Get(ctx, id)
}

// Create appends a new task to the end of its initial column.
func (s *TaskService) Create(ctx context.Context, t model.Task, idempKey string) (model.Task, error) {
	if t.Status == "" {
		t.Status = model.StatusNew
	}
	if err := s.validate(t); err != nil { // Валидация модели на корректность введенных данных
		return t, err
	}

	if idempKey != "" { // Если ключ уже есть - возвращаем ранее созданную задачу
		if existingID, err := s.repo.GetIdempotencyKey(ctx, idempKey); err == nil {
			return s.repo.Get(ctx, existingID)
		}
	}

	var created model.Task
	err := s.repo.WithPartitions(ctx, t.ProjectID, []model.Status{t.Status}, func(tx repo.PartitionTx) error {
		col, err := tx.Column(ctx, t.Status)
		if err != nil {
			return err
		}
		ranks := make([]float64, len(col))
		for i, c := range col {
			ranks[i] = c.Rank
		}
		placement := s.policy.Append(ranks)
		if placement.Renumbered != nil {
			updates := make([]repo.RankUpdate, len(col))
			for i, c := range col {
				updates[i] = repo.RankUpdate{TaskID: c.ID, Rank: placement.Renumbered[i]}
			}
			if err := tx.SetRanks(ctx, updates); err != nil {
				return err
			}
		}
		t.Rank = placement.Rank
		created, err = tx.Insert(ctx, t)
		return err
	})
	if err != nil {
		return created, err
	}

	if idempKey != "" {
		if err := s.repo.SaveIdempotencyKey(ctx, idempKey, created.ID); err != nil {
			s.logger.Warn("failed to save idempotency key", zap.String("key", idempKey), zap.Error(err))
		}
	}
	return created, nil
}

// Delete removes the task. The column needs no rank cleanup.
func (s *TaskService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

var errAlreadyCompact = errors.New("partition already compact")

// CompactDense renumbers up to limit partitions whose neighbours have drifted
// closer than the policy's compaction spacing. Relative order is preserved.
func (s *TaskService) CompactDense(ctx context.Context, limit int) (int, error) {
	parts, err := s.repo.DensePartitions(ctx, s.policy.CompactSpacing, limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, p := range parts {
		err := s.repo.WithPartitions(ctx, p.ProjectID, []model.Status{p.Status}, func(tx repo.PartitionTx) error {
			col, err := tx.Column(ctx, p.Status)
			if err != nil {
				return err
			}
			current := make([]float64, len(col))
			for i, t := range col {
				current[i] = t.Rank
			}
			if !s.policy.Dense(current) {
				// Другой воркер уже успел
				return errAlreadyCompact
			}
			ranks := s.policy.Renumber(len(col))
			updates := make([]repo.RankUpdate, len(col))
			for i, t := range col {
				updates[i] = repo.RankUpdate{TaskID: t.ID, Rank: ranks[i]}
			}
			return tx.SetRanks(ctx, updates)
		})
		if errors.Is(err, errAlreadyCompact) {
			continue
		}
		if err != nil {
			return done, fmt.Errorf("compact %d/%s: %w", p.ProjectID, p.Status, err)
		}
		s.logger.Info("partition compacted", zap.Int64("project_id", p.ProjectID), zap.String("status", string(p.Status)))
		done++
	}
	return done, nil
}

func (s *TaskService) validate(t model.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrValidation)
	}
	if t.Priority < 1 || t.Priority > 10 {
		return fmt.Errorf("%w: priority must be in 1..10", ErrValidation)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}
	if t.ProjectID <= 0 {
		return fmt.Errorf("%w: project id required", ErrValidation)
	}
	return nil
}

func without(tasks []model.Task, id int64) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func indexOf(tasks []model.Task, id int64) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
