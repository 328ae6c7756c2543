package board

import (
	"context"
	"errors"

	"github.com/BuzzLyutic/taskboard/internal/model"
)

// Failure kinds a MoveClient reports. Anything else (transport errors,
// timeouts, server faults) is handled like an exhausted conflict.
var (
	ErrNotFound = errors.New("task not found")
	ErrConflict = errors.New("move conflict")
)

var (
	ErrMoveInFlight = errors.New("a move is already in flight")
	ErrNotDragging  = errors.New("no drag in progress")
	ErrUnknownTask  = errors.New("task is not on the board")
)

// MessageRetry is shown when a move could not be confirmed.
const MessageRetry = "could not save, try again"

// ForbiddenError is a denial with the reason to show the user.
type ForbiddenError struct {
	Reason  model.DenyReason
	Message string
}

func (e *ForbiddenError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Reason.Message()
}

// MoveClient is the transport to the move coordinator.
type MoveClient interface {
	Move(ctx context.Context, req model.MoveRequest) (model.MoveResult, error)
	Board(ctx context.Context, projectID int64) ([]model.Column, error)
}
