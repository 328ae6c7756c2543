// Package authz decides whether an actor may move a task on the board.
// It holds no state and performs no I/O: capability data is looked up by the
// caller and passed in.
package authz

import "github.com/BuzzLyutic/taskboard/internal/model"

// Proposal describes the change an actor asks for.
type Proposal struct {
	TargetStatus model.Status
	// Reorders is true when the task stays in its column but changes
	// position relative to the other tasks there.
	Reorders bool
}

type Decision struct {
	Allowed bool
	Reason  model.DenyReason
	// StatusOnly restricts an allowed move to a status change: the task is
	// appended to the destination column rather than placed at the
	// requested index.
	StatusOnly bool
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r model.DenyReason) Decision { return Decision{Reason: r} }

type Authorizer struct{}

func New() Authorizer { return Authorizer{} }

func (Authorizer) CanMove(actor model.Actor, caps model.Capabilities, task model.Task, p Proposal) Decision {
	if actor.ID == "" {
		return deny(model.ReasonAnonymous)
	}
	if !p.TargetStatus.Valid() {
		return deny(model.ReasonUnknownStatus)
	}

	if caps.Manages(task.ProjectID) {
		return allow()
	}

	if !task.AssignedTo(actor.ID) {
		return deny(model.ReasonNotYourTask)
	}

	// Исполнитель может менять статус своей задачи, но не приоритет относительно чужих
	if p.TargetStatus == task.Status {
		if p.Reorders {
			return deny(model.ReasonReorderRequiresManager)
		}
		return allow()
	}
	return Decision{Allowed: true, StatusOnly: true}
}
