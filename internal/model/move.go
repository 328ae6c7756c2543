package model

// Actor is the authenticated caller as supplied by the auth collaborator.
type Actor struct {
	ID string `json:"id"`
}

// Capabilities is what the authorization collaborator knows about an actor.
// Task ownership is derived from Task.AssigneeID, so only the project
// management scope is carried here.
type Capabilities struct {
	ManagedProjects []int64 `json:"managed_projects"`
}

func (c Capabilities) Manages(projectID int64) bool {
	for _, id := range c.ManagedProjects {
		if id == projectID {
			return true
		}
	}
	return false
}

// EndOfColumn as a target index places the task after every other task.
// Any other negative index is clamped to the head of the column.
const EndOfColumn = -1

type MoveRequest struct {
	TaskID       int64  `json:"task_id"`
	TargetStatus Status `json:"target_status"`
	TargetIndex  int    `json:"target_index"`
}

// MoveResult carries the authoritative post-move columns. Source and
// Destination are the same column when the status did not change.
type MoveResult struct {
	Task        Task   `json:"task"`
	Source      Column `json:"source_column"`
	Destination Column `json:"destination_column"`
	Renumbered  bool   `json:"renumbered"`
}

// DenyReason enumerates why a move was refused.
type DenyReason string

const (
	ReasonNone                   DenyReason = ""
	ReasonNotYourTask            DenyReason = "not_your_task"
	ReasonReorderRequiresManager DenyReason = "reorder_requires_manager"
	ReasonUnknownStatus          DenyReason = "unknown_status"
	ReasonAnonymous              DenyReason = "anonymous"
)

var reasonMessages = map[DenyReason]string{
	ReasonNotYourTask:            "not your task",
	ReasonReorderRequiresManager: "only the project manager can reorder this column",
	ReasonUnknownStatus:          "unknown status",
	ReasonAnonymous:              "you must be signed in to move tasks",
}

// Message is the user-facing text for the reason.
func (r DenyReason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}
