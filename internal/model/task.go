package model

import (
	"sort"
	"time"
)

type Task struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"project_id"`
	Title      string    `json:"title"`
	Status     Status    `json:"status"`
	Rank       float64   `json:"rank"`
	AssigneeID *string   `json:"assignee_id,omitempty"`
	Priority   int       `json:"priority"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AssignedTo сообщает, назначена ли задача на actorID
func (t Task) AssignedTo(actorID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == actorID
}

// Less задает порядок внутри колонки: rank по возрастанию, при равенстве - id
func Less(a, b Task) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ID < b.ID
}

func SortColumn(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return Less(tasks[i], tasks[j]) })
}

// Column is one status partition of a project's board in display order.
type Column struct {
	Status  Status  `json:"status"`
	TaskIDs []int64 `json:"task_ids"`
	Tasks   []Task  `json:"tasks"`
}

func NewColumn(status Status, tasks []Task) Column {
	col := Column{
		Status:  status,
		TaskIDs: make([]int64, 0, len(tasks)),
		Tasks:   make([]Task, 0, len(tasks)),
	}
	col.Tasks = append(col.Tasks, tasks...)
	SortColumn(col.Tasks)
	for _, t := range col.Tasks {
		col.TaskIDs = append(col.TaskIDs, t.ID)
	}
	return col
}
