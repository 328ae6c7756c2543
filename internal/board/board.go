// Package board is the client side of the move pipeline: an owned cache of
// one project's columns plus the controller that applies drags optimistically
// and reconciles them with the server.
package board

import (
	"github.com/BuzzLyutic/taskboard/internal/model"
	"github.com/BuzzLyutic/taskboard/internal/rank"
)

// Snapshot is a deep copy of the board: status -> tasks in display order.
type Snapshot map[model.Status][]model.Task

// Board caches the columns of a single project. It is hydrated on project
// load, replaced on every reconciliation and dropped on navigation away.
// Board is not safe for concurrent use; Controller serializes access.
type Board struct {
	ProjectID int64
	columns   map[model.Status][]model.Task
}

func New(projectID int64) *Board {
	b := &Board{ProjectID: projectID}
	b.Hydrate(nil)
	return b
}

// Hydrate replaces the whole board. Statuses missing from cols are empty.
func (b *Board) Hydrate(cols []model.Column) {
	b.columns = make(map[model.Status][]model.Task, len(model.Statuses()))
	for _, st := range model.Statuses() {
		b.columns[st] = []model.Task{}
	}
	for _, col := range cols {
		b.columns[col.Status] = ordered(col.Tasks)
	}
}

// Column returns a copy of one column in display order.
func (b *Board) Column(status model.Status) []model.Task {
	return clone(b.columns[status])
}

func (b *Board) Snapshot() Snapshot {
	snap := make(Snapshot, len(b.columns))
	for st, tasks := range b.columns {
		snap[st] = clone(tasks)
	}
	return snap
}

// Locate finds a task's column and position.
func (b *Board) Locate(taskID int64) (model.Status, int, bool) {
	for st, tasks := range b.columns {
		for i, t := range tasks {
			if t.ID == taskID {
				return st, i, true
			}
		}
	}
	return "", 0, false
}

// Replace adopts authoritative columns. Replacing with the same columns
// again leaves the board unchanged.
func (b *Board) Replace(cols ...model.Column) {
	known := make(map[int64]model.Task)
	for _, tasks := range b.columns {
		for _, t := range tasks {
			known[t.ID] = t
		}
	}

	incoming := make(map[int64]bool)
	resolved := make([][]model.Task, len(cols))
	for i, col := range cols {
		tasks := col.Tasks
		if len(tasks) == 0 && len(col.TaskIDs) > 0 {
			// Ответ только с id: порядок берем с сервера, содержимое из кэша
			tasks = make([]model.Task, 0, len(col.TaskIDs))
			for _, id := range col.TaskIDs {
				if t, ok := known[id]; ok {
					t.Status = col.Status
					tasks = append(tasks, t)
				}
			}
			resolved[i] = tasks
		} else {
			resolved[i] = ordered(tasks)
		}
		for _, t := range resolved[i] {
			incoming[t.ID] = true
		}
	}

	// Задача не может одновременно жить в двух колонках
	for st, tasks := range b.columns {
		kept := tasks[:0:0]
		for _, t := range tasks {
			if !incoming[t.ID] {
				kept = append(kept, t)
			}
		}
		b.columns[st] = kept
	}
	for i, col := range cols {
		b.columns[col.Status] = resolved[i]
	}
}

// Remove drops a task from whichever column holds it.
func (b *Board) Remove(taskID int64) bool {
	st, i, ok := b.Locate(taskID)
	if !ok {
		return false
	}
	tasks := b.columns[st]
	b.columns[st] = append(clone(tasks[:i]), tasks[i+1:]...)
	return true
}

// restore puts the given columns of snap back verbatim.
func (b *Board) restore(snap Snapshot, statuses ...model.Status) {
	for _, st := range statuses {
		b.columns[st] = clone(snap[st])
	}
}

// apply moves a task locally the way the server would: index counts
// positions with the task removed, EndOfColumn means the end of the column.
func (b *Board) apply(p rank.Policy, taskID int64, target model.Status, index int) (model.Status, bool) {
	source, at, ok := b.Locate(taskID)
	if !ok {
		return "", false
	}
	task := b.columns[source][at]
	b.Remove(taskID)

	others := b.columns[target]
	if index == EndOfColumn {
		index = len(others)
	}
	ranks := make([]float64, len(others))
	for i, t := range others {
		ranks[i] = t.Rank
	}
	placement := p.Place(ranks, index)
	if placement.Renumbered != nil {
		others = clone(others)
		for i := range others {
			others[i].Rank = placement.Renumbered[i]
		}
	}

	task.Status = target
	task.Rank = placement.Rank
	b.columns[target] = ordered(append(clone(others), task))
	return source, true
}

func ordered(tasks []model.Task) []model.Task {
	out := clone(tasks)
	model.SortColumn(out)
	return out
}

func clone(tasks []model.Task) []model.Task {
	out := make([]model.Task, len(tasks))
	copy(out, tasks)
	return out
}
