package board

import "github.com/BuzzLyutic/taskboard/internal/model"

const EndOfColumn = model.EndOfColumn

// DragEnd is what the UI reports when a drag finishes. Column is empty when
// the pointer was outside every column. Index is the drop position among the
// column's other tasks, or negative for empty space below them.
type DragEnd struct {
	TaskID int64
	Column model.Status
	Index  int
}

// Translate turns a finished drag into a move request. It reports false for
// drops that do not target a column.
func Translate(d DragEnd) (model.MoveRequest, bool) {
	if d.TaskID == 0 || !d.Column.Valid() {
		return model.MoveRequest{}, false
	}
	index := d.Index
	if index < 0 {
		index = EndOfColumn
	}
	return model.MoveRequest{TaskID: d.TaskID, TargetStatus: d.Column, TargetIndex: index}, true
}
