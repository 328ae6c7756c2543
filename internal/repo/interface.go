package repo

import (
	"context"
	"sort"

	"github.com/BuzzLyutic/taskboard/internal/model"
)

// TaskRepository - хранилище задач доски. Порядок и права не проверяет, это делает сервис
type TaskRepository interface {
	Get(ctx context.Context, id int64) (model.Task, error)
	ListByProject(ctx context.Context, projectID int64) (map[model.Status][]model.Task, error)
	Delete(ctx context.Context, id int64) error
	SaveIdempotencyKey(ctx context.Context, key string, resourceID int64) error
	GetIdempotencyKey(ctx context.Context, key string) (int64, error)
	// WithPartitions runs fn while holding the mutation locks of the given
	// (projectID, status) partitions. Everything fn writes commits atomically
	// or not at all.
	WithPartitions(ctx context.Context, projectID int64, statuses []model.Status, fn func(tx PartitionTx) error) error
	// DensePartitions lists partitions holding neighbours closer than spacing.
	DensePartitions(ctx context.Context, spacing float64, limit int) ([]Partition, error)
}

// PartitionTx is the view of the store inside WithPartitions.
type PartitionTx interface {
	Get(ctx context.Context, id int64) (model.Task, error)
	Column(ctx context.Context, status model.Status) ([]model.Task, error)
	Insert(ctx context.Context, t model.Task) (model.Task, error)
	ApplyMove(ctx context.Context, taskID int64, status model.Status, rank float64) (model.Task, error)
	SetRanks(ctx context.Context, updates []RankUpdate) error
}

type RankUpdate struct {
	TaskID int64
	Rank   float64
}

type Partition struct {
	ProjectID int64        `json:"project_id"`
	Status    model.Status `json:"status"`
}

// LockOrder dedupes statuses and sorts them lexicographically. Every writer
// takes partition locks in this order so opposite cross-column moves cannot
// deadlock.
func LockOrder(statuses []model.Status) []model.Status {
	seen := make(map[model.Status]struct{}, len(statuses))
	out := make([]model.Status, 0, len(statuses))
	for _, s := range statuses {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func groupByStatus(tasks []model.Task) map[model.Status][]model.Task {
	out := make(map[model.Status][]model.Task)
	for _, t := range tasks {
		out[t.Status] = append(out[t.Status], t)
	}
	for s := range out {
		model.SortColumn(out[s])
	}
	return out
}
