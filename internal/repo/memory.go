package repo

import (
	"context"
	"sync"
	"time"

	"github.com/BuzzLyutic/taskboard/internal/model"
)

// MemoryRepo keeps tasks in process memory. Writers serialize on
// per-partition mutexes taken in LockOrder; the staged writes of one
// WithPartitions call are published under a single lock so readers never see
// half a move.
type MemoryRepo struct {
	mu     sync.RWMutex
	tasks  map[int64]model.Task
	idem   map[string]int64
	nextID int64

	locksMu sync.Mutex
	locks   map[Partition]*sync.Mutex

	now func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tasks: make(map[int64]model.Task),
		idem:  make(map[string]int64),
		locks: make(map[Partition]*sync.Mutex),
		now:   time.Now,
	}
}

func (r *MemoryRepo) Get(ctx context.Context, id int64) (model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return model.Task{}, ErrorNotFound
	}
	return t, nil
}

func (r *MemoryRepo) ListByProject(ctx context.Context, projectID int64) (map[model.Status][]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0)
	for _, t := range r.tasks {
		if t.ProjectID == projectID {
			tasks = append(tasks, t)
		}
	}
	return groupByStatus(tasks), nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrorNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *MemoryRepo) SaveIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.idem[key]; !ok {
		r.idem[key] = resourceID
	}
	return nil
}

func (r *MemoryRepo) GetIdempotencyKey(ctx context.Context, key string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idem[key]
	if !ok {
		return 0, ErrorNotFound
	}
	return id, nil
}

func (r *MemoryRepo) WithPartitions(ctx context.Context, projectID int64, statuses []model.Status, fn func(tx PartitionTx) error) error {
	for _, s := range LockOrder(statuses) {
		l := r.partitionLock(Partition{ProjectID: projectID, Status: s})
		l.Lock()
		defer l.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memPartitionTx{repo: r, projectID: projectID, staged: make(map[int64]model.Task)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (r *MemoryRepo) DensePartitions(ctx context.Context, spacing float64, limit int) ([]Partition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byPartition := make(map[Partition][]model.Task)
	for _, t := range r.tasks {
		p := Partition{ProjectID: t.ProjectID, Status: t.Status}
		byPartition[p] = append(byPartition[p], t)
	}

	var out []Partition
	for p, tasks := range byPartition {
		if limit > 0 && len(out) >= limit {
			break
		}
		model.SortColumn(tasks)
		for i := 1; i < len(tasks); i++ {
			if tasks[i].Rank-tasks[i-1].Rank < spacing {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepo) partitionLock(p Partition) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[p]
	if !ok {
		l = &sync.Mutex{}
		r.locks[p] = l
	}
	return l
}

type memPartitionTx struct {
	repo      *MemoryRepo
	projectID int64
	staged    map[int64]model.Task
	inserted  []int64
}

func (tx *memPartitionTx) Get(ctx context.Context, id int64) (model.Task, error) {
	if t, ok := tx.staged[id]; ok {
		return t, nil
	}
	return tx.repo.Get(ctx, id)
}

func (tx *memPartitionTx) Column(ctx context.Context, status model.Status) ([]model.Task, error) {
	tx.repo.mu.RLock()
	col := make([]model.Task, 0)
	for id, t := range tx.repo.tasks {
		if _, ok := tx.staged[id]; ok {
			continue
		}
		if t.ProjectID == tx.projectID && t.Status == status {
			col = append(col, t)
		}
	}
	tx.repo.mu.RUnlock()

	for _, t := range tx.staged {
		if t.ProjectID == tx.projectID && t.Status == status {
			col = append(col, t)
		}
	}
	model.SortColumn(col)
	return col, nil
}

func (tx *memPartitionTx) Insert(ctx context.Context, t model.Task) (model.Task, error) {
	tx.repo.mu.Lock()
	tx.repo.nextID++
	t.ID = tx.repo.nextID
	tx.repo.mu.Unlock()

	now := tx.repo.now()
	t.ProjectID = tx.projectID
	t.Version = 1
	t.CreatedAt = now
	t.UpdatedAt = now
	tx.staged[t.ID] = t
	tx.inserted = append(tx.inserted, t.ID)
	return t, nil
}

func (tx *memPartitionTx) ApplyMove(ctx context.Context, taskID int64, status model.Status, rank float64) (model.Task, error) {
	t, err := tx.Get(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.ProjectID != tx.projectID {
		return model.Task{}, ErrorNotFound
	}
	t.Status = status
	t.Rank = rank
	t.Version++
	t.UpdatedAt = tx.repo.now()
	tx.staged[t.ID] = t
	return t, nil
}

func (tx *memPartitionTx) SetRanks(ctx context.Context, updates []RankUpdate) error {
	for _, u := range updates {
		t, err := tx.Get(ctx, u.TaskID)
		if err != nil {
			return err
		}
		t.Rank = u.Rank
		t.UpdatedAt = tx.repo.now()
		tx.staged[t.ID] = t
	}
	return nil
}

func (tx *memPartitionTx) commit() error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()

	isNew := make(map[int64]bool, len(tx.inserted))
	for _, id := range tx.inserted {
		isNew[id] = true
	}
	// Задачу могли удалить параллельно, пока мы держали блокировку партиции
	for id := range tx.staged {
		if _, ok := tx.repo.tasks[id]; !ok && !isNew[id] {
			return ErrorNotFound
		}
	}
	for id, t := range tx.staged {
		tx.repo.tasks[id] = t
	}
	return nil
}
