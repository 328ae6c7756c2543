package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BuzzLyutic/taskboard/internal/model"
)

var (
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")
)

const taskColumns = `id, project_id, title, status, rank, assignee_id, priority, version, created_at, updated_at`

type TaskRepo struct { // Репозиторий для работы непосредственно с БД
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{
		pool: pool,
	}
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Status, &t.Rank, &t.AssigneeID,
		&t.Priority, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (r *TaskRepo) Get(ctx context.Context, id int64) (model.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrorNotFound
	}
	return t, err
}

func (r *TaskRepo) ListByProject(ctx context.Context, projectID int64) (map[model.Status][]model.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id = $1
		ORDER BY status, rank, id
	`, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	return groupByStatus(tasks), nil
}

func (r *TaskRepo) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrorNotFound
	}
	return nil
}

func (r *TaskRepo) SaveIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, resource_id) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, resourceID)
	return err
}

func (r *TaskRepo) GetIdempotencyKey(ctx context.Context, key string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		SELECT resource_id FROM idempotency_keys WHERE key = $1
	`, key).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrorNotFound
	}
	return id, err
}

func (r *TaskRepo) WithPartitions(ctx context.Context, projectID int64, statuses []model.Status, fn func(tx PartitionTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return r.mapError(err)
	}
	defer tx.Rollback(ctx) // после Commit ничего не делает

	// Блокировки берутся в фиксированном порядке и живут до конца транзакции
	for _, s := range LockOrder(statuses) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text || '/' || $2, 0))`, projectID, string(s)); err != nil {
			return r.mapError(fmt.Errorf("lock partition %d/%s: %w", projectID, s, err))
		}
	}

	if err := fn(&pgPartitionTx{tx: tx, projectID: projectID}); err != nil {
		return r.mapError(err)
	}
	return r.mapError(tx.Commit(ctx))
}

func (r *TaskRepo) DensePartitions(ctx context.Context, spacing float64, limit int) ([]Partition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT project_id, status
		FROM (
			SELECT project_id, status,
			       rank - lag(rank) OVER (PARTITION BY project_id, status ORDER BY rank, id) AS spacing
			FROM tasks
		) s
		WHERE spacing IS NOT NULL AND spacing < $1
		LIMIT $2
	`, spacing, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Partition
	for rows.Next() {
		var p Partition
		if err := rows.Scan(&p.ProjectID, &p.Status); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *TaskRepo) mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01": // unique_violation, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrorConflict, pgErr.Message)
		}
	}
	return err
}

type pgPartitionTx struct {
	tx        pgx.Tx
	projectID int64
}

func (p *pgPartitionTx) Get(ctx context.Context, id int64) (model.Task, error) {
	t, err := scanTask(p.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrorNotFound
	}
	return t, err
}

func (p *pgPartitionTx) Column(ctx context.Context, status model.Status) ([]model.Task, error) {
	rows, err := p.tx.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id = $1 AND status = $2
		ORDER BY rank, id
	`, p.projectID, status)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (p *pgPartitionTx) Insert(ctx context.Context, t model.Task) (model.Task, error) {
	return scanTask(p.tx.QueryRow(ctx, `
		INSERT INTO tasks (project_id, title, status, rank, assignee_id, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+taskColumns,
		p.projectID, t.Title, t.Status, t.Rank, t.AssigneeID, t.Priority,
	))
}

func (p *pgPartitionTx) ApplyMove(ctx context.Context, taskID int64, status model.Status, rank float64) (model.Task, error) {
	t, err := scanTask(p.tx.QueryRow(ctx, `
		UPDATE tasks
		SET status = $2, rank = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND project_id = $4
		RETURNING `+taskColumns,
		taskID, status, rank, p.projectID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrorNotFound
	}
	return t, err
}

func (p *pgPartitionTx) SetRanks(ctx context.Context, updates []RankUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	// uq_tasks_partition_rank отложенный (DEFERRABLE), промежуточные совпадения рангов допустимы до COMMIT
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE tasks SET rank = $2, updated_at = now() WHERE id = $1`, u.TaskID, u.Rank)
	}
	return p.tx.SendBatch(ctx, batch).Close()
}

func collectTasks(rows pgx.Rows) ([]model.Task, error) {
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
