package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskboard/internal/model"
)

// CachedRepo wraps a TaskRepository with a Redis read-through cache for
// whole-board reads. Boards are cached under the project's generation;
// every write that goes through the wrapper bumps the generation, so a read
// that started before the write can never publish its result to later
// readers. Redis failures fall back to the wrapped store.
type CachedRepo struct {
	TaskRepository
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var errGenerationMoved = errors.New("board generation moved")

func NewCachedRepo(base TaskRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedRepo {
	if base == nil {
		panic("repo.NewCachedRepo: base repository is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRepo{
		TaskRepository: base,
		redis:          client,
		ttl:            ttl,
		logger:         logger,
	}
}

func (c *CachedRepo) ListByProject(ctx context.Context, projectID int64) (map[model.Status][]model.Task, error) {
	gen, ok := c.generation(ctx, projectID)
	if !ok {
		return c.TaskRepository.ListByProject(ctx, projectID)
	}
	if board, ok := c.load(ctx, projectID, gen); ok {
		return board, nil
	}

	board, err := c.TaskRepository.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, projectID, gen, board)
	return board, nil
}

func (c *CachedRepo) WithPartitions(ctx context.Context, projectID int64, statuses []model.Status, fn func(tx PartitionTx) error) error {
	err := c.TaskRepository.WithPartitions(ctx, projectID, statuses, fn)
	if err == nil {
		c.bump(ctx, projectID)
	}
	return err
}

func (c *CachedRepo) Delete(ctx context.Context, id int64) error {
	t, err := c.TaskRepository.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.TaskRepository.Delete(ctx, id); err != nil {
		return err
	}
	c.bump(ctx, t.ProjectID)
	return nil
}

// Generation returns the project's current cache generation. A project
// that was never written through the cache is at generation 0.
func (c *CachedRepo) Generation(ctx context.Context, projectID int64) (int64, error) {
	if c.redis == nil {
		return 0, errors.New("board cache disabled")
	}
	gen, err := c.redis.Get(ctx, GenerationKey(projectID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *CachedRepo) generation(ctx context.Context, projectID int64) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.Generation(ctx, projectID)
	if err != nil {
		c.logger.Warn("board cache generation read failed", zap.Int64("project_id", projectID), zap.Error(err))
		return 0, false
	}
	return gen, true
}

func (c *CachedRepo) load(ctx context.Context, projectID, gen int64) (map[model.Status][]model.Task, bool) {
	key := BoardCacheKey(projectID, gen)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("board cache read failed", zap.Int64("project_id", projectID), zap.Error(err))
		}
		return nil, false
	}
	var board map[model.Status][]model.Task
	if err := json.Unmarshal(data, &board); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return board, true
}

// store saves board only if no write has bumped the generation since gen
// was read.
func (c *CachedRepo) store(ctx context.Context, projectID, gen int64, board map[model.Status][]model.Task) {
	if c.ttl == 0 {
		return
	}
	data, err := json.Marshal(board)
	if err != nil {
		return
	}

	genKey := GenerationKey(projectID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if errors.Is(err, redis.Nil) {
			cur, err = 0, nil
		}
		if err != nil {
			return err
		}
		if cur != gen {
			return errGenerationMoved
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, BoardCacheKey(projectID, gen), data, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errGenerationMoved), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("board changed while reading, not cached", zap.Int64("project_id", projectID))
	default:
		c.logger.Warn("board cache write failed", zap.Int64("project_id", projectID), zap.Error(err))
	}
}

func (c *CachedRepo) bump(ctx context.Context, projectID int64) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Incr(ctx, GenerationKey(projectID)).Err(); err != nil {
		c.logger.Warn("board cache invalidation failed", zap.Int64("project_id", projectID), zap.Error(err))
	}
}

func GenerationKey(projectID int64) string {
	return "board:" + strconv.FormatInt(projectID, 10) + ":gen"
}

func BoardCacheKey(projectID, gen int64) string {
	return "board:" + strconv.FormatInt(projectID, 10) + ":" + strconv.FormatInt(gen, 10)
}
