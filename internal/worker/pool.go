package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Compactor renumbers board partitions whose ranks have drifted too close.
type Compactor interface {
	CompactDense(ctx context.Context, limit int) (int, error)
}

// Pool runs background rank compaction so interactive moves rarely have to
// renumber a whole column themselves.
type Pool struct {
	compactor Compactor
	logger    *zap.Logger
	count     int
	interval  time.Duration
	batch     int
	wg        sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewPool(c Compactor, logger *zap.Logger, count int, interval time.Duration, batch int) *Pool {
	if count < 1 {
		count = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Pool{
		compactor: c,
		logger:    logger,
		count:     count,
		interval:  interval,
		batch:     batch,
		stop:      make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting compactor pool", zap.Int("workers", p.count), zap.Duration("interval", p.interval))

	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) Stop() {
	p.logger.Info("Stopping compactor pool...")
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.logger.Info("Compactor pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx, id)
		}
	}
}

func (p *Pool) runOnce(ctx context.Context, workerID int) {
	n, err := p.compactor.CompactDense(ctx, p.batch)
	if err != nil {
		// Конфликт с параллельным перемещением не страшен - повторим на следующем тике
		p.logger.Warn("compaction failed", zap.Int("worker", workerID), zap.Error(err))
	}
	if n > 0 {
		p.logger.Info("Partitions compacted", zap.Int("worker", workerID), zap.Int("count", n))
	}
}
