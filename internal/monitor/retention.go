package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/metrics"
)

// Pruner 为可按批清理的存储，由 *storage.Storage 实现。
type Pruner interface {
	DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteRunRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

type deleteFunc func(ctx context.Context, before time.Time, limit int) (int64, error)

type RetentionCollector struct {
	cfg RetentionConfig

	store  Pruner
	logger *zap.Logger
	now    func() time.Time
}

func NewRetentionCollector(store Pruner, logger *zap.Logger) (*RetentionCollector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &RetentionCollector{
		store:  store,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *RetentionCollector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	if err := c.runOnce(ctx, c.now()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.runOnce(ctx, c.now()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// runOnce 两张表并行清理，各自分批删除直到没有过期行。
func (c *RetentionCollector) runOnce(ctx context.Context, now time.Time) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}

	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			return c.deleteBefore(ctx, "audit_records", c.store.DeleteAuditRecordsBeforeLimited, now.Add(-c.cfg.AuditKeep))
		},
		func(ctx context.Context) error {
			return c.deleteBefore(ctx, "run_records", c.store.DeleteRunRecordsBeforeLimited, now.Add(-c.cfg.RunKeep))
		},
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < len(tasks); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			c.cfg.OnError(err)
			return err
		}
	}
	return nil
}

func (c *RetentionCollector) deleteBefore(ctx context.Context, table string, del deleteFunc, before time.Time) error {
	var total int64
	defer func() {
		if total > 0 {
			c.logger.Info("retention pruned rows", zap.String("table", table), zap.Int64("rows", total), zap.Time("before", before))
		}
	}()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		affected, err := del(ctx, before, c.cfg.BatchRows)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		total += affected
		metrics.RetentionDeletedTotal.WithLabelValues(table).Add(float64(affected))
		if err := c.sleepIdle(ctx); err != nil {
			return err
		}
	}
}

func (c *RetentionCollector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
