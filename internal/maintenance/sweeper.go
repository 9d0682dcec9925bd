// Package maintenance removes tenders whose application deadline has passed.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/monitoring"
)

type ExpiredStore interface {
	DeleteExpired(ctx context.Context, category domain.Category, now time.Time) ([]string, error)
}

type CacheEvictor interface {
	Delete(ctx context.Context, tenderIDs ...string) error
}

type FolderRemover interface {
	RemoveFolders(ctx context.Context, folder string, tenderIDs []string) error
}

// Sweeper deletes expired rows, their cache entries and their archived images.
type Sweeper struct {
	store   ExpiredStore
	cache   CacheEvictor
	folders FolderRemover
	names   map[domain.Category]string
	metrics *monitoring.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewSweeper(store ExpiredStore, cache CacheEvictor, folders FolderRemover, folderNames map[domain.Category]string, m *monitoring.Metrics, l *zap.Logger) *Sweeper {
	return &Sweeper{
		store:   store,
		cache:   cache,
		folders: folders,
		names:   folderNames,
		metrics: m,
		logger:  l,
		now:     time.Now,
	}
}

// Sweep runs one pass over every category and returns the number of deleted tenders.
// Cache and archive cleanup failures are logged; only store errors are returned.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	var errs []error
	for _, category := range domain.Categories {
		log := s.logger.With(zap.String("category", category.String()))

		ids, err := s.store.DeleteExpired(ctx, category, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete expired %s: %w", category, err))
			s.metrics.IncErrorsTotal("sweep_failed")
			continue
		}
		if len(ids) == 0 {
			continue
		}
		total += len(ids)
		log.Info("expired tenders deleted", zap.Int("count", len(ids)))

		if err := s.cache.Delete(ctx, ids...); err != nil {
			log.Warn("failed to evict expired tenders from cache", zap.Error(err))
		}
		if err := s.folders.RemoveFolders(ctx, s.names[category], ids); err != nil {
			log.Warn("failed to remove archived images", zap.Error(err))
			s.metrics.IncErrorsTotal("sweep_folders_failed")
		}
	}
	return total, errors.Join(errs...)
}

// RunEvery sweeps immediately and then on every tick until ctx ends.
// A non-positive interval sweeps once.
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("sweep interval is not positive, sweeping once", zap.Duration("interval", interval))
		s.sweepAndLog(ctx)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.sweepAndLog(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	if n, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("sweep finished", zap.Int("deleted", n))
	}
}
