package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/cache"
	"github.com/statisfy-us/prismiq-sub001/pkg/logger"
)

// Scheduler runs periodic maintenance on the dashboard metadata cache.
// Expired entries are otherwise only dropped when touched; the purge
// reclaims entries for dashboards nobody opens again.
type Scheduler struct {
	metaCache *cache.TTLCache
	interval  time.Duration
	logger    *logger.Logger
	stop      chan struct{}
}

func NewScheduler(metaCache *cache.TTLCache, interval time.Duration, logger *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		metaCache: metaCache,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.logger.Info("Cache maintenance scheduler initialized",
		zap.Duration("interval", s.interval),
	)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runPurge()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) runPurge() {
	purged := s.metaCache.PurgeExpired()

	if purged > 0 {
		s.logger.Info("Purged expired dashboard metadata",
			zap.Int("purged", purged),
			zap.Int("remaining", s.metaCache.Len()),
		)
	}
}
