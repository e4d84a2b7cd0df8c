package orchestrator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

const defaultBatchSize = 4

// BatchScheduler fans widget executions out in consecutive chunks of
// bounded size. Within a chunk executions overlap freely; a chunk must
// fully settle, failures included, before the next one starts. That is the
// only ordering boundary.
type BatchScheduler struct {
	executor *Executor
	logger   *logrus.Logger
}

func NewBatchScheduler(executor *Executor, logger *logrus.Logger) *BatchScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &BatchScheduler{executor: executor, logger: logger}
}

// RunAll executes every query-bearing widget in chunks of batchSize.
// Failures are committed as widget state by the executor, never returned,
// so one broken widget cannot abort its siblings.
func (s *BatchScheduler) RunAll(
	ctx context.Context,
	widgets []dashboard.Widget,
	d *dashboard.Dashboard,
	values query.ValueMap,
	events []query.CrossFilterEvent,
	bypassCache bool,
	batchSize int,
	generation uint64,
) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	runnable := make([]*dashboard.Widget, 0, len(widgets))
	for i := range widgets {
		if widgets[i].Query != nil {
			runnable = append(runnable, &widgets[i])
		}
	}
	if len(runnable) == 0 {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"dashboard_id": d.ID,
		"widgets":      len(runnable),
		"batch_size":   batchSize,
		"bypass":       bypassCache,
	}).Info("Running widget batch")

	for start := 0; start < len(runnable); start += batchSize {
		end := start + batchSize
		if end > len(runnable) {
			end = len(runnable)
		}
		chunk := runnable[start:end]

		var wg sync.WaitGroup
		wg.Add(len(chunk))
		for _, w := range chunk {
			go func(w *dashboard.Widget) {
				defer wg.Done()
				s.executor.Execute(ctx, w, d, values, events, bypassCache, generation)
			}(w)
		}
		// Chunk barrier: the next chunk must not start before every
		// member settled.
		wg.Wait()
	}
}

// RunOne executes a single widget, delegating straight to the executor.
func (s *BatchScheduler) RunOne(
	ctx context.Context,
	w *dashboard.Widget,
	d *dashboard.Dashboard,
	values query.ValueMap,
	events []query.CrossFilterEvent,
	bypassCache bool,
	generation uint64,
) {
	s.executor.Execute(ctx, w, d, values, events, bypassCache, generation)
}
