package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

// QueryRunner is the external query-execution client consumed by the
// executor. Timeout and retry semantics belong to the implementation.
type QueryRunner interface {
	ExecuteQuery(ctx context.Context, q query.QueryDefinition, bypassCache bool) (*query.QueryResult, error)
}

// StateSink receives per-widget state transitions from executions. The
// store implements it; tests substitute their own.
type StateSink interface {
	MarkLoading(widgetID uuid.UUID, generation uint64)
	CommitResult(widgetID uuid.UUID, generation uint64, result *query.QueryResult, refreshedAt time.Time)
	CommitError(widgetID uuid.UUID, generation uint64, err error)
}

// Executor runs one widget's compiled query and commits the outcome as
// state. It never lets a failure escape: an error or panic in one widget's
// execution must not abort sibling executions in the same batch.
type Executor struct {
	runner QueryRunner
	sink   StateSink
	logger *logrus.Logger
	now    func() time.Time
}

func NewExecutor(runner QueryRunner, sink StateSink, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{
		runner: runner,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Execute compiles and runs the widget's query, committing the outcome to
// the sink. Widgets without a query (text widgets) are a no-op.
func (e *Executor) Execute(
	ctx context.Context,
	w *dashboard.Widget,
	d *dashboard.Dashboard,
	values query.ValueMap,
	events []query.CrossFilterEvent,
	bypassCache bool,
	generation uint64,
) {
	if w.Query == nil {
		return
	}

	e.sink.MarkLoading(w.ID, generation)

	compiled := query.CompileFilters(*w.Query, d.CompilerFilters(), values, e.logger)
	compiled = query.CompileCrossFilters(compiled, events, w.ID)

	result, err := e.run(ctx, compiled, bypassCache)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"widget_id":    w.ID,
			"widget_type":  w.Type,
			"dashboard_id": d.ID,
		}).Error("Widget query failed")
		e.sink.CommitError(w.ID, generation, err)
		return
	}

	refreshedAt := e.now()
	if result.CachedAt > 0 {
		refreshedAt = time.Unix(result.CachedAt, 0)
	}

	e.logger.WithFields(logrus.Fields{
		"widget_id": w.ID,
		"rows":      result.RowCount,
		"bypass":    bypassCache,
	}).Debug("Widget query completed")
	e.sink.CommitResult(w.ID, generation, result, refreshedAt)
}

// run calls the query client, converting a panic into an ordinary error so
// sibling widgets in the batch keep running.
func (e *Executor) run(ctx context.Context, q query.QueryDefinition, bypassCache bool) (result *query.QueryResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("query execution panicked: %v", r)
		}
	}()

	result, err = e.runner.ExecuteQuery(ctx, q, bypassCache)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("query engine returned no result")
	}
	return result, nil
}
