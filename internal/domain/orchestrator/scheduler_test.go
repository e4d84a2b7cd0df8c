package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

// concurrencyRunner tracks the peak number of in-flight executions.
type concurrencyRunner struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	calls    int
	barrier  chan struct{}
}

func (r *concurrencyRunner) ExecuteQuery(ctx context.Context, q query.QueryDefinition, bypassCache bool) (*query.QueryResult, error) {
	r.mu.Lock()
	r.inFlight++
	r.calls++
	if r.inFlight > r.peak {
		r.peak = r.inFlight
	}
	r.mu.Unlock()

	if r.barrier != nil {
		<-r.barrier
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return &query.QueryResult{RowCount: 1}, nil
}

func TestRunAllRespectsBatchSize(t *testing.T) {
	widgets := []dashboard.Widget{
		queryWidget("w1"), queryWidget("w2"), queryWidget("w3"),
		queryWidget("w4"), queryWidget("w5"),
	}
	d := testDashboard(widgets...)

	// Every execution parks on the barrier until we release a full chunk,
	// so peak concurrency is measured at the chunk boundary.
	runner := &concurrencyRunner{barrier: make(chan struct{})}
	sink := newRecordSink()
	s := NewBatchScheduler(NewExecutor(runner, sink, testLogger()), testLogger())

	done := make(chan struct{})
	go func() {
		s.RunAll(context.Background(), widgets, d, nil, nil, false, 2, 1)
		close(done)
	}()

	// Chunks of [2, 2, 1]: release five executions one at a time.
	for i := 0; i < 5; i++ {
		runner.barrier <- struct{}{}
	}
	<-done

	assert.Equal(t, 5, runner.calls)
	assert.LessOrEqual(t, runner.peak, 2, "no more than batchSize executions may overlap")
	assert.Len(t, sink.results, 5)
}

func TestRunAllSkipsTextWidgets(t *testing.T) {
	text := dashboard.Widget{Type: dashboard.WidgetText, Title: "Notes"}
	w := queryWidget("Revenue")
	d := testDashboard(text, w)

	runner := &fakeRunner{}
	sink := newRecordSink()
	s := NewBatchScheduler(NewExecutor(runner, sink, testLogger()), testLogger())

	s.RunAll(context.Background(), d.Widgets, d, nil, nil, false, 4, 1)

	assert.Equal(t, 1, runner.calls())
}

func TestRunAllFailureDoesNotAbortSiblings(t *testing.T) {
	bad := queryWidget("Broken")
	good := queryWidget("Fine")
	d := testDashboard(bad, good)

	// Only the first widget fails.
	runner := &fakeRunner{}
	calls := 0
	var mu sync.Mutex
	runner.execFn = func(q query.QueryDefinition, bypassCache bool) (*query.QueryResult, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return nil, errors.New("boom")
		}
		return &query.QueryResult{RowCount: 2}, nil
	}

	sink := newRecordSink()
	s := NewBatchScheduler(NewExecutor(runner, sink, testLogger()), testLogger())

	s.RunAll(context.Background(), d.Widgets, d, nil, nil, false, 1, 1)

	assert.Len(t, sink.errs, 1)
	assert.Len(t, sink.results, 1)
}

func TestRunAllEmptyDashboard(t *testing.T) {
	d := testDashboard()
	runner := &fakeRunner{}
	s := NewBatchScheduler(NewExecutor(runner, newRecordSink(), testLogger()), testLogger())

	assert.NotPanics(t, func() {
		s.RunAll(context.Background(), nil, d, nil, nil, false, 4, 1)
	})
	assert.Zero(t, runner.calls())
}
