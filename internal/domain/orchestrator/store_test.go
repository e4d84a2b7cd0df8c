package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

func newTestStore(t *testing.T, d *dashboard.Dashboard, runner QueryRunner, cfg StoreConfig) *Store {
	t.Helper()
	if cfg.Debounce == 0 {
		cfg.Debounce = 10 * time.Millisecond
	}
	s := NewStore(d, runner, &fakeSaver{}, nil, cfg, testLogger())
	t.Cleanup(s.Close)
	return s
}

func TestInitialLoadRunsAllWidgets(t *testing.T) {
	w1 := queryWidget("Revenue")
	w2 := queryWidget("Orders")
	text := dashboard.Widget{ID: uuid.New(), Type: dashboard.WidgetText, Title: "Notes"}
	d := testDashboard(w1, w2, text)

	runner := &fakeRunner{result: &query.QueryResult{RowCount: 4}}
	s := newTestStore(t, d, runner, StoreConfig{})

	s.InitialLoad(context.Background())

	assert.Equal(t, 2, runner.calls())
	assert.False(t, runner.bypass[0], "initial load must not bypass the engine cache")

	snap, ok := s.WidgetState(w1.ID)
	assert.True(t, ok)
	assert.Equal(t, 4, snap.Result.RowCount)
	assert.False(t, snap.IsLoading)
	assert.NotNil(t, snap.RefreshedAt)
}

func TestInitialLoadLazySkipsUnseenWidgets(t *testing.T) {
	w := queryWidget("Revenue")
	d := testDashboard(w)

	runner := &fakeRunner{}
	s := newTestStore(t, d, runner, StoreConfig{LazyLoad: true, ObserverAvailable: true})

	s.InitialLoad(context.Background())
	assert.Zero(t, runner.calls())

	// First visibility dispatches the widget's query exactly once.
	s.SetVisibility(context.Background(), w.ID, true)
	assert.Equal(t, 1, runner.calls())

	// Re-entering the viewport does not re-run it.
	s.SetVisibility(context.Background(), w.ID, false)
	s.SetVisibility(context.Background(), w.ID, true)
	assert.Equal(t, 1, runner.calls())
}

func TestSetFilterValueRerunsDashboard(t *testing.T) {
	w := queryWidget("Revenue")
	filterID := uuid.New()
	d := testDashboard(w)
	d.Filters = []dashboard.DashboardFilter{
		{ID: filterID, Type: query.FilterSelect, Field: "status", Table: "orders"},
	}

	runner := &fakeRunner{}
	s := newTestStore(t, d, runner, StoreConfig{})
	s.InitialLoad(context.Background())

	err := s.SetFilterValue(context.Background(), filterID, "paid")
	assert.NoError(t, err)
	assert.Equal(t, 2, runner.calls())

	// The rerun carries the new predicate and stays on the cached path.
	compiled := runner.queries[1]
	assert.Len(t, compiled.Filters, 1)
	assert.Equal(t, "status", compiled.Filters[0].Column)
	assert.Equal(t, "paid", compiled.Filters[0].Value)
	assert.False(t, runner.bypass[1])

	assert.Equal(t, "paid", s.FilterValues()[filterID])
}

func TestSetFilterValueUnknownFilter(t *testing.T) {
	d := testDashboard(queryWidget("Revenue"))
	s := newTestStore(t, d, &fakeRunner{}, StoreConfig{})

	err := s.SetFilterValue(context.Background(), uuid.New(), "paid")
	assert.Error(t, err)
}

func TestSetFilterValueResolvesDatePreset(t *testing.T) {
	w := queryWidget("Revenue")
	filterID := uuid.New()
	d := testDashboard(w)
	d.Filters = []dashboard.DashboardFilter{
		{ID: filterID, Type: query.FilterDateRange, Field: "created_at", Table: "orders"},
	}

	s := newTestStore(t, d, &fakeRunner{}, StoreConfig{})

	assert.NoError(t, s.SetFilterValue(context.Background(), filterID, "last_7_days"))

	r, ok := s.FilterValues()[filterID].(query.DateRange)
	assert.True(t, ok, "preset string should resolve to a concrete range")
	assert.NotEmpty(t, r.Start)
	assert.NotEmpty(t, r.End)
}

func TestCrossFilterReplacePerSource(t *testing.T) {
	w := queryWidget("Revenue")
	source := uuid.New()
	d := testDashboard(w)

	runner := &fakeRunner{}
	s := newTestStore(t, d, runner, StoreConfig{})

	s.SetCrossFilter(context.Background(), query.CrossFilterEvent{
		SourceWidgetID: source, Column: "region", Table: "orders", Value: "emea",
	})
	s.SetCrossFilter(context.Background(), query.CrossFilterEvent{
		SourceWidgetID: source, Column: "region", Table: "orders", Value: "apac",
	})

	events := s.CrossFilters()
	assert.Len(t, events, 1)
	assert.Equal(t, "apac", events[0].Value)

	s.ClearCrossFilter(context.Background(), source)
	assert.Empty(t, s.CrossFilters())
}

func TestRefreshBypassesCache(t *testing.T) {
	w := queryWidget("Revenue")
	d := testDashboard(w)

	runner := &fakeRunner{}
	s := newTestStore(t, d, runner, StoreConfig{})

	s.RefreshDashboard(context.Background())
	assert.Equal(t, 1, runner.calls())
	assert.True(t, runner.bypass[0])

	assert.NoError(t, s.RefreshWidget(context.Background(), w.ID))
	assert.True(t, runner.bypass[1])

	assert.Error(t, s.RefreshWidget(context.Background(), uuid.New()))
}

func TestErrorKeepsPreviousResult(t *testing.T) {
	w := queryWidget("Revenue")
	d := testDashboard(w)

	runner := &fakeRunner{result: &query.QueryResult{RowCount: 9}}
	s := newTestStore(t, d, runner, StoreConfig{})
	s.InitialLoad(context.Background())

	runner.result = nil
	runner.err = errors.New("engine down")
	s.RefreshDashboard(context.Background())

	snap, _ := s.WidgetState(w.ID)
	assert.Equal(t, "engine down", snap.Error)
	assert.NotNil(t, snap.Result, "stale result must survive a failed refresh")
	assert.Equal(t, 9, snap.Result.RowCount)
	assert.False(t, snap.IsLoading)

	// A later success clears the error again.
	runner.err = nil
	runner.result = &query.QueryResult{RowCount: 11}
	s.RefreshDashboard(context.Background())

	snap, _ = s.WidgetState(w.ID)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 11, snap.Result.RowCount)
}

func TestOldestRefreshTime(t *testing.T) {
	w1 := queryWidget("Revenue")
	w2 := queryWidget("Orders")
	d := testDashboard(w1, w2)
	s := newTestStore(t, d, &fakeRunner{}, StoreConfig{})

	assert.Nil(t, s.OldestRefreshTime())

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	s.CommitResult(w1.ID, 1, &query.QueryResult{}, newer)
	s.CommitResult(w2.ID, 1, &query.QueryResult{}, older)

	got := s.OldestRefreshTime()
	assert.NotNil(t, got)
	assert.True(t, got.Equal(older))
}

func TestRemoveWidgetDropsState(t *testing.T) {
	w := queryWidget("Revenue")
	d := testDashboard(w)

	runner := &fakeRunner{}
	s := newTestStore(t, d, runner, StoreConfig{})
	s.InitialLoad(context.Background())

	s.RemoveWidget(w.ID)

	_, ok := s.WidgetState(w.ID)
	assert.False(t, ok)
	assert.Nil(t, s.Dashboard().Widget(w.ID))

	// A rerun after removal does not execute the removed widget.
	s.RefreshDashboard(context.Background())
	assert.Equal(t, 1, runner.calls())
}

func TestSubscribeReceivesStateEvents(t *testing.T) {
	w := queryWidget("Revenue")
	d := testDashboard(w)
	s := newTestStore(t, d, &fakeRunner{}, StoreConfig{})

	ch, cancel := s.Subscribe()
	defer cancel()

	s.InitialLoad(context.Background())

	var kinds []StateEventKind
	for len(kinds) < 2 {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for state events")
		}
	}
	assert.Equal(t, EventWidgetLoading, kinds[0])
	assert.Equal(t, EventWidgetResult, kinds[1])
}

func TestSnapshot(t *testing.T) {
	w := queryWidget("Revenue")
	filterID := uuid.New()
	d := testDashboard(w)
	d.Filters = []dashboard.DashboardFilter{
		{ID: filterID, Type: query.FilterText, Field: "customer", Table: "orders"},
	}

	s := newTestStore(t, d, &fakeRunner{}, StoreConfig{})
	s.InitialLoad(context.Background())
	assert.NoError(t, s.SetFilterValue(context.Background(), filterID, "acme"))

	snap := s.Snapshot()
	assert.Equal(t, d.ID, snap.Dashboard.ID)
	assert.Equal(t, "acme", snap.FilterValues[filterID.String()])
	assert.Len(t, snap.Widgets, 1)
	assert.Equal(t, SaveIdle, snap.SaveStatus)
	assert.NotNil(t, snap.OldestData)
}

func TestDashboardReadsAreCopies(t *testing.T) {
	w := queryWidget("Revenue")
	d := testDashboard(w)
	s := newTestStore(t, d, &fakeRunner{}, StoreConfig{})

	// Mutating a returned aggregate must not reach the store's own copy.
	got := s.Dashboard()
	got.Widgets[0].Position.X = 99
	assert.Equal(t, 0, s.Dashboard().Widget(w.ID).Position.X)

	// A snapshot taken before a widget removal keeps its widget list.
	snap := s.Snapshot()
	s.RemoveWidget(w.ID)
	assert.NotNil(t, snap.Dashboard.Widget(w.ID))
	assert.Nil(t, s.Dashboard().Widget(w.ID))
}

func TestQueuePositionUpdatesAppliesOnSave(t *testing.T) {
	w := queryWidget("Revenue")
	d := testDashboard(w)
	s := newTestStore(t, d, &fakeRunner{}, StoreConfig{Debounce: 10 * time.Millisecond})

	ch, cancel := s.Subscribe()
	defer cancel()

	s.QueuePositionUpdates(PositionUpdate{
		WidgetID: w.ID,
		Position: dashboard.WidgetPosition{X: 6, Y: 2, W: 4, H: 3},
	})

	// After the debounced save lands, the in-memory dashboard reflects the
	// persisted position and subscribers hear about it.
	waitFor(t, func() bool {
		return s.Dashboard().Widget(w.ID).Position.X == 6
	})

	sawSaved := false
	for !sawSaved {
		select {
		case ev := <-ch:
			if ev.Kind == EventPositionsSaved {
				sawSaved = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for positions_saved event")
		}
	}
}
