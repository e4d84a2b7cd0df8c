package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

// StoreConfig carries the orchestration knobs for one dashboard session.
type StoreConfig struct {
	BatchSize         int
	LazyLoad          bool
	ObserverAvailable bool
	Debounce          time.Duration
	SavedDuration     time.Duration
	StreamBacklog     int
}

// Store is the single owner of one dashboard's runtime state: filter
// values, cross-filter events and the per-widget state map. All mutation
// funnels through it; readers get snapshots.
//
// Concurrent completions for different widgets never conflict (writes are
// keyed by widget id). Concurrent completions for the same widget apply
// last-write-wins; there is no generation guard discarding stale results.
type Store struct {
	mu           sync.RWMutex
	dash         *dashboard.Dashboard
	values       query.ValueMap
	crossFilters []query.CrossFilterEvent
	states       map[uuid.UUID]*WidgetState
	started      map[uuid.UUID]bool

	generation atomic.Uint64

	executor  *Executor
	scheduler *BatchScheduler
	gate      *VisibilityGate
	autosave  *AutosaveQueue

	subscribers map[chan StateEvent]struct{}
	backlog     int

	batchSize int
	logger    *logrus.Logger
	now       func() time.Time
}

// DashboardSnapshot is the public read surface handed to rendering.
type DashboardSnapshot struct {
	Dashboard    *dashboard.Dashboard     `json:"dashboard"`
	FilterValues map[string]interface{}   `json:"filter_values"`
	CrossFilters []query.CrossFilterEvent `json:"cross_filters,omitempty"`
	Widgets      []WidgetSnapshot         `json:"widgets"`
	SaveStatus   SaveStatus               `json:"save_status"`
	SaveError    string                   `json:"save_error,omitempty"`
	OldestData   *time.Time               `json:"oldest_data,omitempty"`
}

func NewStore(
	d *dashboard.Dashboard,
	runner QueryRunner,
	saver PositionSaver,
	seed query.ValueMap,
	cfg StoreConfig,
	logger *logrus.Logger,
) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.StreamBacklog <= 0 {
		cfg.StreamBacklog = 64
	}
	if seed == nil {
		seed = make(query.ValueMap)
	}

	s := &Store{
		dash:        d.Clone(),
		values:      seed,
		states:      make(map[uuid.UUID]*WidgetState),
		started:     make(map[uuid.UUID]bool),
		gate:        NewVisibilityGate(cfg.LazyLoad, cfg.ObserverAvailable),
		subscribers: make(map[chan StateEvent]struct{}),
		backlog:     cfg.StreamBacklog,
		batchSize:   cfg.BatchSize,
		logger:      logger,
		now:         time.Now,
	}
	s.executor = NewExecutor(runner, s, logger)
	s.scheduler = NewBatchScheduler(s.executor, logger)
	s.autosave = NewAutosaveQueue(countingSaver{saver}, d.ID, cfg.Debounce, cfg.SavedDuration, logger)
	s.autosave.OnSaved(s.applySavedPositions)
	return s
}

// countingSaver wraps the persistence call with the autosave metric.
type countingSaver struct {
	inner PositionSaver
}

func (c countingSaver) SavePositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]dashboard.WidgetPosition) error {
	err := c.inner.SavePositions(ctx, dashboardID, positions)
	if err != nil {
		positionSaves.WithLabelValues("error").Inc()
	} else {
		positionSaves.WithLabelValues("success").Inc()
	}
	return err
}

// Dashboard returns a copy of the dashboard aggregate the store was opened
// with. The store keeps mutating its own copy (position saves, widget
// removal), so the live aggregate never leaves the lock.
func (s *Store) Dashboard() *dashboard.Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dash.Clone()
}

// Autosave exposes the layout autosave queue.
func (s *Store) Autosave() *AutosaveQueue {
	return s.autosave
}

// InitialLoad runs every widget currently eligible under lazy loading.
// The initial load never bypasses the engine's cache.
func (s *Store) InitialLoad(ctx context.Context) {
	s.runEligible(ctx, false, s.batchSize)
}

// SetFilterValue records a new value for a dashboard filter and re-runs
// the dashboard, since a filter change can affect every widget's
// predicates. The rerun does not bypass the engine cache. A bare preset
// string for a date_range filter resolves to a concrete range here.
func (s *Store) SetFilterValue(ctx context.Context, filterID uuid.UUID, value interface{}) error {
	s.mu.Lock()
	var target *dashboard.DashboardFilter
	for i := range s.dash.Filters {
		if s.dash.Filters[i].ID == filterID {
			target = &s.dash.Filters[i]
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("no filter %s on dashboard %s", filterID, s.dash.ID)
	}

	if target.Type == query.FilterDateRange {
		if preset, ok := value.(string); ok && preset != "" {
			if r, resolved := dashboard.ResolveDatePreset(preset, s.now()); resolved {
				value = r
			}
		}
	}

	s.values[filterID] = value
	s.mu.Unlock()

	s.broadcast(StateEvent{Kind: EventFilterChanged, FilterID: filterID})
	s.runEligible(ctx, false, s.batchSize)
	return nil
}

// SetCrossFilter records a widget's click selection, replacing any prior
// selection from the same source widget, and re-runs the dashboard.
func (s *Store) SetCrossFilter(ctx context.Context, event query.CrossFilterEvent) {
	s.mu.Lock()
	kept := s.crossFilters[:0]
	for _, e := range s.crossFilters {
		if e.SourceWidgetID != event.SourceWidgetID {
			kept = append(kept, e)
		}
	}
	s.crossFilters = append(kept, event)
	s.mu.Unlock()

	s.runEligible(ctx, false, s.batchSize)
}

// ClearCrossFilter removes the selection originating from the given widget
// and re-runs the dashboard.
func (s *Store) ClearCrossFilter(ctx context.Context, sourceWidgetID uuid.UUID) {
	s.mu.Lock()
	kept := s.crossFilters[:0]
	for _, e := range s.crossFilters {
		if e.SourceWidgetID != sourceWidgetID {
			kept = append(kept, e)
		}
	}
	s.crossFilters = kept
	s.mu.Unlock()

	s.runEligible(ctx, false, s.batchSize)
}

// RefreshDashboard re-runs every eligible widget with the default batch
// size, bypassing the engine cache.
func (s *Store) RefreshDashboard(ctx context.Context) {
	s.runEligible(ctx, true, s.batchSize)
}

// RefreshAll re-runs every eligible widget in chunks of batchSize,
// bypassing the engine cache. A non-positive batchSize uses the default.
func (s *Store) RefreshAll(ctx context.Context, batchSize int) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	s.runEligible(ctx, true, batchSize)
}

// RefreshWidget re-runs a single widget, bypassing the engine cache.
func (s *Store) RefreshWidget(ctx context.Context, widgetID uuid.UUID) error {
	s.mu.RLock()
	d := s.dash.Clone()
	values := s.values.Clone()
	events := append([]query.CrossFilterEvent(nil), s.crossFilters...)
	s.mu.RUnlock()

	w := d.Widget(widgetID)
	if w == nil {
		return fmt.Errorf("no widget %s on dashboard %s", widgetID, d.ID)
	}

	gen := s.generation.Add(1)
	s.markStarted(widgetID)
	s.scheduler.RunOne(ctx, w, d, values, events, true, gen)
	return nil
}

// runEligible dispatches a batch run over every widget the visibility
// gate admits. One generation stamps the whole dispatch.
func (s *Store) runEligible(ctx context.Context, bypassCache bool, batchSize int) {
	s.mu.RLock()
	d := s.dash.Clone()
	values := s.values.Clone()
	events := append([]query.CrossFilterEvent(nil), s.crossFilters...)
	widgets := make([]dashboard.Widget, 0, len(d.Widgets))
	for i := range d.Widgets {
		if s.gate.Eligible(&d.Widgets[i]) {
			widgets = append(widgets, d.Widgets[i])
		}
	}
	s.mu.RUnlock()

	for i := range widgets {
		s.markStarted(widgets[i].ID)
	}

	gen := s.generation.Add(1)
	s.scheduler.RunAll(ctx, widgets, d, values, events, bypassCache, batchSize, gen)
}

// SetVisibility records a widget's viewport visibility. The first time a
// lazy widget becomes visible its query is dispatched.
func (s *Store) SetVisibility(ctx context.Context, widgetID uuid.UUID, visible bool) {
	isVisible, seen := s.gate.Set(widgetID, visible)

	s.mu.Lock()
	st := s.stateFor(widgetID)
	st.IsVisible = isVisible
	st.HasBeenVisible = seen
	d := s.dash.Clone()
	alreadyStarted := s.started[widgetID]
	s.mu.Unlock()

	w := d.Widget(widgetID)
	if w == nil || w.Query == nil || alreadyStarted || !seen {
		return
	}

	s.markStarted(widgetID)
	gen := s.generation.Add(1)
	s.scheduler.RunOne(ctx, w, d, s.FilterValues(), s.CrossFilters(), false, gen)
}

// UnregisterVisibility drops a widget's visibility tracking, clearing its
// sticky seen flag.
func (s *Store) UnregisterVisibility(widgetID uuid.UUID) {
	s.gate.Remove(widgetID)
}

// RemoveWidget drops a widget's runtime state after it is removed from the
// dashboard.
func (s *Store) RemoveWidget(widgetID uuid.UUID) {
	s.gate.Remove(widgetID)
	s.mu.Lock()
	delete(s.states, widgetID)
	delete(s.started, widgetID)
	for i := range s.dash.Widgets {
		if s.dash.Widgets[i].ID == widgetID {
			s.dash.Widgets = append(s.dash.Widgets[:i], s.dash.Widgets[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.broadcast(StateEvent{Kind: EventWidgetRemoved, WidgetID: widgetID})
}

// QueuePositionUpdates forwards layout-drag updates to the autosave queue.
func (s *Store) QueuePositionUpdates(updates ...PositionUpdate) {
	s.autosave.Queue(updates...)
}

func (s *Store) applySavedPositions(positions map[uuid.UUID]dashboard.WidgetPosition) {
	s.mu.Lock()
	for i := range s.dash.Widgets {
		if pos, ok := positions[s.dash.Widgets[i].ID]; ok {
			s.dash.Widgets[i].Position = pos
		}
	}
	s.mu.Unlock()
	s.broadcast(StateEvent{Kind: EventPositionsSaved})
}

// FilterValues returns a copy of the current filter-value map.
func (s *Store) FilterValues() query.ValueMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.Clone()
}

// CrossFilters returns a copy of the active cross-filter events.
func (s *Store) CrossFilters() []query.CrossFilterEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]query.CrossFilterEvent(nil), s.crossFilters...)
}

// WidgetState returns a snapshot of one widget's runtime state.
func (s *Store) WidgetState(widgetID uuid.UUID) (WidgetSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[widgetID]
	if !ok {
		return WidgetSnapshot{WidgetID: widgetID}, false
	}
	return st.snapshot(widgetID), true
}

// OldestRefreshTime returns the oldest refreshedAt across all widgets, or
// nil when nothing has refreshed yet.
func (s *Store) OldestRefreshTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var oldest *time.Time
	for _, st := range s.states {
		if st.RefreshedAt == nil {
			continue
		}
		if oldest == nil || st.RefreshedAt.Before(*oldest) {
			t := *st.RefreshedAt
			oldest = &t
		}
	}
	return oldest
}

// Snapshot assembles the full public read surface.
func (s *Store) Snapshot() DashboardSnapshot {
	status, saveErr := s.autosave.Status()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := DashboardSnapshot{
		Dashboard:    s.dash.Clone(),
		FilterValues: make(map[string]interface{}, len(s.values)),
		CrossFilters: append([]query.CrossFilterEvent(nil), s.crossFilters...),
		Widgets:      make([]WidgetSnapshot, 0, len(s.states)),
		SaveStatus:   status,
	}
	if saveErr != nil {
		out.SaveError = saveErr.Error()
	}
	for id, v := range s.values {
		out.FilterValues[id.String()] = v
	}
	for id, st := range s.states {
		out.Widgets = append(out.Widgets, st.snapshot(id))
	}
	for _, st := range s.states {
		if st.RefreshedAt == nil {
			continue
		}
		if out.OldestData == nil || st.RefreshedAt.Before(*out.OldestData) {
			t := *st.RefreshedAt
			out.OldestData = &t
		}
	}
	return out
}

// Subscribe registers a state-event stream. The returned cancel func must
// be called when the consumer goes away. Slow consumers drop events rather
// than block the orchestrator.
func (s *Store) Subscribe() (<-chan StateEvent, func()) {
	ch := make(chan StateEvent, s.backlog)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) broadcast(ev StateEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close tears the session down: the autosave queue stops and all stream
// subscribers are closed. In-flight queries are not cancelled; their
// completions land in a state map nobody reads anymore.
func (s *Store) Close() {
	s.autosave.Close()
	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan StateEvent]struct{})
	s.mu.Unlock()
}

func (s *Store) markStarted(widgetID uuid.UUID) {
	s.mu.Lock()
	s.started[widgetID] = true
	s.mu.Unlock()
}

// stateFor returns the widget's state entry, creating it lazily. Callers
// must hold mu.
func (s *Store) stateFor(widgetID uuid.UUID) *WidgetState {
	st, ok := s.states[widgetID]
	if !ok {
		st = &WidgetState{}
		s.states[widgetID] = st
	}
	return st
}

// MarkLoading implements StateSink. Loading turns on strictly before the
// network call starts, and any prior error is cleared.
func (s *Store) MarkLoading(widgetID uuid.UUID, generation uint64) {
	s.mu.Lock()
	st := s.stateFor(widgetID)
	st.IsLoading = true
	st.Err = nil
	st.generation = generation
	snap := st.snapshot(widgetID)
	s.mu.Unlock()

	queriesInFlight.Inc()
	s.broadcast(StateEvent{Kind: EventWidgetLoading, WidgetID: widgetID, Snapshot: &snap})
}

// CommitResult implements StateSink. Success replaces the result and
// clears the error.
func (s *Store) CommitResult(widgetID uuid.UUID, generation uint64, result *query.QueryResult, refreshedAt time.Time) {
	s.mu.Lock()
	st := s.stateFor(widgetID)
	st.Result = result
	st.Err = nil
	st.IsLoading = false
	st.RefreshedAt = &refreshedAt
	st.generation = generation
	snap := st.snapshot(widgetID)
	s.mu.Unlock()

	queriesInFlight.Dec()
	queryTotal.WithLabelValues("success").Inc()
	s.broadcast(StateEvent{Kind: EventWidgetResult, WidgetID: widgetID, Snapshot: &snap})
}

// CommitError implements StateSink. Failure records the error but leaves
// the previous result untouched for stale-while-revalidate display.
func (s *Store) CommitError(widgetID uuid.UUID, generation uint64, err error) {
	s.mu.Lock()
	st := s.stateFor(widgetID)
	st.Err = err
	st.IsLoading = false
	st.generation = generation
	snap := st.snapshot(widgetID)
	s.mu.Unlock()

	queriesInFlight.Dec()
	queryTotal.WithLabelValues("error").Inc()
	s.broadcast(StateEvent{Kind: EventWidgetError, WidgetID: widgetID, Snapshot: &snap})
}
