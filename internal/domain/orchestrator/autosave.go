package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
)

// SaveStatus is the autosave state machine's visible state.
type SaveStatus string

const (
	SaveIdle    SaveStatus = "idle"
	SavePending SaveStatus = "pending"
	SaveSaving  SaveStatus = "saving"
	SaveSaved   SaveStatus = "saved"
	SaveError   SaveStatus = "error"
)

// PositionUpdate is one widget's new placement from a layout drag.
type PositionUpdate struct {
	WidgetID uuid.UUID                `json:"widget_id"`
	Position dashboard.WidgetPosition `json:"position"`
}

// PositionSaver persists a merged set of widget positions.
type PositionSaver interface {
	SavePositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]dashboard.WidgetPosition) error
}

// AutosaveQueue coalesces rapid layout-drag updates into a single persisted
// write. Updates queued within the debounce window merge last-write-wins
// per widget id; after quiescence one write carries the whole merged set.
// A failed save parks in the error state until the next queued update or an
// explicit Flush retries it. Cancel discards pending updates only; it never
// touches an in-flight persistence call.
type AutosaveQueue struct {
	mu          sync.Mutex
	saver       PositionSaver
	dashboardID uuid.UUID
	debounce    time.Duration
	savedFor    time.Duration
	logger      *logrus.Logger

	pending    map[uuid.UUID]dashboard.WidgetPosition
	debTimer   *time.Timer
	savedTimer *time.Timer
	status     SaveStatus
	err        error
	closed     bool

	// onSaved, when set, is invoked after each successful persisted write
	// with the saved position set.
	onSaved func(map[uuid.UUID]dashboard.WidgetPosition)
}

func NewAutosaveQueue(saver PositionSaver, dashboardID uuid.UUID, debounce, savedFor time.Duration, logger *logrus.Logger) *AutosaveQueue {
	if logger == nil {
		logger = logrus.New()
	}
	if debounce <= 0 {
		debounce = 800 * time.Millisecond
	}
	if savedFor <= 0 {
		savedFor = 2 * time.Second
	}
	return &AutosaveQueue{
		saver:       saver,
		dashboardID: dashboardID,
		debounce:    debounce,
		savedFor:    savedFor,
		logger:      logger,
		pending:     make(map[uuid.UUID]dashboard.WidgetPosition),
		status:      SaveIdle,
	}
}

// OnSaved registers a callback fired after each successful write.
func (q *AutosaveQueue) OnSaved(fn func(map[uuid.UUID]dashboard.WidgetPosition)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSaved = fn
}

// Queue merges position updates into the pending set and (re)starts the
// debounce window.
func (q *AutosaveQueue) Queue(updates ...PositionUpdate) {
	if len(updates) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	for _, u := range updates {
		q.pending[u.WidgetID] = u.Position
	}
	q.err = nil
	if q.savedTimer != nil {
		q.savedTimer.Stop()
		q.savedTimer = nil
	}
	if q.status != SaveSaving {
		q.status = SavePending
	}

	if q.debTimer != nil {
		q.debTimer.Stop()
	}
	q.debTimer = time.AfterFunc(q.debounce, q.saveAsync)
}

func (q *AutosaveQueue) saveAsync() {
	// Debounce expiry uses its own context: the drag gesture that queued
	// the updates is long gone by now.
	if err := q.save(context.Background()); err != nil {
		q.logger.WithError(err).WithField("dashboard_id", q.dashboardID).
			Error("Autosave failed")
	}
}

// save takes the merged pending set and issues one persistence call.
func (q *AutosaveQueue) save(ctx context.Context) error {
	q.mu.Lock()
	if q.closed || len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	batch := q.pending
	q.pending = make(map[uuid.UUID]dashboard.WidgetPosition)
	q.status = SaveSaving
	onSaved := q.onSaved
	q.mu.Unlock()

	err := q.saver.SavePositions(ctx, q.dashboardID, batch)

	q.mu.Lock()
	if err != nil {
		q.err = err
		q.status = SaveError
		// Keep the failed batch so a later Flush or queued update retries
		// it; anything queued while saving is newer and wins.
		for id, pos := range batch {
			if _, ok := q.pending[id]; !ok {
				q.pending[id] = pos
			}
		}
		q.mu.Unlock()
		return err
	}

	// A successful save clears any error from an earlier attempt.
	q.err = nil
	if len(q.pending) > 0 {
		// More drags arrived while saving; the running debounce timer
		// will flush them.
		q.status = SavePending
		q.mu.Unlock()
	} else {
		q.status = SaveSaved
		q.savedTimer = time.AfterFunc(q.savedFor, func() {
			q.mu.Lock()
			if q.status == SaveSaved {
				q.status = SaveIdle
			}
			q.mu.Unlock()
		})
		q.mu.Unlock()
	}

	q.logger.WithFields(logrus.Fields{
		"dashboard_id": q.dashboardID,
		"widgets":      len(batch),
	}).Info("Widget positions saved")

	if onSaved != nil {
		onSaved(batch)
	}
	return nil
}

// Flush persists any pending updates immediately, bypassing the debounce
// window. It is also the retry path out of the error state.
func (q *AutosaveQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.debTimer != nil {
		q.debTimer.Stop()
		q.debTimer = nil
	}
	q.mu.Unlock()
	return q.save(ctx)
}

// Cancel discards pending updates and returns to idle without persisting.
// An in-flight persistence call is never interrupted.
func (q *AutosaveQueue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.debTimer != nil {
		q.debTimer.Stop()
		q.debTimer = nil
	}
	q.pending = make(map[uuid.UUID]dashboard.WidgetPosition)
	if q.status == SavePending || q.status == SaveError {
		q.status = SaveIdle
		q.err = nil
	}
}

// Status returns the queue's visible state and last save error.
func (q *AutosaveQueue) Status() (SaveStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status, q.err
}

// PendingCount reports how many widget positions are queued.
func (q *AutosaveQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the timers and rejects further updates. Pending updates are
// dropped; callers wanting them persisted should Flush first.
func (q *AutosaveQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.debTimer != nil {
		q.debTimer.Stop()
		q.debTimer = nil
	}
	if q.savedTimer != nil {
		q.savedTimer.Stop()
		q.savedTimer = nil
	}
}
