package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
)

// fakeSaver records every persisted batch.
type fakeSaver struct {
	mu      sync.Mutex
	batches []map[uuid.UUID]dashboard.WidgetPosition
	err     error
}

func (s *fakeSaver) SavePositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]dashboard.WidgetPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copied := make(map[uuid.UUID]dashboard.WidgetPosition, len(positions))
	for k, v := range positions {
		copied[k] = v
	}
	s.batches = append(s.batches, copied)
	return nil
}

func (s *fakeSaver) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *fakeSaver) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAutosaveCoalescesDrags(t *testing.T) {
	saver := &fakeSaver{}
	q := NewAutosaveQueue(saver, uuid.New(), 30*time.Millisecond, time.Second, testLogger())
	defer q.Close()
	widgetID := uuid.New()

	// A drag gesture emits a burst of updates for the same widget; only the
	// final position may reach persistence, in a single write.
	for x := 1; x <= 5; x++ {
		q.Queue(PositionUpdate{WidgetID: widgetID, Position: dashboard.WidgetPosition{X: x, Y: 0, W: 4, H: 3}})
	}
	status, _ := q.Status()
	assert.Equal(t, SavePending, status)

	waitFor(t, func() bool {
		status, _ := q.Status()
		return status == SaveSaved
	})

	assert.Equal(t, 1, saver.saveCount())
	assert.Len(t, saver.batches[0], 1)
	assert.Equal(t, 5, saver.batches[0][widgetID].X)
	assert.Zero(t, q.PendingCount())
}

func TestAutosaveMergesAcrossWidgets(t *testing.T) {
	saver := &fakeSaver{}
	q := NewAutosaveQueue(saver, uuid.New(), 30*time.Millisecond, time.Second, testLogger())
	defer q.Close()
	a, b := uuid.New(), uuid.New()

	q.Queue(
		PositionUpdate{WidgetID: a, Position: dashboard.WidgetPosition{X: 0, Y: 0, W: 4, H: 3}},
		PositionUpdate{WidgetID: b, Position: dashboard.WidgetPosition{X: 4, Y: 0, W: 4, H: 3}},
	)
	q.Queue(PositionUpdate{WidgetID: a, Position: dashboard.WidgetPosition{X: 8, Y: 0, W: 4, H: 3}})

	waitFor(t, func() bool { return saver.saveCount() == 1 })

	assert.Len(t, saver.batches[0], 2)
	assert.Equal(t, 8, saver.batches[0][a].X)
	assert.Equal(t, 4, saver.batches[0][b].X)
}

func TestAutosaveSavedRevertsToIdle(t *testing.T) {
	saver := &fakeSaver{}
	q := NewAutosaveQueue(saver, uuid.New(), 10*time.Millisecond, 30*time.Millisecond, testLogger())
	defer q.Close()

	q.Queue(PositionUpdate{WidgetID: uuid.New(), Position: dashboard.WidgetPosition{X: 1}})

	waitFor(t, func() bool {
		status, _ := q.Status()
		return status == SaveIdle
	})
}

func TestAutosaveErrorAndFlushRetry(t *testing.T) {
	saver := &fakeSaver{}
	saver.setErr(errors.New("db unavailable"))
	q := NewAutosaveQueue(saver, uuid.New(), 10*time.Millisecond, time.Second, testLogger())
	defer q.Close()
	widgetID := uuid.New()

	q.Queue(PositionUpdate{WidgetID: widgetID, Position: dashboard.WidgetPosition{X: 2}})

	waitFor(t, func() bool {
		status, _ := q.Status()
		return status == SaveError
	})
	_, err := q.Status()
	assert.EqualError(t, err, "db unavailable")
	// The failed batch stays queued for retry.
	assert.Equal(t, 1, q.PendingCount())

	saver.setErr(nil)
	assert.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, 1, saver.saveCount())
	assert.Equal(t, 2, saver.batches[0][widgetID].X)

	status, err := q.Status()
	assert.Equal(t, SaveSaved, status)
	assert.NoError(t, err)
}

func TestAutosaveCancelDiscardsPending(t *testing.T) {
	saver := &fakeSaver{}
	q := NewAutosaveQueue(saver, uuid.New(), time.Hour, time.Second, testLogger())
	defer q.Close()

	q.Queue(PositionUpdate{WidgetID: uuid.New(), Position: dashboard.WidgetPosition{X: 3}})
	assert.Equal(t, 1, q.PendingCount())

	q.Cancel()

	assert.Zero(t, q.PendingCount())
	status, _ := q.Status()
	assert.Equal(t, SaveIdle, status)
	assert.Zero(t, saver.saveCount())
}

func TestAutosaveOnSavedCallback(t *testing.T) {
	saver := &fakeSaver{}
	q := NewAutosaveQueue(saver, uuid.New(), 10*time.Millisecond, time.Second, testLogger())
	defer q.Close()
	widgetID := uuid.New()

	var mu sync.Mutex
	var got map[uuid.UUID]dashboard.WidgetPosition
	q.OnSaved(func(positions map[uuid.UUID]dashboard.WidgetPosition) {
		mu.Lock()
		got = positions
		mu.Unlock()
	})

	q.Queue(PositionUpdate{WidgetID: widgetID, Position: dashboard.WidgetPosition{X: 7}})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})
	mu.Lock()
	assert.Equal(t, 7, got[widgetID].X)
	mu.Unlock()
}

func TestAutosaveCloseRejectsUpdates(t *testing.T) {
	saver := &fakeSaver{}
	q := NewAutosaveQueue(saver, uuid.New(), 10*time.Millisecond, time.Second, testLogger())

	q.Close()
	q.Queue(PositionUpdate{WidgetID: uuid.New(), Position: dashboard.WidgetPosition{X: 1}})

	assert.Zero(t, q.PendingCount())
}
