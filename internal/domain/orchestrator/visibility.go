package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
)

// VisibilityGate tracks which widgets have scrolled into view. Visibility
// toggles freely; the seen flag is sticky for the lifetime of the entry.
// A widget's first query runs only once the gate declares it eligible.
//
// When the rendering layer reports that its viewport primitive is
// unavailable, the gate fails open: every widget is immediately visible
// and seen, so content is never permanently hidden.
type VisibilityGate struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]*visibilityEntry
	lazyLoad  bool
	available bool
}

type visibilityEntry struct {
	visible bool
	seen    bool
}

func NewVisibilityGate(lazyLoad, observerAvailable bool) *VisibilityGate {
	return &VisibilityGate{
		entries:   make(map[uuid.UUID]*visibilityEntry),
		lazyLoad:  lazyLoad,
		available: observerAvailable,
	}
}

// Set records a widget's current visibility and returns its state. The
// seen flag only ever moves from false to true.
func (g *VisibilityGate) Set(widgetID uuid.UUID, visible bool) (isVisible, hasBeenVisible bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[widgetID]
	if !ok {
		e = &visibilityEntry{}
		g.entries[widgetID] = e
	}
	if !g.available {
		e.visible = true
		e.seen = true
		return true, true
	}
	e.visible = visible
	if visible {
		e.seen = true
	}
	return e.visible, e.seen
}

// Remove drops a widget's entry, clearing the sticky flag with it.
func (g *VisibilityGate) Remove(widgetID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, widgetID)
}

// State reports a widget's current visibility without mutating it.
func (g *VisibilityGate) State(widgetID uuid.UUID) (isVisible, hasBeenVisible bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.available {
		return true, true
	}
	e, ok := g.entries[widgetID]
	if !ok {
		return false, false
	}
	return e.visible, e.seen
}

// Eligible reports whether a widget may run its first query: it has been
// seen, or lazy loading is disabled, or the widget type needs no query.
func (g *VisibilityGate) Eligible(w *dashboard.Widget) bool {
	if !w.Type.NeedsQuery() {
		return true
	}
	if !g.lazyLoad {
		return true
	}
	_, seen := g.State(w.ID)
	return seen
}
