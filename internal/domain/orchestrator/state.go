package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

// WidgetState is the runtime state of one widget's data. Entries are
// created lazily on first touch and dropped when the widget is removed or
// the dashboard unmounts. The store owns all mutation; consumers only ever
// see snapshots.
type WidgetState struct {
	Result         *query.QueryResult
	Err            error
	IsLoading      bool
	RefreshedAt    *time.Time
	IsVisible      bool
	HasBeenVisible bool

	// generation stamps the dispatch that last wrote Result or Err. Kept
	// for observability; completions are applied last-write-wins.
	generation uint64
}

// WidgetSnapshot is the read-only view of a widget's runtime state handed
// to the rendering layer.
type WidgetSnapshot struct {
	WidgetID       uuid.UUID          `json:"widget_id"`
	Result         *query.QueryResult `json:"result,omitempty"`
	Error          string             `json:"error,omitempty"`
	IsLoading      bool               `json:"is_loading"`
	RefreshedAt    *time.Time         `json:"refreshed_at,omitempty"`
	IsVisible      bool               `json:"is_visible"`
	HasBeenVisible bool               `json:"has_been_visible"`
}

func (s *WidgetState) snapshot(id uuid.UUID) WidgetSnapshot {
	out := WidgetSnapshot{
		WidgetID:       id,
		Result:         s.Result,
		IsLoading:      s.IsLoading,
		RefreshedAt:    s.RefreshedAt,
		IsVisible:      s.IsVisible,
		HasBeenVisible: s.HasBeenVisible,
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return out
}

// StateEventKind tags a state-change notification.
type StateEventKind string

const (
	EventWidgetLoading  StateEventKind = "widget_loading"
	EventWidgetResult   StateEventKind = "widget_result"
	EventWidgetError    StateEventKind = "widget_error"
	EventWidgetRemoved  StateEventKind = "widget_removed"
	EventFilterChanged  StateEventKind = "filter_changed"
	EventPositionsSaved StateEventKind = "positions_saved"
)

// StateEvent is pushed to stream subscribers whenever a widget's runtime
// state changes.
type StateEvent struct {
	Kind     StateEventKind  `json:"kind"`
	WidgetID uuid.UUID       `json:"widget_id,omitempty"`
	FilterID uuid.UUID       `json:"filter_id,omitempty"`
	Snapshot *WidgetSnapshot `json:"snapshot,omitempty"`
}
