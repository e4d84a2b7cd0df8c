package events

import (
	"time"

	"github.com/google/uuid"
)

// Dashboard event types published on the redis event channel. Other
// instances invalidate their metadata caches on receipt.
const (
	DashboardEventFilterChanged   = "filter_changed"
	DashboardEventRefreshed       = "dashboard_refreshed"
	DashboardEventWidgetRefreshed = "widget_refreshed"
	DashboardEventPositionsSaved  = "positions_saved"
	DashboardEventCacheInvalidate = "cache_invalidate"
	DashboardEventMetadataChanged = "metadata_changed"
)

// DashboardEvent represents a dashboard-related event
type DashboardEvent struct {
	EventType   string      `json:"event_type"`
	DashboardID uuid.UUID   `json:"dashboard_id"`
	WidgetID    uuid.UUID   `json:"widget_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Details     interface{} `json:"details,omitempty"`
}
