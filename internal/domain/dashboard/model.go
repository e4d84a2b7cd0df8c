package dashboard

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

// WidgetType tags the visualization a widget renders. The orchestration
// core only cares whether a type carries a data query.
type WidgetType string

const (
	WidgetMetric       WidgetType = "metric"
	WidgetBarChart     WidgetType = "bar_chart"
	WidgetLineChart    WidgetType = "line_chart"
	WidgetAreaChart    WidgetType = "area_chart"
	WidgetPieChart     WidgetType = "pie_chart"
	WidgetScatterChart WidgetType = "scatter_chart"
	WidgetTable        WidgetType = "table"
	WidgetText         WidgetType = "text"
)

// NeedsQuery reports whether widgets of this type execute a data query.
// Text widgets are the only purely static type.
func (t WidgetType) NeedsQuery() bool {
	return t != WidgetText
}

// WidgetPosition is a widget's placement on the dashboard grid.
type WidgetPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Widget is one tile on a dashboard. Query is nil only for text widgets.
type Widget struct {
	ID          uuid.UUID              `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	DashboardID uuid.UUID              `gorm:"type:uuid;not null;index" json:"dashboard_id"`
	Type        WidgetType             `gorm:"type:varchar(20);not null" json:"type"`
	Title       string                 `gorm:"size:255;not null" json:"title"`
	Query       *query.QueryDefinition `gorm:"type:jsonb;serializer:json" json:"query,omitempty"`
	Position    WidgetPosition         `gorm:"type:jsonb;serializer:json" json:"position"`
	Config      map[string]interface{} `gorm:"type:jsonb;default:'{}';serializer:json" json:"config"`
	CreatedAt   time.Time              `gorm:"not null;default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time              `gorm:"not null;default:current_timestamp;autoUpdateTime" json:"updated_at"`
}

// DashboardFilter defines the shape of one dashboard-level filter control.
type DashboardFilter struct {
	ID           uuid.UUID        `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	DashboardID  uuid.UUID        `gorm:"type:uuid;not null;index" json:"dashboard_id"`
	Type         query.FilterType `gorm:"type:varchar(20);not null" json:"type"`
	Label        string           `gorm:"size:255" json:"label"`
	Field        string           `gorm:"size:255;not null" json:"field"`
	Table        string           `gorm:"size:255" json:"table,omitempty"`
	DefaultValue datatypes.JSON   `gorm:"type:jsonb" json:"default_value,omitempty"`
	Dynamic      bool             `gorm:"default:false;not null" json:"dynamic"`
	DatePreset   string           `gorm:"size:50" json:"date_preset,omitempty"`
	CreatedAt    time.Time        `gorm:"not null;default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"not null;default:current_timestamp;autoUpdateTime" json:"updated_at"`

	// Options holds sampled values for dynamic select filters. Populated by
	// the service, never persisted.
	Options []interface{} `gorm:"-" json:"options,omitempty"`
}

// ToFilter projects the persisted filter into the compiler-facing shape.
func (f *DashboardFilter) ToFilter() query.Filter {
	return query.Filter{
		ID:           f.ID,
		Type:         f.Type,
		Field:        f.Field,
		Table:        f.Table,
		Dynamic:      f.Dynamic,
		DatePreset:   f.DatePreset,
		DefaultValue: f.decodedDefault(),
	}
}

func (f *DashboardFilter) decodedDefault() interface{} {
	if len(f.DefaultValue) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(f.DefaultValue, &v); err != nil {
		return nil
	}
	return v
}

// Dashboard is the aggregate root: layout, ordered widgets and filters.
// It is replaced wholesale on load and save.
type Dashboard struct {
	ID        uuid.UUID              `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	Name      string                 `gorm:"size:255;not null" json:"name"`
	Layout    map[string]interface{} `gorm:"type:jsonb;default:'{}';serializer:json" json:"layout"`
	IsPublic  bool                   `gorm:"default:false;not null" json:"is_public"`
	Widgets   []Widget               `gorm:"foreignKey:DashboardID;constraint:OnDelete:CASCADE" json:"widgets"`
	Filters   []DashboardFilter      `gorm:"foreignKey:DashboardID;constraint:OnDelete:CASCADE" json:"filters"`
	CreatedAt time.Time              `gorm:"not null;default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time              `gorm:"not null;default:current_timestamp;autoUpdateTime" json:"updated_at"`
}

// Clone returns a copy with the widget and filter slices duplicated, so
// readers hold no pointers into slices the owner keeps mutating. Widget
// queries and config maps are shared; nothing rewrites them in place.
func (d *Dashboard) Clone() *Dashboard {
	out := *d
	out.Widgets = append([]Widget(nil), d.Widgets...)
	out.Filters = append([]DashboardFilter(nil), d.Filters...)
	return &out
}

// Widget returns the widget with the given id, or nil.
func (d *Dashboard) Widget(id uuid.UUID) *Widget {
	for i := range d.Widgets {
		if d.Widgets[i].ID == id {
			return &d.Widgets[i]
		}
	}
	return nil
}

// CompilerFilters returns the dashboard's filters in compiler-facing form,
// preserving definition order.
func (d *Dashboard) CompilerFilters() []query.Filter {
	out := make([]query.Filter, 0, len(d.Filters))
	for i := range d.Filters {
		out = append(out, d.Filters[i].ToFilter())
	}
	return out
}

// CreateDashboardRequest carries the fields needed to create a dashboard.
type CreateDashboardRequest struct {
	Name     string                 `json:"name"`
	Layout   map[string]interface{} `json:"layout"`
	IsPublic bool                   `json:"is_public"`
}

// CreateWidgetRequest carries the fields needed to add a widget.
type CreateWidgetRequest struct {
	Type     WidgetType             `json:"type"`
	Title    string                 `json:"title"`
	Query    *query.QueryDefinition `json:"query,omitempty"`
	Position WidgetPosition         `json:"position"`
	Config   map[string]interface{} `json:"config"`
}

// CreateFilterRequest carries the fields needed to add a dashboard filter.
type CreateFilterRequest struct {
	Type         query.FilterType `json:"type"`
	Label        string           `json:"label"`
	Field        string           `json:"field"`
	Table        string           `json:"table"`
	DefaultValue interface{}      `json:"default_value,omitempty"`
	Dynamic      bool             `json:"dynamic"`
	DatePreset   string           `json:"date_preset,omitempty"`
}
