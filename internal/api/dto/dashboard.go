package dto

import (
	"github.com/google/uuid"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

type CreateDashboardRequest struct {
	Name     string                 `json:"name" binding:"required"`
	Layout   map[string]interface{} `json:"layout"`
	IsPublic bool                   `json:"is_public"`
}

type CreateWidgetRequest struct {
	Type     string                   `json:"type" binding:"required,oneof=metric bar_chart line_chart area_chart pie_chart scatter_chart table text"`
	Title    string                   `json:"title" binding:"required"`
	Query    *query.QueryDefinition   `json:"query,omitempty"`
	Position dashboard.WidgetPosition `json:"position"`
	Config   map[string]interface{}   `json:"config"`
}

type CreateFilterRequest struct {
	Type         string      `json:"type" binding:"required,oneof=date_range select multi_select text number_range"`
	Label        string      `json:"label"`
	Field        string      `json:"field" binding:"required"`
	Table        string      `json:"table"`
	DefaultValue interface{} `json:"default_value,omitempty"`
	Dynamic      bool        `json:"dynamic"`
	DatePreset   string      `json:"date_preset" binding:"omitempty,datepreset"`
}

type SetFilterValueRequest struct {
	// Value's shape depends on the filter type: string, string list, date
	// range or number range. Null clears the filter.
	Value interface{} `json:"value"`
}

type CrossFilterRequest struct {
	SourceWidgetID uuid.UUID   `json:"source_widget_id" binding:"required"`
	Column         string      `json:"column" binding:"required"`
	Table          string      `json:"table"`
	Value          interface{} `json:"value"`
}

type PositionUpdateRequest struct {
	WidgetID uuid.UUID                `json:"widget_id" binding:"required"`
	Position dashboard.WidgetPosition `json:"position"`
}

type QueuePositionsRequest struct {
	Updates []PositionUpdateRequest `json:"updates" binding:"required,min=1,dive"`
}

type VisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

type RefreshRequest struct {
	BatchSize int `json:"batch_size" binding:"omitempty,min=1,max=32"`
}

type SaveStatusResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Pending int    `json:"pending"`
}
