package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/statisfy-us/prismiq-sub001/internal/api/dto"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/events"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/orchestrator"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/cache"
)

type DashboardHandler struct {
	svc         dashboard.Service
	manager     *orchestrator.Manager
	redisClient *cache.RedisClient
	logger      *zap.Logger
}

func NewDashboardHandler(
	svc dashboard.Service,
	manager *orchestrator.Manager,
	redisClient *cache.RedisClient,
	logger *zap.Logger,
) *DashboardHandler {
	return &DashboardHandler{
		svc:         svc,
		manager:     manager,
		redisClient: redisClient,
		logger:      logger,
	}
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// openStore resolves the path id to an already-open dashboard session.
func (h *DashboardHandler) openStore(c *gin.Context) (*orchestrator.Store, uuid.UUID, bool) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil, uuid.Nil, false
	}
	s, ok := h.manager.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "dashboard is not open"})
		return nil, uuid.Nil, false
	}
	return s, id, true
}

func (h *DashboardHandler) ListDashboards(c *gin.Context) {
	dashboards, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list dashboards", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dashboards"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dashboards})
}

func (h *DashboardHandler) CreateDashboard(c *gin.Context) {
	var req dto.CreateDashboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.svc.Create(c.Request.Context(), dashboard.CreateDashboardRequest{
		Name:     req.Name,
		Layout:   req.Layout,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		h.logger.Error("Failed to create dashboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create dashboard"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": d})
}

func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	d, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, dashboard.ErrDashboardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dashboard not found"})
			return
		}
		h.logger.Error("Failed to get dashboard", zap.String("dashboard_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get dashboard"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": d})
}

func (h *DashboardHandler) DeleteDashboard(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	h.manager.Release(id)
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, dashboard.ErrDashboardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dashboard not found"})
			return
		}
		h.logger.Error("Failed to delete dashboard", zap.String("dashboard_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete dashboard"})
		return
	}

	h.publishEvent(c.Request.Context(), events.DashboardEventMetadataChanged, id, uuid.Nil)
	c.JSON(http.StatusOK, gin.H{"message": "dashboard deleted"})
}

// OpenDashboard creates (or reuses) the orchestration session for a
// dashboard and returns its first snapshot. Widget queries start loading
// in the background.
func (h *DashboardHandler) OpenDashboard(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	s, err := h.manager.Open(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, dashboard.ErrDashboardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dashboard not found"})
			return
		}
		h.logger.Error("Failed to open dashboard", zap.String("dashboard_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open dashboard"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.Snapshot()})
}

// CloseDashboard tears the orchestration session down.
func (h *DashboardHandler) CloseDashboard(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	h.manager.Release(id)
	c.JSON(http.StatusOK, gin.H{"message": "dashboard closed"})
}

func (h *DashboardHandler) GetSnapshot(c *gin.Context) {
	s, _, ok := h.openStore(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.Snapshot()})
}

func (h *DashboardHandler) GetWidgetState(c *gin.Context) {
	s, _, ok := h.openStore(c)
	if !ok {
		return
	}
	widgetID, ok := parseUUIDParam(c, "widgetId")
	if !ok {
		return
	}

	snap, found := s.WidgetState(widgetID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no state for widget"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

func (h *DashboardHandler) AddWidget(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.CreateWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := h.svc.AddWidget(c.Request.Context(), id, dashboard.CreateWidgetRequest{
		Type:     dashboard.WidgetType(req.Type),
		Title:    req.Title,
		Query:    req.Query,
		Position: req.Position,
		Config:   req.Config,
	})
	if err != nil {
		if errors.Is(err, dashboard.ErrTextWidgetWithQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to add widget", zap.String("dashboard_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add widget"})
		return
	}

	// An open session keeps serving the old widget list until reopened; the
	// metadata cache is invalidated so the next open sees the new widget.
	h.manager.Invalidate(id)
	h.publishEvent(c.Request.Context(), events.DashboardEventMetadataChanged, id, w.ID)
	c.JSON(http.StatusCreated, gin.H{"data": w})
}

func (h *DashboardHandler) RemoveWidget(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	widgetID, ok := parseUUIDParam(c, "widgetId")
	if !ok {
		return
	}

	if err := h.svc.RemoveWidget(c.Request.Context(), widgetID); err != nil {
		if errors.Is(err, dashboard.ErrWidgetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "widget not found"})
			return
		}
		h.logger.Error("Failed to remove widget",
			zap.String("widget_id", widgetID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove widget"})
		return
	}

	if s, open := h.manager.Get(id); open {
		s.RemoveWidget(widgetID)
	}
	h.manager.Invalidate(id)
	h.publishEvent(c.Request.Context(), events.DashboardEventMetadataChanged, id, widgetID)
	c.JSON(http.StatusOK, gin.H{"message": "widget removed"})
}

func (h *DashboardHandler) AddFilter(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.CreateFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := h.svc.AddFilter(c.Request.Context(), id, dashboard.CreateFilterRequest{
		Type:         query.FilterType(req.Type),
		Label:        req.Label,
		Field:        req.Field,
		Table:        req.Table,
		DefaultValue: req.DefaultValue,
		Dynamic:      req.Dynamic,
		DatePreset:   req.DatePreset,
	})
	if err != nil {
		if errors.Is(err, dashboard.ErrUnknownDatePreset) || errors.Is(err, dashboard.ErrPresetOnNonDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to add filter", zap.String("dashboard_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add filter"})
		return
	}

	h.manager.Invalidate(id)
	h.publishEvent(c.Request.Context(), events.DashboardEventMetadataChanged, id, uuid.Nil)
	c.JSON(http.StatusCreated, gin.H{"data": f})
}

func (h *DashboardHandler) RemoveFilter(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	filterID, ok := parseUUIDParam(c, "filterId")
	if !ok {
		return
	}

	if err := h.svc.RemoveFilter(c.Request.Context(), filterID); err != nil {
		h.logger.Error("Failed to remove filter",
			zap.String("filter_id", filterID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove filter"})
		return
	}

	h.manager.Invalidate(id)
	h.publishEvent(c.Request.Context(), events.DashboardEventMetadataChanged, id, uuid.Nil)
	c.JSON(http.StatusOK, gin.H{"message": "filter removed"})
}

func (h *DashboardHandler) SetFilterValue(c *gin.Context) {
	s, id, ok := h.openStore(c)
	if !ok {
		return
	}
	filterID, ok := parseUUIDParam(c, "filterId")
	if !ok {
		return
	}

	var req dto.SetFilterValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.SetFilterValue(c.Request.Context(), filterID, req.Value); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	h.publishEvent(c.Request.Context(), events.DashboardEventFilterChanged, id, uuid.Nil)
	c.JSON(http.StatusOK, gin.H{"data": s.Snapshot()})
}

func (h *DashboardHandler) SetCrossFilter(c *gin.Context) {
	s, _, ok := h.openStore(c)
	if !ok {
		return
	}

	var req dto.CrossFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.SetCrossFilter(c.Request.Context(), query.CrossFilterEvent{
		SourceWidgetID: req.SourceWidgetID,
		Column:         req.Column,
		Table:          req.Table,
		Value:          req.Value,
	})
	c.JSON(http.StatusOK, gin.H{"data": s.Snapshot()})
}

func (h *DashboardHandler) ClearCrossFilter(c *gin.Context) {
	s, _, ok := h.openStore(c)
	if !ok {
		return
	}
	sourceID, ok := parseUUIDParam(c, "widgetId")
	if !ok {
		return
	}

	s.ClearCrossFilter(c.Request.Context(), sourceID)
	c.JSON(http.StatusOK, gin.H{"data": s.Snapshot()})
}

func (h *DashboardHandler) RefreshDashboard(c *gin.Context) {
	s, id, ok := h.openStore(c)
	if !ok {
		return
	}

	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.RefreshAll(c.Request.Context(), req.BatchSize)
	h.publishEvent(c.Request.Context(), events.DashboardEventRefreshed, id, uuid.Nil)
	c.JSON(http.StatusOK, gin.H{"data": s.Snapshot()})
}

func (h *DashboardHandler) RefreshWidget(c *gin.Context) {
	s, id, ok := h.openStore(c)
	if !ok {
		return
	}
	widgetID, ok := parseUUIDParam(c, "widgetId")
	if !ok {
		return
	}

	if err := s.RefreshWidget(c.Request.Context(), widgetID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	h.publishEvent(c.Request.Context(), events.DashboardEventWidgetRefreshed, id, widgetID)
	snap, _ := s.WidgetState(widgetID)
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

func (h *DashboardHandler) SetVisibility(c *gin.Context) {
	s, _, ok := h.openStore(c)
	if !ok {
		return
	}
	widgetID, ok := parseUUIDParam(c, "widgetId")
	if !ok {
		return
	}

	var req dto.VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.SetVisibility(c.Request.Context(), widgetID, *req.Visible)
	snap, _ := s.WidgetState(widgetID)
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

func (h *DashboardHandler) QueuePositions(c *gin.Context) {
	s, _, ok := h.openStore(c)
	if !ok {
		return
	}

	var req dto.QueuePositionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := make([]orchestrator.PositionUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, orchestrator.PositionUpdate{
			WidgetID: u.WidgetID,
			Position: u.Position,
		})
	}
	s.QueuePositionUpdates(updates...)

	c.JSON(http.StatusAccepted, h.saveStatus(s))
}

func (h *DashboardHandler) FlushPositions(c *gin.Context) {
	s, id, ok := h.openStore(c)
	if !ok {
		return
	}

	if err := s.Autosave().Flush(c.Request.Context()); err != nil {
		h.logger.Error("Failed to flush positions",
			zap.String("dashboard_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, h.saveStatus(s))
		return
	}

	h.publishEvent(c.Request.Context(), events.DashboardEventPositionsSaved, id, uuid.Nil)
	c.JSON(http.StatusOK, h.saveStatus(s))
}

func (h *DashboardHandler) CancelPositions(c *gin.Context) {
	s, _, ok := h.openStore(c)
	if !ok {
		return
	}
	s.Autosave().Cancel()
	c.JSON(http.StatusOK, h.saveStatus(s))
}

func (h *DashboardHandler) GetSaveStatus(c *gin.Context) {
	s, _, ok := h.openStore(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.saveStatus(s))
}

func (h *DashboardHandler) saveStatus(s *orchestrator.Store) gin.H {
	status, err := s.Autosave().Status()
	resp := dto.SaveStatusResponse{
		Status:  string(status),
		Pending: s.Autosave().PendingCount(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return gin.H{"data": resp}
}

func (h *DashboardHandler) publishEvent(ctx context.Context, eventType string, dashboardID, widgetID uuid.UUID) {
	if h.redisClient == nil {
		return
	}
	event := &events.DashboardEvent{
		EventType:   eventType,
		DashboardID: dashboardID,
		WidgetID:    widgetID,
		Timestamp:   time.Now().UTC(),
	}
	if err := h.redisClient.PublishDashboardEvent(ctx, event); err != nil {
		h.logger.Error("Failed to publish dashboard event",
			zap.String("event_type", eventType),
			zap.String("dashboard_id", dashboardID.String()),
			zap.Error(err))
	}
}

// StartDashboardEventListener invalidates this instance's metadata cache
// when another instance changes a dashboard.
func (h *DashboardHandler) StartDashboardEventListener(ctx context.Context) {
	if h.redisClient == nil {
		return
	}
	go func() {
		err := h.redisClient.SubscribeToDashboardEvents(ctx, func(event *events.DashboardEvent) error {
			h.logger.Info("Received dashboard event",
				zap.String("event_type", event.EventType),
				zap.String("dashboard_id", event.DashboardID.String()))

			switch event.EventType {
			case events.DashboardEventMetadataChanged, events.DashboardEventCacheInvalidate:
				h.manager.Invalidate(event.DashboardID)
			}
			return nil
		})
		if err != nil {
			h.logger.Error("Dashboard event listener error", zap.Error(err))
		}
	}()
}
