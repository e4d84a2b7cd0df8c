package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
)

var (
	ErrTextWidgetWithQuery = errors.New("text widgets cannot carry a query")
	ErrUnknownDatePreset   = errors.New("unknown date preset")
	ErrPresetOnNonDate     = errors.New("date presets apply only to date_range filters")
)

// ColumnSampler populates dynamic filter options from the query engine.
type ColumnSampler interface {
	GetColumnSample(ctx context.Context, table, column string, limit int) ([]interface{}, error)
}

type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*Dashboard, error)
	List(ctx context.Context) ([]Dashboard, error)
	Create(ctx context.Context, req CreateDashboardRequest) (*Dashboard, error)
	Delete(ctx context.Context, id uuid.UUID) error

	AddWidget(ctx context.Context, dashboardID uuid.UUID, req CreateWidgetRequest) (*Widget, error)
	RemoveWidget(ctx context.Context, widgetID uuid.UUID) error
	SavePositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]WidgetPosition) error

	AddFilter(ctx context.Context, dashboardID uuid.UUID, req CreateFilterRequest) (*DashboardFilter, error)
	RemoveFilter(ctx context.Context, filterID uuid.UUID) error

	SeedFilterValues(d *Dashboard) query.ValueMap
	PopulateFilterOptions(ctx context.Context, d *Dashboard) error
}

type dashboardService struct {
	repo        Repository
	sampler     ColumnSampler
	sampleLimit int
	logger      *zap.Logger
}

func NewService(repo Repository, sampler ColumnSampler, sampleLimit int, logger *zap.Logger) Service {
	if sampleLimit <= 0 {
		sampleLimit = 50
	}
	return &dashboardService{
		repo:        repo,
		sampler:     sampler,
		sampleLimit: sampleLimit,
		logger:      logger,
	}
}

func (s *dashboardService) Get(ctx context.Context, id uuid.UUID) (*Dashboard, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *dashboardService) List(ctx context.Context) ([]Dashboard, error) {
	return s.repo.FindAll(ctx)
}

func (s *dashboardService) Create(ctx context.Context, req CreateDashboardRequest) (*Dashboard, error) {
	d := &Dashboard{
		ID:       uuid.New(),
		Name:     req.Name,
		Layout:   req.Layout,
		IsPublic: req.IsPublic,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dashboard: %w", err)
	}
	return d, nil
}

func (s *dashboardService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *dashboardService) AddWidget(ctx context.Context, dashboardID uuid.UUID, req CreateWidgetRequest) (*Widget, error) {
	if req.Type == WidgetText && req.Query != nil {
		return nil, ErrTextWidgetWithQuery
	}
	w := &Widget{
		ID:          uuid.New(),
		DashboardID: dashboardID,
		Type:        req.Type,
		Title:       req.Title,
		Query:       req.Query,
		Position:    req.Position,
		Config:      req.Config,
	}
	if err := s.repo.CreateWidget(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create widget: %w", err)
	}
	return w, nil
}

func (s *dashboardService) RemoveWidget(ctx context.Context, widgetID uuid.UUID) error {
	return s.repo.DeleteWidget(ctx, widgetID)
}

func (s *dashboardService) SavePositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]WidgetPosition) error {
	return s.repo.BulkUpdatePositions(ctx, dashboardID, positions)
}

func (s *dashboardService) AddFilter(ctx context.Context, dashboardID uuid.UUID, req CreateFilterRequest) (*DashboardFilter, error) {
	if req.DatePreset != "" {
		if req.Type != query.FilterDateRange {
			return nil, ErrPresetOnNonDate
		}
		if _, ok := ResolveDatePreset(req.DatePreset, time.Now()); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDatePreset, req.DatePreset)
		}
	}

	f := &DashboardFilter{
		ID:          uuid.New(),
		DashboardID: dashboardID,
		Type:        req.Type,
		Label:       req.Label,
		Field:       req.Field,
		Table:       req.Table,
		Dynamic:     req.Dynamic,
		DatePreset:  req.DatePreset,
	}
	if req.DefaultValue != nil {
		raw, err := json.Marshal(req.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("failed to encode default value: %w", err)
		}
		f.DefaultValue = datatypes.JSON(raw)
	}

	if err := s.repo.CreateFilter(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to create filter: %w", err)
	}
	return f, nil
}

func (s *dashboardService) RemoveFilter(ctx context.Context, filterID uuid.UUID) error {
	return s.repo.DeleteFilter(ctx, filterID)
}

// SeedFilterValues builds the initial filter-value map from each filter's
// default. Date presets without an explicit default resolve to a concrete
// range so the compiler never sees a bare preset string.
func (s *dashboardService) SeedFilterValues(d *Dashboard) query.ValueMap {
	values := make(query.ValueMap, len(d.Filters))
	for i := range d.Filters {
		f := &d.Filters[i]
		def := f.decodedDefault()

		if f.Type == query.FilterDateRange {
			if preset, ok := def.(string); ok && preset != "" {
				if r, resolved := ResolveDatePreset(preset, time.Now()); resolved {
					values[f.ID] = r
					continue
				}
			}
			if def == nil && f.DatePreset != "" {
				if r, resolved := ResolveDatePreset(f.DatePreset, time.Now()); resolved {
					values[f.ID] = r
					continue
				}
			}
		}

		if def != nil {
			values[f.ID] = def
		}
	}
	return values
}

// PopulateFilterOptions fills the Options of dynamic select filters from a
// column sample. A sampling failure leaves that filter's options empty and
// is not fatal to the load.
func (s *dashboardService) PopulateFilterOptions(ctx context.Context, d *Dashboard) error {
	if s.sampler == nil {
		return nil
	}
	for i := range d.Filters {
		f := &d.Filters[i]
		if !f.Dynamic {
			continue
		}
		if f.Type != query.FilterSelect && f.Type != query.FilterMultiSelect {
			continue
		}
		sample, err := s.sampler.GetColumnSample(ctx, f.Table, f.Field, s.sampleLimit)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("Failed to sample filter options",
					zap.String("filter_id", f.ID.String()),
					zap.String("field", f.Field),
					zap.Error(err))
			}
			continue
		}
		f.Options = sample
	}
	return nil
}

// ResolveDatePreset turns a named preset into a concrete date range
// relative to now. Unknown presets resolve to nothing.
func ResolveDatePreset(preset string, now time.Time) (query.DateRange, bool) {
	const layout = "2006-01-02"
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch preset {
	case "today":
		return query.DateRange{Start: today.Format(layout), End: today.Format(layout)}, true
	case "yesterday":
		y := today.AddDate(0, 0, -1)
		return query.DateRange{Start: y.Format(layout), End: y.Format(layout)}, true
	case "last_7_days":
		return query.DateRange{Start: today.AddDate(0, 0, -6).Format(layout), End: today.Format(layout)}, true
	case "last_30_days":
		return query.DateRange{Start: today.AddDate(0, 0, -29).Format(layout), End: today.Format(layout)}, true
	case "this_month":
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return query.DateRange{Start: first.Format(layout), End: today.Format(layout)}, true
	case "last_month":
		firstOfThis := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		first := firstOfThis.AddDate(0, -1, 0)
		last := firstOfThis.AddDate(0, 0, -1)
		return query.DateRange{Start: first.Format(layout), End: last.Format(layout)}, true
	case "this_year":
		first := time.Date(today.Year(), 1, 1, 0, 0, 0, 0, today.Location())
		return query.DateRange{Start: first.Format(layout), End: today.Format(layout)}, true
	default:
		return query.DateRange{}, false
	}
}
