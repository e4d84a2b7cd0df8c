package dashboard

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/persistence/postgres/connection"
)

var (
	ErrDashboardNotFound = errors.New("dashboard not found")
	ErrWidgetNotFound    = errors.New("widget not found")
)

type Repository interface {
	Create(ctx context.Context, d *Dashboard) error
	FindByID(ctx context.Context, id uuid.UUID) (*Dashboard, error)
	FindAll(ctx context.Context) ([]Dashboard, error)
	Update(ctx context.Context, d *Dashboard) error
	Delete(ctx context.Context, id uuid.UUID) error

	CreateWidget(ctx context.Context, w *Widget) error
	FindWidgetByID(ctx context.Context, id uuid.UUID) (*Widget, error)
	UpdateWidget(ctx context.Context, w *Widget) error
	DeleteWidget(ctx context.Context, id uuid.UUID) error
	BulkUpdatePositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]WidgetPosition) error

	CreateFilter(ctx context.Context, f *DashboardFilter) error
	DeleteFilter(ctx context.Context, id uuid.UUID) error
}

type dashboardRepository struct {
	db *connection.Database
}

func NewRepository(db *connection.Database) Repository {
	return &dashboardRepository{db: db}
}

func (r *dashboardRepository) Create(ctx context.Context, d *Dashboard) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *dashboardRepository) FindByID(ctx context.Context, id uuid.UUID) (*Dashboard, error) {
	var d Dashboard
	result := r.db.WithContext(ctx).
		Preload("Widgets", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Filters", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&d, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDashboardNotFound
		}
		return nil, result.Error
	}
	return &d, nil
}

func (r *dashboardRepository) FindAll(ctx context.Context) ([]Dashboard, error) {
	var dashboards []Dashboard
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&dashboards).Error; err != nil {
		return nil, err
	}
	return dashboards, nil
}

func (r *dashboardRepository) Update(ctx context.Context, d *Dashboard) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *dashboardRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&Dashboard{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDashboardNotFound
	}
	return nil
}

func (r *dashboardRepository) CreateWidget(ctx context.Context, w *Widget) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *dashboardRepository) FindWidgetByID(ctx context.Context, id uuid.UUID) (*Widget, error) {
	var w Widget
	result := r.db.WithContext(ctx).First(&w, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrWidgetNotFound
		}
		return nil, result.Error
	}
	return &w, nil
}

func (r *dashboardRepository) UpdateWidget(ctx context.Context, w *Widget) error {
	return r.db.WithContext(ctx).Save(w).Error
}

func (r *dashboardRepository) DeleteWidget(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&Widget{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWidgetNotFound
	}
	return nil
}

// BulkUpdatePositions writes the merged position set from a layout edit in
// one transaction, so a partial failure never leaves the grid half-saved.
func (r *dashboardRepository) BulkUpdatePositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]WidgetPosition) error {
	if len(positions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for widgetID, pos := range positions {
			result := tx.Model(&Widget{}).
				Where("id = ? AND dashboard_id = ?", widgetID, dashboardID).
				Update("position", pos)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrWidgetNotFound
			}
		}
		return nil
	})
}

func (r *dashboardRepository) CreateFilter(ctx context.Context, f *DashboardFilter) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *dashboardRepository) DeleteFilter(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&DashboardFilter{}, "id = ?", id).Error
}
