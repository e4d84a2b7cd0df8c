package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/cache"
)

// Manager owns one Store per open dashboard. Stores are created on first
// open and torn down when the dashboard unmounts. Dashboard metadata loads
// go through an injected TTL cache rather than a package-global map, so
// tests control both the cache and its clock.
type Manager struct {
	mu     sync.Mutex
	stores map[uuid.UUID]*Store

	svc       dashboard.Service
	runner    QueryRunner
	metaCache *cache.TTLCache
	cfg       StoreConfig
	logger    *logrus.Logger
}

func NewManager(svc dashboard.Service, runner QueryRunner, metaCache *cache.TTLCache, cfg StoreConfig, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		stores:    make(map[uuid.UUID]*Store),
		svc:       svc,
		runner:    runner,
		metaCache: metaCache,
		cfg:       cfg,
		logger:    logger,
	}
}

// Open returns the store for a dashboard, creating and initially loading
// it if this is the first open. A metadata load failure is returned to the
// caller; no store exists without a dashboard.
func (m *Manager) Open(ctx context.Context, dashboardID uuid.UUID) (*Store, error) {
	m.mu.Lock()
	if s, ok := m.stores[dashboardID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	d, err := m.loadDashboard(ctx, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard %s: %w", dashboardID, err)
	}

	if err := m.svc.PopulateFilterOptions(ctx, d); err != nil {
		m.logger.WithError(err).WithField("dashboard_id", dashboardID).
			Warn("Failed to populate filter options")
	}
	seed := m.svc.SeedFilterValues(d)

	s := NewStore(d, m.runner, positionSaverFunc(m.svc.SavePositions), seed, m.cfg, m.logger)

	m.mu.Lock()
	if existing, ok := m.stores[dashboardID]; ok {
		// Lost the race to another opener; keep theirs.
		m.mu.Unlock()
		s.Close()
		return existing, nil
	}
	m.stores[dashboardID] = s
	m.mu.Unlock()

	s.InitialLoad(ctx)
	return s, nil
}

// Get returns an already-open store.
func (m *Manager) Get(dashboardID uuid.UUID) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[dashboardID]
	return s, ok
}

// Release closes and removes a dashboard's store (the dashboard
// unmounted). The metadata cache entry is invalidated with it.
func (m *Manager) Release(dashboardID uuid.UUID) {
	m.mu.Lock()
	s, ok := m.stores[dashboardID]
	delete(m.stores, dashboardID)
	m.mu.Unlock()

	if m.metaCache != nil {
		m.metaCache.Delete(dashboardID.String())
	}
	if ok {
		s.Close()
	}
}

// Invalidate drops the cached metadata for a dashboard so the next open
// reloads it.
func (m *Manager) Invalidate(dashboardID uuid.UUID) {
	if m.metaCache != nil {
		m.metaCache.Delete(dashboardID.String())
	}
}

func (m *Manager) loadDashboard(ctx context.Context, dashboardID uuid.UUID) (*dashboard.Dashboard, error) {
	key := dashboardID.String()
	if m.metaCache != nil {
		if v, ok := m.metaCache.Get(key); ok {
			if d, ok := v.(*dashboard.Dashboard); ok {
				return d, nil
			}
		}
	}

	d, err := m.svc.Get(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	if m.metaCache != nil {
		m.metaCache.Set(key, d)
	}
	return d, nil
}

// positionSaverFunc adapts the dashboard service's SavePositions to the
// PositionSaver interface.
type positionSaverFunc func(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]dashboard.WidgetPosition) error

func (f positionSaverFunc) SavePositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]dashboard.WidgetPosition) error {
	return f(ctx, dashboardID, positions)
}
