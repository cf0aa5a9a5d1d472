package warehouses

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/cache"
)

// Service answers warehouse lookups and province suggestions.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	group  singleflight.Group
	logger *slog.Logger
}

// NewService builds Service. The cache may be nil.
func NewService(repo Repository, coverage *cache.JSONCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: coverage, logger: logger}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Warehouse, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return s.repo.Get(ctx, id)
}

// UpdateCoverage replaces the provinces a warehouse serves and invalidates cached coverage.
func (s *Service) UpdateCoverage(ctx context.Context, id int64, input CoverageInput) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, ErrWarehouseNotFound
	}
	input, err := normalizeCoverage(input)
	if err != nil {
		return Warehouse{}, err
	}
	w, err := s.repo.UpdateCoverage(ctx, id, input)
	if err != nil {
		return Warehouse{}, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "coverage cache bump failed", slog.Any("error", err))
	}
	return w, nil
}

// activeCoverage returns active warehouses through the cache. Concurrent misses share one load.
func (s *Service) activeCoverage(ctx context.Context) ([]Warehouse, error) {
	key, err := s.cache.BuildKey(ctx, "active")
	if err != nil {
		s.logger.WarnContext(ctx, "coverage cache unavailable", slog.Any("error", err))
		return s.repo.List(ctx, ListFilters{ActiveOnly: true})
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var out []Warehouse
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.repo.List(ctx, ListFilters{ActiveOnly: true})
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]Warehouse), nil
}

// Suggest returns the default warehouse for a delivery province. It has no side effects.
func (s *Service) Suggest(ctx context.Context, province string) (Warehouse, bool, error) {
	if NormalizeProvince(province) == "" {
		return Warehouse{}, false, nil
	}
	list, err := s.activeCoverage(ctx)
	if err != nil {
		return Warehouse{}, false, err
	}
	w, ok := Select(list, province)
	return w, ok, nil
}

// SuggestWarehouse returns only the suggested id.
func (s *Service) SuggestWarehouse(ctx context.Context, province string) (int64, bool, error) {
	w, ok, err := s.Suggest(ctx, province)
	return w.ID, ok, err
}

// Recommendations ranks every active warehouse that can serve province.
func (s *Service) Recommendations(ctx context.Context, province string) ([]Recommendation, error) {
	list, err := s.activeCoverage(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(list, province), nil
}

// Backups ranks alternatives for province, skipping the excluded ids.
func (s *Service) Backups(ctx context.Context, province string, exclude []int64) ([]Recommendation, error) {
	ranked, err := s.Recommendations(ctx, province)
	if err != nil {
		return nil, err
	}
	skip := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := ranked[:0]
	for _, r := range ranked {
		if _, ok := skip[r.Warehouse.ID]; !ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// CanDeliverTo reports whether an active warehouse is responsible for province.
func (s *Service) CanDeliverTo(ctx context.Context, warehouseID int64, province string) (bool, error) {
	w, err := s.Get(ctx, warehouseID)
	if err != nil {
		return false, err
	}
	return w.Active && w.Covers(province), nil
}
