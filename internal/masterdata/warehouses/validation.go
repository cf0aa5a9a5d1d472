package warehouses

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// ErrInvalidCoverage indicates an unusable province list.
var ErrInvalidCoverage = errors.New("warehouses: invalid coverage")

func normalizeCoverage(input CoverageInput) (CoverageInput, error) {
	if err := httpx.Validate(input); err != nil {
		return CoverageInput{}, fmt.Errorf("%w: %v", ErrInvalidCoverage, err)
	}
	seen := make(map[string]struct{}, len(input.ResponsibleProvinces))
	provinces := make([]string, 0, len(input.ResponsibleProvinces))
	for _, p := range input.ResponsibleProvinces {
		p = NormalizeProvince(p)
		if p == "" {
			return CoverageInput{}, fmt.Errorf("%w: blank province", ErrInvalidCoverage)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		provinces = append(provinces, p)
	}
	input.ResponsibleProvinces = provinces
	if input.HomeProvince != nil {
		home := NormalizeProvince(*input.HomeProvince)
		input.HomeProvince = &home
	}
	return input, nil
}
