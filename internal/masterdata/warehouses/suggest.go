package warehouses

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeProvince trims whitespace and applies Unicode NFC so composed and
// decomposed spellings of the same province compare equal.
func NormalizeProvince(province string) string {
	return norm.NFC.String(strings.TrimSpace(province))
}

// Covers reports whether w lists province among its responsible provinces.
func (w Warehouse) Covers(province string) bool {
	province = NormalizeProvince(province)
	if province == "" {
		return false
	}
	for _, p := range w.ResponsibleProvinces {
		if NormalizeProvince(p) == province {
			return true
		}
	}
	return false
}

// Select returns the lowest-id active warehouse responsible for province.
func Select(warehouses []Warehouse, province string) (Warehouse, bool) {
	var best Warehouse
	found := false
	for _, w := range warehouses {
		if !w.Active || !w.Covers(province) {
			continue
		}
		if !found || w.ID < best.ID {
			best, found = w, true
		}
	}
	return best, found
}

// Rank orders active warehouses for province: responsible ones first, then
// those based in the province, each group by id. Others are omitted.
func Rank(warehouses []Warehouse, province string) []Recommendation {
	province = NormalizeProvince(province)
	out := []Recommendation{}
	if province == "" {
		return out
	}
	for _, w := range warehouses {
		if !w.Active {
			continue
		}
		switch {
		case w.Covers(province):
			out = append(out, Recommendation{Warehouse: w, Reason: ReasonResponsible})
		case NormalizeProvince(w.HomeProvince) == province:
			out = append(out, Recommendation{Warehouse: w, Reason: ReasonHomeProvince})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Reason != out[j].Reason {
			return out[i].Reason == ReasonResponsible
		}
		return out[i].Warehouse.ID < out[j].Warehouse.ID
	})
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
