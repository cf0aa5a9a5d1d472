package warehouses

import (
	"errors"
	"time"
)

// ErrWarehouseNotFound indicates an unknown warehouse id.
var ErrWarehouseNotFound = errors.New("warehouses: warehouse not found")

// Warehouse is a stock location and the delivery provinces it serves.
type Warehouse struct {
	ID                   int64     `json:"id"`
	Code                 string    `json:"code"`
	Name                 string    `json:"name"`
	HomeProvince         string    `json:"home_province"`
	ResponsibleProvinces []string  `json:"responsible_provinces"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Reason explains why a warehouse was recommended.
type Reason string

const (
	ReasonResponsible  Reason = "responsible_province"
	ReasonHomeProvince Reason = "home_province"
)

// Recommendation is one ranked warehouse candidate.
type Recommendation struct {
	Warehouse Warehouse `json:"warehouse"`
	Reason    Reason    `json:"reason"`
}

// ListFilters narrows List.
type ListFilters struct {
	Search     string
	ActiveOnly bool
}

// CoverageInput replaces the provinces a warehouse serves.
type CoverageInput struct {
	HomeProvince         *string  `json:"home_province,omitempty"`
	ResponsibleProvinces []string `json:"responsible_provinces" validate:"required,dive,required"`
	Active               *bool    `json:"active,omitempty"`
}
