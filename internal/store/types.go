package store

import "fmt"

// Collection names for the aggregated history and the forecast outputs.
// Forecast collections are fully replaced on every orchestrator run.
const (
	CollectionCategoryDemand   = "category_monthly_demand"
	CollectionItemDemand       = "item_specification_monthly_demand"
	CollectionCategoryForecast = "predicted_demand"
	CollectionItemForecast     = "predicted_item_demand"
)

// DemandRecord is one aggregated (entity, period) observation.
// Specification is empty for category-level records.
type DemandRecord struct {
	Category      string  `json:"category"`
	Specification string  `json:"specification,omitempty"`
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	Quantity      float64 `json:"quantity"`
	Revenue       float64 `json:"revenue"`
}

// EntityKey identifies the record's forecasting unit.
func (r DemandRecord) EntityKey() string {
	return EntityKey(r.Category, r.Specification)
}

// ForecastRecord is one predicted (entity, period) value pair.
type ForecastRecord struct {
	Category          string  `json:"category"`
	Specification     string  `json:"specification,omitempty"`
	Year              int     `json:"year"`
	Month             int     `json:"month"`
	PredictedQuantity float64 `json:"predicted_quantity"`
	PredictedRevenue  float64 `json:"predicted_revenue"`
}

// EntityKey identifies the forecast's unit.
func (r ForecastRecord) EntityKey() string {
	return EntityKey(r.Category, r.Specification)
}

// EntityKey builds the canonical key for a category or a
// (category, specification) pair.
func EntityKey(category, specification string) string {
	if specification == "" {
		return category
	}
	return fmt.Sprintf("%s/%s", category, specification)
}

// Filter narrows fetches by category subset and year range.
// Zero values leave the dimension unrestricted.
type Filter struct {
	Categories []string
	YearFrom   int
	YearTo     int
}

// Match reports whether a record passes the filter.
func (f Filter) Match(category string, year int) bool {
	if f.YearFrom != 0 && year < f.YearFrom {
		return false
	}
	if f.YearTo != 0 && year > f.YearTo {
		return false
	}
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if c == category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
