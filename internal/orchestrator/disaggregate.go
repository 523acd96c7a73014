package orchestrator

import (
	"fmt"
	"math"
	"sort"

	"github.com/retailcast/demandcast/internal/dataset"
	"github.com/retailcast/demandcast/internal/ensemble"
	"github.com/retailcast/demandcast/internal/features"
	"github.com/retailcast/demandcast/internal/forecast"
	"github.com/retailcast/demandcast/internal/store"
)

// disaggregate breaks each category forecast down to its item
// specifications. Items carry their historical mean share of the category's
// monthly quantity; undefined or zero shares fall back to the configured
// default ratio. Items with enough own history get a directly fitted model
// of the category's winning kind instead.
func (o *Orchestrator) disaggregate(entities []*entityState, items map[string]*dataset.PreparedSeries, builder *features.Builder, horizon int) ([]store.ForecastRecord, StepReport) {
	var step StepReport
	var records []store.ForecastRecord

	byCategory := make(map[string][]*dataset.PreparedSeries)
	for _, s := range items {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}
	for _, group := range byCategory {
		sort.Slice(group, func(i, j int) bool { return group[i].Specification < group[j].Specification })
	}

	for _, e := range entities {
		if e.best == nil || len(e.forecastQuantity) == 0 {
			continue
		}
		for _, item := range byCategory[e.series.Category] {
			itemRecords, _, err := o.forecastItem(e, item, builder, horizon)
			if err != nil {
				step.Errors = append(step.Errors, fmt.Sprintf("%s: %v", item.EntityKey(), err))
				continue
			}
			records = append(records, itemRecords...)
			step.Count++
		}
	}

	step.Completed = true
	step.Message = fmt.Sprintf("%d item forecasts across %d categories", step.Count, len(byCategory))
	return records, step
}

// forecastItem produces one item's forecast records, either from a direct
// model or by the share-ratio method. The bool reports which path was taken.
func (o *Orchestrator) forecastItem(e *entityState, item *dataset.PreparedSeries, builder *features.Builder, horizon int) ([]store.ForecastRecord, bool, error) {
	trimmed := trimToObserved(item)
	if trimmed != nil && trimmed.Len() >= o.config.MinItemObservations {
		if records, err := o.forecastItemDirect(e, trimmed, builder, horizon); err == nil {
			return records, true, nil
		}
		// Direct fit failed; the ratio method below still applies.
	}

	qRatio := shareRatio(e.series.Quantity, e.series.Periods, item, quantityAt)
	rRatio := shareRatio(e.series.Revenue, e.series.Periods, item, revenueAt)
	if qRatio <= 0 {
		qRatio = o.config.DefaultShareRatio
	}
	if rRatio <= 0 {
		rRatio = o.config.DefaultShareRatio
	}

	records := make([]store.ForecastRecord, 0, len(e.forecastPeriods))
	for i, p := range e.forecastPeriods {
		records = append(records, store.ForecastRecord{
			Category:          item.Category,
			Specification:     item.Specification,
			Year:              p.Year,
			Month:             p.Month,
			PredictedQuantity: math.Max(0, e.forecastQuantity[i]*qRatio),
			PredictedRevenue:  math.Max(0, e.forecastRevenue[i]*rRatio),
		})
	}
	return records, false, nil
}

// forecastItemDirect fits the category's winning kind on the item's own
// series and forecasts the horizon aligned to the category's periods.
func (o *Orchestrator) forecastItemDirect(e *entityState, item *dataset.PreparedSeries, builder *features.Builder, horizon int) ([]store.ForecastRecord, error) {
	fc, err := o.fitKind(e.best.kind, builder, item, item.Quantity, ensemble.TargetQuantity)
	if err != nil {
		return nil, err
	}

	// The item's history may end earlier than the category's; forecast far
	// enough to cover the category's horizon and align by period.
	lastItem := item.Periods[item.Len()-1]
	lastCat := e.series.Periods[e.series.Len()-1]
	offset := lastCat.Index() - lastItem.Index()
	if offset < 0 {
		offset = 0
	}

	preds, err := fc.Predict(offset + horizon)
	if err != nil {
		return nil, err
	}
	forecast.FloorNonNegative(preds)
	preds = preds[offset:]

	unit := meanUnitRevenue(item)
	records := make([]store.ForecastRecord, 0, len(e.forecastPeriods))
	for i, p := range e.forecastPeriods {
		records = append(records, store.ForecastRecord{
			Category:          item.Category,
			Specification:     item.Specification,
			Year:              p.Year,
			Month:             p.Month,
			PredictedQuantity: preds[i],
			PredictedRevenue:  preds[i] * unit,
		})
	}
	return records, nil
}

func quantityAt(s *dataset.PreparedSeries, i int) float64 { return s.Quantity[i] }
func revenueAt(s *dataset.PreparedSeries, i int) float64  { return s.Revenue[i] }

// shareRatio averages item/category value ratios over their shared periods.
// Returns 0 when no shared period has a positive category value.
func shareRatio(catValues []float64, catPeriods []dataset.Period, item *dataset.PreparedSeries, at func(*dataset.PreparedSeries, int) float64) float64 {
	itemIndex := make(map[int]int, item.Len())
	for i, p := range item.Periods {
		itemIndex[p.Index()] = i
	}

	var sum float64
	var n int
	for i, p := range catPeriods {
		cat := catValues[i]
		if math.IsNaN(cat) || cat <= 0 {
			continue
		}
		j, ok := itemIndex[p.Index()]
		if !ok {
			continue
		}
		v := at(item, j)
		if math.IsNaN(v) || v < 0 {
			continue
		}
		sum += v / cat
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
