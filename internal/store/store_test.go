package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryStoreReplaceSemantics(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore("")

	first := []DemandRecord{
		{Category: "dairy", Year: 2023, Month: 1, Quantity: 100, Revenue: 500},
		{Category: "dairy", Year: 2023, Month: 2, Quantity: 120, Revenue: 600},
	}
	n, err := ms.ReplaceDemand(ctx, CollectionCategoryDemand, first)
	if err != nil {
		t.Fatalf("ReplaceDemand failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 records written, got %d", n)
	}

	// A second replace must drop the prior set, not merge
	second := []DemandRecord{
		{Category: "dairy", Year: 2024, Month: 1, Quantity: 90, Revenue: 450},
	}
	if _, err := ms.ReplaceDemand(ctx, CollectionCategoryDemand, second); err != nil {
		t.Fatalf("second ReplaceDemand failed: %v", err)
	}

	got, err := ms.FetchDemand(ctx, CollectionCategoryDemand, Filter{})
	if err != nil {
		t.Fatalf("FetchDemand failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 record after replace, got %d", len(got))
	}
	if got[0].Year != 2024 {
		t.Errorf("Expected replaced record year 2024, got %d", got[0].Year)
	}
}

func TestMemoryStoreFilter(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore("")

	records := []DemandRecord{
		{Category: "dairy", Year: 2021, Month: 6, Quantity: 10},
		{Category: "dairy", Year: 2023, Month: 6, Quantity: 20},
		{Category: "bakery", Year: 2023, Month: 6, Quantity: 30},
	}
	if _, err := ms.ReplaceDemand(ctx, CollectionCategoryDemand, records); err != nil {
		t.Fatalf("ReplaceDemand failed: %v", err)
	}

	got, err := ms.FetchDemand(ctx, CollectionCategoryDemand, Filter{
		Categories: []string{"dairy"},
		YearFrom:   2022,
	})
	if err != nil {
		t.Fatalf("FetchDemand failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 filtered record, got %d", len(got))
	}
	if got[0].Category != "dairy" || got[0].Year != 2023 {
		t.Errorf("Unexpected record %+v", got[0])
	}
}

func TestMemoryStoreFetchOrdering(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore("")

	records := []DemandRecord{
		{Category: "dairy", Year: 2023, Month: 12, Quantity: 1},
		{Category: "dairy", Year: 2023, Month: 1, Quantity: 2},
		{Category: "dairy", Year: 2022, Month: 6, Quantity: 3},
	}
	if _, err := ms.ReplaceDemand(ctx, CollectionCategoryDemand, records); err != nil {
		t.Fatalf("ReplaceDemand failed: %v", err)
	}

	got, err := ms.FetchDemand(ctx, CollectionCategoryDemand, Filter{})
	if err != nil {
		t.Fatalf("FetchDemand failed: %v", err)
	}
	for i := 1; i < len(got); i++ {
		prev := got[i-1].Year*100 + got[i-1].Month
		cur := got[i].Year*100 + got[i].Month
		if prev > cur {
			t.Errorf("Records out of order at %d: %d before %d", i, prev, cur)
		}
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")

	ms := NewMemoryStore(path)
	records := []ForecastRecord{
		{Category: "dairy", Year: 2025, Month: 1, PredictedQuantity: 42.5, PredictedRevenue: 210},
	}
	if _, err := ms.ReplaceForecasts(ctx, CollectionCategoryForecast, records); err != nil {
		t.Fatalf("ReplaceForecasts failed: %v", err)
	}
	if err := ms.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reloaded := NewMemoryStore(path)
	got, err := reloaded.FetchForecasts(ctx, CollectionCategoryForecast, Filter{})
	if err != nil {
		t.Fatalf("FetchForecasts failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 record after reload, got %d", len(got))
	}
	if got[0].PredictedQuantity != 42.5 {
		t.Errorf("Expected predicted quantity 42.5, got %f", got[0].PredictedQuantity)
	}
}

func TestEntityKey(t *testing.T) {
	if k := EntityKey("dairy", ""); k != "dairy" {
		t.Errorf("Expected category-only key, got %q", k)
	}
	if k := EntityKey("dairy", "milk-1L"); k != "dairy/milk-1L" {
		t.Errorf("Expected pair key, got %q", k)
	}
}
