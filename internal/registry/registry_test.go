package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/retailcast/demandcast/internal/eval"
	"github.com/retailcast/demandcast/internal/forecast"
)

func entry(id string, kind forecast.ModelKind, entity string, rmse float64, at time.Time) Entry {
	return Entry{
		ModelID:      id,
		Kind:         kind,
		Entity:       entity,
		Metrics:      eval.Metrics{RMSE: rmse, Points: 6},
		RegisteredAt: at,
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := r.Register(entry("m1", forecast.KindARIMA, "chairs", 12.5, at)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(entry("m2", forecast.KindRandomForest, "chairs", 10.1, at.Add(time.Hour))); err != nil {
		t.Fatalf("Register: %v", err)
	}

	reopened, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get("m1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Kind != forecast.KindARIMA || got.Metrics.RMSE != 12.5 || !got.RegisteredAt.Equal(at) {
		t.Fatalf("entry changed across reopen: %+v", got)
	}
	if n := len(reopened.List()); n != 2 {
		t.Fatalf("expected 2 entries after reopen, got %d", n)
	}
}

func TestRegistryMissingCatalogIsEmpty(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if n := len(r.List()); n != 0 {
		t.Fatalf("expected empty registry, got %d entries", n)
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryCorruptCatalogFails(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "registry.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRegistry(dir); err == nil {
		t.Fatal("expected decode error for corrupt catalog")
	}
}

func TestRegisterUpserts(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	at := time.Now().UTC()
	if err := r.Register(entry("m1", forecast.KindARIMA, "chairs", 20, at)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(entry("m1", forecast.KindARIMA, "chairs", 8, at)); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metrics.RMSE != 8 {
		t.Fatalf("upsert did not replace metrics: %f", got.Metrics.RMSE)
	}
	if n := len(r.List()); n != 1 {
		t.Fatalf("upsert duplicated entry: %d", n)
	}
}

func TestBestModelLowestRMSE(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		entry("m-arima", forecast.KindARIMA, "chairs", 14.2, at),
		entry("m-rf", forecast.KindRandomForest, "chairs", 9.7, at.Add(time.Minute)),
		entry("m-gbm", forecast.KindGradientBoosting, "chairs", 11.0, at.Add(2*time.Minute)),
		entry("m-other", forecast.KindARIMA, "tables", 1.0, at),
	}
	for _, e := range entries {
		if err := r.Register(e); err != nil {
			t.Fatal(err)
		}
	}

	best, err := r.BestModel("chairs")
	if err != nil {
		t.Fatalf("BestModel: %v", err)
	}
	if best.ModelID != "m-rf" {
		t.Fatalf("expected m-rf, got %s", best.ModelID)
	}
	if _, err := r.BestModel("desks"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown entity, got %v", err)
	}
}

func TestBestModelDeterministicTieBreak(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r, err := NewRegistry(t.TempDir())
		if err != nil {
			t.Fatalf("NewRegistry: %v", err)
		}
		// Same RMSE; earlier registration wins, then smaller model ID.
		if err := r.Register(entry("m-b", forecast.KindRidge, "chairs", 10, at)); err != nil {
			t.Fatal(err)
		}
		if err := r.Register(entry("m-a", forecast.KindLasso, "chairs", 10, at)); err != nil {
			t.Fatal(err)
		}
		if err := r.Register(entry("m-late", forecast.KindSVR, "chairs", 10, at.Add(time.Second))); err != nil {
			t.Fatal(err)
		}
		best, err := r.BestModel("chairs")
		if err != nil {
			t.Fatal(err)
		}
		if best.ModelID != "m-a" {
			t.Fatalf("run %d: expected m-a on tie, got %s", i, best.ModelID)
		}
	}
}

func TestSaveAndVerifyArtifact(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	payload := map[string]any{"kind": "ridge", "coefficients": []float64{1.5, -0.25}}
	path, hash, err := r.SaveArtifact("m1", payload)
	if err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	if hash == "" {
		t.Fatal("empty artifact hash")
	}

	e := entry("m1", forecast.KindRidge, "chairs", 5, time.Now().UTC())
	e.ArtifactPath = path
	e.ArtifactHash = hash
	if err := r.Register(e); err != nil {
		t.Fatal(err)
	}
	if err := r.VerifyArtifact("m1"); err != nil {
		t.Fatalf("VerifyArtifact: %v", err)
	}

	// Saving the same payload again reuses the existing read-only file.
	again, hash2, err := r.SaveArtifact("m1", payload)
	if err != nil {
		t.Fatalf("second SaveArtifact: %v", err)
	}
	if again != path || hash2 != hash {
		t.Fatalf("artifact not idempotent: %s/%s vs %s/%s", again, hash2, path, hash)
	}
}

func TestVerifyArtifactDetectsTamper(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	path, hash, err := r.SaveArtifact("m1", map[string]int{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	e := entry("m1", forecast.KindLinear, "chairs", 5, time.Now().UTC())
	e.ArtifactPath = path
	e.ArtifactHash = hash
	if err := r.Register(e); err != nil {
		t.Fatal(err)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"a":2}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := r.VerifyArtifact("m1"); err == nil {
		t.Fatal("expected hash mismatch after tamper")
	}
}

func TestRemoveEntry(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := r.Register(entry("m1", forecast.KindARIMA, "chairs", 3, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("m1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove("m1"); err != nil {
		t.Fatalf("Remove of absent entry should be a no-op: %v", err)
	}

	reopened, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(reopened.List()); n != 0 {
		t.Fatalf("expected empty registry after remove, got %d", n)
	}
}

func TestSaveCardWritesFile(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	card := &ModelCard{
		ModelID:     "m1",
		Kind:        forecast.KindSARIMA,
		Entity:      "chairs",
		TrainedAt:   time.Now().UTC(),
		Metrics:     eval.Metrics{RMSE: 7.7, Points: 6},
		IntendedUse: "Monthly demand planning for procurement and inventory sizing",
	}
	if err := r.SaveCard(card); err != nil {
		t.Fatalf("SaveCard: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cards", "m1-card.json")); err != nil {
		t.Fatalf("card file missing: %v", err)
	}
}
