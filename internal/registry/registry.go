package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/retailcast/demandcast/internal/eval"
	"github.com/retailcast/demandcast/internal/forecast"
)

// ErrNotFound is returned when a lookup names a model or entity the catalog
// does not hold.
var ErrNotFound = errors.New("model not found")

// Entry is one registered model in the catalog.
type Entry struct {
	ModelID      string             `json:"model_id"`
	Kind         forecast.ModelKind `json:"kind"`
	Entity       string             `json:"entity"`
	Metrics      eval.Metrics       `json:"metrics"`
	RegisteredAt time.Time          `json:"registered_at"`
	ArtifactPath string             `json:"artifact_path,omitempty"`
	ArtifactHash string             `json:"artifact_hash,omitempty"`
}

// catalog is the single JSON document persisted to disk.
type catalog struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Entries   map[string]*Entry `json:"entries"`
}

// Registry keeps the evaluated-model catalog in one JSON document and model
// artifacts alongside it. Every mutation rewrites the whole document through
// a temp file and rename so a crashed writer never leaves a torn catalog.
type Registry struct {
	mu   sync.RWMutex
	dir  string
	path string

	entries map[string]*Entry
}

// NewRegistry opens (or creates) a registry rooted at dir. The catalog lives
// at dir/registry.json; artifacts under dir/artifacts/; model cards under
// dir/cards/. A missing catalog file yields an empty registry, any other
// read or decode failure is an error.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	r := &Registry{
		dir:     dir,
		path:    filepath.Join(dir, "registry.json"),
		entries: make(map[string]*Entry),
	}

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry catalog: %w", err)
	}

	var doc catalog
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode registry catalog: %w", err)
	}
	if doc.Entries != nil {
		r.entries = doc.Entries
	}
	return r, nil
}

// Register upserts an entry keyed by model ID and persists the catalog.
func (r *Registry) Register(entry Entry) error {
	if entry.ModelID == "" {
		return fmt.Errorf("entry has empty model ID")
	}
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.ModelID] = &entry
	return r.save()
}

// Get returns the entry for a model ID.
func (r *Registry) Get(modelID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, modelID)
	}
	copied := *e
	return &copied, nil
}

// List returns all entries, newest first, with model ID as tie-break so the
// order is stable across processes.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.After(out[j].RegisteredAt)
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}

// ListEntity returns the entries for one entity, newest first.
func (r *Registry) ListEntity(entity string) []Entry {
	all := r.List()
	out := all[:0]
	for _, e := range all {
		if e.Entity == entity {
			out = append(out, e)
		}
	}
	return append([]Entry(nil), out...)
}

// BestModel picks the entity's entry with the lowest RMSE. Ties fall to the
// earlier registration, then the smaller model ID, so repeated calls over
// the same catalog always agree. Returns ErrNotFound when the entity has no
// registered models.
func (r *Registry) BestModel(entity string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Entry
	for _, e := range r.entries {
		if e.Entity != entity {
			continue
		}
		if best == nil || betterThan(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no models for entity %q", ErrNotFound, entity)
	}
	copied := *best
	return &copied, nil
}

func betterThan(a, b *Entry) bool {
	if a.Metrics.RMSE != b.Metrics.RMSE {
		return a.Metrics.RMSE < b.Metrics.RMSE
	}
	if !a.RegisteredAt.Equal(b.RegisteredAt) {
		return a.RegisteredAt.Before(b.RegisteredAt)
	}
	return a.ModelID < b.ModelID
}

// Remove deletes an entry and persists the catalog. Removing an unknown
// model ID is a no-op.
func (r *Registry) Remove(modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[modelID]; !ok {
		return nil
	}
	delete(r.entries, modelID)
	return r.save()
}

// save writes the catalog document atomically. Caller holds the lock.
func (r *Registry) save() error {
	doc := catalog{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Entries:   r.entries,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry catalog: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write registry catalog: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace registry catalog: %w", err)
	}
	return nil
}

// SaveArtifact serializes a model payload under artifacts/ and records its
// SHA-256 on the entry before persisting. The artifact file is written
// read-only; its name embeds the hash prefix so re-registration of the same
// payload is idempotent.
func (r *Registry) SaveArtifact(modelID string, payload any) (string, string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("serialize artifact for %s: %w", modelID, err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	artifactDir := filepath.Join(r.dir, "artifacts")
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		return "", "", fmt.Errorf("create artifact dir: %w", err)
	}

	path := filepath.Join(artifactDir, fmt.Sprintf("%s-%s.json", modelID, hash[:8]))
	if _, err := os.Stat(path); err == nil {
		return path, hash, nil
	}
	if err := os.WriteFile(path, data, 0444); err != nil {
		return "", "", fmt.Errorf("write artifact for %s: %w", modelID, err)
	}
	return path, hash, nil
}

// VerifyArtifact recomputes the artifact hash and compares it against the
// catalog entry.
func (r *Registry) VerifyArtifact(modelID string) error {
	e, err := r.Get(modelID)
	if err != nil {
		return err
	}
	if e.ArtifactPath == "" {
		return fmt.Errorf("no artifact recorded for %s", modelID)
	}

	data, err := os.ReadFile(e.ArtifactPath)
	if err != nil {
		return fmt.Errorf("read artifact for %s: %w", modelID, err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != e.ArtifactHash {
		return fmt.Errorf("artifact hash mismatch for %s: expected %s, got %s", modelID, e.ArtifactHash, got)
	}
	return nil
}
