package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/retailcast/demandcast/internal/eval"
	"github.com/retailcast/demandcast/internal/forecast"
)

// ModelCard documents a registered model for humans reviewing the catalog.
type ModelCard struct {
	ModelID      string             `json:"model_id"`
	Kind         forecast.ModelKind `json:"kind"`
	Entity       string             `json:"entity"`
	TrainedAt    time.Time          `json:"trained_at"`
	Observations int                `json:"observations"`
	WindowFrom   string             `json:"window_from"`
	WindowTo     string             `json:"window_to"`
	Metrics      eval.Metrics       `json:"metrics"`
	Limitations  []string           `json:"limitations"`
	IntendedUse  string             `json:"intended_use"`
}

// NewModelCard fills a card from a trained model and its holdout metrics.
func NewModelCard(m *forecast.TrainedModel, metrics eval.Metrics) *ModelCard {
	return &ModelCard{
		ModelID:      m.ID,
		Kind:         m.Kind,
		Entity:       m.Entity,
		TrainedAt:    m.TrainedAt,
		Observations: m.Forecaster.Metrics().Observations,
		WindowFrom:   m.WindowFrom.String(),
		WindowTo:     m.WindowTo.String(),
		Metrics:      metrics,
		Limitations: []string{
			"Trained on historical monthly demand; structural market shifts require retraining",
			fmt.Sprintf("Holdout RMSE: %.3f over %d points", metrics.RMSE, metrics.Points),
		},
		IntendedUse: "Monthly demand planning for procurement and inventory sizing",
	}
}

// SaveCard writes the card under cards/ next to the catalog.
func (r *Registry) SaveCard(card *ModelCard) error {
	cardDir := filepath.Join(r.dir, "cards")
	if err := os.MkdirAll(cardDir, 0755); err != nil {
		return fmt.Errorf("create card dir: %w", err)
	}

	path := filepath.Join(cardDir, fmt.Sprintf("%s-card.json", card.ModelID))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create card file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(card)
}
