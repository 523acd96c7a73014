package orchestrator

import "time"

// Step names in execution order.
const (
	StepFetchData           = "fetch_data"
	StepBuildFeatures       = "build_features"
	StepFitModels           = "fit_models"
	StepEvaluateAndRegister = "evaluate_and_register"
	StepSelectBest          = "select_best"
	StepGenerateForecasts   = "generate_forecasts"
	StepDisaggregate        = "disaggregate"
	StepPersist             = "persist"
)

// stepOrder drives report rendering; the Steps map itself is unordered.
var stepOrder = []string{
	StepFetchData,
	StepBuildFeatures,
	StepFitModels,
	StepEvaluateAndRegister,
	StepSelectBest,
	StepGenerateForecasts,
	StepDisaggregate,
	StepPersist,
}

// StepReport is the outcome of one pipeline step. Count is step-specific:
// entities fetched, models fitted, records written. Errors holds the
// non-fatal failures absorbed inside the step, with entity/kind context.
type StepReport struct {
	Completed bool     `json:"completed"`
	Message   string   `json:"message,omitempty"`
	Count     int      `json:"count"`
	Errors    []string `json:"errors,omitempty"`
}

// RunReport is the full outcome of one orchestrator run. Success with a
// non-empty Errors list inside steps means "completed with some entities
// skipped"; Success false distinguishes "hard failure before useful work".
type RunReport struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	Steps      map[string]StepReport `json:"steps"`
}

func newRunReport(runID string) *RunReport {
	return &RunReport{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Steps:     make(map[string]StepReport),
	}
}

func (r *RunReport) setStep(name string, s StepReport) {
	r.Steps[name] = s
}

func (r *RunReport) finish(success bool, message string) *RunReport {
	r.FinishedAt = time.Now().UTC()
	r.Success = success
	r.Message = message
	return r
}

// StepNames returns the canonical step order for rendering.
func StepNames() []string {
	return append([]string(nil), stepOrder...)
}
