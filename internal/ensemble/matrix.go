package ensemble

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/retailcast/demandcast/internal/dataset"
	"github.com/retailcast/demandcast/internal/features"
)

// TargetField selects which series track a matrix predicts.
type TargetField int

const (
	TargetQuantity TargetField = iota
	TargetRevenue
)

// Matrix is a dense design matrix with its aligned targets and periods.
type Matrix struct {
	Names   []string
	Rows    [][]float64
	Targets []float64
	Periods []dataset.Period
}

// Prepare flattens one entity's feature set into a design matrix. Rows whose
// target is NaN are dropped; feature gaps are filled column-wise
// (backward, then forward, then zero).
func Prepare(fs *features.FeatureSet, target TargetField) (*Matrix, error) {
	if len(fs.Rows) == 0 {
		return nil, fmt.Errorf("empty feature set for %s", fs.EntityKey())
	}

	m := &Matrix{Names: append([]string(nil), fs.Names...)}
	for _, row := range fs.Rows {
		t := row.TargetQuantity
		if target == TargetRevenue {
			t = row.TargetRevenue
		}
		if math.IsNaN(t) {
			continue
		}
		m.Rows = append(m.Rows, append([]float64(nil), row.Values...))
		m.Targets = append(m.Targets, t)
		m.Periods = append(m.Periods, row.Period)
	}
	if len(m.Rows) == 0 {
		return nil, fmt.Errorf("no usable rows for %s", fs.EntityKey())
	}

	fillMissing(m.Rows)
	return m, nil
}

// PreparePooled combines several entities into one matrix with one-hot
// entity identity columns appended, for cross-entity training.
func PreparePooled(sets []*features.FeatureSet, target TargetField) (*Matrix, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("no feature sets to pool")
	}

	entities := make([]string, 0, len(sets))
	for _, fs := range sets {
		entities = append(entities, fs.EntityKey())
	}
	sort.Strings(entities)
	hot := make(map[string]int, len(entities))
	for i, e := range entities {
		hot[e] = i
	}

	pooled := &Matrix{Names: append([]string(nil), sets[0].Names...)}
	for _, e := range entities {
		pooled.Names = append(pooled.Names, "entity_"+e)
	}

	for _, fs := range sets {
		single, err := Prepare(fs, target)
		if err != nil {
			continue // entity with no usable rows; pooled set survives
		}
		onehot := make([]float64, len(entities))
		onehot[hot[fs.EntityKey()]] = 1
		for i, row := range single.Rows {
			pooled.Rows = append(pooled.Rows, append(row, onehot...))
			pooled.Targets = append(pooled.Targets, single.Targets[i])
			pooled.Periods = append(pooled.Periods, single.Periods[i])
		}
	}
	if len(pooled.Rows) == 0 {
		return nil, fmt.Errorf("no usable rows across %d pooled entities", len(sets))
	}
	return pooled, nil
}

// fillMissing patches NaN cells per column: backward fill, then forward
// fill, then zero.
func fillMissing(rows [][]float64) {
	if len(rows) == 0 {
		return
	}
	cols := len(rows[0])
	for c := 0; c < cols; c++ {
		// backward fill: take the next defined value below
		next := math.NaN()
		for r := len(rows) - 1; r >= 0; r-- {
			if !math.IsNaN(rows[r][c]) {
				next = rows[r][c]
			} else if !math.IsNaN(next) {
				rows[r][c] = next
			}
		}
		// forward fill the leading remainder
		prev := math.NaN()
		for r := 0; r < len(rows); r++ {
			if !math.IsNaN(rows[r][c]) {
				prev = rows[r][c]
			} else if !math.IsNaN(prev) {
				rows[r][c] = prev
			}
		}
		// zero out columns that never had a value
		for r := range rows {
			if math.IsNaN(rows[r][c]) {
				rows[r][c] = 0
			}
		}
	}
}

// SplitTime sorts rows chronologically and reserves the trailing fraction as
// the test set.
func (m *Matrix) SplitTime(testFraction float64) (train, test *Matrix, err error) {
	n := len(m.Rows)
	if n < 2 {
		return nil, nil, fmt.Errorf("matrix too small to split: %d rows", n)
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0,1), got %f", testFraction)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return m.Periods[order[a]].Before(m.Periods[order[b]])
	})

	cut := int(float64(n) * (1 - testFraction))
	if cut < 1 {
		cut = 1
	}
	if cut >= n {
		cut = n - 1
	}
	return m.subset(order[:cut]), m.subset(order[cut:]), nil
}

// SplitRandom reserves a seeded random test fraction for pooled training.
func (m *Matrix) SplitRandom(testFraction float64, seed int64) (train, test *Matrix, err error) {
	n := len(m.Rows)
	if n < 2 {
		return nil, nil, fmt.Errorf("matrix too small to split: %d rows", n)
	}
	trainIdx, testIdx := dataset.SplitRandomIndices(n, testFraction, seed)
	return m.subset(trainIdx), m.subset(testIdx), nil
}

func (m *Matrix) subset(idx []int) *Matrix {
	out := &Matrix{Names: m.Names}
	for _, i := range idx {
		out.Rows = append(out.Rows, m.Rows[i])
		out.Targets = append(out.Targets, m.Targets[i])
		out.Periods = append(out.Periods, m.Periods[i])
	}
	return out
}

// StandardScaler standardizes features to zero mean and unit variance.
// It is fit on the training set only and reused verbatim for test and
// inference rows.
type StandardScaler struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// FitScaler computes per-column statistics over the matrix.
func FitScaler(m *Matrix) *StandardScaler {
	cols := len(m.Names)
	s := &StandardScaler{
		Mean:   make([]float64, cols),
		Stddev: make([]float64, cols),
	}
	col := make([]float64, len(m.Rows))
	for c := 0; c < cols; c++ {
		for r := range m.Rows {
			col[r] = m.Rows[r][c]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1 // constant column stays constant after scaling
		}
		s.Mean[c] = mean
		s.Stddev[c] = std
	}
	return s
}

// Transform returns scaled copies of the rows.
func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for r, row := range rows {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row has %d features, scaler expects %d", len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for c, v := range row {
			scaled[c] = (v - s.Mean[c]) / s.Stddev[c]
		}
		out[r] = scaled
	}
	return out, nil
}
