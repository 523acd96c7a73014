package ensemble

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/retailcast/demandcast/internal/forecast"
)

// Regressor is the feature-based model contract. Fit consumes a scaled
// design matrix; Predict consumes rows scaled by the same scaler.
type Regressor interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
	Kind() forecast.ModelKind
}

// RegressorConfig carries the per-kind hyperparameters.
type RegressorConfig struct {
	Trees        int     // forest / boosting rounds
	MaxDepth     int     // tree depth
	LearningRate float64 // boosting shrinkage
	C            float64 // SVR regularization
	Epsilon      float64 // SVR insensitive band
	Gamma        float64 // SVR RBF width; 0 = 1/nFeatures
	Alpha        float64 // ridge/lasso regularization
	Seed         int64
}

// DefaultRegressorConfig returns the production hyperparameters.
func DefaultRegressorConfig() RegressorConfig {
	return RegressorConfig{
		Trees:        100,
		MaxDepth:     3,
		LearningRate: 0.1,
		C:            1.0,
		Epsilon:      0.1,
		Alpha:        1.0,
		Seed:         42,
	}
}

// NewRegressor constructs the regressor for an ensemble kind.
func NewRegressor(kind forecast.ModelKind, config RegressorConfig) (Regressor, error) {
	switch kind {
	case forecast.KindRandomForest:
		return newRandomForest(config), nil
	case forecast.KindGradientBoosting:
		return newGradientBoosting(config), nil
	case forecast.KindSVR:
		return newSVR(config), nil
	case forecast.KindLinear:
		return &linearRegressor{kind: forecast.KindLinear}, nil
	case forecast.KindRidge:
		return &linearRegressor{kind: forecast.KindRidge, alpha: config.Alpha}, nil
	case forecast.KindLasso:
		return newLasso(config), nil
	}
	return nil, fmt.Errorf("kind %s is not a feature-based regressor", kind)
}

func checkMatrix(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("matrix/target size mismatch: %d rows, %d targets", len(X), len(y))
	}
	return nil
}

// ---- random forest ----

type randomForest struct {
	config RegressorConfig
	trees  []*regressionTree
}

func newRandomForest(config RegressorConfig) *randomForest {
	if config.Trees <= 0 {
		config.Trees = 100
	}
	return &randomForest{config: config}
}

func (f *randomForest) Kind() forecast.ModelKind { return forecast.KindRandomForest }

func (f *randomForest) Fit(X [][]float64, y []float64) error {
	if err := checkMatrix(X, y); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(f.config.Seed))
	n := len(y)
	maxFeatures := sqrtFeatures(len(X[0]))

	f.trees = make([]*regressionTree, f.config.Trees)
	for t := range f.trees {
		// bootstrap sample
		bx := make([][]float64, n)
		by := make([]float64, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			bx[i] = X[j]
			by[i] = y[j]
		}
		tree := newRegressionTree(10, 2, maxFeatures)
		tree.fit(bx, by, rng)
		f.trees[t] = tree
	}
	return nil
}

func (f *randomForest) Predict(X [][]float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, forecast.ErrNotFitted
	}
	out := make([]float64, len(X))
	for i, x := range X {
		sum := 0.0
		for _, tree := range f.trees {
			sum += tree.predict(x)
		}
		out[i] = sum / float64(len(f.trees))
	}
	return out, nil
}

// ---- gradient boosting ----

type gradientBoosting struct {
	config RegressorConfig
	base   float64
	trees  []*regressionTree
}

func newGradientBoosting(config RegressorConfig) *gradientBoosting {
	if config.Trees <= 0 {
		config.Trees = 100
	}
	if config.LearningRate <= 0 {
		config.LearningRate = 0.1
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = 3
	}
	return &gradientBoosting{config: config}
}

func (g *gradientBoosting) Kind() forecast.ModelKind { return forecast.KindGradientBoosting }

func (g *gradientBoosting) Fit(X [][]float64, y []float64) error {
	if err := checkMatrix(X, y); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(g.config.Seed))

	sum := 0.0
	for _, v := range y {
		sum += v
	}
	g.base = sum / float64(len(y))

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = g.base
	}

	residual := make([]float64, len(y))
	g.trees = make([]*regressionTree, 0, g.config.Trees)
	for t := 0; t < g.config.Trees; t++ {
		for i := range y {
			residual[i] = y[i] - pred[i]
		}
		tree := newRegressionTree(g.config.MaxDepth, 2, 0)
		tree.fit(X, residual, rng)
		g.trees = append(g.trees, tree)

		for i, x := range X {
			pred[i] += g.config.LearningRate * tree.predict(x)
		}
	}
	return nil
}

func (g *gradientBoosting) Predict(X [][]float64) ([]float64, error) {
	if len(g.trees) == 0 {
		return nil, forecast.ErrNotFitted
	}
	out := make([]float64, len(X))
	for i, x := range X {
		v := g.base
		for _, tree := range g.trees {
			v += g.config.LearningRate * tree.predict(x)
		}
		out[i] = v
	}
	return out, nil
}

// ---- support-vector regression ----

// svr is an RBF-kernel support-vector regressor trained by projected
// subgradient descent on the epsilon-insensitive loss over dual-style
// per-sample coefficients.
type svr struct {
	config  RegressorConfig
	gamma   float64
	support [][]float64
	coeffs  []float64
	bias    float64
}

func newSVR(config RegressorConfig) *svr {
	if config.C <= 0 {
		config.C = 1.0
	}
	if config.Epsilon <= 0 {
		config.Epsilon = 0.1
	}
	return &svr{config: config}
}

func (s *svr) Kind() forecast.ModelKind { return forecast.KindSVR }

func (s *svr) rbf(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return math.Exp(-s.gamma * d)
}

func (s *svr) Fit(X [][]float64, y []float64) error {
	if err := checkMatrix(X, y); err != nil {
		return err
	}
	n := len(y)
	s.gamma = s.config.Gamma
	if s.gamma <= 0 {
		s.gamma = 1 / float64(len(X[0]))
	}
	s.support = X
	s.coeffs = make([]float64, n)

	// Precompute the kernel matrix once; training sets here are small
	// (monthly history per entity).
	K := make([][]float64, n)
	for i := range K {
		K[i] = make([]float64, n)
		for j := range K[i] {
			K[i][j] = s.rbf(X[i], X[j])
		}
	}

	sum := 0.0
	for _, v := range y {
		sum += v
	}
	s.bias = sum / float64(n)

	const (
		maxIter = 200
		lr      = 0.1
	)
	for iter := 0; iter < maxIter; iter++ {
		maxUpdate := 0.0
		for i := 0; i < n; i++ {
			pred := s.bias
			for j := 0; j < n; j++ {
				pred += s.coeffs[j] * K[i][j]
			}
			err := y[i] - pred
			if math.Abs(err) <= s.config.Epsilon {
				continue
			}
			update := lr * err
			s.coeffs[i] += update
			// box constraint from the regularization budget
			if s.coeffs[i] > s.config.C {
				s.coeffs[i] = s.config.C
			}
			if s.coeffs[i] < -s.config.C {
				s.coeffs[i] = -s.config.C
			}
			if math.Abs(update) > maxUpdate {
				maxUpdate = math.Abs(update)
			}
		}
		if maxUpdate < 1e-6 {
			break
		}
	}
	return nil
}

func (s *svr) Predict(X [][]float64) ([]float64, error) {
	if s.support == nil {
		return nil, forecast.ErrNotFitted
	}
	out := make([]float64, len(X))
	for i, x := range X {
		v := s.bias
		for j, sv := range s.support {
			if s.coeffs[j] != 0 {
				v += s.coeffs[j] * s.rbf(sv, x)
			}
		}
		out[i] = v
	}
	return out, nil
}

// ---- linear family ----

// linearRegressor solves ordinary least squares, or ridge when alpha > 0,
// via the normal equations.
type linearRegressor struct {
	kind    forecast.ModelKind
	alpha   float64
	weights []float64
	bias    float64
}

func (l *linearRegressor) Kind() forecast.ModelKind { return l.kind }

func (l *linearRegressor) Fit(X [][]float64, y []float64) error {
	if err := checkMatrix(X, y); err != nil {
		return err
	}
	n := len(y)
	p := len(X[0])

	// Constant columns duplicate the intercept and make X'X exactly
	// singular for plain least squares. Solve over the varying columns
	// only; dropped columns keep a zero weight.
	varying := make([]int, 0, p)
	for j := 0; j < p; j++ {
		for i := 1; i < n; i++ {
			if X[i][j] != X[0][j] {
				varying = append(varying, j)
				break
			}
		}
	}

	// augment with an intercept column
	a := mat.NewDense(n, len(varying)+1, nil)
	for i, row := range X {
		a.Set(i, 0, 1)
		for c, j := range varying {
			a.Set(i, c+1, row[j])
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), y...))

	var ata mat.Dense
	ata.Mul(a.T(), a)
	if l.alpha > 0 {
		for c := 1; c <= len(varying); c++ { // intercept is not penalized
			ata.Set(c, c, ata.At(c, c)+l.alpha)
		}
	}
	var atb mat.VecDense
	atb.MulVec(a.T(), b)

	var theta mat.VecDense
	if err := theta.SolveVec(&ata, &atb); err != nil {
		return fmt.Errorf("%s normal equations singular: %w", l.kind, err)
	}

	l.bias = theta.AtVec(0)
	l.weights = make([]float64, p)
	for c, j := range varying {
		l.weights[j] = theta.AtVec(c + 1)
	}
	return nil
}

func (l *linearRegressor) Predict(X [][]float64) ([]float64, error) {
	if l.weights == nil {
		return nil, forecast.ErrNotFitted
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != len(l.weights) {
			return nil, errors.New("feature count mismatch with fitted weights")
		}
		v := l.bias
		for j, w := range l.weights {
			v += w * row[j]
		}
		out[i] = v
	}
	return out, nil
}

// lasso fits L1-regularized least squares by cyclic coordinate descent.
type lasso struct {
	alpha   float64
	weights []float64
	bias    float64
}

func newLasso(config RegressorConfig) *lasso {
	alpha := config.Alpha
	if alpha <= 0 {
		alpha = 1.0
	}
	return &lasso{alpha: alpha}
}

func (l *lasso) Kind() forecast.ModelKind { return forecast.KindLasso }

func (l *lasso) Fit(X [][]float64, y []float64) error {
	if err := checkMatrix(X, y); err != nil {
		return err
	}
	n := len(y)
	p := len(X[0])

	ymean := 0.0
	for _, v := range y {
		ymean += v
	}
	ymean /= float64(n)
	l.bias = ymean

	w := make([]float64, p)
	residual := make([]float64, n)
	for i := range residual {
		residual[i] = y[i] - l.bias
	}

	colSS := make([]float64, p)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			colSS[j] += X[i][j] * X[i][j]
		}
	}

	const maxIter = 200
	for iter := 0; iter < maxIter; iter++ {
		maxDelta := 0.0
		for j := 0; j < p; j++ {
			if colSS[j] == 0 {
				continue
			}
			// partial residual correlation with feature j
			rho := 0.0
			for i := 0; i < n; i++ {
				rho += X[i][j] * (residual[i] + w[j]*X[i][j])
			}
			newW := softThreshold(rho, l.alpha*float64(n)/2) / colSS[j]
			if newW != w[j] {
				delta := newW - w[j]
				for i := 0; i < n; i++ {
					residual[i] -= delta * X[i][j]
				}
				if math.Abs(delta) > maxDelta {
					maxDelta = math.Abs(delta)
				}
				w[j] = newW
			}
		}
		if maxDelta < 1e-7 {
			break
		}
	}
	l.weights = w
	return nil
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	}
	return 0
}

func (l *lasso) Predict(X [][]float64) ([]float64, error) {
	if l.weights == nil {
		return nil, forecast.ErrNotFitted
	}
	out := make([]float64, len(X))
	for i, row := range X {
		v := l.bias
		for j, w := range l.weights {
			v += w * row[j]
		}
		out[i] = v
	}
	return out, nil
}
