package ensemble

import (
	"math"
	"math/rand"
	"sort"
)

// regressionTree is a CART-style tree splitting on variance reduction.
// It underlies both the random forest and the gradient booster.
type regressionTree struct {
	maxDepth    int
	minSamples  int
	maxFeatures int // 0 = consider all features at each split
	root        *treeNode
}

type treeNode struct {
	feature   int
	threshold float64
	value     float64
	left      *treeNode
	right     *treeNode
}

func (n *treeNode) isLeaf() bool { return n.left == nil && n.right == nil }

func newRegressionTree(maxDepth, minSamples, maxFeatures int) *regressionTree {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if minSamples < 2 {
		minSamples = 2
	}
	return &regressionTree{maxDepth: maxDepth, minSamples: minSamples, maxFeatures: maxFeatures}
}

func (t *regressionTree) fit(X [][]float64, y []float64, rng *rand.Rand) {
	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}
	t.root = t.grow(X, y, idx, 0, rng)
}

func (t *regressionTree) grow(X [][]float64, y []float64, idx []int, depth int, rng *rand.Rand) *treeNode {
	node := &treeNode{value: meanAt(y, idx)}
	if depth >= t.maxDepth || len(idx) < t.minSamples {
		return node
	}

	feature, threshold, ok := t.bestSplit(X, y, idx, rng)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return node
	}

	node.feature = feature
	node.threshold = threshold
	node.left = t.grow(X, y, left, depth+1, rng)
	node.right = t.grow(X, y, right, depth+1, rng)
	return node
}

// bestSplit scans candidate features for the split minimizing weighted child
// variance. With maxFeatures set, a random feature subset is scanned, which
// is what decorrelates forest members.
func (t *regressionTree) bestSplit(X [][]float64, y []float64, idx []int, rng *rand.Rand) (feature int, threshold float64, ok bool) {
	nFeatures := len(X[idx[0]])
	candidates := make([]int, nFeatures)
	for i := range candidates {
		candidates[i] = i
	}
	if t.maxFeatures > 0 && t.maxFeatures < nFeatures && rng != nil {
		rng.Shuffle(nFeatures, func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
		candidates = candidates[:t.maxFeatures]
	}

	parentSS := sumSquaresAt(y, idx)
	bestGain := 1e-12

	for _, f := range candidates {
		thresholds := uniqueValues(X, idx, f)
		for _, th := range thresholds {
			var leftSum, rightSum float64
			var leftSS, rightSS float64
			var nl, nr int
			for _, i := range idx {
				if X[i][f] <= th {
					leftSum += y[i]
					leftSS += y[i] * y[i]
					nl++
				} else {
					rightSum += y[i]
					rightSS += y[i] * y[i]
					nr++
				}
			}
			if nl == 0 || nr == 0 {
				continue
			}
			childSS := (leftSS - leftSum*leftSum/float64(nl)) + (rightSS - rightSum*rightSum/float64(nr))
			gain := parentSS - childSS
			if gain > bestGain {
				bestGain = gain
				feature = f
				threshold = th
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func (t *regressionTree) predict(x []float64) float64 {
	node := t.root
	for !node.isLeaf() {
		if x[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.value
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func sumSquaresAt(y []float64, idx []int) float64 {
	m := meanAt(y, idx)
	ss := 0.0
	for _, i := range idx {
		d := y[i] - m
		ss += d * d
	}
	return ss
}

// uniqueValues returns candidate split thresholds: midpoints between sorted
// distinct feature values, capped to keep the scan bounded.
func uniqueValues(X [][]float64, idx []int, f int) []float64 {
	seen := make(map[float64]bool, len(idx))
	values := make([]float64, 0, len(idx))
	for _, i := range idx {
		v := X[i][f]
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return nil
	}
	sort.Float64s(values)

	const maxThresholds = 32
	step := 1
	if len(values)-1 > maxThresholds {
		step = (len(values) - 1) / maxThresholds
	}
	var out []float64
	for i := 0; i+1 < len(values); i += step {
		out = append(out, (values[i]+values[i+1])/2)
	}
	return out
}

// sqrtFeatures is the forest default feature-subset size.
func sqrtFeatures(n int) int {
	s := int(math.Sqrt(float64(n)))
	if s < 1 {
		s = 1
	}
	return s
}
