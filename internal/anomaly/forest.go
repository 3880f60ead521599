// Package anomaly provides unsupervised outlier detection for deal batches.
//
// The detector is an isolation forest over the numeric feature triple
// (deal_size, commission_amount, commission_rate). It is configured with a
// contamination fraction (expected outlier proportion) and a fixed random
// seed so labels are reproducible across runs.
package anomaly

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detector is a seeded isolation forest.
type Detector struct {
	contamination float64
	seed          int64
	trees         int
	sampleSize    int
}

// NewDetector creates a detector from configuration, applying the standard
// defaults (contamination 0.1, seed 42, 100 trees, subsample 256) for any
// zero field.
func NewDetector(cfg domain.AnomalyConfig) *Detector {
	d := &Detector{
		contamination: cfg.Contamination,
		seed:          cfg.Seed,
		trees:         cfg.Trees,
		sampleSize:    cfg.SampleSize,
	}
	if d.contamination <= 0 || d.contamination >= 1 {
		d.contamination = 0.1
	}
	if d.trees <= 0 {
		d.trees = 100
	}
	if d.sampleSize <= 0 {
		d.sampleSize = 256
	}
	return d
}

// FitPredict fits the forest on the feature matrix and returns one label
// per row: true marks an outlier. Roughly a contamination fraction of the
// rows is labeled. The labels are deterministic for a fixed seed.
func (d *Detector) FitPredict(features [][]float64) []bool {
	n := len(features)
	labels := make([]bool, n)
	if n < 2 {
		return labels
	}

	scores := d.scores(features)

	// The score threshold is the (1 - contamination) empirical quantile:
	// rows scoring strictly above it are outliers.
	sorted := make([]float64, n)
	copy(sorted, scores)
	sort.Float64s(sorted)
	threshold := stat.Quantile(1-d.contamination, stat.Empirical, sorted, nil)

	for i, s := range scores {
		labels[i] = s > threshold
	}
	return labels
}

// LabelRecords runs detection over deal records and returns per-record labels.
func (d *Detector) LabelRecords(records []domain.DealRecord) []bool {
	features := make([][]float64, len(records))
	for i := range records {
		features[i] = records[i].FeatureTriple()
	}
	return d.FitPredict(features)
}

// scores computes the isolation-forest anomaly score for every row:
// s(x) = 2^(-E[h(x)] / c(psi)), where h is the path length to isolate x
// and c is the average path length of an unsuccessful BST search.
func (d *Detector) scores(features [][]float64) []float64 {
	n := len(features)
	rng := rand.New(rand.NewSource(d.seed))

	psi := d.sampleSize
	if psi > n {
		psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	pathSums := make([]float64, n)
	for t := 0; t < d.trees; t++ {
		sample := rng.Perm(n)[:psi]
		tree := buildTree(features, sample, 0, maxDepth, rng)
		for i := range features {
			pathSums[i] += tree.pathLength(features[i], 0)
		}
	}

	norm := avgPathLength(float64(psi))
	scores := make([]float64, n)
	for i := range scores {
		mean := pathSums[i] / float64(d.trees)
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

// node is one isolation tree node.
type node struct {
	// Internal nodes
	feature int
	split   float64
	left    *node
	right   *node

	// Leaves
	leaf bool
	size int
}

// buildTree grows an isolation tree over the sampled row indices.
func buildTree(features [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *node {
	if depth >= maxDepth || len(idx) <= 1 {
		return &node{leaf: true, size: len(idx)}
	}

	dims := len(features[idx[0]])

	// Pick a feature with spread; give up and leaf out if every feature is
	// constant on this partition.
	order := rng.Perm(dims)
	feature := -1
	var lo, hi float64
	for _, f := range order {
		lo, hi = features[idx[0]][f], features[idx[0]][f]
		for _, i := range idx[1:] {
			v := features[i][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			feature = f
			break
		}
	}
	if feature < 0 {
		return &node{leaf: true, size: len(idx)}
	}

	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if features[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &node{leaf: true, size: len(idx)}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    buildTree(features, left, depth+1, maxDepth, rng),
		right:   buildTree(features, right, depth+1, maxDepth, rng),
	}
}

// pathLength walks a point down the tree, adding the unsuccessful-search
// adjustment for leaves that still hold multiple points.
func (nd *node) pathLength(point []float64, depth int) float64 {
	if nd.leaf {
		if nd.size <= 1 {
			return float64(depth)
		}
		return float64(depth) + avgPathLength(float64(nd.size))
	}
	if point[nd.feature] < nd.split {
		return nd.left.pathLength(point, depth+1)
	}
	return nd.right.pathLength(point, depth+1)
}

// eulerMascheroni is used in the harmonic-number approximation.
const eulerMascheroni = 0.5772156649

// avgPathLength is c(n), the average path length of an unsuccessful search
// in a BST of n nodes.
func avgPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(n-1) + eulerMascheroni
	return 2*h - 2*(n-1)/n
}
