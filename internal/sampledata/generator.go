// Package sampledata synthesizes realistic commission deal batches for
// demos, load tools, and tests. Generation is fully determined by the seed.
package sampledata

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultSeed reproduces the canonical sample batch.
const DefaultSeed = 42

// DefaultCount is the canonical sample batch size.
const DefaultCount = 100

var sampleReps = []string{"John Smith", "Sarah Chen", "Mike Johnson", "Lisa Wang", "David Brown"}

var sampleRegions = []string{"North America", "Europe", "Asia Pacific"}

// Tier draw probabilities: standard 50%, premium 30%, enterprise 20%.
var sampleTiers = []struct {
	name string
	p    float64
}{
	{"standard", 0.5},
	{"premium", 0.3},
	{"enterprise", 0.2},
}

// Generator produces synthetic deal records.
type Generator struct {
	seed  uint64
	count int
}

// New creates a generator. A zero seed or count falls back to the defaults.
func New(seed uint64, count int) *Generator {
	if seed == 0 {
		seed = DefaultSeed
	}
	if count <= 0 {
		count = DefaultCount
	}
	return &Generator{seed: seed, count: count}
}

// Generate synthesizes the deal batch: lognormal deal sizes clipped at a
// 1000 floor, normal commission rates clipped to [0.01, 0.15], amounts
// derived as size*rate, and a tenth of the records perturbed into anomalies
// (doubled amounts, with half of those also given an off-policy 0.20 rate).
func (g *Generator) Generate() []domain.DealRecord {
	src := rand.NewSource(g.seed)
	rng := rand.New(src)

	sizeDist := distuv.LogNormal{Mu: 10, Sigma: 1, Src: src}
	rateDist := distuv.Normal{Mu: 0.06, Sigma: 0.02, Src: src}

	records := make([]domain.DealRecord, g.count)
	for i := range records {
		size := clip(sizeDist.Rand(), 1000, 0)
		rate := clip(rateDist.Rand(), 0.01, 0.15)

		records[i] = domain.DealRecord{
			DealID:           fmt.Sprintf("DEAL_%04d", i+1),
			SalesRep:         sampleReps[rng.Intn(len(sampleReps))],
			Region:           sampleRegions[rng.Intn(len(sampleRegions))],
			ProductTier:      pickTier(rng),
			DealSize:         size,
			CommissionRate:   rate,
			CommissionAmount: size * rate,
		}
	}

	g.injectAnomalies(rng, records)
	return records
}

// injectAnomalies perturbs 10% of the records so every demo batch has
// something for the detector to find.
func (g *Generator) injectAnomalies(rng *rand.Rand, records []domain.DealRecord) {
	n := len(records) / 10
	if n == 0 {
		return
	}

	picked := rng.Perm(len(records))[:n]
	for j, i := range picked {
		records[i].CommissionAmount *= 2
		if j >= n/2 {
			records[i].CommissionRate = 0.20
		}
	}
}

func pickTier(rng *rand.Rand) string {
	u := rng.Float64()
	acc := 0.0
	for _, t := range sampleTiers {
		acc += t.p
		if u < acc {
			return t.name
		}
	}
	return sampleTiers[len(sampleTiers)-1].name
}

// clip bounds v to [lo, hi]; hi <= 0 means no upper bound.
func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
