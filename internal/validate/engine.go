// Package validate implements per-record commission validation and batch
// metrics against a tiered policy set.
package validate

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rate deviations within this absolute tolerance are considered aligned.
const rateTolerance = 0.001

// Commission amounts above this fraction of deal size always violate the cap,
// whatever the tier policy says.
const commissionCap = 0.15

// Deals more than this multiple over the tier threshold earn the accelerator.
const acceleratorTrigger = 1.2

// The accelerator bumps the base rate by 10%.
const acceleratorFactor = 1.1

// RuleProvider supplies the current tier policies. *rulestore.Store
// satisfies it; tests can plug in a fixed map.
type RuleProvider interface {
	Rules() domain.PolicySet
	Lookup(tierName string) (domain.TierPolicy, bool)
}

// Engine validates deal records against a policy provider.
type Engine struct {
	rules RuleProvider
}

// NewEngine creates a validation engine backed by the given policy provider.
func NewEngine(rules RuleProvider) *Engine {
	return &Engine{rules: rules}
}

// ValidateRecord checks one deal record and returns its issues in the order
// the checks ran. An empty slice means the record passes.
//
// An unrecognized tier short-circuits: the expected rate is undefined
// without a tier, so exactly one issue is reported and no further checks run.
func (e *Engine) ValidateRecord(record *domain.DealRecord) []string {
	var issues []string

	policy, ok := e.rules.Lookup(record.ProductTier)
	if !ok {
		return []string{fmt.Sprintf("Unknown product tier: %s", record.ProductTier)}
	}

	expected := expectedRate(record.DealSize, policy)
	if math.Abs(record.CommissionRate-expected) > rateTolerance {
		issues = append(issues, fmt.Sprintf("Rate mismatch: expected %.3f, got %.3f", expected, record.CommissionRate))
	}

	if record.CommissionAmount > record.DealSize*commissionCap {
		issues = append(issues, "Commission exceeds 15% cap")
	}

	if record.DealSize < 0 {
		issues = append(issues, "Negative deal size")
	}

	return issues
}

// ExpectedRate derives the policy-implied commission rate for a deal. The
// tier must exist in the current policy set.
func (e *Engine) ExpectedRate(dealSize float64, tierName string) (float64, error) {
	policy, ok := e.rules.Lookup(tierName)
	if !ok {
		return 0, fmt.Errorf("unknown product tier: %s", tierName)
	}
	return expectedRate(dealSize, policy), nil
}

func expectedRate(dealSize float64, policy domain.TierPolicy) float64 {
	// A zero threshold means the base rate applies at every deal size;
	// without this guard every positive deal would accelerate.
	if policy.Threshold > 0 && dealSize > float64(policy.Threshold)*acceleratorTrigger {
		return policy.Rate * acceleratorFactor
	}
	return policy.Rate
}

// Result classifies one record: its issues plus a PASS/FAIL status.
func (e *Engine) Result(record *domain.DealRecord) domain.RecordResult {
	issues := e.ValidateRecord(record)
	status := domain.StatusPass
	if len(issues) > 0 {
		status = domain.StatusFail
	}
	return domain.RecordResult{
		DealID: record.DealID,
		Issues: issues,
		Status: status,
	}
}

// BatchMetrics aggregates figures over a batch of records. FlaggedCount is
// the total issue count across all records, not the number of failing
// records. An empty batch yields an AverageRate of zero.
func (e *Engine) BatchMetrics(records []domain.DealRecord) domain.MetricsSnapshot {
	snap := domain.MetricsSnapshot{TotalDeals: len(records)}

	var rateSum float64
	for i := range records {
		snap.TotalCommissions += records[i].CommissionAmount
		rateSum += records[i].CommissionRate
		snap.FlaggedCount += len(e.ValidateRecord(&records[i]))
	}

	if len(records) > 0 {
		snap.AverageRate = rateSum / float64(len(records))
	}

	return snap
}
