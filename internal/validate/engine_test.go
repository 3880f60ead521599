package validate

import (
	"math"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// fixedRules is a RuleProvider over an immutable map, so engine tests don't
// need a live store.
type fixedRules domain.PolicySet

func (f fixedRules) Rules() domain.PolicySet { return domain.PolicySet(f) }

func (f fixedRules) Lookup(name string) (domain.TierPolicy, bool) {
	p, ok := f[name]
	return p, ok
}

func newTestEngine(policies domain.PolicySet) *Engine {
	return NewEngine(fixedRules(policies))
}

func TestExpectedRateAcceleratorBoundary(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"premium": {Rate: 0.05, Threshold: 100000},
	})

	// 120000 is not strictly greater than 100000*1.2, so the base rate holds.
	rate, err := e.ExpectedRate(120000, "premium")
	if err != nil {
		t.Fatalf("ExpectedRate failed: %v", err)
	}
	if rate != 0.05 {
		t.Errorf("at the boundary: expected 0.05, got %v", rate)
	}

	// One unit over the boundary earns the 10% accelerator.
	rate, _ = e.ExpectedRate(120001, "premium")
	if math.Abs(rate-0.055) > 1e-12 {
		t.Errorf("over the boundary: expected 0.055, got %v", rate)
	}
}

func TestExpectedRateUnknownTier(t *testing.T) {
	e := newTestEngine(domain.PolicySet{"standard": {Rate: 0.05}})

	if _, err := e.ExpectedRate(1000, "gold"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestValidateRecordPasses(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"standard": {Rate: 0.05, Threshold: 0},
	})

	// A zero threshold never accelerates, so the base rate is expected.
	record := &domain.DealRecord{
		DealID:           "DEAL_0001",
		ProductTier:      "standard",
		DealSize:         50000,
		CommissionRate:   0.05,
		CommissionAmount: 2500,
	}

	if issues := e.ValidateRecord(record); len(issues) != 0 {
		t.Errorf("expected zero issues, got %v", issues)
	}
}

func TestValidateRecordRateMismatch(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"premium": {Rate: 0.07, Threshold: 100000},
	})

	record := &domain.DealRecord{
		DealID:           "DEAL_0002",
		ProductTier:      "premium",
		DealSize:         50000,
		CommissionRate:   0.09,
		CommissionAmount: 4500,
	}

	issues := e.ValidateRecord(record)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issues)
	}
	if issues[0] != "Rate mismatch: expected 0.070, got 0.090" {
		t.Errorf("unexpected issue text: %q", issues[0])
	}
}

func TestValidateRecordRateTolerance(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"standard": {Rate: 0.05, Threshold: 1000000},
	})

	// A deviation inside the 0.001 absolute tolerance is not an issue.
	record := &domain.DealRecord{
		ProductTier:      "standard",
		DealSize:         10000,
		CommissionRate:   0.0505,
		CommissionAmount: 505,
	}

	if issues := e.ValidateRecord(record); len(issues) != 0 {
		t.Errorf("expected tolerance to absorb 0.0005 deviation, got %v", issues)
	}
}

func TestValidateRecordCommissionCap(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"standard": {Rate: 0.05, Threshold: 0},
	})

	// The cap issue fires even when the rate matches expectation:
	// 2000 > 10000*0.15.
	record := &domain.DealRecord{
		DealID:           "DEAL_0003",
		ProductTier:      "standard",
		DealSize:         10000,
		CommissionRate:   0.05,
		CommissionAmount: 2000,
	}

	issues := e.ValidateRecord(record)
	if len(issues) != 1 {
		t.Fatalf("expected only the cap issue, got %v", issues)
	}
	if issues[0] != "Commission exceeds 15% cap" {
		t.Errorf("expected cap violation, got %q", issues[0])
	}
}

func TestValidateRecordNegativeDealSize(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"standard": {Rate: 0.05, Threshold: 0},
	})

	// Amount kept under size*0.15 (both negative) so only the size check fires.
	record := &domain.DealRecord{
		ProductTier:      "standard",
		DealSize:         -5000,
		CommissionRate:   0.05,
		CommissionAmount: -1000,
	}

	issues := e.ValidateRecord(record)
	if len(issues) != 1 {
		t.Fatalf("expected only the negative-deal-size issue, got %v", issues)
	}
	if issues[0] != "Negative deal size" {
		t.Errorf("unexpected issue: %q", issues[0])
	}
}

func TestValidateRecordUnknownTierShortCircuits(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"standard": {Rate: 0.05, Threshold: 0},
	})

	// Every other field is wildly wrong; the unknown tier must still yield
	// exactly one issue.
	record := &domain.DealRecord{
		DealID:           "DEAL_0004",
		ProductTier:      "gold",
		DealSize:         -100,
		CommissionRate:   0.9,
		CommissionAmount: 1e9,
	}

	issues := e.ValidateRecord(record)
	if len(issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %v", issues)
	}
	if !strings.Contains(issues[0], "Unknown product tier: gold") {
		t.Errorf("unexpected issue text: %q", issues[0])
	}
}

func TestResultStatus(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"standard": {Rate: 0.05, Threshold: 1000000},
	})

	pass := e.Result(&domain.DealRecord{
		DealID:           "DEAL_0005",
		ProductTier:      "standard",
		DealSize:         10000,
		CommissionRate:   0.05,
		CommissionAmount: 500,
	})
	if pass.Status != domain.StatusPass {
		t.Errorf("expected PASS, got %s (%v)", pass.Status, pass.Issues)
	}

	fail := e.Result(&domain.DealRecord{
		DealID:      "DEAL_0006",
		ProductTier: "gold",
	})
	if fail.Status != domain.StatusFail {
		t.Errorf("expected FAIL, got %s", fail.Status)
	}
}

func TestBatchMetrics(t *testing.T) {
	e := newTestEngine(domain.PolicySet{
		"standard": {Rate: 0.05, Threshold: 1000000},
	})

	records := []domain.DealRecord{
		// Clean record: no issues.
		{DealID: "DEAL_0001", ProductTier: "standard", DealSize: 10000, CommissionRate: 0.05, CommissionAmount: 500},
		// Rate mismatch + cap violation: two issues from one record.
		{DealID: "DEAL_0002", ProductTier: "standard", DealSize: 10000, CommissionRate: 0.20, CommissionAmount: 2000},
		// Unknown tier: one issue.
		{DealID: "DEAL_0003", ProductTier: "gold", DealSize: 5000, CommissionRate: 0.05, CommissionAmount: 250},
	}

	snap := e.BatchMetrics(records)

	if snap.TotalDeals != 3 {
		t.Errorf("expected 3 deals, got %d", snap.TotalDeals)
	}
	if math.Abs(snap.TotalCommissions-2750) > 1e-9 {
		t.Errorf("expected total commissions 2750, got %v", snap.TotalCommissions)
	}
	wantAvg := (0.05 + 0.20 + 0.05) / 3
	if math.Abs(snap.AverageRate-wantAvg) > 1e-12 {
		t.Errorf("expected average rate %v, got %v", wantAvg, snap.AverageRate)
	}

	// FlaggedCount counts issues, not failing records: 0 + 2 + 1 = 3,
	// while only 2 records fail.
	if snap.FlaggedCount != 3 {
		t.Errorf("expected flagged count 3, got %d", snap.FlaggedCount)
	}
}

func TestBatchMetricsEmpty(t *testing.T) {
	e := newTestEngine(domain.PolicySet{"standard": {Rate: 0.05}})

	snap := e.BatchMetrics(nil)
	if snap.TotalDeals != 0 || snap.FlaggedCount != 0 || snap.TotalCommissions != 0 {
		t.Errorf("expected zeroed snapshot, got %+v", snap)
	}
	// Empty batch convention: average rate is zero, never NaN.
	if snap.AverageRate != 0 {
		t.Errorf("expected zero average rate for empty batch, got %v", snap.AverageRate)
	}
}
