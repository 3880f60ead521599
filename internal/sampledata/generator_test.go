package sampledata

import (
	"math"
	"testing"
)

func TestGenerateCountAndIDs(t *testing.T) {
	records := New(0, 0).Generate()

	if len(records) != DefaultCount {
		t.Fatalf("expected %d records, got %d", DefaultCount, len(records))
	}
	if records[0].DealID != "DEAL_0001" {
		t.Errorf("unexpected first deal ID: %s", records[0].DealID)
	}
	if records[99].DealID != "DEAL_0100" {
		t.Errorf("unexpected last deal ID: %s", records[99].DealID)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a := New(DefaultSeed, DefaultCount).Generate()
	b := New(DefaultSeed, DefaultCount).Generate()

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("record %d differs between runs with the same seed", i)
		}
	}

	c := New(DefaultSeed+1, DefaultCount).Generate()
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical batches")
	}
}

func TestGenerateBounds(t *testing.T) {
	records := New(0, 500).Generate()

	for _, r := range records {
		if r.DealSize < 1000 {
			t.Errorf("%s: deal size %v under the 1000 floor", r.DealID, r.DealSize)
		}
		if r.CommissionRate < 0.01 {
			t.Errorf("%s: rate %v under 0.01", r.DealID, r.CommissionRate)
		}
		// Injected anomalies may carry the off-policy 0.20 rate.
		if r.CommissionRate > 0.15 && r.CommissionRate != 0.20 {
			t.Errorf("%s: rate %v over 0.15 and not an injected anomaly", r.DealID, r.CommissionRate)
		}
		switch r.ProductTier {
		case "standard", "premium", "enterprise":
		default:
			t.Errorf("%s: unexpected tier %q", r.DealID, r.ProductTier)
		}
	}
}

func TestGenerateInjectsAnomalies(t *testing.T) {
	records := New(0, 0).Generate()

	// Anomalous records either carry the 0.20 rate or an amount that no
	// longer equals size*rate (doubled).
	perturbed := 0
	for _, r := range records {
		if math.Abs(r.CommissionAmount-r.DealSize*r.CommissionRate) > 1e-9 {
			perturbed++
		}
	}
	// 10 records get doubled amounts; the 5 that also get rate 0.20 may by
	// coincidence line up, so allow a little slack below 10.
	if perturbed < 5 {
		t.Errorf("expected at least 5 perturbed records, got %d", perturbed)
	}
}
