package domain

// TierPolicy defines the commission policy for one product tier.
type TierPolicy struct {
	// Rate is the fractional base commission rate, expected in [0, 1]
	// and typically <= 0.15 in this domain.
	Rate float64 `json:"rate"`

	// Threshold is the deal-size boundary below which the base rate
	// applies unmodified. Deals materially above it earn the accelerator.
	Threshold int64 `json:"threshold"`
}

// PolicySet maps tier name -> policy. Tier names are case-sensitive and
// unique; a policy set is never empty.
type PolicySet map[string]TierPolicy

// DefaultPolicies returns the policy set every fresh session is seeded with.
func DefaultPolicies() PolicySet {
	return PolicySet{
		"standard":   {Rate: 0.05, Threshold: 0},
		"premium":    {Rate: 0.07, Threshold: 100000},
		"enterprise": {Rate: 0.10, Threshold: 500000},
	}
}

// CheckConfig defines a custom validation check evaluated in addition to
// the built-in commission checks. The expression is CEL and must return
// bool; true means the record violates the check.
type CheckConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression over deal fields (deal_id, sales_rep, region,
	// product_tier, deal_size, commission_rate, commission_amount,
	// expected_rate).
	Expression string `json:"expression"`

	// Message is the issue text appended when the check trips.
	Message string `json:"message"`

	// Whether the check is active.
	Enabled bool `json:"enabled"`
}
