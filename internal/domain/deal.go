package domain

import (
	"time"
)

// DealRecord represents one row of sales commission data to be validated.
type DealRecord struct {
	// Unique identifier of the deal, e.g. "DEAL_0042".
	DealID string `json:"dealId"`

	// Attribution
	SalesRep string `json:"salesRep"`
	Region   string `json:"region"`

	// ProductTier must reference a tier policy key to validate cleanly.
	ProductTier string `json:"productTier"`

	// Financial details. CommissionAmount is taken as given and checked
	// against DealSize * CommissionRate expectations, never re-derived.
	DealSize         float64 `json:"dealSize"`
	CommissionRate   float64 `json:"commissionRate"`
	CommissionAmount float64 `json:"commissionAmount"`
}

// Batch is a persisted group of deal records uploaded in one request.
type Batch struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Name        string    `json:"name,omitempty"`
	RecordCount int       `json:"recordCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FeatureTriple extracts the numeric features used by the anomaly detector.
// The feature order (deal_size, commission_amount, commission_rate) is part
// of the detector contract.
func (r *DealRecord) FeatureTriple() []float64 {
	return []float64{r.DealSize, r.CommissionAmount, r.CommissionRate}
}
