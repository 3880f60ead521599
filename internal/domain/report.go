package domain

import (
	"time"
)

// RecordResult is the validation outcome for a single deal record.
type RecordResult struct {
	DealID string `json:"dealId"`

	// Issues in the order the checks ran. Empty means the record passes.
	Issues []string `json:"issues"`

	// Status is "PASS" or "FAIL" (fail iff Issues is non-empty).
	Status string `json:"status"`

	// Anomaly is the label assigned by the outlier detector, independent
	// of policy-based validation.
	Anomaly bool `json:"anomaly,omitempty"`
}

// MetricsSnapshot holds aggregate figures over one batch of deal records.
type MetricsSnapshot struct {
	TotalCommissions float64 `json:"totalCommissions"`

	// AverageRate is the mean commission rate. Zero for an empty batch.
	AverageRate float64 `json:"averageRate"`

	TotalDeals int `json:"totalDeals"`

	// FlaggedCount is the total issue count across all records, not the
	// number of failing records.
	FlaggedCount int `json:"flaggedCount"`
}

// ValidationReport is the persisted result of validating one batch.
type ValidationReport struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	BatchID   string    `json:"batchId"`
	Timestamp time.Time `json:"timestamp"`

	Results []RecordResult  `json:"results"`
	Metrics MetricsSnapshot `json:"metrics"`

	// AnomalyCount is the number of records the detector labeled outliers.
	AnomalyCount int `json:"anomalyCount"`

	// Processing metadata
	Metadata ReportMetadata `json:"metadata"`
}

// ReportMetadata contains processing information for a report.
type ReportMetadata struct {
	TraceID       string `json:"traceId"`
	ValidateMs    int64  `json:"validateMs"`
	AnomalyMs     int64  `json:"anomalyMs"`
	TotalMs       int64  `json:"totalMs"`
	ChecksApplied int    `json:"checksApplied"`
	EngineVersion string `json:"engineVersion"`
}

// Record status constants
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// FailedCount returns the number of failing records, the more intuitive
// business figure some consumers want alongside FlaggedCount.
func (r *ValidationReport) FailedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFail {
			n++
		}
	}
	return n
}
