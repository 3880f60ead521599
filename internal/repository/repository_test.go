package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	sessionID := "session-001"

	records := []domain.DealRecord{
		{DealID: "DEAL_0001", SalesRep: "Alice Chen", Region: "West", ProductTier: "standard", DealSize: 50000, CommissionRate: 0.05, CommissionAmount: 2500},
		{DealID: "DEAL_0002", SalesRep: "Bob Smith", Region: "East", ProductTier: "premium", DealSize: 150000, CommissionRate: 0.07, CommissionAmount: 10500},
	}

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetBatch", func(t *testing.T) {
		batch := &domain.Batch{
			ID:        "batch-001",
			SessionID: sessionID,
			Name:      "q3-upload",
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveBatch(ctx, sessionID, batch, records); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}

		retrieved, err := repo.GetBatch(ctx, sessionID, batch.ID)
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}

		if retrieved.ID != batch.ID {
			t.Errorf("expected ID %s, got %s", batch.ID, retrieved.ID)
		}
		if retrieved.RecordCount != len(records) {
			t.Errorf("expected RecordCount %d, got %d", len(records), retrieved.RecordCount)
		}
		if retrieved.SessionID != sessionID {
			t.Errorf("expected SessionID %s, got %s", sessionID, retrieved.SessionID)
		}
	})

	t.Run("GetBatchRecords", func(t *testing.T) {
		got, err := repo.GetBatchRecords(ctx, sessionID, "batch-001")
		if err != nil {
			t.Fatalf("GetBatchRecords failed: %v", err)
		}

		if len(got) != len(records) {
			t.Fatalf("expected %d records, got %d", len(records), len(got))
		}
		// Upload order is preserved
		if got[0].DealID != "DEAL_0001" || got[1].DealID != "DEAL_0002" {
			t.Errorf("records out of order: %s, %s", got[0].DealID, got[1].DealID)
		}
		if got[1].CommissionAmount != 10500 {
			t.Errorf("expected CommissionAmount 10500, got %.2f", got[1].CommissionAmount)
		}
	})

	t.Run("SessionIsolation", func(t *testing.T) {
		otherSession := "session-002"

		// Try to get batch from different session
		_, err := repo.GetBatch(ctx, otherSession, "batch-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different session, got: %v", err)
		}

		batches, err := repo.ListBatches(ctx, otherSession)
		if err != nil {
			t.Fatalf("ListBatches failed: %v", err)
		}
		if len(batches) != 0 {
			t.Errorf("expected no batches for other session, got %d", len(batches))
		}
	})

	t.Run("RequiresSessionID", func(t *testing.T) {
		batch := &domain.Batch{ID: "batch-test"}

		err := repo.SaveBatch(ctx, "", batch, nil)
		if err == nil {
			t.Error("expected error for empty sessionID")
		}

		_, err = repo.GetBatch(ctx, "", "batch-001")
		if err == nil {
			t.Error("expected error for empty sessionID")
		}
	})

	t.Run("ListBatches", func(t *testing.T) {
		second := &domain.Batch{
			ID:        "batch-002",
			SessionID: sessionID,
			CreatedAt: time.Now().UTC().Add(time.Second),
		}
		if err := repo.SaveBatch(ctx, sessionID, second, records[:1]); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}

		batches, err := repo.ListBatches(ctx, sessionID)
		if err != nil {
			t.Fatalf("ListBatches failed: %v", err)
		}

		if len(batches) != 2 {
			t.Fatalf("expected 2 batches, got %d", len(batches))
		}
		// Newest first
		if batches[0].ID != "batch-002" {
			t.Errorf("expected batch-002 first, got %s", batches[0].ID)
		}
	})

	t.Run("SaveAndGetReport", func(t *testing.T) {
		report := &domain.ValidationReport{
			ID:        "report-001",
			SessionID: sessionID,
			BatchID:   "batch-001",
			Timestamp: time.Now().UTC(),
			Results: []domain.RecordResult{
				{DealID: "DEAL_0001", Issues: nil, Status: domain.StatusPass},
				{DealID: "DEAL_0002", Issues: []string{"Rate mismatch: expected 0.070, got 0.090"}, Status: domain.StatusFail},
			},
			Metrics: domain.MetricsSnapshot{
				TotalCommissions: 13000,
				AverageRate:      0.06,
				TotalDeals:       2,
				FlaggedCount:     1,
			},
			AnomalyCount: 1,
			Metadata:     domain.ReportMetadata{TraceID: "trace-001", EngineVersion: "1.0.0"},
		}

		if err := repo.SaveReport(ctx, sessionID, report); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}

		retrieved, err := repo.GetReport(ctx, sessionID, report.ID)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}

		if retrieved.ID != report.ID {
			t.Errorf("expected ID %s, got %s", report.ID, retrieved.ID)
		}
		if len(retrieved.Results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(retrieved.Results))
		}
		if retrieved.Results[1].Status != domain.StatusFail {
			t.Errorf("expected FAIL, got %s", retrieved.Results[1].Status)
		}
		if retrieved.Metrics.FlaggedCount != 1 {
			t.Errorf("expected FlaggedCount 1, got %d", retrieved.Metrics.FlaggedCount)
		}
		if retrieved.Metadata.TraceID != "trace-001" {
			t.Errorf("expected TraceID trace-001, got %s", retrieved.Metadata.TraceID)
		}
	})

	t.Run("GetReportByBatch", func(t *testing.T) {
		retrieved, err := repo.GetReportByBatch(ctx, sessionID, "batch-001")
		if err != nil {
			t.Fatalf("GetReportByBatch failed: %v", err)
		}
		if retrieved.ID != "report-001" {
			t.Errorf("expected report-001, got %s", retrieved.ID)
		}
	})

	t.Run("CheckConfigs", func(t *testing.T) {
		check := &domain.CheckConfig{
			ID:         "check-001",
			Name:       "large-deal-floor",
			Expression: `deal_size > 500000.0 && commission_rate < 0.02`,
			Message:    "Large deal below minimum rate",
			Enabled:    true,
		}

		if err := repo.SaveCheckConfig(ctx, check); err != nil {
			t.Fatalf("SaveCheckConfig failed: %v", err)
		}

		configs, err := repo.ListCheckConfigs(ctx)
		if err != nil {
			t.Fatalf("ListCheckConfigs failed: %v", err)
		}
		if len(configs) != 1 {
			t.Fatalf("expected 1 config, got %d", len(configs))
		}
		if configs[0].Expression != check.Expression {
			t.Errorf("expected expression %q, got %q", check.Expression, configs[0].Expression)
		}

		// Upsert replaces the existing row
		check.Message = "Large deal below rate floor"
		if err := repo.SaveCheckConfig(ctx, check); err != nil {
			t.Fatalf("SaveCheckConfig upsert failed: %v", err)
		}
		configs, err = repo.ListCheckConfigs(ctx)
		if err != nil {
			t.Fatalf("ListCheckConfigs failed: %v", err)
		}
		if len(configs) != 1 || configs[0].Message != check.Message {
			t.Errorf("upsert did not replace config: %+v", configs)
		}

		if err := repo.DeleteCheckConfig(ctx, check.ID); err != nil {
			t.Fatalf("DeleteCheckConfig failed: %v", err)
		}
		configs, err = repo.ListCheckConfigs(ctx)
		if err != nil {
			t.Fatalf("ListCheckConfigs failed: %v", err)
		}
		if len(configs) != 0 {
			t.Errorf("expected no enabled configs after delete, got %d", len(configs))
		}

		if err := repo.DeleteCheckConfig(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetBatch(ctx, sessionID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetReport(ctx, sessionID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
