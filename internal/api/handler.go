package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rulestore"
)

const reportCacheTTL = 30 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	stores    *rulestore.Manager
	checks    *checks.Engine
	detector  *anomaly.Detector
	processor *pipeline.Processor
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, stores *rulestore.Manager, checksEngine *checks.Engine, detector *anomaly.Detector, processor *pipeline.Processor, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		stores:    stores,
		checks:    checksEngine,
		detector:  detector,
		processor: processor,
		version:   version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// TIER POLICY HANDLERS
// ============================================================================

// PolicyView is one tier in the ListPolicies response.
type PolicyView struct {
	Tier      string  `json:"tier"`
	Rate      float64 `json:"rate"`
	Threshold int64   `json:"threshold"`
}

// ListPolicies returns the session's full tier policy set.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	store := h.stores.Session(GetSessionID(r.Context()))

	policies := store.Rules()
	views := make([]PolicyView, 0, len(policies))
	for _, name := range store.TierNames() {
		p := policies[name]
		views = append(views, PolicyView{Tier: name, Rate: p.Rate, Threshold: p.Threshold})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": views,
		"count":    len(views),
	})
}

// ListTierNames returns the sorted tier names for the session.
func (h *Handler) ListTierNames(w http.ResponseWriter, r *http.Request) {
	store := h.stores.Session(GetSessionID(r.Context()))

	names := store.TierNames()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tiers": names,
		"count": len(names),
	})
}

// CreatePolicyRequest is the request body for adding a tier policy.
type CreatePolicyRequest struct {
	Tier      string  `json:"tier"`
	Rate      float64 `json:"rate"`
	Threshold int64   `json:"threshold"`
}

// CreatePolicy adds a new tier policy to the session's store.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := GetSessionID(ctx)

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	store := h.stores.Session(sessionID)
	msg, err := store.AddRule(req.Tier, req.Rate, req.Threshold)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, rulestore.ErrDuplicateTier) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	h.publishPolicyEvent(r, sessionID, "added", strings.TrimSpace(req.Tier))

	slog.Info("tier policy added",
		"session_id", sessionID,
		"tier", strings.TrimSpace(req.Tier),
		"rate", req.Rate,
		"threshold", req.Threshold,
	)
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": msg,
	})
}

// DeletePolicy removes a tier policy from the session's store.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := GetSessionID(ctx)
	tier := chi.URLParam(r, "tier")

	store := h.stores.Session(sessionID)
	msg, err := store.RemoveRule(tier)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, rulestore.ErrLastTier) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	h.publishPolicyEvent(r, sessionID, "removed", tier)

	slog.Info("tier policy removed", "session_id", sessionID, "tier", tier)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": msg,
	})
}

// publishPolicyEvent emits a policy change event; failures are logged, not
// surfaced, because the mutation itself already succeeded.
func (h *Handler) publishPolicyEvent(r *http.Request, sessionID, action, tier string) {
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"action": action,
		"tier":   tier,
	})
	if err := h.bus.Publish(r.Context(), sessionID, domain.TopicPolicyUpdated, payload); err != nil {
		slog.Warn("failed to publish policy event",
			"session_id", sessionID,
			"action", action,
			"error", err,
		)
	}
}

// ============================================================================
// VALIDATION HANDLERS
// ============================================================================

// ValidateResponse is the response for POST /validate.
type ValidateResponse struct {
	DealID  string   `json:"dealId"`
	Issues  []string `json:"issues"`
	Status  string   `json:"status"`
	TraceID string   `json:"traceId"`
}

// ValidateRecord handles POST /validate requests for a single deal record.
func (h *Handler) ValidateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := GetSessionID(ctx)

	var rec domain.DealRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	report := h.processor.Process(ctx, &pipeline.ReportInput{
		SessionID: sessionID,
		TraceID:   GetTraceID(ctx),
		Rules:     h.stores.Session(sessionID),
		Records:   []domain.DealRecord{rec},
		StartTime: time.Now(),
	})

	result := report.Results[0]
	writeJSON(w, http.StatusOK, ValidateResponse{
		DealID:  result.DealID,
		Issues:  result.Issues,
		Status:  result.Status,
		TraceID: GetTraceID(ctx),
	})
}

// BatchRequest is the JSON request body for batch validation and ingestion.
type BatchRequest struct {
	Name    string              `json:"name,omitempty"`
	Records []domain.DealRecord `json:"records"`
}

// ValidateBatch handles POST /validate/batch: synchronous validation of a
// batch of records without persisting them.
func (h *Handler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	sessionID := GetSessionID(ctx)

	records, _, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	if h.cache != nil {
		if _, err := h.cache.IncrementCounter(ctx, sessionID, "validations", time.Hour); err != nil {
			slog.Warn("failed to increment validation counter", "error", err)
		}
	}

	report := h.processor.Process(ctx, &pipeline.ReportInput{
		SessionID: sessionID,
		TraceID:   GetTraceID(ctx),
		Rules:     h.stores.Session(sessionID),
		Records:   records,
		StartTime: start,
	})

	writeJSON(w, http.StatusOK, report)
}

// DetectAnomalies handles POST /anomalies: labels each submitted record.
func (h *Handler) DetectAnomalies(w http.ResponseWriter, r *http.Request) {
	if h.detector == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "anomaly detector not available",
		})
		return
	}

	records, _, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	labels := h.detector.LabelRecords(records)

	type labelView struct {
		DealID  string `json:"dealId"`
		Anomaly bool   `json:"anomaly"`
	}
	views := make([]labelView, len(records))
	count := 0
	for i := range records {
		views[i] = labelView{DealID: records[i].DealID, Anomaly: labels[i]}
		if labels[i] {
			count++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"labels":       views,
		"anomalyCount": count,
		"totalDeals":   len(records),
	})
}

// decodeBatch reads deal records from the request body, accepting JSON or
// CSV depending on Content-Type. Returns ok=false after writing an error.
func (h *Handler) decodeBatch(w http.ResponseWriter, r *http.Request) ([]domain.DealRecord, string, bool) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "text/csv") {
		records, err := ingest.ReadCSV(r.Body)
		if err != nil {
			var malformed *ingest.MalformedRecordError
			if errors.As(err, &malformed) {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{
					"error": "malformed record",
					"line":  malformed.Line,
					"field": malformed.Field,
				})
				return nil, "", false
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return nil, "", false
		}
		if len(records) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "at least one record is required",
			})
			return nil, "", false
		}
		return records, "", true
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, "", false
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one record is required",
		})
		return nil, "", false
	}
	return req.Records, req.Name, true
}

// ============================================================================
// BATCH HANDLERS
// ============================================================================

// CreateBatch persists uploaded records and publishes an ingestion event.
// Validation happens asynchronously when a worker is running; callers can
// poll GET /batches/{id}/report.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := GetSessionID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	records, name, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	batch := &domain.Batch{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Name:        name,
		RecordCount: len(records),
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.repo.SaveBatch(ctx, sessionID, batch, records); err != nil {
		slog.Error("failed to save batch", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save batch",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{
			"batchId":   batch.ID,
			"sessionId": sessionID,
			"traceId":   GetTraceID(ctx),
		})
		if err := h.bus.Publish(ctx, sessionID, domain.TopicBatchIngested, payload); err != nil {
			slog.Error("failed to publish batch ingested event",
				"batch_id", batch.ID,
				"error", err,
			)
		}
	}

	slog.Info("batch ingested",
		"batch_id", batch.ID,
		"session_id", sessionID,
		"record_count", len(records),
	)
	writeJSON(w, http.StatusAccepted, batch)
}

// ListBatches returns all batches for the session, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := GetSessionID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	batches, err := h.repo.ListBatches(ctx, sessionID)
	if err != nil {
		slog.Error("failed to list batches", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list batches",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}

// GetBatch retrieves a batch by ID.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := GetSessionID(ctx)
	batchID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	batch, err := h.repo.GetBatch(ctx, sessionID, batchID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get batch", "id", batchID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "batch not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, batch)
}

// GetBatchReport retrieves the latest validation report for a batch,
// generating one on demand if the batch has not been processed yet.
func (h *Handler) GetBatchReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := GetSessionID(ctx)
	batchID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	// Cache first
	if h.cache != nil {
		if report, err := h.cache.GetReport(ctx, sessionID, batchID); err == nil && report != nil {
			writeJSON(w, http.StatusOK, report)
			return
		}
	}

	// Then persistence
	report, err := h.repo.GetReportByBatch(ctx, sessionID, batchID)
	if err == nil {
		writeJSON(w, http.StatusOK, report)
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to get report", "batch_id", batchID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load report",
		})
		return
	}

	// No report yet: validate on demand
	records, err := h.repo.GetBatchRecords(ctx, sessionID, batchID)
	if err != nil || len(records) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "batch not found",
		})
		return
	}

	report = h.processor.Process(ctx, &pipeline.ReportInput{
		SessionID: sessionID,
		BatchID:   batchID,
		TraceID:   GetTraceID(ctx),
		Rules:     h.stores.Session(sessionID),
		Records:   records,
		StartTime: time.Now(),
	})

	if err := h.repo.SaveReport(ctx, sessionID, report); err != nil {
		slog.Error("failed to save report", "batch_id", batchID, "error", err)
	}
	if h.cache != nil {
		if err := h.cache.SetReport(ctx, sessionID, batchID, report, reportCacheTTL); err != nil {
			slog.Warn("failed to cache report", "batch_id", batchID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// CUSTOM CHECK HANDLERS
// ============================================================================

// ListChecks returns all loaded custom checks from the engine.
// Checks are loaded from the database at startup and can be reloaded via
// POST /checks/reload.
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	if h.checks == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "checks engine not available",
		})
		return
	}

	loaded := h.checks.LoadedChecks()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"checks": loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// CreateCheckRequest is the request body for creating a custom check.
type CreateCheckRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Message     string `json:"message"`
	Enabled     bool   `json:"enabled"`
}

// CreateCheck creates a custom check and saves it to the database.
// Checks are global across sessions. After saving, call POST /checks/reload
// to hot-reload into the engine.
func (h *Handler) CreateCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.checks == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "checks engine not available",
		})
		return
	}

	var req CreateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, expression, and message are required",
		})
		return
	}

	cfg := &domain.CheckConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Message:     req.Message,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression before persisting
	if err := h.checks.ValidateCheck(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCheckConfig(ctx, cfg); err != nil {
			slog.Error("failed to save check config", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save check",
			})
			return
		}
	}

	slog.Info("check created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"check":   cfg,
		"message": "Check created. Call POST /checks/reload to apply changes.",
	})
}

// DeleteCheck disables a custom check and removes it from the engine.
func (h *Handler) DeleteCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkID := chi.URLParam(r, "id")

	if checkID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteCheckConfig(ctx, checkID); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				slog.Error("failed to delete check", "id", checkID, "error", err)
			}
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "check not found",
			})
			return
		}
	}

	if h.checks != nil {
		h.checks.RemoveCheck(checkID)
	}

	slog.Info("check deleted", "id", checkID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Check deleted and engine updated.",
	})
}

// ReloadChecks reloads all enabled checks from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadChecks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.checks == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "checks engine not available",
		})
		return
	}

	configs, err := h.repo.ListCheckConfigs(ctx)
	if err != nil {
		slog.Error("failed to list checks from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load checks from database",
		})
		return
	}

	if err := h.checks.ReloadChecks(configs); err != nil {
		slog.Error("failed to reload checks into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload checks: " + err.Error(),
		})
		return
	}

	slog.Info("checks reloaded from database", "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "checks reloaded successfully",
		"count":   len(configs),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
