// Package worker provides async batch processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rulestore"
)

const reportCacheTTL = 30 * time.Minute

// Worker validates uploaded batches asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	cache     domain.Cache
	stores    *rulestore.Manager
	processor *pipeline.Processor

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// SessionIDs is the list of sessions to process (empty = all via wildcard if supported)
	SessionIDs []string

	// WorkerCount is the number of concurrent workers per session
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, stores *rulestore.Manager, processor *pipeline.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		cache:     cache,
		stores:    stores,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given sessions.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.SessionIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, sessionID := range cfg.SessionIDs {
		if err := w.startSessionWorker(sessionID); err != nil {
			slog.Error("failed to start worker for session",
				"session_id", sessionID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"session_count", len(cfg.SessionIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all sessions (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" session ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicBatchIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startSessionWorker starts workers for a specific session.
func (w *Worker) startSessionWorker(sessionID string) error {
	sub, err := w.bus.Subscribe(w.ctx, sessionID, domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, sessionID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("session worker started",
		"session_id", sessionID,
		"topic", domain.TopicBatchIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.SessionID, msg)
}

// BatchMessage is the message payload for batch processing.
type BatchMessage struct {
	BatchID   string `json:"batchId"`
	SessionID string `json:"sessionId"`
	TraceID   string `json:"traceId"`
}

// processBatch loads a batch and runs the full validation pipeline on it.
func (w *Worker) processBatch(ctx context.Context, sessionID string, msg *domain.Message) error {
	start := time.Now()

	var batchMsg BatchMessage
	if err := json.Unmarshal(msg.Payload, &batchMsg); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message session if provided
	if batchMsg.SessionID != "" {
		sessionID = batchMsg.SessionID
	}

	traceID := batchMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing batch",
		"batch_id", batchMsg.BatchID,
		"session_id", sessionID,
		"trace_id", traceID,
	)

	// 1. Load the uploaded records
	records, err := w.repo.GetBatchRecords(ctx, sessionID, batchMsg.BatchID)
	if err != nil {
		slog.Error("failed to load batch records",
			"batch_id", batchMsg.BatchID,
			"error", err,
		)
		return err
	}

	// 2. Validate against the session's tier policies
	report := w.processor.Process(ctx, &pipeline.ReportInput{
		SessionID: sessionID,
		BatchID:   batchMsg.BatchID,
		TraceID:   traceID,
		Rules:     w.stores.Session(sessionID),
		Records:   records,
		StartTime: start,
	})

	// 3. Persist and cache the report
	if err := w.repo.SaveReport(ctx, sessionID, report); err != nil {
		slog.Error("failed to save report",
			"batch_id", batchMsg.BatchID,
			"error", err,
		)
	}
	if w.cache != nil {
		if err := w.cache.SetReport(ctx, sessionID, batchMsg.BatchID, report, reportCacheTTL); err != nil {
			slog.Warn("failed to cache report",
				"batch_id", batchMsg.BatchID,
				"error", err,
			)
		}
	}

	// 4. Publish result to the validated topic
	resultPayload, _ := json.Marshal(report)
	if err := w.bus.Publish(ctx, sessionID, domain.TopicBatchValidated, resultPayload); err != nil {
		slog.Error("failed to publish report",
			"batch_id", batchMsg.BatchID,
			"error", err,
		)
	}

	// 5. If outliers were found, publish to the alert topic
	if pipeline.HasAnomalies(report) {
		if err := w.bus.Publish(ctx, sessionID, domain.TopicAnomalyAlert, resultPayload); err != nil {
			slog.Error("failed to publish anomaly alert",
				"batch_id", batchMsg.BatchID,
				"error", err,
			)
		}
	}

	slog.Info("batch processed",
		"batch_id", batchMsg.BatchID,
		"session_id", sessionID,
		"total_deals", report.Metrics.TotalDeals,
		"flagged_count", report.Metrics.FlaggedCount,
		"anomaly_count", report.AnomalyCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
