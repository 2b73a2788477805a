// Package worker processes purchases published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tidepoint/marketplace/internal/bus"
	"github.com/tidepoint/marketplace/internal/domain"
	"github.com/tidepoint/marketplace/internal/loyalty"
)

// Worker runs checkouts for purchases received from the EventBus.
type Worker struct {
	bus     domain.EventBus
	service *loyalty.Service
	logger  *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Topic to consume. Defaults to domain.TopicPurchaseIngested.
	Topic string

	// Concurrency bounds the number of checkouts in flight.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, service *loyalty.Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     eventBus,
		service: service,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// PurchaseMessage is the payload of a purchase event.
type PurchaseMessage struct {
	loyalty.Purchase
	TraceID string `json:"trace_id,omitempty"`
}

// PurchaseResult is sent back to requesters that asked for a reply.
type PurchaseResult struct {
	MessageID string           `json:"message_id"`
	Receipt   *loyalty.Receipt `json:"receipt,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Start subscribes to the purchase topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.Topic == "" {
		cfg.Topic = domain.TopicPurchaseIngested
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, cfg.Topic, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("purchase worker started",
		"topic", cfg.Topic,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// handleMessage hands the purchase to a bounded goroutine.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// In-flight checkouts outlive the subscription so Stop can drain them.
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.processPurchase(ctx, msg)
	}()
	return nil
}

// processPurchase runs one checkout and answers the requester, if any.
func (w *Worker) processPurchase(ctx context.Context, msg *domain.Message) {
	start := time.Now()
	result := PurchaseResult{MessageID: msg.ID}

	var pm PurchaseMessage
	if err := json.Unmarshal(msg.Payload, &pm); err != nil {
		w.logger.Error("failed to parse purchase message",
			"message_id", msg.ID,
			"error", err,
		)
		result.Error = "invalid purchase payload"
		w.reply(ctx, msg, result)
		return
	}

	traceID := pm.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	receipt, err := w.service.Checkout(ctx, pm.Purchase)
	if err != nil {
		w.logger.Error("purchase checkout failed",
			"business_id", pm.BusinessID,
			"tourist_id", pm.TouristID,
			"trace_id", traceID,
			"error", err,
		)
		result.Error = err.Error()
		w.reply(ctx, msg, result)
		return
	}

	result.Receipt = receipt
	w.reply(ctx, msg, result)

	w.logger.Info("purchase processed",
		"business_id", pm.BusinessID,
		"tourist_id", pm.TouristID,
		"trace_id", traceID,
		"points", receipt.Reward.Points,
		"cashback", receipt.Reward.Cashback,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, result PurchaseResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("failed to encode purchase result", "message_id", msg.ID, "error", err)
		return
	}
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		w.logger.Error("failed to reply to purchase",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for in-flight checkouts.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
