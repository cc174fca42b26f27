// Package worker is the dispatch layer: it claims items, routes them to the
// handler registered for their routing key, and finalizes them with the
// outcome. Items abandoned mid-flight (process crash) stay in_progress;
// resetting those is the retry sweeper's policy, not the worker's.
package worker

import (
	"context"
	"sync"
	"time"

	"workqueue/internal/codec"
	"workqueue/internal/config"
	"workqueue/internal/log"
	"workqueue/internal/notify"
	"workqueue/internal/store"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Handler processes one claimed item. A nil return finalizes the item as
// completed; an error finalizes it as failed with the error text recorded.
type Handler func(ctx context.Context, item store.Item) error

type Worker struct {
	store    store.Store
	notifier *notify.Notifier
	cfg      *config.Config
	logger   *log.Logger
	cb       *gobreaker.CircuitBreaker

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewWorker(st store.Store, notifier *notify.Notifier, cfg *config.Config, logger *log.Logger) *Worker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "worker-claim",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &Worker{
		store:    st,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		cb:       cb,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a routing key. The worker only claims routing
// keys it has handlers for.
func (w *Worker) Register(routingKey string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[routingKey] = h
}

// Typed adapts a handler that wants its content decoded through c.
func Typed[T any](c codec.Codec, fn func(ctx context.Context, item store.Item, payload T) error) Handler {
	return func(ctx context.Context, item store.Item) error {
		var payload T
		if err := c.Decode(item.Content, &payload); err != nil {
			return err
		}
		return fn(ctx, item, payload)
	}
}

// Run polls for claimable items until ctx is done. Enqueue hints from the
// notifier wake the loop early; correctness never depends on them.
func (w *Worker) Run(ctx context.Context) {
	hints := w.notifier.Subscribe(ctx)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		w.drain(ctx)
		select {
		case <-ticker.C:
		case _, ok := <-hints:
			if !ok {
				// no notifier configured; fall back to ticker polling only
				hints = nil
			}
		case <-ctx.Done():
			w.logger.Info("Worker shutting down")
			return
		}
	}
}

// drain claims and processes items for every registered routing key until a
// pass over all keys comes up empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		processed := false
		for _, rk := range w.routingKeys() {
			item, err := w.claim(ctx, rk)
			if err != nil {
				w.logger.Error("Claim failed", zap.Error(err), zap.String("routing_key", rk))
				return
			}
			if item == nil {
				continue
			}
			processed = true
			w.process(ctx, *item)
		}
		if !processed || ctx.Err() != nil {
			return
		}
	}
}

func (w *Worker) routingKeys() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	keys := make([]string, 0, len(w.handlers))
	for rk := range w.handlers {
		keys = append(keys, rk)
	}
	return keys
}

func (w *Worker) claim(ctx context.Context, routingKey string) (*store.Item, error) {
	res, err := w.cb.Execute(func() (interface{}, error) {
		return w.store.Claim(ctx, routingKey)
	})
	if err != nil {
		return nil, err
	}
	item, _ := res.(*store.Item)
	return item, nil
}

func (w *Worker) process(ctx context.Context, item store.Item) {
	w.mu.RLock()
	h := w.handlers[item.RoutingKey]
	w.mu.RUnlock()

	start := time.Now()
	err := h(ctx, item)
	if err != nil {
		msg := err.Error()
		if _, serr := w.store.SetStatus(ctx, []int64{item.ID}, store.StatusFailed, &msg); serr != nil {
			w.logger.Error("Failed to record item failure", zap.Error(serr), zap.Int64("id", item.ID))
			return
		}
		w.logger.Warn("Item failed", zap.Int64("id", item.ID), zap.String("routing_key", item.RoutingKey), zap.String("error", msg))
		return
	}
	if _, serr := w.store.SetStatus(ctx, []int64{item.ID}, store.StatusCompleted, nil); serr != nil {
		w.logger.Error("Failed to complete item", zap.Error(serr), zap.Int64("id", item.ID))
		return
	}
	w.logger.Info("Item completed", zap.Int64("id", item.ID), zap.String("routing_key", item.RoutingKey), zap.Duration("duration", time.Since(start)))
}
