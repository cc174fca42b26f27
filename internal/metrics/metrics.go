package metrics

import (
	"context"
	"time"

	"workqueue/internal/log"
	"workqueue/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type QueueMetrics struct {
	EnqueueTotal    *prometheus.CounterVec
	ClaimTotal      *prometheus.CounterVec
	ClaimEmptyTotal prometheus.Counter
	FinalizeTotal   *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec

	pgStore *store.PGStore
	logger  *log.Logger
}

func NewQueueMetrics(pgStore *store.PGStore, logger *log.Logger) *QueueMetrics {
	m := &QueueMetrics{
		EnqueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workqueue_enqueue_total",
				Help: "Total number of enqueued items",
			},
			[]string{"routing_key"},
		),
		ClaimTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workqueue_claim_total",
				Help: "Total number of successfully claimed items",
			},
			[]string{"routing_key"},
		),
		ClaimEmptyTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workqueue_claim_empty_total",
				Help: "Total number of claims that found no eligible item",
			},
		),
		FinalizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workqueue_finalize_total",
				Help: "Total number of items moved by SetStatus, by target status",
			},
			[]string{"status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "workqueue_depth",
				Help: "Number of items in the table per status",
			},
			[]string{"status"},
		),
		pgStore: pgStore,
		logger:  logger,
	}
	prometheus.MustRegister(m.EnqueueTotal, m.ClaimTotal, m.ClaimEmptyTotal, m.FinalizeTotal, m.QueueDepth)
	return m
}

// Run samples table depth per status until ctx is done.
func (m *QueueMetrics) Run(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sample(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *QueueMetrics) sample(ctx context.Context) {
	counts, err := m.pgStore.CountByStatus(ctx)
	if err != nil {
		m.logger.Error("Failed to sample queue depth", zap.Error(err))
		return
	}
	for _, st := range []store.Status{store.StatusNew, store.StatusInProgress, store.StatusCompleted, store.StatusFailed} {
		m.QueueDepth.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}
