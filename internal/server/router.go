package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"workqueue/internal/config"
	"workqueue/internal/log"
	"workqueue/internal/metrics"
	"workqueue/internal/notify"
	"workqueue/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type itemResponse struct {
	ID          int64      `json:"id"`
	Status      int        `json:"status"`
	RoutingKey  string     `json:"routing_key"`
	Content     []byte     `json:"content,omitempty"`
	Metadata    []byte     `json:"metadata,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toResponse(item store.Item) itemResponse {
	return itemResponse{
		ID:          item.ID,
		Status:      int(item.Status),
		RoutingKey:  item.RoutingKey,
		Content:     item.Content,
		Metadata:    item.Metadata,
		Error:       item.Error,
		CreatedAt:   item.CreatedAt,
		ClaimedAt:   item.ClaimedAt,
		CompletedAt: item.CompletedAt,
	}
}

// SetupRouter mounts the queue API. pgStore may be nil when the backing
// store has no database to health-check (the in-memory backend).
func SetupRouter(r *chi.Mux, cfg *config.Config, st store.Store, pgStore *store.PGStore, notifier *notify.Notifier, m *metrics.QueueMetrics) {
	logger := log.NewLogger()
	r.Use(httprate.Limit(100, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if pgStore != nil {
			if err := pgStore.DB().PingContext(r.Context()); err != nil {
				logger.Error("Database health check failed", zap.Error(err))
				http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(authMiddleware(cfg.JWTSecret, logger))
		}

		r.Post("/enqueue", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				RoutingKey string `json:"routing_key"`
				Content    []byte `json:"content"`
				Metadata   []byte `json:"metadata"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Error("Failed to decode enqueue request", zap.Error(err))
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			start := time.Now()
			id, err := st.Enqueue(r.Context(), req.RoutingKey, req.Content, req.Metadata)
			if err != nil {
				writeStoreError(w, logger, "enqueue", err)
				return
			}
			notifier.Publish(r.Context(), req.RoutingKey)
			m.EnqueueTotal.WithLabelValues(req.RoutingKey).Inc()
			writeJSON(w, logger, map[string]int64{"id": id})
			logger.Info("Enqueued item", zap.Int64("id", id), zap.Duration("duration", time.Since(start)))
		})

		r.Post("/claim", func(w http.ResponseWriter, r *http.Request) {
			routingKey := r.URL.Query().Get("routing_key")
			start := time.Now()
			item, err := st.Claim(r.Context(), routingKey)
			if err != nil {
				writeStoreError(w, logger, "claim", err)
				return
			}
			if item == nil {
				// normal outcome, not an error
				m.ClaimEmptyTotal.Inc()
				w.WriteHeader(http.StatusNoContent)
				return
			}
			m.ClaimTotal.WithLabelValues(item.RoutingKey).Inc()
			writeJSON(w, logger, toResponse(*item))
			logger.Info("Claimed item", zap.Int64("id", item.ID), zap.Duration("duration", time.Since(start)))
		})

		r.Post("/finalize", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				IDs    []int64 `json:"ids"`
				Status int     `json:"status"`
				Error  *string `json:"error"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Error("Failed to decode finalize request", zap.Error(err))
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			status := store.Status(req.Status)
			affected, err := st.SetStatus(r.Context(), req.IDs, status, req.Error)
			if err != nil {
				writeStoreError(w, logger, "finalize", err)
				return
			}
			// affected counts rows that exist; ids the store skipped do not
			// inflate the metric
			m.FinalizeTotal.WithLabelValues(status.String()).Add(float64(affected))
			logger.Info("Finalized items", zap.Int64("count", affected), zap.Stringer("status", status))
			w.Write([]byte("OK"))
		})

		r.Get("/items", func(w http.ResponseWriter, r *http.Request) {
			routingKey := r.URL.Query().Get("routing_key")
			status := store.AnyStatus
			if raw := r.URL.Query().Get("status"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil {
					http.Error(w, "Invalid status", http.StatusBadRequest)
					return
				}
				status = store.Status(n)
			}
			items, err := st.Query(r.Context(), routingKey, status)
			if err != nil {
				writeStoreError(w, logger, "query", err)
				return
			}
			out := make([]itemResponse, len(items))
			for i, item := range items {
				out[i] = toResponse(item)
			}
			writeJSON(w, logger, out)
		})
	})
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeStoreError(w http.ResponseWriter, logger *log.Logger, op string, err error) {
	logger.Error("Store operation failed", zap.String("op", op), zap.Error(err))
	if errors.Is(err, store.ErrInvalidArgument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func authMiddleware(jwtSecret string, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := r.Header.Get("Authorization")
			if tokenStr == "" {
				logger.Error("Missing authorization token")
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}
			if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
				tokenStr = tokenStr[7:]
			}
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Error("Invalid JWT token", zap.Error(err))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, token.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type claimsKey struct{}
