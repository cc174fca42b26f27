// Package retry implements the recovery policy layered on top of the store:
// failed items older than a threshold are reset to new so consumers pick
// them up again. It is built purely on Query + SetStatus; the store itself
// never requeues anything.
package retry

import (
	"context"
	"time"

	"workqueue/internal/config"
	"workqueue/internal/log"
	"workqueue/internal/store"

	"go.uber.org/zap"
)

type RetryManager struct {
	store  store.Store
	cfg    *config.Config
	logger *log.Logger
}

func NewRetryManager(st store.Store, cfg *config.Config, logger *log.Logger) *RetryManager {
	return &RetryManager{store: st, cfg: cfg, logger: logger}
}

// Run sweeps periodically until ctx is done.
func (r *RetryManager) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("Retry sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep resets eligible failed items to new. Resetting clears completed_at
// and error as a side effect of SetStatus's unconditional writes. When
// ResetInProgress is enabled, items stuck in_progress past the threshold
// (abandoned by a crashed consumer) are reset too.
func (r *RetryManager) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.cfg.RetryAfter)

	ids, err := r.stale(ctx, store.StatusFailed, cutoff)
	if err != nil {
		return err
	}
	if r.cfg.ResetInProgress {
		stuck, err := r.stale(ctx, store.StatusInProgress, cutoff)
		if err != nil {
			return err
		}
		ids = append(ids, stuck...)
	}
	if len(ids) == 0 {
		return nil
	}
	affected, err := r.store.SetStatus(ctx, ids, store.StatusNew, nil)
	if err != nil {
		return err
	}
	r.logger.Info("Reset items to new", zap.Int64("count", affected))
	return nil
}

func (r *RetryManager) stale(ctx context.Context, status store.Status, cutoff time.Time) ([]int64, error) {
	items, err := r.store.Query(ctx, "", status)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, item := range items {
		// staleness is measured from the last transition into the current
		// status: completed_at for failed items, claimed_at for in_progress.
		// An item that waited out the threshold in the backlog and was then
		// claimed is live, not abandoned.
		ts := item.CreatedAt
		if item.ClaimedAt != nil {
			ts = *item.ClaimedAt
		}
		if item.CompletedAt != nil {
			ts = *item.CompletedAt
		}
		if ts.Before(cutoff) {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}
