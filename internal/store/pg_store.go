package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"workqueue/internal/log"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PGStore is the Postgres-backed Store. Coordination between concurrent
// producers and consumers relies entirely on the database's transactions and
// row locks; the struct itself holds no claim state.
type PGStore struct {
	db     *sql.DB
	logger *log.Logger
}

func NewPGStore(dbURL string, logger *log.Logger) (*PGStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("%w: database URL is required", ErrInvalidArgument)
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	return &PGStore{db: db, logger: logger}, nil
}

func (s *PGStore) DB() *sql.DB {
	return s.db
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

func (s *PGStore) Enqueue(ctx context.Context, routingKey string, content, metadata []byte) (int64, error) {
	if routingKey == "" {
		return 0, fmt.Errorf("%w: routing key is required", ErrInvalidArgument)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO work_items (status, routing_key, content, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `, StatusNew, routingKey, content, metadata, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue item: %w", err)
	}
	s.logger.Debug("Enqueued item", zap.Int64("id", id), zap.String("routing_key", routingKey))
	return id, nil
}

// Claim selects the oldest new row FOR UPDATE SKIP LOCKED and flips it to
// in_progress inside one transaction. SKIP LOCKED is what keeps N concurrent
// claimants from serializing: each lands on a distinct unlocked row, and a
// row already locked by an in-flight claim is passed over rather than
// waited on.
func (s *PGStore) Claim(ctx context.Context, routingKey string) (*Item, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	query := `
        SELECT id, routing_key, content, metadata, error, created_at, completed_at
        FROM work_items
        WHERE status = $1`
	args := []any{StatusNew}
	if routingKey != "" {
		query += ` AND routing_key = $2`
		args = append(args, routingKey)
	}
	query += `
        ORDER BY id
        LIMIT 1
        FOR UPDATE SKIP LOCKED`

	var item Item
	err = tx.QueryRowContext(ctx, query, args...).Scan(
		&item.ID, &item.RoutingKey, &item.Content, &item.Metadata,
		&item.Error, &item.CreatedAt, &item.CompletedAt)
	if err == sql.ErrNoRows {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit empty claim: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claim candidate: %w", err)
	}

	claimedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
        UPDATE work_items SET status = $1, claimed_at = $2 WHERE id = $3
    `, StatusInProgress, claimedAt, item.ID); err != nil {
		return nil, fmt.Errorf("mark item in progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	item.Status = StatusInProgress
	item.ClaimedAt = &claimedAt
	s.logger.Debug("Claimed item", zap.Int64("id", item.ID), zap.String("routing_key", item.RoutingKey))
	return &item, nil
}

func (s *PGStore) SetStatus(ctx context.Context, ids []int64, status Status, errText *string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unrecognized status %d", ErrInvalidArgument, int(status))
	}
	// completed_at tracks terminal-ness; error is overwritten unconditionally,
	// so a caller preserving a prior error must re-pass it.
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	set := "status = $1, completed_at = $2, error = $3"
	if status == StatusNew {
		// a reset returns the item to the unclaimed pool
		set += ", claimed_at = NULL"
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE work_items SET "+set+" WHERE id = ANY($4)",
		status, completedAt, errText, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("set status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set status rows affected: %w", err)
	}
	s.logger.Debug("Updated item status", zap.Int64("count", affected), zap.Stringer("status", status))
	return affected, nil
}

func (s *PGStore) Query(ctx context.Context, routingKey string, status Status) ([]Item, error) {
	query := `
        SELECT id, status, routing_key, content, metadata, error, created_at, claimed_at, completed_at
        FROM work_items`
	var (
		conds []string
		args  []any
	)
	if routingKey != "" {
		args = append(args, routingKey)
		conds = append(conds, fmt.Sprintf("routing_key = $%d", len(args)))
	}
	if status != AnyStatus {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unrecognized status %d", ErrInvalidArgument, int(status))
		}
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Status, &item.RoutingKey, &item.Content,
			&item.Metadata, &item.Error, &item.CreatedAt, &item.ClaimedAt, &item.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// CountByStatus reports table depth per status, for the metrics sampler.
func (s *PGStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM work_items GROUP BY status
    `)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}
