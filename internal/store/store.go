package store

import (
	"context"
	"errors"
)

// ErrInvalidArgument marks caller-input errors: an empty routing key on
// enqueue, or an unrecognized status on SetStatus. Anything else coming out
// of a Store is a store failure, safe to retry from the outside.
var ErrInvalidArgument = errors.New("invalid argument")

// Store is the capability interface over the work-item table. PGStore is the
// durable backend; MemStore is an in-memory substitute for tests.
//
// A routingKey of "" means "any routing key" wherever it is optional.
type Store interface {
	// Enqueue inserts one item with status new and returns its assigned id.
	Enqueue(ctx context.Context, routingKey string, content, metadata []byte) (int64, error)

	// Claim atomically hands the oldest eligible new item to the caller,
	// marking it in_progress. At most one concurrent caller ever receives a
	// given item. No eligible item is a normal outcome: (nil, nil).
	Claim(ctx context.Context, routingKey string) (*Item, error)

	// SetStatus moves every existing item in ids to status in one atomic
	// statement and reports how many rows it touched. completed_at is set to
	// now for terminal targets and cleared otherwise; the error column is
	// overwritten with errText (nil clears) regardless of target; a reset to
	// new also clears claimed_at. Unknown ids are skipped; empty ids is a
	// no-op.
	SetStatus(ctx context.Context, ids []int64, status Status, errText *string) (int64, error)

	// Query lists items matching the optional filters, ascending by id.
	// AnyStatus matches every status; other out-of-range values are rejected.
	Query(ctx context.Context, routingKey string, status Status) ([]Item, error)
}

// AnyStatus is the Query wildcard for the status filter.
const AnyStatus Status = -1
