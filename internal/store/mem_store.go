package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same semantics as PGStore, used as
// a test double and for local experimentation. A single mutex stands in for
// the database's row locks; claim-and-skip degenerates to "first caller to
// take the lock wins", which preserves the at-most-one-claim guarantee.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	items  []*Item
}

func NewMemStore() *MemStore {
	return &MemStore{nextID: 1}
}

// cloneBytes keeps stored and returned payloads on separate backing arrays,
// matching the Postgres backend where every scan is a fresh allocation.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneItem(item *Item) *Item {
	cp := *item
	cp.Content = cloneBytes(item.Content)
	cp.Metadata = cloneBytes(item.Metadata)
	return &cp
}

func (s *MemStore) Enqueue(ctx context.Context, routingKey string, content, metadata []byte) (int64, error) {
	if routingKey == "" {
		return 0, fmt.Errorf("%w: routing key is required", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &Item{
		ID:         s.nextID,
		Status:     StatusNew,
		RoutingKey: routingKey,
		Content:    cloneBytes(content),
		Metadata:   cloneBytes(metadata),
		CreatedAt:  time.Now().UTC(),
	}
	s.nextID++
	s.items = append(s.items, item)
	return item.ID, nil
}

func (s *MemStore) Claim(ctx context.Context, routingKey string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.Status != StatusNew {
			continue
		}
		if routingKey != "" && item.RoutingKey != routingKey {
			continue
		}
		now := time.Now().UTC()
		item.Status = StatusInProgress
		item.ClaimedAt = &now
		return cloneItem(item), nil
	}
	return nil, nil
}

func (s *MemStore) SetStatus(ctx context.Context, ids []int64, status Status, errText *string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unrecognized status %d", ErrInvalidArgument, int(status))
	}
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, item := range s.items {
		if !want[item.ID] {
			continue
		}
		item.Status = status
		item.CompletedAt = completedAt
		item.Error = errText
		if status == StatusNew {
			item.ClaimedAt = nil
		}
		affected++
	}
	return affected, nil
}

func (s *MemStore) Query(ctx context.Context, routingKey string, status Status) ([]Item, error) {
	if status != AnyStatus && !status.Valid() {
		return nil, fmt.Errorf("%w: unrecognized status %d", ErrInvalidArgument, int(status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Item{}
	for _, item := range s.items {
		if routingKey != "" && item.RoutingKey != routingKey {
			continue
		}
		if status != AnyStatus && item.Status != status {
			continue
		}
		out = append(out, *cloneItem(item))
	}
	return out, nil
}
