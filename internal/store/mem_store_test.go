package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueueValidation(t *testing.T) {
	s := NewMemStore()
	_, err := s.Enqueue(context.Background(), "", []byte("x"), nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEnqueueClaimRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	id, err := s.Enqueue(ctx, "orders.create", []byte("content"), []byte("meta"))
	if err != nil {
		t.Fatalf("enqueue failed: %s", err)
	}

	item, err := s.Claim(ctx, "orders.create")
	if err != nil {
		t.Fatalf("claim failed: %s", err)
	}
	if item == nil {
		t.Fatal("expected an item")
	}
	if item.ID != id {
		t.Errorf("claimed id %d, enqueued %d", item.ID, id)
	}
	if item.Status != StatusInProgress {
		t.Errorf("claimed item has status %s", item.Status)
	}
	if string(item.Content) != "content" || string(item.Metadata) != "meta" {
		t.Error("payload did not survive the round trip")
	}
	if item.RoutingKey != "orders.create" {
		t.Errorf("routing key %q", item.RoutingKey)
	}
}

func TestClaimEmptyIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	item, err := s.Claim(ctx, "")
	if err != nil || item != nil {
		t.Fatalf("empty table: item=%v err=%v", item, err)
	}

	if _, err := s.Enqueue(ctx, "a", nil, nil); err != nil {
		t.Fatalf("enqueue failed: %s", err)
	}
	item, err = s.Claim(ctx, "b")
	if err != nil || item != nil {
		t.Fatalf("no matching routing key: item=%v err=%v", item, err)
	}
}

func TestClaimOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(ctx, "rk", nil, nil); err != nil {
			t.Fatalf("enqueue failed: %s", err)
		}
	}
	var last int64
	for i := 0; i < 3; i++ {
		item, err := s.Claim(ctx, "rk")
		if err != nil || item == nil {
			t.Fatalf("claim %d: item=%v err=%v", i, item, err)
		}
		if item.ID <= last {
			t.Errorf("claims out of order: %d after %d", item.ID, last)
		}
		last = item.ID
	}
}

func TestConcurrentClaimsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	const n = 50
	for i := 0; i < n; i++ {
		if _, err := s.Enqueue(ctx, "rk", nil, nil); err != nil {
			t.Fatalf("enqueue failed: %s", err)
		}
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = make(map[int64]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := s.Claim(ctx, "rk")
			if err != nil {
				t.Errorf("claim failed: %s", err)
				return
			}
			if item != nil {
				mu.Lock()
				got[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(got) != n {
		t.Fatalf("claimed %d distinct items, want %d", len(got), n)
	}
	for id, count := range got {
		if count != 1 {
			t.Errorf("item %d claimed %d times", id, count)
		}
	}
}

func TestSetStatusEmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id, _ := s.Enqueue(ctx, "rk", nil, nil)

	affected, err := s.SetStatus(ctx, nil, StatusCompleted, nil)
	if err != nil {
		t.Fatalf("empty ids: %s", err)
	}
	if affected != 0 {
		t.Errorf("empty SetStatus reported %d rows", affected)
	}
	items, _ := s.Query(ctx, "", AnyStatus)
	if len(items) != 1 || items[0].ID != id || items[0].Status != StatusNew {
		t.Error("table changed by empty SetStatus")
	}
}

func TestSetStatusValidation(t *testing.T) {
	s := NewMemStore()
	_, err := s.SetStatus(context.Background(), []int64{1}, Status(9), nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSetStatusIgnoresMissingIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id, _ := s.Enqueue(ctx, "rk", nil, nil)

	affected, err := s.SetStatus(ctx, []int64{id, 9999}, StatusCompleted, nil)
	if err != nil {
		t.Fatalf("mixed ids: %s", err)
	}
	if affected != 1 {
		t.Errorf("SetStatus reported %d rows, want 1 (missing ids skipped)", affected)
	}
	items, _ := s.Query(ctx, "", StatusCompleted)
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("expected exactly item %d completed, got %v", id, items)
	}
}

func TestFinalizeAndReset(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id, _ := s.Enqueue(ctx, "rk", nil, nil)
	if _, err := s.Claim(ctx, "rk"); err != nil {
		t.Fatalf("claim failed: %s", err)
	}

	msg := "boom"
	if _, err := s.SetStatus(ctx, []int64{id}, StatusFailed, &msg); err != nil {
		t.Fatalf("fail item: %s", err)
	}
	failed, _ := s.Query(ctx, "", StatusFailed)
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed item, got %d", len(failed))
	}
	if failed[0].Error == nil || *failed[0].Error != "boom" {
		t.Error("error text not recorded")
	}
	if failed[0].CompletedAt == nil {
		t.Error("completed_at not set on failure")
	}

	// reset to new clears completion markers and makes the item claimable again
	if _, err := s.SetStatus(ctx, []int64{id}, StatusNew, nil); err != nil {
		t.Fatalf("reset item: %s", err)
	}
	fresh, _ := s.Query(ctx, "", StatusNew)
	if len(fresh) != 1 {
		t.Fatalf("expected 1 new item, got %d", len(fresh))
	}
	if fresh[0].CompletedAt != nil || fresh[0].Error != nil || fresh[0].ClaimedAt != nil {
		t.Error("reset did not clear completed_at/error/claimed_at")
	}
	item, err := s.Claim(ctx, "rk")
	if err != nil || item == nil || item.ID != id {
		t.Fatalf("reset item not claimable: item=%v err=%v", item, err)
	}
}

func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	id, err := s.Enqueue(ctx, "a.b", []byte("x"), nil)
	if err != nil {
		t.Fatalf("enqueue failed: %s", err)
	}

	item, err := s.Claim(ctx, "a.b")
	if err != nil || item == nil {
		t.Fatalf("claim failed: item=%v err=%v", item, err)
	}
	if item.ID != id || item.Status != StatusInProgress {
		t.Fatalf("unexpected claim result: %+v", item)
	}

	again, err := s.Claim(ctx, "a.b")
	if err != nil || again != nil {
		t.Fatalf("second claim should find nothing: item=%v err=%v", again, err)
	}

	msg := "boom"
	if _, err := s.SetStatus(ctx, []int64{id}, StatusFailed, &msg); err != nil {
		t.Fatalf("finalize failed: %s", err)
	}
	failed, err := s.Query(ctx, "", StatusFailed)
	if err != nil {
		t.Fatalf("query failed: %s", err)
	}
	if len(failed) != 1 || failed[0].ID != id || failed[0].Error == nil ||
		*failed[0].Error != "boom" || failed[0].CompletedAt == nil {
		t.Fatalf("unexpected failed items: %+v", failed)
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	a1, _ := s.Enqueue(ctx, "a", nil, nil)
	b1, _ := s.Enqueue(ctx, "b", nil, nil)
	a2, _ := s.Enqueue(ctx, "a", nil, nil)
	s.SetStatus(ctx, []int64{a2}, StatusCompleted, nil)

	items, err := s.Query(ctx, "a", AnyStatus)
	if err != nil {
		t.Fatalf("query failed: %s", err)
	}
	if len(items) != 2 || items[0].ID != a1 || items[1].ID != a2 {
		t.Fatalf("routing key filter: got %v", items)
	}

	items, _ = s.Query(ctx, "", StatusNew)
	if len(items) != 2 || items[0].ID != a1 || items[1].ID != b1 {
		t.Fatalf("status filter: got %v", items)
	}

	items, _ = s.Query(ctx, "a", StatusCompleted)
	if len(items) != 1 || items[0].ID != a2 {
		t.Fatalf("combined filter: got %v", items)
	}

	items, err = s.Query(ctx, "missing", AnyStatus)
	if err != nil || len(items) != 0 {
		t.Fatalf("no matches should be empty, not an error: %v %v", items, err)
	}
}

func TestStatusValues(t *testing.T) {
	// persisted numeric mapping is a compatibility contract
	if StatusNew != 0 || StatusInProgress != 1 || StatusCompleted != 2 || StatusFailed != 3 {
		t.Fatal("status wire values changed")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Error("terminal statuses misclassified")
	}
	if StatusNew.Terminal() || StatusInProgress.Terminal() {
		t.Error("non-terminal statuses misclassified")
	}
	if Status(4).Valid() || AnyStatus.Valid() {
		t.Error("out-of-range status reported valid")
	}
}

func TestClaimRecordsClaimTime(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id, _ := s.Enqueue(ctx, "rk", nil, nil)

	before := time.Now().UTC()
	item, err := s.Claim(ctx, "rk")
	if err != nil || item == nil {
		t.Fatalf("claim failed: item=%v err=%v", item, err)
	}
	if item.ClaimedAt == nil || item.ClaimedAt.Before(before) {
		t.Errorf("claimed_at not stamped: %v", item.ClaimedAt)
	}

	items, _ := s.Query(ctx, "", StatusInProgress)
	if len(items) != 1 || items[0].ID != id || items[0].ClaimedAt == nil {
		t.Fatalf("claimed_at not persisted: %v", items)
	}
}

func TestQueryRejectsUnknownStatusFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Enqueue(ctx, "rk", nil, nil)

	for _, st := range []Status{Status(-7), Status(4), Status(99)} {
		if _, err := s.Query(ctx, "", st); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("status %d: expected ErrInvalidArgument, got %v", int(st), err)
		}
	}
	if _, err := s.Query(ctx, "", AnyStatus); err != nil {
		t.Errorf("wildcard rejected: %v", err)
	}
}

func TestReturnedPayloadsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	content := []byte("original")
	id, _ := s.Enqueue(ctx, "rk", content, []byte("meta"))
	content[0] = 'X' // caller reusing its buffer must not reach into the store

	item, err := s.Claim(ctx, "rk")
	if err != nil || item == nil {
		t.Fatalf("claim failed: item=%v err=%v", item, err)
	}
	if string(item.Content) != "original" {
		t.Fatalf("stored content shares the caller's buffer: %q", item.Content)
	}
	item.Content[0] = 'Y'
	item.Metadata[0] = 'Y'

	items, _ := s.Query(ctx, "", AnyStatus)
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("unexpected items: %v", items)
	}
	if string(items[0].Content) != "original" || string(items[0].Metadata) != "meta" {
		t.Errorf("mutating a returned item corrupted store state: %q %q",
			items[0].Content, items[0].Metadata)
	}
	items[0].Content[0] = 'Z'
	again, _ := s.Query(ctx, "", AnyStatus)
	if string(again[0].Content) != "original" {
		t.Error("query results share a backing array with the store")
	}
}
