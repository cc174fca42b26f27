package store

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an item. The numeric values are a
// compatibility contract for any store sharing the schema.
type Status int

const (
	StatusNew        Status = 0
	StatusInProgress Status = 1
	StatusCompleted  Status = 2
	StatusFailed     Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Valid reports whether s is one of the four defined statuses.
func (s Status) Valid() bool {
	return s >= StatusNew && s <= StatusFailed
}

// Terminal reports whether s is a completion state. Terminal items keep a
// non-nil CompletedAt until explicitly reset to new.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Item is one unit of work. Content and Metadata are opaque to the store;
// callers own their encoding.
type Item struct {
	ID          int64
	Status      Status
	RoutingKey  string
	Content     []byte
	Metadata    []byte
	Error       *string
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}
