package model

import (
	"context"
	"time"
)

// SessionRecord is the durable shadow of an in-memory chat session. It exists
// so cache leases belonging to sessions lost in a process restart can still be
// released.
type SessionRecord struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	CacheName string    `json:"cache_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionRecordRepository interface {
	// Save persists the record for a newly created session
	Save(ctx context.Context, record SessionRecord) error

	// Delete removes the record when its session is torn down
	Delete(ctx context.Context, sessionID string) error

	// List returns all known session records
	List(ctx context.Context) ([]SessionRecord, error)
}
