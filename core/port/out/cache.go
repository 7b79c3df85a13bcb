package out

import (
	"context"
	"time"
)

// Entry status values mirrored in the cache index.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// IndexEntry is the per-message index record: enough to drive age-based
// cleanup and status badges without reading the payload.
type IndexEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// EntryStore is the persistence behind the result cache. Two logical
// namespaces: one index record (messageID → IndexEntry) and one entry record
// per messageID. Implementations keep entry and index writes together at the
// single-entry level; no cross-entry transaction is required.
type EntryStore interface {
	// Entry returns the raw entry bytes, or (nil, nil) when absent.
	Entry(ctx context.Context, messageID string) ([]byte, error)

	// PutEntry writes the entry payload and its index record together.
	PutEntry(ctx context.Context, messageID string, data []byte, idx IndexEntry) error

	// PutIndexOnly writes an index record and removes any stored payload.
	// Used for error markers, which carry no payload.
	PutIndexOnly(ctx context.Context, messageID string, idx IndexEntry) error

	// Delete removes both the entry and its index record. No-op if absent.
	Delete(ctx context.Context, messageID string) error

	// Index returns the full index map. Empty map when nothing is cached.
	Index(ctx context.Context) (map[string]IndexEntry, error)

	// Clear wipes both namespaces.
	Clear(ctx context.Context) error

	Close() error
}
