// Package cache implements the persistent extraction result cache: versioned
// per-message entries plus an index record that mirrors entry presence and
// drives age cleanup and status display.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
)

// SchemaVersion tags every stored entry. Entries written under a different
// version are treated as absent, forcing re-extraction after a format change.
const SchemaVersion = 3

// entrySizeEstimate is the rough per-entry byte figure used for the stats
// size estimate. Not exact accounting.
const entrySizeEstimate = 2048

// storedEntry is the persisted shape of one cache entry.
type storedEntry struct {
	Version   int                `json:"version"`
	Timestamp time.Time          `json:"timestamp"`
	Payload   *domain.Extraction `json:"payload"`
}

// CachedResult is one retrievable extraction result.
type CachedResult struct {
	MessageID string
	Version   int
	Timestamp time.Time
	Payload   *domain.Extraction
}

// Stats summarizes cache contents.
type Stats struct {
	Count        int   `json:"count"`
	ErrorCount   int   `json:"error_count"`
	SizeEstimate int64 `json:"size_estimate_bytes"`
	L1Hits       int64 `json:"l1_hits"`
	L1Misses     int64 `json:"l1_misses"`
	L1Items      int   `json:"l1_items"`
}

// Config for the result cache.
type Config struct {
	L1MaxItems int
	L1TTL      time.Duration
}

// ResultCache stores extraction results keyed by message identity. All
// operations are best-effort against a possibly-unavailable store: read
// failures behave as "absent", write failures are logged and surfaced but
// must never abort the extraction pipeline.
type ResultCache struct {
	store out.EntryStore
	mail  out.MailStore
	l1    *l1Cache
	log   zerolog.Logger
}

// New creates a result cache over the given store. mail is used only by the
// orphan sweep and may be nil in contexts that never sweep.
func New(store out.EntryStore, mail out.MailStore, cfg Config, log zerolog.Logger) *ResultCache {
	return &ResultCache{
		store: store,
		mail:  mail,
		l1:    newL1Cache(cfg.L1MaxItems, cfg.L1TTL),
		log:   log.With().Str("component", "result_cache").Logger(),
	}
}

// Get returns the cached result for messageID, or nil when there is no entry,
// the stored version mismatches the current schema version, or the store is
// unavailable.
func (c *ResultCache) Get(ctx context.Context, messageID string) *CachedResult {
	data, ok := c.l1.get(messageID)
	if !ok {
		var err error
		data, err = c.store.Entry(ctx, messageID)
		if err != nil {
			c.log.Warn().Err(err).Str("message_id", messageID).Msg("entry read failed, treating as absent")
			return nil
		}
		if data == nil {
			return nil
		}
		c.l1.set(messageID, data)
	}

	var entry storedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Warn().Err(err).Str("message_id", messageID).Msg("undecodable entry, treating as absent")
		return nil
	}
	if entry.Version != SchemaVersion {
		return nil
	}
	return &CachedResult{
		MessageID: messageID,
		Version:   entry.Version,
		Timestamp: entry.Timestamp,
		Payload:   entry.Payload,
	}
}

// Has reports whether an entry exists under the current schema version.
func (c *ResultCache) Has(ctx context.Context, messageID string) bool {
	return c.Get(ctx, messageID) != nil
}

// Fresh reports whether an entry exists and is younger than maxAge.
func (c *ResultCache) Fresh(ctx context.Context, messageID string, maxAge time.Duration) bool {
	result := c.Get(ctx, messageID)
	if result == nil {
		return false
	}
	return time.Since(result.Timestamp) <= maxAge
}

// Set writes a new entry with the current timestamp and schema version,
// updating the index record in the same store operation. Overwrites any
// prior entry for the same message.
func (c *ResultCache) Set(ctx context.Context, messageID string, payload *domain.Extraction) error {
	now := time.Now()
	entry := storedEntry{Version: SchemaVersion, Timestamp: now, Payload: payload}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	c.l1.delete(messageID)
	if err := c.store.PutEntry(ctx, messageID, data, out.IndexEntry{Timestamp: now, Status: out.StatusOK}); err != nil {
		c.log.Error().Err(err).Str("message_id", messageID).Msg("entry write failed")
		return err
	}
	c.l1.set(messageID, data)
	return nil
}

// SetError records an extraction failure in the index without storing a
// payload, so the UI can show the error state without triggering retries.
func (c *ResultCache) SetError(ctx context.Context, messageID string) error {
	c.l1.delete(messageID)
	err := c.store.PutIndexOnly(ctx, messageID, out.IndexEntry{Timestamp: time.Now(), Status: out.StatusError})
	if err != nil {
		c.log.Error().Err(err).Str("message_id", messageID).Msg("error marker write failed")
	}
	return err
}

// Delete removes the entry and its index record. Idempotent.
func (c *ResultCache) Delete(ctx context.Context, messageID string) error {
	c.l1.delete(messageID)
	err := c.store.Delete(ctx, messageID)
	if err != nil {
		c.log.Error().Err(err).Str("message_id", messageID).Msg("entry delete failed")
	}
	return err
}

// Cleanup deletes every entry older than maxAge and returns how many were
// removed.
func (c *ResultCache) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	index, err := c.store.Index(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("index read failed, skipping cleanup")
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for messageID, idx := range index {
		if idx.Timestamp.After(cutoff) {
			continue
		}
		if err := c.Delete(ctx, messageID); err != nil {
			continue
		}
		removed++
	}
	if removed > 0 {
		c.log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("expired entries removed")
	}
	return removed, nil
}

// CleanupOrphans deletes entries whose source message no longer exists in the
// mailbox, reconciling cache lifetime with mailbox lifetime independent of
// TTL. A mail store failure (as opposed to "not found") leaves the entry
// alone so a flaky session cannot wipe the cache.
func (c *ResultCache) CleanupOrphans(ctx context.Context) (int, error) {
	if c.mail == nil {
		return 0, nil
	}

	index, err := c.store.Index(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("index read failed, skipping orphan sweep")
		return 0, err
	}

	removed := 0
	for messageID := range index {
		_, err := c.mail.GetMessage(ctx, messageID)
		if err == nil {
			continue
		}
		if !errors.Is(err, out.ErrMessageNotFound) {
			c.log.Debug().Err(err).Str("message_id", messageID).Msg("message resolution failed, keeping entry")
			continue
		}
		if err := c.Delete(ctx, messageID); err != nil {
			continue
		}
		removed++
	}
	if removed > 0 {
		c.log.Info().Int("removed", removed).Msg("orphaned entries removed")
	}
	return removed, nil
}

// ClearAll wipes the cache and returns how many index records existed.
func (c *ResultCache) ClearAll(ctx context.Context) (int, error) {
	index, err := c.store.Index(ctx)
	if err != nil {
		return 0, err
	}
	c.l1.clear()
	if err := c.store.Clear(ctx); err != nil {
		return 0, err
	}
	return len(index), nil
}

// GetStats returns entry counts and a rough size estimate.
func (c *ResultCache) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	index, err := c.store.Index(ctx)
	if err != nil {
		return stats, err
	}
	for _, idx := range index {
		switch idx.Status {
		case out.StatusError:
			stats.ErrorCount++
		default:
			stats.Count++
		}
	}
	stats.SizeEstimate = int64(stats.Count) * entrySizeEstimate
	stats.L1Hits, stats.L1Misses, stats.L1Items = c.l1.stats()
	return stats, nil
}

// Status returns the index record for one message, mirroring what a badge
// indicator needs without a payload read.
func (c *ResultCache) Status(ctx context.Context, messageID string) (out.IndexEntry, bool) {
	index, err := c.store.Index(ctx)
	if err != nil {
		return out.IndexEntry{}, false
	}
	idx, ok := index[messageID]
	return idx, ok
}
