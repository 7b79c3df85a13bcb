package mailstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
)

// PollWatcher detects new and deleted mail by diffing folder contents on an
// interval. IMAP IDLE would push instead of poll, but polling works against
// every server and a processing queue tolerates the added latency.
type PollWatcher struct {
	store    out.MailStore
	interval time.Duration
	horizon  time.Duration
	log      zerolog.Logger

	known map[string]map[string]time.Time // folderID → message ID → received time
}

// NewPollWatcher watches messages newer than horizon, checking every interval.
func NewPollWatcher(store out.MailStore, interval, horizon time.Duration, log zerolog.Logger) *PollWatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	if horizon <= 0 {
		horizon = 30 * 24 * time.Hour
	}
	return &PollWatcher{
		store:    store,
		interval: interval,
		horizon:  horizon,
		log:      log.With().Str("component", "mail_watcher").Logger(),
		known:    make(map[string]map[string]time.Time),
	}
}

// Watch polls until ctx is cancelled. The first poll only seeds the known
// set; existing mail is the backfill's job, not an event.
func (w *PollWatcher) Watch(ctx context.Context, handler out.MailEventHandler) error {
	if err := w.poll(ctx, nil); err != nil {
		w.log.Warn().Err(err).Msg("initial poll failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx, handler); err != nil {
				w.log.Warn().Err(err).Msg("poll failed")
			}
		}
	}
}

// poll diffs every folder against the known set. A nil handler seeds state
// without emitting events.
func (w *PollWatcher) poll(ctx context.Context, handler out.MailEventHandler) error {
	folders, err := w.store.QueryFolders(ctx)
	if err != nil {
		return err
	}

	since := time.Now().Add(-w.horizon)
	seen := make(map[string]bool)

	for _, folder := range folders {
		current, err := w.collect(ctx, folder.ID, since)
		if err != nil {
			// One unreadable folder must not stall the others.
			w.log.Warn().Err(err).Str("folder", folder.ID).Msg("skipping folder")
			continue
		}

		known := w.known[folder.ID]
		if known == nil {
			known = make(map[string]time.Time)
			w.known[folder.ID] = known
		}

		var fresh []*domain.MailMessage
		for _, msg := range current {
			seen[msg.ID] = true
			if _, ok := known[msg.ID]; !ok {
				known[msg.ID] = msg.ReceivedAt
				fresh = append(fresh, msg)
			}
		}
		if handler != nil && len(fresh) > 0 {
			handler.HandleNewMail(folder, fresh)
		}
	}

	var deleted []string
	for _, known := range w.known {
		for id, receivedAt := range known {
			if seen[id] {
				continue
			}
			delete(known, id)
			// A message that merely crosses the horizon drops out of the
			// query while still existing on the server. Forget it without
			// an event; expiring its cached result is the TTL cleanup's
			// job, not a deletion.
			if !receivedAt.IsZero() && receivedAt.Before(since) {
				continue
			}
			deleted = append(deleted, id)
		}
	}
	if handler != nil && len(deleted) > 0 {
		handler.HandleDeleted(deleted)
	}
	return nil
}

func (w *PollWatcher) collect(ctx context.Context, folderID string, since time.Time) ([]*domain.MailMessage, error) {
	page, err := w.store.QueryMessages(ctx, folderID, since)
	if err != nil {
		return nil, err
	}
	messages := page.Messages
	for page.PageToken != "" {
		page, err = w.store.ContinuePage(ctx, page.PageToken)
		if err != nil {
			return nil, err
		}
		messages = append(messages, page.Messages...)
	}
	return messages, nil
}
