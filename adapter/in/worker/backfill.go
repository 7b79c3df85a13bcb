package worker

import (
	"context"
	"time"

	"mailmind/core/domain"
)

// Backfill enumerates inbox-classified folders for messages newer than the
// configured horizon and enqueues every one without a cache entry. A folder
// that fails to enumerate is logged and skipped; the rest still run.
func (p *Processor) Backfill(ctx context.Context) {
	since := time.Now().AddDate(0, 0, -p.cfg.BackfillDays)
	log := p.log.With().Time("since", since).Logger()

	folders, err := p.mail.QueryFolders(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("backfill folder listing failed")
		return
	}

	var enqueued, scanned int
	for _, folder := range folders {
		if folder.Kind != domain.FolderInbox {
			continue
		}
		n, m, err := p.backfillFolder(ctx, folder.ID, since)
		scanned += m
		enqueued += n
		if err != nil {
			log.Warn().Err(err).Str("folder", folder.ID).Msg("backfill folder failed, continuing")
		}
	}

	log.Info().Int("scanned", scanned).Int("enqueued", enqueued).Msg("backfill complete")
}

// backfillFolder walks one folder's pages. Counts cover whatever was scanned
// before any error.
func (p *Processor) backfillFolder(ctx context.Context, folderID string, since time.Time) (enqueued, scanned int, err error) {
	page, err := p.mail.QueryMessages(ctx, folderID, since)
	if err != nil {
		return 0, 0, err
	}
	for {
		for _, msg := range page.Messages {
			scanned++
			if p.cache.Has(ctx, msg.ID) {
				continue
			}
			p.queue.Enqueue(msg.ID, false)
			enqueued++
		}
		if page.PageToken == "" {
			return enqueued, scanned, nil
		}
		page, err = p.mail.ContinuePage(ctx, page.PageToken)
		if err != nil {
			return enqueued, scanned, err
		}
	}
}
