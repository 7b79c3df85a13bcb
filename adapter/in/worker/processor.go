package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/cache"
	"mailmind/core/service/extract"
	"mailmind/pkg/apperr"
)

// ProcessorConfig tunes the background pipeline.
type ProcessorConfig struct {
	// MinBodyLength is the shortest body worth sending to the model;
	// anything shorter gets a placeholder entry instead.
	MinBodyLength int
	// BackfillDays bounds how far back startup backfill enumerates.
	BackfillDays int
}

// Processor drains the work queue one message at a time: resolve the
// message, extract, and write the result (or an error marker) to the cache.
// It also reacts to mailbox events and settings changes as queue mutations.
type Processor struct {
	cfg       ProcessorConfig
	queue     *Queue
	cache     *cache.ResultCache
	mail      out.MailStore
	extractor *extract.Extractor
	settings  out.SettingsStore
	log       zerolog.Logger
}

// NewProcessor wires the pipeline. The queue is created here so its process
// callback is always this processor's processOne.
func NewProcessor(
	ctx context.Context,
	cfg ProcessorConfig,
	qcfg QueueConfig,
	clock Clock,
	resultCache *cache.ResultCache,
	mail out.MailStore,
	extractor *extract.Extractor,
	settings out.SettingsStore,
	log zerolog.Logger,
) *Processor {
	if cfg.MinBodyLength <= 0 {
		cfg.MinBodyLength = 40
	}
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = 14
	}
	p := &Processor{
		cfg:       cfg,
		cache:     resultCache,
		mail:      mail,
		extractor: extractor,
		settings:  settings,
		log:       log.With().Str("component", "processor").Logger(),
	}
	p.queue = NewQueue(ctx, qcfg, clock, p.processOne, log)
	return p
}

// Queue exposes the underlying work queue for stats and manual control.
func (p *Processor) Queue() *Queue { return p.queue }

// Run applies the persisted enabled setting, registers the settings watch,
// and backfills when starting enabled with an empty queue.
func (p *Processor) Run(ctx context.Context) error {
	settings, err := p.settings.Get(ctx)
	if err != nil {
		return err
	}

	p.settings.Watch(func(change domain.SettingsChange) {
		p.onSettingsChange(ctx, change)
	})

	if !settings.Enabled {
		p.log.Info().Msg("processing disabled by settings")
		return nil
	}
	if p.queue.Start() {
		p.Backfill(ctx)
	}
	return nil
}

// processOne is the queue's drain callback; its error return drives the
// queue state machine.
func (p *Processor) processOne(ctx context.Context, messageID string, force bool) error {
	settings, err := p.settings.Get(ctx)
	if err != nil {
		settings = domain.Settings{}
	}

	// A fresh entry means someone already did the work.
	if !force && p.cache.Fresh(ctx, messageID, settings.CacheTTL()) {
		p.log.Debug().Str("messageId", messageID).Msg("cache hit, skipping")
		return nil
	}

	msg, err := p.mail.GetMessage(ctx, messageID)
	if err != nil {
		return p.goneOrDrop(messageID, "message lookup failed", err)
	}
	body, err := p.mail.GetFullBody(ctx, messageID)
	if err != nil {
		return p.goneOrDrop(messageID, "body fetch failed", err)
	}

	if extract.TooShort(body, p.cfg.MinBodyLength) {
		if err := p.cache.Set(ctx, messageID, domain.PlaceholderTooShort()); err != nil {
			p.log.Warn().Err(err).Str("messageId", messageID).Msg("placeholder write failed")
		}
		return nil
	}

	result, err := p.extractor.Extract(ctx, msg, body, extract.Options{
		Model:           settings.Model,
		ContextTokens:   settings.ContextTokens,
		MaxOutputTokens: settings.MaxOutputTokens,
		Temperature:     settings.Temperature,
	})
	if err != nil {
		if apperr.IsTransient(err) {
			return err
		}
		// Item-level parse failure: mark it so the UI can offer a manual
		// retry, then move on.
		if serr := p.cache.SetError(ctx, messageID); serr != nil {
			p.log.Warn().Err(serr).Str("messageId", messageID).Msg("error marker write failed")
		}
		return err
	}

	if err := p.cache.Set(ctx, messageID, result); err != nil {
		// A failed write only means the next lookup re-extracts.
		p.log.Warn().Err(err).Str("messageId", messageID).Msg("result write failed")
	}
	return nil
}

// goneOrDrop maps a resolution failure to a silent drop. A message deleted
// mid-queue is expected; anything else is logged but the item is still
// dropped rather than blocking the queue.
func (p *Processor) goneOrDrop(messageID, what string, err error) error {
	if !errors.Is(err, out.ErrMessageNotFound) {
		p.log.Warn().Err(err).Str("messageId", messageID).Msg(what)
	}
	return apperr.MessageGone(messageID)
}

// HandleNewMail enqueues messages arriving in inbox-classified folders.
func (p *Processor) HandleNewMail(folder *domain.Folder, messages []*domain.MailMessage) {
	if folder.Kind != domain.FolderInbox {
		return
	}
	for _, msg := range messages {
		p.queue.Enqueue(msg.ID, false)
	}
}

// HandleDeleted removes cache entries for deleted messages, independent of
// queue state.
func (p *Processor) HandleDeleted(messageIDs []string) {
	ctx := context.Background()
	for _, id := range messageIDs {
		if err := p.cache.Delete(ctx, id); err != nil {
			p.log.Warn().Err(err).Str("messageId", id).Msg("cache delete failed")
		}
	}
}

// onSettingsChange translates settings mutations into queue mutations.
func (p *Processor) onSettingsChange(ctx context.Context, change domain.SettingsChange) {
	if change.EnabledTurnedOff() {
		p.queue.Stop()
		return
	}
	if change.EnabledTurnedOn() {
		if p.queue.Start() {
			p.Backfill(ctx)
		}
		return
	}
	if change.TTLChanged() {
		// The pending queue was sized for the old horizon.
		p.queue.Clear()
		if _, err := p.cache.Cleanup(ctx, change.New.CacheTTL()); err != nil {
			p.log.Warn().Err(err).Msg("cleanup after TTL change failed")
		}
		p.Backfill(ctx)
	}
}

// ExtractNow runs a foreground extraction for one message, preempting
// background draining for its duration. It bypasses the cache and overwrites
// any existing entry.
func (p *Processor) ExtractNow(ctx context.Context, messageID string) (*domain.Extraction, error) {
	p.queue.SetManualFlag(true)
	defer p.queue.SetManualFlag(false)

	msg, err := p.mail.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	body, err := p.mail.GetFullBody(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if extract.TooShort(body, p.cfg.MinBodyLength) {
		placeholder := domain.PlaceholderTooShort()
		if err := p.cache.Set(ctx, messageID, placeholder); err != nil {
			p.log.Warn().Err(err).Str("messageId", messageID).Msg("placeholder write failed")
		}
		return placeholder, nil
	}

	settings, err := p.settings.Get(ctx)
	if err != nil {
		settings = domain.Settings{}
	}
	result, err := p.extractor.Extract(ctx, msg, body, extract.Options{
		Model:           settings.Model,
		ContextTokens:   settings.ContextTokens,
		MaxOutputTokens: settings.MaxOutputTokens,
		Temperature:     settings.Temperature,
	})
	if err != nil {
		if !apperr.IsTransient(err) {
			if serr := p.cache.SetError(ctx, messageID); serr != nil {
				p.log.Warn().Err(serr).Str("messageId", messageID).Msg("error marker write failed")
			}
		}
		return nil, err
	}
	if err := p.cache.Set(ctx, messageID, result); err != nil {
		p.log.Warn().Err(err).Str("messageId", messageID).Msg("result write failed")
	}
	return result, nil
}
