package bootstrap

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"mailmind/config"
)

// Worker runs the background pipeline: processor, mailbox watcher, and the
// scheduled cache maintenance.
type Worker struct {
	deps   *Dependencies
	cron   *cron.Cron
	cancel context.CancelFunc
	done   chan struct{}
	log    zerolog.Logger
}

// NewWorker wires and starts the background pipeline.
func NewWorker(deps *Dependencies) (*Worker, error) {
	ctx, cancel := context.WithCancel(context.Background())
	log := deps.Log.With().Str("component", "worker").Logger()

	w := &Worker{
		deps:   deps,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
	}

	if err := deps.Processor.Run(ctx); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer close(w.done)
		if err := deps.Watcher.Watch(ctx, deps.Processor); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("mail watcher stopped")
		}
	}()

	w.cron = cron.New()
	if _, err := w.cron.AddFunc(deps.Config.CleanupSchedule, func() {
		w.maintain(ctx, deps.Config)
	}); err != nil {
		cancel()
		return nil, err
	}
	w.cron.Start()

	log.Info().Str("schedule", deps.Config.CleanupSchedule).Msg("worker started")
	return w, nil
}

// maintain runs the TTL cleanup and the orphan sweep. The TTL comes from the
// live settings when available.
func (w *Worker) maintain(ctx context.Context, cfg *config.Config) {
	ttl := time.Duration(cfg.CacheTTLDays) * 24 * time.Hour
	if s, err := w.deps.Settings.Get(ctx); err == nil {
		ttl = s.CacheTTL()
	}

	removed, err := w.deps.Cache.Cleanup(ctx, ttl)
	if err != nil {
		w.log.Warn().Err(err).Msg("ttl cleanup failed")
	}
	orphans, err := w.deps.Cache.CleanupOrphans(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("orphan sweep failed")
	}
	w.log.Info().Int("expired", removed).Int("orphans", orphans).Msg("cache maintenance done")
}

// Stop halts the queue, the watcher, and the maintenance schedule.
func (w *Worker) Stop() {
	w.deps.Processor.Queue().Stop()
	stopped := w.cron.Stop()
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(10 * time.Second):
		w.log.Warn().Msg("watcher did not stop in time")
	}
	<-stopped.Done()
}
