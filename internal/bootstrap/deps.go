// Package bootstrap wires adapters to services for the api and worker run
// modes.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailmind/adapter/in/worker"
	"mailmind/adapter/out/mailstore"
	"mailmind/adapter/out/ollama"
	"mailmind/adapter/out/settings"
	"mailmind/adapter/out/store"
	"mailmind/config"
	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/cache"
	"mailmind/core/service/extract"
)

// Dependencies holds every wired collaborator plus its cleanup.
type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	Store    out.EntryStore
	Mail     out.MailStore
	Watcher  out.MailWatcher
	Settings out.SettingsStore
	LLM      out.Inference

	Cache     *cache.ResultCache
	Extractor *extract.Extractor
	Processor *worker.Processor

	closers []func() error
}

// NewDependencies builds the full graph. Redis backs the cache when
// REDIS_URL is set; otherwise the embedded SQLite store is used.
func NewDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Log: log}

	entryStore, err := newEntryStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	d.Store = entryStore
	d.closers = append(d.closers, entryStore.Close)

	if cfg.IMAPAddr == "" {
		return nil, fmt.Errorf("IMAP_ADDR is required")
	}
	imapStore := mailstore.New(mailstore.Config{
		Addr:     cfg.IMAPAddr,
		Username: cfg.IMAPUsername,
		Password: cfg.IMAPPassword,
	}, log)
	d.Mail = imapStore
	d.closers = append(d.closers, imapStore.Close)
	watchHorizon := time.Duration(cfg.BackfillDays) * 24 * time.Hour
	d.Watcher = mailstore.NewPollWatcher(imapStore, cfg.IMAPPollInterval, watchHorizon, log)

	settingsStore, err := settings.NewFileStore(cfg.SettingsPath, domain.Settings{
		CacheTTLDays:    cfg.CacheTTLDays,
		Host:            cfg.OllamaHost,
		Model:           cfg.OllamaModel,
		ContextTokens:   cfg.OllamaContextTokens,
		MaxOutputTokens: cfg.OllamaMaxOutputTokens,
		Temperature:     cfg.OllamaTemperature,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("settings store: %w", err)
	}
	d.Settings = settingsStore
	d.closers = append(d.closers, settingsStore.Close)

	d.LLM = ollama.New(ollama.Config{
		Host:         cfg.OllamaHost,
		Model:        cfg.OllamaModel,
		BaseTimeout:  cfg.OllamaBaseTimeout,
		TimeoutPerKB: cfg.OllamaTimeoutPerKB,
	}, log)

	d.Cache = cache.New(d.Store, d.Mail, cache.Config{
		L1MaxItems: cfg.L1MaxItems,
		L1TTL:      cfg.L1TTL,
	}, log)
	d.Extractor = extract.New(d.LLM, log)

	d.Processor = worker.NewProcessor(
		ctx,
		worker.ProcessorConfig{
			MinBodyLength: cfg.MinBodyLength,
			BackfillDays:  cfg.BackfillDays,
		},
		worker.QueueConfig{
			InterItemDelay: cfg.InterItemDelay,
			RetryDelay:     cfg.RetryDelay,
		},
		worker.NewClock(),
		d.Cache,
		d.Mail,
		d.Extractor,
		d.Settings,
		log,
	)
	return d, nil
}

func newEntryStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (out.EntryStore, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Info().Str("addr", opts.Addr).Msg("using redis entry store")
		return store.NewRedisStore(client), nil
	}

	log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite entry store")
	return store.NewSQLiteStore(cfg.SQLitePath)
}

// Close releases resources in reverse construction order.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Log.Warn().Err(err).Msg("cleanup failed")
		}
	}
}
