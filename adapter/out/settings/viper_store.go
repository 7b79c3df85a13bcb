// Package settings persists user-mutable runtime settings in a watched file,
// so the background processor can react to changes without a restart.
package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"mailmind/core/domain"
)

// Defaults applied when neither the seed nor the settings file covers a knob.
var defaults = domain.Settings{
	Enabled:         true,
	CacheTTLDays:    14,
	Host:            "http://127.0.0.1:11434",
	Model:           "llama3.2",
	ContextTokens:   8192,
	MaxOutputTokens: 1536,
	Temperature:     0.1,
}

// FileStore reads settings from a YAML file watched for edits. Change
// callbacks run sequentially and carry the before/after snapshots.
type FileStore struct {
	v   *viper.Viper
	log zerolog.Logger

	mu        sync.Mutex
	current   domain.Settings
	callbacks []func(domain.SettingsChange)
}

// NewFileStore loads the settings file at path, creating it with defaults
// when absent, and starts watching it for changes. seed carries the
// process-level defaults (typically from the environment); zero seed fields
// fall back to the package defaults. Enabled always defaults to on because
// turning the processor off is a user decision made in the file.
func NewFileStore(path string, seed domain.Settings, log zerolog.Logger) (*FileStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("enabled", defaults.Enabled)
	v.SetDefault("cache_ttl_days", intOr(seed.CacheTTLDays, defaults.CacheTTLDays))
	v.SetDefault("host", strOr(seed.Host, defaults.Host))
	v.SetDefault("model", strOr(seed.Model, defaults.Model))
	v.SetDefault("context_tokens", intOr(seed.ContextTokens, defaults.ContextTokens))
	v.SetDefault("max_output_tokens", intOr(seed.MaxOutputTokens, defaults.MaxOutputTokens))
	v.SetDefault("temperature", floatOr(seed.Temperature, defaults.Temperature))

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading settings file: %w", err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating settings dir: %w", err)
		}
		if err := v.SafeWriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("writing default settings: %w", err)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("re-reading settings file: %w", err)
		}
	}

	s := &FileStore{
		v:   v,
		log: log.With().Str("component", "settings").Logger(),
	}
	var err error
	s.current, err = s.decode()
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) { s.reload() })
	v.WatchConfig()
	return s, nil
}

func strOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func intOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func floatOr(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *FileStore) decode() (domain.Settings, error) {
	var out domain.Settings
	if err := s.v.Unmarshal(&out); err != nil {
		return domain.Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	return out, nil
}

func (s *FileStore) reload() {
	next, err := s.decode()
	if err != nil {
		s.log.Warn().Err(err).Msg("ignoring unreadable settings update")
		return
	}

	s.mu.Lock()
	prev := s.current
	if next == prev {
		s.mu.Unlock()
		return
	}
	s.current = next
	callbacks := make([]func(domain.SettingsChange), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	s.log.Info().
		Bool("enabled", next.Enabled).
		Int("cacheTtlDays", next.CacheTTLDays).
		Msg("settings changed")

	change := domain.SettingsChange{Old: prev, New: next}
	for _, fn := range callbacks {
		fn(change)
	}
}

func (s *FileStore) Get(context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *FileStore) Watch(fn func(domain.SettingsChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

func (s *FileStore) Close() error { return nil }
