package domain

import "time"

// Settings are the user-mutable knobs the processor reacts to at runtime.
type Settings struct {
	Enabled         bool    `mapstructure:"enabled" json:"enabled"`
	CacheTTLDays    int     `mapstructure:"cache_ttl_days" json:"cache_ttl_days"`
	Host            string  `mapstructure:"host" json:"host"`
	Model           string  `mapstructure:"model" json:"model"`
	ContextTokens   int     `mapstructure:"context_tokens" json:"context_tokens"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" json:"max_output_tokens"`
	Temperature     float64 `mapstructure:"temperature" json:"temperature"`
}

// CacheTTL returns the TTL as a duration.
func (s Settings) CacheTTL() time.Duration {
	days := s.CacheTTLDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// SettingsChange describes one observed settings mutation.
type SettingsChange struct {
	Old Settings
	New Settings
}

// EnabledTurnedOn reports an off→on transition.
func (c SettingsChange) EnabledTurnedOn() bool {
	return !c.Old.Enabled && c.New.Enabled
}

// EnabledTurnedOff reports an on→off transition.
func (c SettingsChange) EnabledTurnedOff() bool {
	return c.Old.Enabled && !c.New.Enabled
}

// TTLChanged reports a cache-duration change.
func (c SettingsChange) TTLChanged() bool {
	return c.Old.CacheTTLDays != c.New.CacheTTLDays
}
