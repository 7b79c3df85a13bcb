package out

import (
	"context"

	"mailmind/core/domain"
)

// SettingsStore persists user-mutable settings and notifies on change.
type SettingsStore interface {
	Get(ctx context.Context) (domain.Settings, error)

	// Watch registers a change callback. Callbacks run sequentially on the
	// store's watch goroutine.
	Watch(fn func(domain.SettingsChange))

	Close() error
}
