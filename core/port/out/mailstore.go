package out

import (
	"context"
	"errors"
	"time"

	"mailmind/core/domain"
)

// ErrMessageNotFound is returned when a message ID no longer resolves -
// typically because the email was deleted after being queued.
var ErrMessageNotFound = errors.New("message not found")

// MailStore is the mailbox collaborator. The core only consumes it.
type MailStore interface {
	// GetMessage resolves a message envelope; ErrMessageNotFound when gone.
	GetMessage(ctx context.Context, id string) (*domain.MailMessage, error)

	// GetFullBody returns the plain-text body of a message.
	GetFullBody(ctx context.Context, id string) (string, error)

	// QueryFolders lists the account's folders.
	QueryFolders(ctx context.Context) ([]*domain.Folder, error)

	// QueryMessages starts a paginated enumeration of messages received
	// after fromDate in one folder.
	QueryMessages(ctx context.Context, folderID string, fromDate time.Time) (*domain.MessagePage, error)

	// ContinuePage fetches the next page of a prior enumeration.
	ContinuePage(ctx context.Context, pageToken string) (*domain.MessagePage, error)
}

// MailEventHandler receives mailbox change notifications.
type MailEventHandler interface {
	HandleNewMail(folder *domain.Folder, messages []*domain.MailMessage)
	HandleDeleted(messageIDs []string)
}

// MailWatcher delivers new/deleted mail events until ctx is cancelled.
type MailWatcher interface {
	Watch(ctx context.Context, handler MailEventHandler) error
}
