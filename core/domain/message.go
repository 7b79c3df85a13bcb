package domain

import "time"

// MailMessage is the envelope of one email as the mail store exposes it.
type MailMessage struct {
	ID         string
	FolderID   string
	Subject    string
	From       string
	To         []string
	ReceivedAt time.Time
}

// FolderKind classifies a mailbox folder.
type FolderKind string

const (
	FolderInbox   FolderKind = "inbox"
	FolderSent    FolderKind = "sent"
	FolderArchive FolderKind = "archive"
	FolderOther   FolderKind = "other"
)

// Folder is one mailbox folder.
type Folder struct {
	ID   string
	Name string
	Kind FolderKind
}

// MessagePage is one page of a folder enumeration. Token is opaque; empty
// means the enumeration is complete.
type MessagePage struct {
	Messages  []*MailMessage
	PageToken string
}
