// Package mailstore implements the mailbox port over IMAP. Message IDs are
// "folder#uid" pairs, stable for the lifetime of the mailbox.
package mailstore

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
)

const pageSize = 100

// Config holds IMAP connection settings.
type Config struct {
	Addr     string // host:port, TLS assumed on 993
	Username string
	Password string
}

// pendingPage is server-side pagination state for one enumeration.
type pendingPage struct {
	folderID string
	uids     []imap.UID
}

// IMAPStore is a MailStore over one serialized IMAP connection. The mailbox
// protocol is stateful (one selected folder at a time), so every operation
// holds the connection lock.
type IMAPStore struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	client   *imapclient.Client
	selected string
	pages    map[string]*pendingPage
}

// New creates a store; the connection is established lazily.
func New(cfg Config, log zerolog.Logger) *IMAPStore {
	return &IMAPStore{
		cfg:   cfg,
		log:   log.With().Str("component", "mailstore").Logger(),
		pages: make(map[string]*pendingPage),
	}
}

// messageID encodes folder and UID into one opaque identifier.
func messageID(folderID string, uid imap.UID) string {
	return folderID + "#" + strconv.FormatUint(uint64(uid), 10)
}

func splitMessageID(id string) (string, imap.UID, error) {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed message id %q", id)
	}
	uid, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed message id %q: %w", id, err)
	}
	return id[:i], imap.UID(uid), nil
}

// connLocked returns a live client, dialing and authenticating when needed.
// Caller holds s.mu.
func (s *IMAPStore) connLocked() (*imapclient.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	var client *imapclient.Client
	var err error
	if strings.HasSuffix(s.cfg.Addr, ":993") {
		client, err = imapclient.DialTLS(s.cfg.Addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(s.cfg.Addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", s.cfg.Addr, err)
	}
	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", s.cfg.Username, err)
	}

	s.client = client
	s.selected = ""
	s.log.Info().Str("addr", s.cfg.Addr).Msg("connected")
	return client, nil
}

// dropLocked discards a connection after a protocol error so the next call
// redials. Caller holds s.mu.
func (s *IMAPStore) dropLocked() {
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
		s.selected = ""
	}
}

func (s *IMAPStore) selectLocked(client *imapclient.Client, folderID string) error {
	if s.selected == folderID {
		return nil
	}
	if _, err := client.Select(folderID, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		s.dropLocked()
		return fmt.Errorf("selecting %s: %w", folderID, err)
	}
	s.selected = folderID
	return nil
}

func folderKind(mbox *imap.ListData) domain.FolderKind {
	if strings.EqualFold(mbox.Mailbox, "INBOX") {
		return domain.FolderInbox
	}
	for _, attr := range mbox.Attrs {
		switch attr {
		case imap.MailboxAttrSent:
			return domain.FolderSent
		case imap.MailboxAttrArchive, imap.MailboxAttrAll:
			return domain.FolderArchive
		}
	}
	return domain.FolderOther
}

func (s *IMAPStore) QueryFolders(ctx context.Context) ([]*domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.connLocked()
	if err != nil {
		return nil, err
	}

	mailboxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		s.dropLocked()
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	folders := make([]*domain.Folder, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		noSelect := false
		for _, attr := range mbox.Attrs {
			if attr == imap.MailboxAttrNoSelect {
				noSelect = true
				break
			}
		}
		if noSelect {
			continue
		}
		folders = append(folders, &domain.Folder{
			ID:   mbox.Mailbox,
			Name: mbox.Mailbox,
			Kind: folderKind(mbox),
		})
	}
	return folders, nil
}

func messageFromBuffer(folderID string, buf *imapclient.FetchMessageBuffer) *domain.MailMessage {
	msg := &domain.MailMessage{
		ID:       messageID(folderID, buf.UID),
		FolderID: folderID,
	}
	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.ReceivedAt = env.Date
		if len(env.From) > 0 {
			msg.From = env.From[0].Addr()
		}
		for _, to := range env.To {
			msg.To = append(msg.To, to.Addr())
		}
	}
	return msg
}

// fetchEnvelopesLocked fetches envelope data for uids in the selected folder.
func (s *IMAPStore) fetchEnvelopesLocked(client *imapclient.Client, folderID string, uids []imap.UID) ([]*domain.MailMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	})
	bufs, err := fetchCmd.Collect()
	if err != nil {
		s.dropLocked()
		return nil, fmt.Errorf("fetching envelopes: %w", err)
	}

	messages := make([]*domain.MailMessage, 0, len(bufs))
	for _, buf := range bufs {
		messages = append(messages, messageFromBuffer(folderID, buf))
	}
	return messages, nil
}

func (s *IMAPStore) QueryMessages(ctx context.Context, folderID string, fromDate time.Time) (*domain.MessagePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.connLocked()
	if err != nil {
		return nil, err
	}
	if err := s.selectLocked(client, folderID); err != nil {
		return nil, err
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: fromDate}, nil).Wait()
	if err != nil {
		s.dropLocked()
		return nil, fmt.Errorf("searching %s: %w", folderID, err)
	}

	return s.pageLocked(client, folderID, searchData.AllUIDs())
}

// pageLocked emits one page of envelopes and parks the remainder under a
// fresh page token. Caller holds s.mu with folderID selected.
func (s *IMAPStore) pageLocked(client *imapclient.Client, folderID string, uids []imap.UID) (*domain.MessagePage, error) {
	batch := uids
	var rest []imap.UID
	if len(uids) > pageSize {
		batch, rest = uids[:pageSize], uids[pageSize:]
	}

	messages, err := s.fetchEnvelopesLocked(client, folderID, batch)
	if err != nil {
		return nil, err
	}

	page := &domain.MessagePage{Messages: messages}
	if len(rest) > 0 {
		token := uuid.NewString()
		s.pages[token] = &pendingPage{folderID: folderID, uids: rest}
		page.PageToken = token
	}
	return page, nil
}

func (s *IMAPStore) ContinuePage(ctx context.Context, pageToken string) (*domain.MessagePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pages[pageToken]
	if !ok {
		return nil, fmt.Errorf("unknown page token %q", pageToken)
	}
	delete(s.pages, pageToken)

	client, err := s.connLocked()
	if err != nil {
		return nil, err
	}
	if err := s.selectLocked(client, pending.folderID); err != nil {
		return nil, err
	}
	return s.pageLocked(client, pending.folderID, pending.uids)
}

func (s *IMAPStore) GetMessage(ctx context.Context, id string) (*domain.MailMessage, error) {
	folderID, uid, err := splitMessageID(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.connLocked()
	if err != nil {
		return nil, err
	}
	if err := s.selectLocked(client, folderID); err != nil {
		return nil, err
	}

	messages, err := s.fetchEnvelopesLocked(client, folderID, []imap.UID{uid})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, out.ErrMessageNotFound
	}
	return messages[0], nil
}

func (s *IMAPStore) GetFullBody(ctx context.Context, id string) (string, error) {
	folderID, uid, err := splitMessageID(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.connLocked()
	if err != nil {
		return "", err
	}
	if err := s.selectLocked(client, folderID); err != nil {
		return "", err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	bufs, err := fetchCmd.Collect()
	if err != nil {
		s.dropLocked()
		return "", fmt.Errorf("fetching body: %w", err)
	}
	if len(bufs) == 0 {
		return "", out.ErrMessageNotFound
	}

	raw := bufs[0].FindBodySection(bodySection)
	if raw == nil {
		return "", out.ErrMessageNotFound
	}
	return extractText(raw), nil
}

// extractText pulls the plain-text body out of a raw RFC 822 message,
// falling back to HTML with tags stripped, then to the raw bytes.
func extractText(raw []byte) string {
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			return string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}
	if htmlBody != "" {
		return stripTags(htmlBody)
	}
	return string(raw)
}

// stripTags is a crude tag remover, good enough for feeding a model.
func stripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Close logs out and drops the connection.
func (s *IMAPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Logout().Wait()
	s.client = nil
	return err
}
