package mailstore

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailmind/core/domain"
)

// scriptedStore serves a mutable in-memory mailbox, paginated like the real
// adapter.
type scriptedStore struct {
	folders  []*domain.Folder
	messages map[string][]*domain.MailMessage // folderID → messages
	pages    map[string][]*domain.MailMessage
	pageSize int
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		folders:  []*domain.Folder{{ID: "INBOX", Name: "INBOX", Kind: domain.FolderInbox}},
		messages: make(map[string][]*domain.MailMessage),
		pages:    make(map[string][]*domain.MailMessage),
		pageSize: 2,
	}
}

func (s *scriptedStore) add(folderID, id string) {
	s.messages[folderID] = append(s.messages[folderID], &domain.MailMessage{ID: id, FolderID: folderID})
}

func (s *scriptedStore) addAt(folderID, id string, at time.Time) {
	s.messages[folderID] = append(s.messages[folderID], &domain.MailMessage{ID: id, FolderID: folderID, ReceivedAt: at})
}

func (s *scriptedStore) remove(folderID, id string) {
	msgs := s.messages[folderID]
	for i, m := range msgs {
		if m.ID == id {
			s.messages[folderID] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
}

func (s *scriptedStore) GetMessage(context.Context, string) (*domain.MailMessage, error) {
	return nil, nil
}
func (s *scriptedStore) GetFullBody(context.Context, string) (string, error) { return "", nil }

func (s *scriptedStore) QueryFolders(context.Context) ([]*domain.Folder, error) {
	return s.folders, nil
}

func (s *scriptedStore) page(msgs []*domain.MailMessage) (*domain.MessagePage, error) {
	if len(msgs) <= s.pageSize {
		return &domain.MessagePage{Messages: msgs}, nil
	}
	token := "tok"
	s.pages[token] = msgs[s.pageSize:]
	return &domain.MessagePage{Messages: msgs[:s.pageSize], PageToken: token}, nil
}

func (s *scriptedStore) QueryMessages(_ context.Context, folderID string, fromDate time.Time) (*domain.MessagePage, error) {
	var msgs []*domain.MailMessage
	for _, m := range s.messages[folderID] {
		if !m.ReceivedAt.IsZero() && m.ReceivedAt.Before(fromDate) {
			continue
		}
		msgs = append(msgs, m)
	}
	return s.page(msgs)
}

func (s *scriptedStore) ContinuePage(_ context.Context, token string) (*domain.MessagePage, error) {
	msgs := s.pages[token]
	delete(s.pages, token)
	return s.page(msgs)
}

type recordingHandler struct {
	added   []string
	deleted []string
}

func (h *recordingHandler) HandleNewMail(_ *domain.Folder, messages []*domain.MailMessage) {
	for _, m := range messages {
		h.added = append(h.added, m.ID)
	}
}

func (h *recordingHandler) HandleDeleted(ids []string) {
	h.deleted = append(h.deleted, ids...)
}

func TestPollWatcherDiffs(t *testing.T) {
	store := newScriptedStore()
	store.add("INBOX", "INBOX#1")
	store.add("INBOX", "INBOX#2")
	store.add("INBOX", "INBOX#3")

	w := NewPollWatcher(store, time.Minute, time.Hour, zerolog.Nop())
	handler := &recordingHandler{}
	ctx := context.Background()

	// Seed poll: existing messages are state, not events.
	if err := w.poll(ctx, nil); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	store.add("INBOX", "INBOX#4")
	store.remove("INBOX", "INBOX#1")
	if err := w.poll(ctx, handler); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if len(handler.added) != 1 || handler.added[0] != "INBOX#4" {
		t.Errorf("added = %v, want [INBOX#4]", handler.added)
	}
	if len(handler.deleted) != 1 || handler.deleted[0] != "INBOX#1" {
		t.Errorf("deleted = %v, want [INBOX#1]", handler.deleted)
	}

	// A stable mailbox produces no events.
	handler.added, handler.deleted = nil, nil
	if err := w.poll(ctx, handler); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(handler.added) != 0 || len(handler.deleted) != 0 {
		t.Errorf("stable poll emitted added=%v deleted=%v", handler.added, handler.deleted)
	}
}

func TestPollWatcherIgnoresMessagesAgingPastHorizon(t *testing.T) {
	store := newScriptedStore()
	now := time.Now()
	// Just inside the one-hour horizon; crosses it during the sleep below.
	store.addAt("INBOX", "INBOX#1", now.Add(-time.Hour).Add(30*time.Millisecond))
	store.addAt("INBOX", "INBOX#2", now)

	w := NewPollWatcher(store, time.Minute, time.Hour, zerolog.Nop())
	ctx := context.Background()
	if err := w.poll(ctx, nil); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	store.remove("INBOX", "INBOX#2")

	handler := &recordingHandler{}
	if err := w.poll(ctx, handler); err != nil {
		t.Fatalf("poll: %v", err)
	}

	// INBOX#1 still exists on the server and must not be reported; the
	// genuinely removed INBOX#2 must.
	if len(handler.deleted) != 1 || handler.deleted[0] != "INBOX#2" {
		t.Errorf("deleted = %v, want [INBOX#2]", handler.deleted)
	}
	if len(handler.added) != 0 {
		t.Errorf("added = %v, want none", handler.added)
	}
}

func TestPollWatcherWalksAllPages(t *testing.T) {
	store := newScriptedStore()
	w := NewPollWatcher(store, time.Minute, time.Hour, zerolog.Nop())
	ctx := context.Background()

	if err := w.poll(ctx, nil); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	// Five messages across three pages of two.
	for _, id := range []string{"INBOX#1", "INBOX#2", "INBOX#3", "INBOX#4", "INBOX#5"} {
		store.add("INBOX", id)
	}
	handler := &recordingHandler{}
	if err := w.poll(ctx, handler); err != nil {
		t.Fatalf("poll: %v", err)
	}

	sort.Strings(handler.added)
	if len(handler.added) != 5 {
		t.Fatalf("added %d messages, want 5: %v", len(handler.added), handler.added)
	}
}
