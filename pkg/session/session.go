package session

import (
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// Entry is one line of a chat transcript. Entries are serialized verbatim to
// the persistence backend, so field names are part of the wire contract.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Option is one numbered choice of an offered menu.
type Option struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// PendingMenu is the menu offered by the last bot reply.
type PendingMenu struct {
	Options   []Option
	OfferedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the menu is older than its TTL at now.
func (m PendingMenu) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// Address names one chat on one transport.
type Address struct {
	Channel string
	ChatID  string
}

// Key is the store key for the chat, also used as the NLU sender id.
func (a Address) Key() string {
	return strings.TrimSpace(a.Channel) + ":" + strings.TrimSpace(a.ChatID)
}

// ChatSession is the per-chat state. A chat's events are handled one at a
// time, the mutex only guards against the maintenance sweep and status reads.
type ChatSession struct {
	Address   Address
	Key       string
	CreatedAt time.Time

	seq uint64

	mu           sync.Mutex
	history      []Entry
	menu         *PendingMenu
	reminderSent bool
	lastActivity time.Time
}

// Append records a transcript entry. Empty text is ignored.
func (s *ChatSession) Append(speaker Speaker, text string, at time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Entry{Speaker: speaker, Text: text, Timestamp: at.UTC()})
	if at.After(s.lastActivity) {
		s.lastActivity = at
	}
}

// History returns a copy of the transcript in insertion order.
func (s *ChatSession) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return nil
	}

	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// SetPendingMenu replaces the offered menu.
func (s *ChatSession) SetPendingMenu(menu PendingMenu) {
	options := make([]Option, len(menu.Options))
	copy(options, menu.Options)
	menu.Options = options

	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu = &menu
}

// PendingMenu returns the menu if one is offered and still live at now.
// An expired menu is dropped as a side effect.
func (s *ChatSession) PendingMenu(now time.Time) (PendingMenu, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.menu == nil {
		return PendingMenu{}, false
	}
	if s.menu.Expired(now) {
		s.menu = nil
		return PendingMenu{}, false
	}

	return *s.menu, true
}

// ClearPendingMenu drops any offered menu.
func (s *ChatSession) ClearPendingMenu() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu = nil
}

// expireMenu drops the menu when it is past its TTL and reports whether it did.
func (s *ChatSession) expireMenu(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.menu == nil || !s.menu.Expired(now) {
		return false
	}

	s.menu = nil
	return true
}

// ReminderSent reports whether the reminder of the current cycle fired.
func (s *ChatSession) ReminderSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reminderSent
}

// MarkReminderSent records that the reminder fired.
func (s *ChatSession) MarkReminderSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminderSent = true
}

// ResetReminder starts a new reminder cycle.
func (s *ChatSession) ResetReminder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminderSent = false
}

// LastActivity is the timestamp of the newest transcript entry, or creation time.
func (s *ChatSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastActivity.IsZero() {
		return s.CreatedAt
	}
	return s.lastActivity
}
