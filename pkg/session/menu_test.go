package session

import (
	"testing"
	"time"
)

func offer(sess *ChatSession, now time.Time, ttl time.Duration, options ...Option) {
	sess.SetPendingMenu(PendingMenu{Options: options, OfferedAt: now, ExpiresAt: now.Add(ttl)})
}

func TestResolve(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	options := []Option{
		{Title: "Bekerja", Payload: "/status_bekerja"},
		{Title: "Studi", Payload: "/status_studi"},
		{Title: "Wirausaha", Payload: "/status_wirausaha"},
	}

	tests := []struct {
		name        string
		input       string
		wantPayload string
		wantOK      bool
		menuKept    bool
	}{
		{name: "index", input: "1", wantPayload: "/status_bekerja", wantOK: true},
		{name: "last index", input: " 3 ", wantPayload: "/status_wirausaha", wantOK: true},
		{name: "title", input: "Studi", wantPayload: "/status_studi", wantOK: true},
		{name: "out of range", input: "9", menuKept: true},
		{name: "zero", input: "0", menuKept: true},
		{name: "negative", input: "-1", menuKept: true},
		{name: "title is case sensitive", input: "studi", menuKept: true},
		{name: "free text", input: "halo", menuKept: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &ChatSession{}
			offer(sess, now, 5*time.Minute, options...)
			r := NewResolver(func() time.Time { return now.Add(time.Minute) })

			payload, ok := r.Resolve(sess, tt.input)
			if ok != tt.wantOK || payload != tt.wantPayload {
				t.Fatalf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.input, payload, ok, tt.wantPayload, tt.wantOK)
			}

			_, pending := sess.PendingMenu(now)
			if pending != tt.menuKept {
				t.Fatalf("menu pending = %v, want %v", pending, tt.menuKept)
			}
		})
	}
}

func TestResolveWithoutMenu(t *testing.T) {
	r := NewResolver(nil)
	if payload, ok := r.Resolve(&ChatSession{}, "1"); ok || payload != "" {
		t.Fatalf("Resolve without menu = (%q, %v)", payload, ok)
	}
}

func TestResolveExpiredMenu(t *testing.T) {
	now := time.Now()
	sess := &ChatSession{}
	offer(sess, now, time.Minute, Option{Title: "A", Payload: "/a"})

	r := NewResolver(func() time.Time { return now.Add(2 * time.Minute) })
	if _, ok := r.Resolve(sess, "1"); ok {
		t.Fatal("expired menu must not resolve")
	}
	if _, ok := sess.PendingMenu(now); ok {
		t.Fatal("expired menu should be dropped on resolve")
	}
}

func TestResolveFallsBackToTitleWithoutPayload(t *testing.T) {
	now := time.Now()
	sess := &ChatSession{}
	offer(sess, now, time.Minute, Option{Title: "Lanjut"})

	payload, ok := NewResolver(func() time.Time { return now }).Resolve(sess, "1")
	if !ok || payload != "Lanjut" {
		t.Fatalf("Resolve = (%q, %v), want (Lanjut, true)", payload, ok)
	}
}
