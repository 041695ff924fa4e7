package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"tracerbot/pkg/reminder"
)

func TestAddressKey(t *testing.T) {
	addr := Address{Channel: " telegram ", ChatID: "42 "}
	if got := addr.Key(); got != "telegram:42" {
		t.Fatalf("Key() = %q, want telegram:42", got)
	}
}

func TestAppendKeepsOrderAndSkipsBlank(t *testing.T) {
	sess := &ChatSession{CreatedAt: time.Unix(0, 0)}
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	sess.Append(SpeakerUser, "halo", base)
	sess.Append(SpeakerBot, "   ", base.Add(time.Second))
	sess.Append(SpeakerBot, "Pilih status", base.Add(2*time.Second))

	history := sess.History()
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if history[0].Speaker != SpeakerUser || history[0].Text != "halo" {
		t.Fatalf("first entry = %#v", history[0])
	}
	if history[1].Speaker != SpeakerBot || history[1].Text != "Pilih status" {
		t.Fatalf("second entry = %#v", history[1])
	}
	if !sess.LastActivity().Equal(base.Add(2 * time.Second)) {
		t.Fatalf("LastActivity() = %s", sess.LastActivity())
	}

	history[0].Text = "mutated"
	if sess.History()[0].Text != "halo" {
		t.Fatal("History() must return a copy")
	}
}

func TestPendingMenuExpires(t *testing.T) {
	now := time.Now()
	sess := &ChatSession{}
	sess.SetPendingMenu(PendingMenu{
		Options:   []Option{{Title: "A", Payload: "/a"}},
		OfferedAt: now,
		ExpiresAt: now.Add(time.Minute),
	})

	if _, ok := sess.PendingMenu(now.Add(30 * time.Second)); !ok {
		t.Fatal("expected live menu before ttl")
	}
	if _, ok := sess.PendingMenu(now.Add(2 * time.Minute)); ok {
		t.Fatal("expected expired menu to be dropped")
	}
	if _, ok := sess.PendingMenu(now); ok {
		t.Fatal("expired menu should stay dropped")
	}
}

func TestReminderFlag(t *testing.T) {
	sess := &ChatSession{}
	if sess.ReminderSent() {
		t.Fatal("new session should not have sent a reminder")
	}
	sess.MarkReminderSent()
	if !sess.ReminderSent() {
		t.Fatal("expected reminder flag set")
	}
	sess.ResetReminder()
	if sess.ReminderSent() {
		t.Fatal("expected reminder flag cleared")
	}
}

func TestStoreGetOrCreateReturnsSameSession(t *testing.T) {
	store := NewStore()
	addr := Address{Channel: "telegram", ChatID: "7"}

	first, created := store.GetOrCreate(addr)
	if !created {
		t.Fatal("expected first call to create")
	}
	second, created := store.GetOrCreate(addr)
	if created || first != second {
		t.Fatal("expected second call to return the existing session")
	}

	got, ok := store.Get("telegram:7")
	if !ok || got != first {
		t.Fatal("Get should find the created session")
	}
}

func TestStoreGetOrCreateConcurrent(t *testing.T) {
	store := NewStore()
	addr := Address{Channel: "telegram", ChatID: "9"}

	var wg sync.WaitGroup
	results := make([]*ChatSession, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = store.GetOrCreate(addr)
		}(i)
	}
	wg.Wait()

	for _, sess := range results {
		if sess != results[0] {
			t.Fatal("concurrent GetOrCreate returned distinct sessions")
		}
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
}

func TestStoreClearRunsRemoveHook(t *testing.T) {
	var removed []string
	store := NewStore(WithRemoveHook(func(key string) { removed = append(removed, key) }))

	store.GetOrCreate(Address{Channel: "console", ChatID: "local"})
	if !store.Clear("console:local") {
		t.Fatal("expected clear to remove the session")
	}
	if store.Clear("console:local") {
		t.Fatal("second clear should report nothing removed")
	}
	if len(removed) != 1 || removed[0] != "console:local" {
		t.Fatalf("removed = %#v", removed)
	}
}

func TestSweepEvictsOldestAndCancelsReminders(t *testing.T) {
	sched := reminder.New(time.Hour, nil)
	defer sched.Stop()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	store := NewStore(
		WithClock(clock),
		WithRemoveHook(func(key string) { sched.Cancel(key) }),
	)

	for i := range 1050 {
		sess, _ := store.GetOrCreate(Address{Channel: "telegram", ChatID: fmt.Sprintf("%d", i)})
		sched.Arm(sess.Key)
	}

	sweeper := NewSweeper(store, 1000, time.Hour, nil)
	result := sweeper.Sweep()

	if len(result.Evicted) != 50 {
		t.Fatalf("evicted = %d, want 50", len(result.Evicted))
	}
	for i, key := range result.Evicted {
		want := fmt.Sprintf("telegram:%d", i)
		if key != want {
			t.Fatalf("evicted[%d] = %q, want %q", i, key, want)
		}
		if _, ok := sched.Pending(key); ok {
			t.Fatalf("reminder for evicted %s still armed", key)
		}
	}

	if store.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000", store.Len())
	}
	if sched.Len() != 1000 {
		t.Fatalf("armed reminders = %d, want 1000", sched.Len())
	}
	if _, ok := store.Get("telegram:49"); ok {
		t.Fatal("telegram:49 should be evicted")
	}
	if _, ok := store.Get("telegram:50"); !ok {
		t.Fatal("telegram:50 should survive")
	}
}

func TestSweepDropsExpiredMenus(t *testing.T) {
	store := NewStore()
	now := time.Now()

	stale, _ := store.GetOrCreate(Address{Channel: "telegram", ChatID: "1"})
	stale.SetPendingMenu(PendingMenu{Options: []Option{{Title: "A"}}, ExpiresAt: now.Add(-time.Second)})
	live, _ := store.GetOrCreate(Address{Channel: "telegram", ChatID: "2"})
	live.SetPendingMenu(PendingMenu{Options: []Option{{Title: "B"}}, ExpiresAt: now.Add(time.Hour)})

	sweeper := NewSweeper(store, 1000, time.Hour, nil)
	sweeper.now = func() time.Time { return now }

	result := sweeper.Sweep()
	if result.MenusExpired != 1 {
		t.Fatalf("menus expired = %d, want 1", result.MenusExpired)
	}
	if len(result.Evicted) != 0 {
		t.Fatalf("evicted = %#v, want none", result.Evicted)
	}
	if _, ok := live.PendingMenu(now); !ok {
		t.Fatal("live menu should survive the sweep")
	}
}
