package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SweepResult summarizes one maintenance pass.
type SweepResult struct {
	Evicted      []string
	MenusExpired int
}

// Sweeper caps the session count and drops stale menus.
type Sweeper struct {
	store       *Store
	maxSessions int
	interval    time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// NewSweeper builds a sweeper for store.
func NewSweeper(store *Store, maxSessions int, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{
		store:       store,
		maxSessions: maxSessions,
		interval:    interval,
		now:         time.Now,
		log:         log.With("component", "session.sweeper"),
	}
}

// Run sweeps on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return errors.New("sweep interval must be greater than zero")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("Session sweeper started", "interval", w.interval, "max_sessions", w.maxSessions)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Session sweeper stopped", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one pass: expired menus are dropped first, then the oldest
// sessions are evicted until the store is back at its cap.
func (w *Sweeper) Sweep() SweepResult {
	now := w.now()

	var result SweepResult
	for _, sess := range w.store.List() {
		if sess.expireMenu(now) {
			result.MenusExpired++
		}
	}

	if w.maxSessions > 0 {
		result.Evicted = w.store.EvictOldest(w.maxSessions)
	}

	if len(result.Evicted) > 0 || result.MenusExpired > 0 {
		w.log.Info("Session sweep finished",
			"evicted", len(result.Evicted),
			"menus_expired", result.MenusExpired,
			"sessions", w.store.Len())
	}

	return result
}
