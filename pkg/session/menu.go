package session

import (
	"strconv"
	"strings"
	"time"
)

// Resolver maps a reply typed against an offered menu to the option payload.
type Resolver struct {
	now func() time.Time
}

// NewResolver builds a resolver. A nil clock uses time.Now.
func NewResolver(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Resolve returns the payload of the option picked by input. A 1-based index
// selects by position, otherwise the input must equal an option title
// exactly. A match consumes the menu. No menu, an expired menu or no match
// resolves to nothing, and a non-matching input leaves a live menu in place.
func (r *Resolver) Resolve(sess *ChatSession, input string) (string, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.menu == nil {
		return "", false
	}
	if sess.menu.Expired(r.now()) {
		sess.menu = nil
		return "", false
	}

	idx := matchOption(sess.menu.Options, strings.TrimSpace(input))
	if idx < 0 {
		return "", false
	}

	option := sess.menu.Options[idx]
	sess.menu = nil

	if option.Payload == "" {
		return option.Title, true
	}
	return option.Payload, true
}

func matchOption(options []Option, input string) int {
	if input == "" {
		return -1
	}

	if isDigits(input) {
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(options) {
			return n - 1
		}
	}

	for i, option := range options {
		if option.Title == input {
			return i
		}
	}

	return -1
}

func isDigits(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
