// Package ratelimit throttles commands per user and globally.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Window is the span of the global limit.
const Window = time.Minute

// Scope tells which limit was hit.
type Scope int

const (
	ScopeUser Scope = iota + 1
	ScopeGlobal
)

// Error is returned when a command is throttled.
type Error struct {
	Scope Scope
	Wait  time.Duration
}

func (e *Error) Error() string {
	if e.Scope == ScopeGlobal {
		return fmt.Sprintf("Bot is experiencing high traffic. Please try again in %.1f seconds.", e.Wait.Seconds())
	}
	return fmt.Sprintf("Please wait %.1f seconds before trying again.", e.Wait.Seconds())
}

// Limiter combines a per-user cooldown with a global sliding window.
type Limiter struct {
	cooldown time.Duration
	limit    int
	now      func() time.Time

	mu     sync.Mutex
	last   map[string]time.Time
	recent []time.Time // время принятых команд за последнее окно
}

// New creates a limiter. A zero cooldown or limit disables that check.
func New(cooldown time.Duration, limit int) *Limiter {
	return &Limiter{
		cooldown: cooldown,
		limit:    limit,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Allow records a command of userID or returns *Error when it must wait.
func (l *Limiter) Allow(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	if t, ok := l.last[userID]; ok && l.cooldown > 0 {
		if since := now.Sub(t); since < l.cooldown {
			return &Error{Scope: ScopeUser, Wait: l.cooldown - since}
		}
	}

	// выбрасываем всё старше окна
	cut := 0
	for cut < len(l.recent) && now.Sub(l.recent[cut]) >= Window {
		cut++
	}
	l.recent = l.recent[cut:]

	if l.limit > 0 && len(l.recent) >= l.limit {
		return &Error{Scope: ScopeGlobal, Wait: Window - now.Sub(l.recent[0])}
	}

	l.last[userID] = now
	l.recent = append(l.recent, now)
	l.gc(now)
	return nil
}

// gc забывает пользователей, у которых кулдаун давно прошёл
func (l *Limiter) gc(now time.Time) {
	if len(l.last) < 1024 {
		return
	}
	for id, t := range l.last {
		if now.Sub(t) >= l.cooldown {
			delete(l.last, id)
		}
	}
}

// Stats returns the number of commands in the current window and the
// number of users with a recorded command.
func (l *Limiter) Stats() (window, users int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recent), len(l.last)
}
