// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package nav

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/olegiv/onboardbot/internal/model"
)

// Manager owns every user's Session in a bounded, time-expiring map.
// Each session carries its own lock so one user's actions serialize while
// different users proceed concurrently.
type Manager struct {
	root    model.ScreenID
	ttl     time.Duration
	maxSize int

	mu       sync.Mutex
	sessions map[int64]*entry
	stopCh   chan struct{}
	stopOnce sync.Once
}

type entry struct {
	mu      sync.Mutex
	session *Session

	// lastSeen holds unix nanos, touched on acquire and release so a
	// handler that outlives the TTL does not count as idle time.
	lastSeen atomic.Int64

	// evicted is set under mu before the entry leaves the map; a waiter
	// that finds it set re-acquires instead of acting on a dead session.
	evicted bool
}

func (e *entry) touch() {
	e.lastSeen.Store(time.Now().UnixNano())
}

func (e *entry) idle() time.Duration {
	return time.Since(time.Unix(0, e.lastSeen.Load()))
}

// ManagerOptions configures the session manager.
type ManagerOptions struct {
	Root    model.ScreenID
	TTL     time.Duration // idle lifetime of a session
	MaxSize int           // upper bound on tracked sessions
}

// NewManager creates a session manager and starts its expiry sweep.
func NewManager(opts ManagerOptions) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 2000
	}

	m := &Manager{
		root:     opts.Root,
		ttl:      opts.TTL,
		maxSize:  opts.MaxSize,
		sessions: make(map[int64]*entry),
		stopCh:   make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// WithSession runs fn with the user's session under that user's lock,
// creating a fresh at-root session on first interaction or after expiry.
// The per-user lock is what serializes a double-tap: two concurrent
// actions from one user never interleave on the same history stack.
// Expiry is decided under the entry lock, never in acquire, so a slow
// handler cannot race a second action onto a replacement session.
func (m *Manager) WithSession(userID int64, fn func(*Session) error) error {
	for {
		e := m.acquire(userID)
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		return func() error {
			defer e.mu.Unlock()
			defer e.touch()

			if e.idle() >= m.ttl {
				e.session = NewSession(m.root)
			}
			e.touch()
			return fn(e.session)
		}()
	}
}

// Drop removes a user's session entirely (logout). Blocks until any
// in-flight action for that user finishes.
func (m *Manager) Drop(userID int64) {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.evicted = true
		e.mu.Unlock()
	}
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop terminates the expiry sweep.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) acquire(userID int64) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[userID]; ok {
		return e
	}

	if len(m.sessions) >= m.maxSize {
		m.evictExpiredLocked()
		if len(m.sessions) >= m.maxSize {
			m.evictOldestLocked()
		}
	}

	e := &entry{session: NewSession(m.root)}
	e.touch()
	m.sessions[userID] = e
	return e
}

func (m *Manager) evictExpiredLocked() {
	for id, e := range m.sessions {
		if e.idle() < m.ttl {
			continue
		}
		// A held lock means the session is mid-action; leave it alone.
		if !e.mu.TryLock() {
			continue
		}
		e.evicted = true
		e.mu.Unlock()
		delete(m.sessions, id)
	}
}

func (m *Manager) evictOldestLocked() {
	var oldestID int64
	var oldest *entry
	for id, e := range m.sessions {
		if oldest == nil || e.lastSeen.Load() < oldest.lastSeen.Load() {
			oldestID, oldest = id, e
		}
	}
	if oldest == nil || !oldest.mu.TryLock() {
		return
	}
	oldest.evicted = true
	oldest.mu.Unlock()
	delete(m.sessions, oldestID)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.evictExpiredLocked()
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
