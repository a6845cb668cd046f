// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package access wraps every user-facing operation with an allow/deny
// check and a role-change detector.
package access

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/olegiv/onboardbot/internal/cache"
	"github.com/olegiv/onboardbot/internal/model"
	"github.com/olegiv/onboardbot/internal/nav"
)

// RestrictingMessage is shown to users who lost access.
const RestrictingMessage = "🚫 Извините, у вас больше нет доступа. " +
	"Чтобы вернуть доступ, обратитесь, пожалуйста, к администратору."

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Allowed lets the original action proceed.
	Allowed Decision = iota
	// Denied short-circuits before any navigation or form logic runs.
	Denied
	// RoleChanged means the session was reset for a new role; the caller
	// re-renders the root screen instead of continuing the action.
	RoleChanged
)

// Entry is the cached access record of one user.
type Entry struct {
	Allowed bool       `json:"allowed"`
	Role    model.Role `json:"role"`
}

// UserLookup is the capability contract the gate depends on, backed by
// the Users table of the content store.
type UserLookup interface {
	IsAccessAllowed(ctx context.Context, userID int64) (bool, error)
	GetRole(ctx context.Context, userID int64) (model.Role, error)
}

// Gate performs cached access checks and role-change detection.
type Gate struct {
	lookup UserLookup
	cache  *cache.Typed[Entry]
	root   model.ScreenID
}

// Options configures the gate.
type Options struct {
	Lookup  UserLookup
	Backend cache.Cache
	TTL     time.Duration
	Root    model.ScreenID
}

// New creates a Gate with a TTL cache over the given backend.
func New(opts Options) *Gate {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &Gate{
		lookup: opts.Lookup,
		cache:  cache.NewTyped[Entry](opts.Backend, opts.TTL),
		root:   opts.Root,
	}
}

// Authorize checks the user before an action runs. The caller must hold
// the user's session lock; on a role change the session is reset to the
// root for the new role and the original action must not continue.
func (g *Gate) Authorize(ctx context.Context, userID int64, sess *nav.Session) (Decision, error) {
	entry, err := g.entry(ctx, userID)
	if err != nil {
		return Denied, err
	}

	if !entry.Allowed {
		return Denied, nil
	}

	if sess.Role == "" {
		sess.Role = entry.Role
		return Allowed, nil
	}

	if sess.Role != entry.Role {
		sess.Reset(g.root)
		sess.Role = entry.Role
		return RoleChanged, nil
	}

	return Allowed, nil
}

// Invalidate drops a user's cached entry so the next check hits the store.
// Operator commands that toggle a role call this.
func (g *Gate) Invalidate(ctx context.Context, userID int64) {
	_ = g.cache.Delete(ctx, cacheKey(userID))
}

func (g *Gate) entry(ctx context.Context, userID int64) (*Entry, error) {
	return g.cache.GetOrSet(ctx, cacheKey(userID), func() (*Entry, error) {
		allowed, err := g.lookup.IsAccessAllowed(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("checking access for user %d: %w", userID, err)
		}
		if !allowed {
			return &Entry{Allowed: false}, nil
		}

		role, err := g.lookup.GetRole(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolving role for user %d: %w", userID, err)
		}
		return &Entry{Allowed: true, Role: role}, nil
	})
}

func cacheKey(userID int64) string {
	return "access:" + strconv.FormatInt(userID, 10)
}
