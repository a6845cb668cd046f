package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/olegiv/onboardbot/internal/cache"
	"github.com/olegiv/onboardbot/internal/model"
	"github.com/olegiv/onboardbot/internal/nav"
)

type fakeLookup struct {
	allowed map[int64]bool
	roles   map[int64]model.Role
	calls   int
	err     error
}

func (f *fakeLookup) IsAccessAllowed(_ context.Context, userID int64) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[userID], nil
}

func (f *fakeLookup) GetRole(_ context.Context, userID int64) (model.Role, error) {
	return f.roles[userID], nil
}

var gateRoot = model.MenuScreen("Tmain")

func newTestGate(t *testing.T, lookup *fakeLookup) *Gate {
	t.Helper()
	backend := cache.NewMemory(cache.MemoryOptions{DefaultTTL: time.Minute})
	t.Cleanup(func() { _ = backend.Close() })
	return New(Options{
		Lookup:  lookup,
		Backend: backend,
		TTL:     time.Minute,
		Root:    gateRoot,
	})
}

func TestAuthorizeAllowed(t *testing.T) {
	lookup := &fakeLookup{
		allowed: map[int64]bool{42: true},
		roles:   map[int64]model.Role{42: model.RoleNewcomer},
	}
	g := newTestGate(t, lookup)
	sess := nav.NewSession(gateRoot)

	d, err := g.Authorize(context.Background(), 42, sess)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if d != Allowed {
		t.Errorf("expected Allowed, got %v", d)
	}
	if sess.Role != model.RoleNewcomer {
		t.Errorf("expected role recorded on session, got %q", sess.Role)
	}
}

func TestAuthorizeDenied(t *testing.T) {
	g := newTestGate(t, &fakeLookup{allowed: map[int64]bool{}})
	sess := nav.NewSession(gateRoot)

	d, err := g.Authorize(context.Background(), 42, sess)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if d != Denied {
		t.Errorf("expected Denied, got %v", d)
	}
}

func TestAuthorizeUsesCache(t *testing.T) {
	lookup := &fakeLookup{
		allowed: map[int64]bool{42: true},
		roles:   map[int64]model.Role{42: model.RoleEmployee},
	}
	g := newTestGate(t, lookup)
	sess := nav.NewSession(gateRoot)

	for range 5 {
		if _, err := g.Authorize(context.Background(), 42, sess); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}
	if lookup.calls != 1 {
		t.Errorf("expected a single store lookup, got %d", lookup.calls)
	}
}

func TestAuthorizeRoleChangeResetsOnce(t *testing.T) {
	lookup := &fakeLookup{
		allowed: map[int64]bool{42: true},
		roles:   map[int64]model.Role{42: model.RoleNewcomer},
	}
	g := newTestGate(t, lookup)

	sess := nav.NewSession(gateRoot)
	sess.Role = model.RoleEmployee
	sess.Enter(model.MenuScreen("Ta"))
	sess.Enter(model.MenuScreen("Tb"))

	d, err := g.Authorize(context.Background(), 42, sess)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if d != RoleChanged {
		t.Fatalf("expected RoleChanged, got %v", d)
	}
	if !sess.AtRoot() {
		t.Error("role change must reset navigation to root")
	}
	if sess.Role != model.RoleNewcomer {
		t.Errorf("expected updated role, got %q", sess.Role)
	}

	// Second call with the stored role already updated proceeds normally.
	d, err = g.Authorize(context.Background(), 42, sess)
	if err != nil {
		t.Fatalf("second Authorize: %v", err)
	}
	if d != Allowed {
		t.Errorf("expected Allowed after reset, got %v", d)
	}
}

func TestAuthorizeLookupFailureDenies(t *testing.T) {
	g := newTestGate(t, &fakeLookup{err: errors.New("store down")})
	sess := nav.NewSession(gateRoot)

	d, err := g.Authorize(context.Background(), 42, sess)
	if err == nil {
		t.Fatal("expected error to surface")
	}
	if d != Denied {
		t.Errorf("failure must fail closed, got %v", d)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	lookup := &fakeLookup{
		allowed: map[int64]bool{42: true},
		roles:   map[int64]model.Role{42: model.RoleEmployee},
	}
	g := newTestGate(t, lookup)
	sess := nav.NewSession(gateRoot)

	_, _ = g.Authorize(context.Background(), 42, sess)
	g.Invalidate(context.Background(), 42)
	_, _ = g.Authorize(context.Background(), 42, sess)

	if lookup.calls != 2 {
		t.Errorf("expected refresh after invalidation, got %d lookups", lookup.calls)
	}
}
