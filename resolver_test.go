package ooth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	oa "github.com/nickredmark/ooth-sub000"
	"github.com/nickredmark/ooth-sub000/backend/memory"
)

// newTestOoth builds a sessionless instance on the in-memory backend with a
// "social" strategy whose id is strategy-unique and whose email joins the
// cross-strategy email field.
func newTestOoth(t *testing.T) (*oa.Ooth, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	o, err := oa.New(oa.Config{Backend: backend})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.RegisterStrategyUniqueField("social", "id")
	o.RegisterUniqueField("social", "email", "email")
	o.RegisterUniqueField("mail", "email", "address")
	return o, backend
}

func TestResolveUserCreatesThenReuses(t *testing.T) {
	o, _ := newTestOoth(t)
	ctx := context.Background()

	claims := oa.Values{"id": "p-1", "email": "a@example.com"}

	id1, isNew, err := o.ResolveUser(ctx, "social", claims, "")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !isNew {
		t.Fatal("first resolve should create a user")
	}

	id2, isNew, err := o.ResolveUser(ctx, "social", claims, "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if isNew {
		t.Fatal("second resolve should reuse the user")
	}
	if id1 != id2 {
		t.Fatalf("expected same user, got %s and %s", id1, id2)
	}
}

func TestResolveUserMatchesAcrossStrategiesByEmail(t *testing.T) {
	o, backend := newTestOoth(t)
	ctx := context.Background()

	existing, err := backend.InsertUser(ctx, map[string]oa.Values{
		"mail": {"address": "a@example.com"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	id, isNew, err := o.ResolveUser(ctx, "social", oa.Values{"id": "p-1", "email": "a@example.com"}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if isNew || id != existing {
		t.Fatalf("expected adoption of %s, got id=%s isNew=%v", existing, id, isNew)
	}

	u, err := backend.GetUserByID(ctx, existing)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Strategy("social")["id"] != "p-1" {
		t.Fatalf("claims not merged: %v", u.Data)
	}
}

func TestResolveUserAmbiguity(t *testing.T) {
	o, backend := newTestOoth(t)
	ctx := context.Background()

	// One account owns the provider id, a different one owns the email.
	idOwner, _ := backend.InsertUser(ctx, map[string]oa.Values{
		"social": {"id": "p-1"},
	})
	emailOwner, _ := backend.InsertUser(ctx, map[string]oa.Values{
		"mail": {"address": "a@example.com"},
	})

	_, _, err := o.ResolveUser(ctx, "social", oa.Values{"id": "p-1", "email": "a@example.com"}, "")
	if !oa.IsCode(err, oa.CodeAmbiguousIdentity) {
		t.Fatalf("expected ambiguous_identity, got %v", err)
	}

	// Neither account may have been touched.
	for _, id := range []string{idOwner, emailOwner} {
		u, err := backend.GetUserByID(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if len(u.Data) != 1 {
			t.Fatalf("user %s was mutated: %v", id, u.Data)
		}
	}
}

func TestResolveUserForeignBinding(t *testing.T) {
	o, backend := newTestOoth(t)
	ctx := context.Background()

	owner, _ := backend.InsertUser(ctx, map[string]oa.Values{
		"social": {"id": "p-1", "email": "owner@example.com"},
	})
	me, _ := backend.InsertUser(ctx, map[string]oa.Values{
		"mail": {"address": "me@example.com"},
	})

	// Logged in as me, presenting credentials that already belong to owner.
	_, _, err := o.ResolveUser(ctx, "social", oa.Values{"id": "p-1"}, me)
	if !oa.IsCode(err, oa.CodeForeignStrategyBinding) {
		t.Fatalf("expected foreign_strategy_binding, got %v", err)
	}

	u, _ := backend.GetUserByID(ctx, me)
	if u.IsRegisteredWith("social") {
		t.Fatalf("rejected binding mutated the session user: %v", u.Data)
	}
	u, _ = backend.GetUserByID(ctx, owner)
	if len(u.Data) != 1 {
		t.Fatalf("rejected binding mutated the owner: %v", u.Data)
	}
}

func TestResolveUserConnectAdoptsSessionUser(t *testing.T) {
	o, backend := newTestOoth(t)
	ctx := context.Background()

	me, _ := backend.InsertUser(ctx, map[string]oa.Values{
		"mail": {"address": "me@example.com"},
	})

	id, isNew, err := o.ResolveUser(ctx, "social", oa.Values{"id": "p-9"}, me)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if isNew || id != me {
		t.Fatalf("expected session user %s, got id=%s isNew=%v", me, id, isNew)
	}

	u, _ := backend.GetUserByID(ctx, me)
	if u.Strategy("social")["id"] != "p-9" {
		t.Fatalf("claims not linked: %v", u.Data)
	}
}

func TestResolveUserUnknownStrategyLeavesRegistryUntouched(t *testing.T) {
	o, backend := newTestOoth(t)
	ctx := context.Background()

	// Unregistered strategy names must not grow shared registry state at
	// request time; concurrent callers would otherwise race on it.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claims := oa.Values{"name": fmt.Sprintf("anon-%d", n)}
			if _, _, err := o.ResolveUser(ctx, fmt.Sprintf("ghost-%d", n), claims, ""); err != nil {
				t.Errorf("resolve ghost-%d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	// Claims still landed in the backend under the strategy's name.
	id, _, err := o.ResolveUser(ctx, "ghost-0", oa.Values{"name": "again"}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	u, err := backend.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Strategy("ghost-0")["name"] != "again" {
		t.Fatalf("claims not stored: %v", u.Data)
	}

	// The strategy was never registered, so the projector omits it.
	if _, ok := o.Profile(u)["ghost-0"]; ok {
		t.Fatal("unregistered strategy leaked into the registry")
	}
}

func TestResolveUserSkipsEmptyClaimValues(t *testing.T) {
	o, backend := newTestOoth(t)
	ctx := context.Background()

	// A user whose provider reported no email.
	first, _, err := o.ResolveUser(ctx, "social", oa.Values{"id": "p-1", "email": ""}, "")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// A second email-less identity must not collide with the first.
	second, _, err := o.ResolveUser(ctx, "social", oa.Values{"id": "p-2", "email": ""}, "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first == second {
		t.Fatal("empty email matched across users")
	}

	u, _ := backend.GetUserByID(ctx, first)
	if u == nil {
		t.Fatal("first user missing")
	}
}
