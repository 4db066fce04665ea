package ooth_test

import (
	"context"
	"errors"
	"testing"

	oa "github.com/nickredmark/ooth-sub000"
	"github.com/nickredmark/ooth-sub000/backend/memory"
)

func TestEmitRunsListenersInOrder(t *testing.T) {
	o, err := oa.New(oa.Config{Backend: memory.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var order []string
	o.On("local", "register", func(ctx context.Context, payload oa.Values) error {
		order = append(order, "first")
		return nil
	})
	o.On("local", "register", func(ctx context.Context, payload oa.Values) error {
		order = append(order, "second")
		return nil
	})
	o.On("local", "login", func(ctx context.Context, payload oa.Values) error {
		order = append(order, "wrong-event")
		return nil
	})

	if err := o.Emit(context.Background(), "local", "register", oa.Values{"_id": "u1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}

func TestEmitStopsOnFirstError(t *testing.T) {
	o, err := oa.New(oa.Config{Backend: memory.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	boom := errors.New("boom")
	ran := false
	o.On("local", "register", func(ctx context.Context, payload oa.Values) error {
		return boom
	})
	o.On("local", "register", func(ctx context.Context, payload oa.Values) error {
		ran = true
		return nil
	})

	err = o.Emit(context.Background(), "local", "register", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected listener error, got %v", err)
	}
	if ran {
		t.Fatal("later listener ran after an error")
	}
}

func TestEmitWithoutListenersIsNoop(t *testing.T) {
	o, err := oa.New(oa.Config{Backend: memory.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Emit(context.Background(), "nobody", "listens", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
}
