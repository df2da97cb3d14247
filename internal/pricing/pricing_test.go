package pricing

import (
	"context"
	"errors"
	"testing"
)

func TestResolveFallsBackToDefaults(t *testing.T) {
	r := NewResolver(NewMemoryRepository())
	ctx := context.Background()

	price, err := r.Resolve(ctx, CategoryTemplate)
	if err != nil {
		t.Fatalf("resolve template: %v", err)
	}
	if price != DefaultTemplatePrice {
		t.Fatalf("expected default template price %d, got %d", DefaultTemplatePrice, price)
	}

	price, err = r.Resolve(ctx, CategorySession)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if price != DefaultSessionPrice {
		t.Fatalf("expected default session price %d, got %d", DefaultSessionPrice, price)
	}
}

func TestResolvePrefersOverride(t *testing.T) {
	r := NewResolver(NewMemoryRepository())
	ctx := context.Background()

	if err := r.Set(ctx, CategoryTemplate, 350); err != nil {
		t.Fatalf("set: %v", err)
	}

	price, err := r.Resolve(ctx, CategoryTemplate)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if price != 350 {
		t.Fatalf("expected override 350, got %d", price)
	}
}

func TestResolveUnknownCategory(t *testing.T) {
	r := NewResolver(NewMemoryRepository())

	if _, err := r.Resolve(context.Background(), "carrier-pigeon"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected unknown category error, got %v", err)
	}
}

func TestSetRejectsBadInput(t *testing.T) {
	r := NewResolver(NewMemoryRepository())
	ctx := context.Background()

	if err := r.Set(ctx, "carrier-pigeon", 100); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected unknown category error, got %v", err)
	}
	if err := r.Set(ctx, CategorySession, 0); err == nil {
		t.Fatal("expected error for zero price")
	}
}

func TestCurrentMergesOverrides(t *testing.T) {
	r := NewResolver(NewMemoryRepository())
	ctx := context.Background()

	if err := r.Set(ctx, CategorySession, 150); err != nil {
		t.Fatalf("set: %v", err)
	}

	current, err := r.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current[CategorySession] != 150 || current[CategoryTemplate] != DefaultTemplatePrice {
		t.Fatalf("unexpected pricing map: %+v", current)
	}
}
