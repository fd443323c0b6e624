package types

import (
	"context"
	"testing"
)

func TestGetTenantID(t *testing.T) {
	t.Run("actor with tenant", func(t *testing.T) {
		ctx := WithActor(context.Background(), Actor{ID: "svc-catalog", Type: ActorTypeService, TenantID: "tenant-1"})
		got, ok := GetTenantID(ctx)
		if !ok || got != "tenant-1" {
			t.Errorf("GetTenantID() = (%q, %v), want (tenant-1, true)", got, ok)
		}
	})

	t.Run("actor without tenant", func(t *testing.T) {
		ctx := WithActor(context.Background(), Actor{ID: "svc-catalog", Type: ActorTypeService})
		if _, ok := GetTenantID(ctx); ok {
			t.Error("expected ok=false for an actor without a tenant")
		}
	})

	t.Run("empty context", func(t *testing.T) {
		if _, ok := GetTenantID(context.Background()); ok {
			t.Error("expected ok=false for empty context")
		}
	})
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-abc")
	if got := GetRequestID(ctx); got != "req-abc" {
		t.Errorf("GetRequestID() = %q, want req-abc", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}
