package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithTenantID(ctx, "tenant")
	if got, ok := TenantID(ctx); !ok || got != "tenant" {
		t.Fatalf("TenantID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithExecutionID(ctx, "exec-1")
	if got, ok := ExecutionID(ctx); !ok || got != "exec-1" {
		t.Fatalf("ExecutionID mismatch: %v %v", got, ok)
	}

	ctx = WithRoles(ctx, []string{"admin"})
	if got, ok := Roles(ctx); !ok || len(got) != 1 || got[0] != "admin" {
		t.Fatalf("Roles mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithTraceID(context.Background(), "")
	if _, ok := TraceID(ctx); ok {
		t.Fatalf("expected empty trace id to be reported as missing")
	}
	if _, ok := ExecutionID(context.Background()); ok {
		t.Fatalf("expected missing execution id")
	}
}
