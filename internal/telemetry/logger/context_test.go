package logger

import (
	"context"
	"testing"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || ConnIDFromContext(ctx) != "" {
		t.Fatal("empty context returned IDs")
	}

	ctx = WithRequestID(ctx, "req-01HZX")
	ctx = WithConnID(ctx, "c-7")
	if got := RequestIDFromContext(ctx); got != "req-01HZX" {
		t.Errorf("RequestIDFromContext = %q", got)
	}
	if got := ConnIDFromContext(ctx); got != "c-7" {
		t.Errorf("ConnIDFromContext = %q", got)
	}

	// Overriding one ID leaves the other alone.
	ctx = WithConnID(ctx, "c-8")
	if RequestIDFromContext(ctx) != "req-01HZX" || ConnIDFromContext(ctx) != "c-8" {
		t.Error("override clobbered the other ID")
	}
}

func TestContextKeys_Unexported(t *testing.T) {
	ctx := context.WithValue(context.Background(), 0, "int key")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("untyped key leaked into RequestIDFromContext: %q", got)
	}
}
