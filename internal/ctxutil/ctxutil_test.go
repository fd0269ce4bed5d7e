package ctxutil

import (
	"context"
	"testing"
	"time"
)

func TestWithDBTimeout_Default(t *testing.T) {
	ctx, cancel := WithDBTimeout(context.Background())
	defer cancel()
	dl, ok := ctx.Deadline()
	if !ok {
		t.Fatal("no deadline set")
	}
	if remain := time.Until(dl); remain > DefaultDBTimeout {
		t.Fatalf("deadline %v exceeds default %v", remain, DefaultDBTimeout)
	}
}

func TestWithDBTimeout_HonorsShorterParent(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ctx, cancel2 := WithDBTimeout(parent)
	defer cancel2()
	dl, ok := ctx.Deadline()
	if !ok {
		t.Fatal("no deadline set")
	}
	if remain := time.Until(dl); remain > 50*time.Millisecond {
		t.Fatalf("deadline %v exceeds parent's %v", remain, 50*time.Millisecond)
	}
}

func TestActorRoundTrip(t *testing.T) {
	if _, ok := Actor(context.Background()); ok {
		t.Fatal("empty context must carry no actor")
	}
	ctx := WithActor(context.Background(), "teacher@school.org")
	got, ok := Actor(ctx)
	if !ok || got != "teacher@school.org" {
		t.Fatalf("actor = %q, %v", got, ok)
	}
}
