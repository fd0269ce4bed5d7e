package ctxutil

import (
	"context"
	"time"
)

// private key to avoid collisions
type key int

const keyActor key = iota

// WithActor carries the authenticated operator identity (email) for audit fields.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, keyActor, actor)
}

func Actor(ctx context.Context) (string, bool) {
	v := ctx.Value(keyActor)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

var DefaultDBTimeout = 5 * time.Second

// WithDBTimeout applies the standard DB timeout, honoring a shorter parent deadline.
func WithDBTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := parent.Deadline(); ok {
		remain := time.Until(dl)
		if remain < DefaultDBTimeout {
			return context.WithTimeout(parent, remain)
		}
	}
	return context.WithTimeout(parent, DefaultDBTimeout)
}
