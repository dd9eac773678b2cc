package ratelimit

import (
	"context"
	"time"
)

// Window is the state of one fixed window after a hit.
type Window struct {
	Count int
	Start time.Time
	// ResetAt is Start plus the window duration.
	ResetAt time.Time
}

// Store holds fixed-window counters.
//
// Hit runs the whole fixed-window step for key as one indivisible operation:
// a missing or expired window is restarted with count 1 and admitted; an
// open window below max is incremented and admitted; a full window is left
// untouched and rejected. The returned bool reports admission.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, max int, now time.Time) (Window, bool, error)
}

func windowKey(class PolicyClass, identity string) string {
	return string(class) + ":" + identity
}
