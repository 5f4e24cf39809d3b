package testutil

import (
	"context"
	"testing"
	"time"
)

// TestContext creates a context with timeout for tests
func TestContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Clock is a settable time source for deterministic tests
type Clock struct {
	T time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{T: t}
}

func (c *Clock) Now() time.Time {
	return c.T
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
